package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	santiago := Point{Lat: -33.4489, Lng: -70.6693}

	t.Run("same point is zero", func(t *testing.T) {
		assert.InDelta(t, 0, Distance(santiago, santiago), 1e-9)
	})

	t.Run("one thousandth of a degree of latitude is about 111 m", func(t *testing.T) {
		north := Point{Lat: santiago.Lat + 0.001, Lng: santiago.Lng}
		assert.InDelta(t, 111.2, Distance(santiago, north), 0.5)
	})

	t.Run("symmetric", func(t *testing.T) {
		other := Point{Lat: -33.45, Lng: -70.66}
		assert.InDelta(t, Distance(santiago, other), Distance(other, santiago), 1e-9)
	})
}

func TestWithin(t *testing.T) {
	venue := &Point{Lat: 40.0, Lng: -3.0}

	assert.True(t, Within(&Point{Lat: 40.0003, Lng: -3.0}, venue, 100), "about 33 m away")
	assert.False(t, Within(&Point{Lat: 40.002, Lng: -3.0}, venue, 100), "about 222 m away")
	assert.False(t, Within(nil, venue, 100), "no reported position")
	assert.False(t, Within(&Point{Lat: 40.0, Lng: -3.0}, nil, 100), "venue without location")
}
