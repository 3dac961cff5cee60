package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	t.Run("nil metrics are a no-op", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.IncConfigGap(GapEventDefinition)
			m.ObserveCheckin("confirmed", time.Now())
			m.AddPoints("user", 10)
		})
	})

	t.Run("counters are labelled", func(t *testing.T) {
		m := New(prometheus.NewRegistry())
		m.IncConfigGap(GapLevelTable)
		m.IncConfigGap(GapLevelTable)
		m.AddPoints("venue", 100)
		m.AddPoints("venue", -5)

		assert.InDelta(t, 2, testutil.ToFloat64(m.ConfigGaps.WithLabelValues(GapLevelTable)), 1e-9)
		assert.InDelta(t, 100, testutil.ToFloat64(m.PointsAwarded.WithLabelValues("venue")), 1e-9)
	})
}
