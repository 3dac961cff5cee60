package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.Token.CheckinTTL)
	assert.Equal(t, 1, cfg.Token.MaxUses)
	assert.Equal(t, "HS256", cfg.Token.Algorithm)
	assert.InDelta(t, 100.0, cfg.Visit.GeofenceRadiusMeters, 1e-9)
	assert.Equal(t, "UTC", cfg.Visit.DayTimezone)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("QR_CHECKIN_TTL", "300")
	t.Setenv("QR_JWT_ALGORITHM", "HS512")
	t.Setenv("GEOFENCE_RADIUS_METERS", "250.5")
	t.Setenv("VISIT_DAY_TIMEZONE", "America/Santiago")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("DATABASE_TX_TIMEOUT", "2s")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.Token.CheckinTTL)
	assert.Equal(t, "HS512", cfg.Token.Algorithm)
	assert.InDelta(t, 250.5, cfg.Visit.GeofenceRadiusMeters, 1e-9)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Second, cfg.Database.TxTimeout)

	loc, err := cfg.Visit.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Santiago", loc.String())
}

func TestFromEnv_RejectsInvalidValues(t *testing.T) {
	t.Run("unsupported algorithm", func(t *testing.T) {
		t.Setenv("QR_JWT_ALGORITHM", "RS256")
		_, err := FromEnv()
		require.Error(t, err)
	})

	t.Run("short secret", func(t *testing.T) {
		t.Setenv("QR_JWT_SECRET", "short")
		_, err := FromEnv()
		require.Error(t, err)
	})

	t.Run("zero max uses", func(t *testing.T) {
		t.Setenv("QR_CHECKIN_MAX_USES", "0")
		_, err := FromEnv()
		require.Error(t, err)
	})
}
