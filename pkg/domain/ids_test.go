package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "venuepass/pkg/domain-errors"
)

// TestParseUUID_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs"
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseUserID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseVenueID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseTokenID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseUserID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, UserID(validUUID), id)
	})
}

func TestParseID_HostileInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE visits;--", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseVenueID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	parsers := map[string]func(string) error{
		"user":        func(s string) error { _, err := ParseUserID(s); return err },
		"venue":       func(s string) error { _, err := ParseVenueID(s); return err },
		"token":       func(s string) error { _, err := ParseTokenID(s); return err },
		"challenge":   func(s string) error { _, err := ParseChallengeID(s); return err },
		"badge":       func(s string) error { _, err := ParseBadgeID(s); return err },
		"promotion":   func(s string) error { _, err := ParsePromotionID(s); return err },
		"level":       func(s string) error { _, err := ParseLevelID(s); return err },
		"reward unit": func(s string) error { _, err := ParseRewardUnitID(s); return err },
	}

	valid := uuid.New().String()
	for name, parse := range parsers {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, parse(valid))
			for _, bad := range []string{"", "invalid", uuid.Nil.String()} {
				require.Error(t, parse(bad), "input %q", bad)
			}
		})
	}
}

func TestIDs_TextEncoding(t *testing.T) {
	venue := VenueID(uuid.New())

	raw, err := json.Marshal(map[string]VenueID{"venue_id": venue})
	require.NoError(t, err)
	assert.Contains(t, string(raw), venue.String())

	var decoded map[string]VenueID
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, venue, decoded["venue_id"])
	assert.False(t, decoded["venue_id"].IsNil())
	assert.True(t, VenueID{}.IsNil())
}
