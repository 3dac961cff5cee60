package models

import (
	"maps"
	"time"

	"github.com/google/uuid"

	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
)

// LedgerEntry is one append-only point movement.
type LedgerEntry struct {
	ID         uuid.UUID         `json:"id"`
	EventCode  string            `json:"event_code"`
	Subject    Subject           `json:"subject"`
	Delta      int64             `json:"delta"`
	OriginType string            `json:"origin_type,omitempty"`
	OriginID   string            `json:"origin_id,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Origin types recorded on ledger entries.
const (
	OriginVisit     = "visit"
	OriginEvent     = "event"
	OriginChallenge = "challenge"
	OriginPromotion = "promotion"
)

// NewLedgerEntry builds an entry. A zero delta is rejected: entries only
// exist for actual point movement.
func NewLedgerEntry(eventCode string, subject Subject, delta int64, originType, originID string, details map[string]string, now time.Time) (*LedgerEntry, error) {
	if eventCode == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ledger entry needs an event code")
	}
	if !subject.Kind.IsValid() || subject.ID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ledger entry needs a subject")
	}
	if delta == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ledger entry delta cannot be zero")
	}
	return &LedgerEntry{
		ID:         uuid.New(),
		EventCode:  eventCode,
		Subject:    subject,
		Delta:      delta,
		OriginType: originType,
		OriginID:   originID,
		Details:    maps.Clone(details),
		CreatedAt:  now,
	}, nil
}

// UserBalance is the denormalized running balance on a user profile.
//
// Invariants:
//   - PointsCurrent equals the sum of the user's ledger deltas
//   - PointsLifetime and Reputation equal the sum of positive deltas
//   - PointsCurrent never goes negative
type UserBalance struct {
	UserID         id.UserID   `json:"user_id"`
	PointsCurrent  int64       `json:"points_current"`
	PointsLifetime int64       `json:"points_lifetime"`
	Reputation     int64       `json:"reputation"`
	LevelID        *id.LevelID `json:"level_id,omitempty"`
}

// VenueBalance is the denormalized running balance on a venue.
type VenueBalance struct {
	VenueID        id.VenueID `json:"venue_id"`
	PointsBalance  int64      `json:"points_balance"`
	PointsLifetime int64      `json:"points_lifetime"`
}

// BalanceDelta is the relative change a ledger entry applies to a balance.
type BalanceDelta struct {
	Current    int64
	Lifetime   int64
	Reputation int64
}

// DeltaFor derives the balance change for a signed ledger delta. Spending
// lowers only the current balance.
func DeltaFor(delta int64) BalanceDelta {
	if delta > 0 {
		return BalanceDelta{Current: delta, Lifetime: delta, Reputation: delta}
	}
	return BalanceDelta{Current: delta}
}
