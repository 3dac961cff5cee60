package models

import (
	"time"

	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
)

// Promotion is a read-only catalog row a venue offers.
type Promotion struct {
	ID         id.PromotionID `json:"id" msgpack:"id"`
	VenueID    id.VenueID     `json:"venue_id" msgpack:"venue_id"`
	Title      string         `json:"title" msgpack:"title"`
	IsActive   bool           `json:"is_active" msgpack:"is_active"`
	ValidUntil *time.Time     `json:"valid_until,omitempty" msgpack:"valid_until"`
	TotalUnits *int           `json:"total_units,omitempty" msgpack:"total_units"`
	PointsCost *int64         `json:"points_cost,omitempty" msgpack:"points_cost"`
}

// CheckAvailable reports whether a new unit may be minted at now, given how
// many units already exist.
func (p *Promotion) CheckAvailable(now time.Time, issued int) error {
	if !p.IsActive {
		return dErrors.New(dErrors.CodeInvalidState, "promotion is not active")
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return dErrors.New(dErrors.CodeInvalidState, "promotion has expired")
	}
	if p.TotalUnits != nil && issued >= *p.TotalUnits {
		return dErrors.New(dErrors.CodeInvalidState, "promotion is out of stock")
	}
	return nil
}

// UnitValidity returns when a unit minted at now stops being redeemable:
// the earlier of the promotion's end and now+defaultValidity.
func (p *Promotion) UnitValidity(now time.Time, defaultValidity time.Duration) time.Time {
	until := now.Add(defaultValidity)
	if p.ValidUntil != nil && p.ValidUntil.Before(until) {
		return *p.ValidUntil
	}
	return until
}

// RewardStatus is the lifecycle of a reward unit.
type RewardStatus string

const (
	RewardAvailable RewardStatus = "available"
	RewardConsumed  RewardStatus = "consumed"
)

// Sources a reward unit can come from.
const (
	SourceChallenge = "challenge"
	SourcePoints    = "points"
)

// RewardUnit is one redeemable unit of a promotion held by a user.
//
// Invariants:
//   - backed by exactly one single-use promo token
//   - available -> consumed only, once
type RewardUnit struct {
	ID                id.RewardUnitID `json:"id"`
	PromotionID       id.PromotionID  `json:"promotion_id"`
	VenueID           id.VenueID      `json:"venue_id"`
	UserID            id.UserID       `json:"user_id"`
	TokenID           id.TokenID      `json:"token_id"`
	Status            RewardStatus    `json:"status"`
	Source            string          `json:"source"`
	SourceChallengeID *id.ChallengeID `json:"source_challenge_id,omitempty"`
	AssignedAt        time.Time       `json:"assigned_at"`
	ConsumedAt        *time.Time      `json:"consumed_at,omitempty"`
}
