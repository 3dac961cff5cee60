package models

import (
	"errors"
	"maps"
	"time"

	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/platform/sentinel"
)

// Kind is the family a proximity token belongs to.
type Kind string

const (
	KindCheckin Kind = "checkin"
	KindPromo   Kind = "promo"
	KindInvite  Kind = "invite"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindCheckin, KindPromo, KindInvite:
		return true
	}
	return false
}

// Scopes carried by issued tokens.
const (
	ScopeCheckin = "checkin"
	ScopeReward  = "reward"
)

// ProximityToken is the persisted record behind a signed proximity token.
//
// Invariants:
//   - 0 <= UsedCount <= MaxUses and MaxUses >= 1
//   - ValidFrom is before ValidUntil
//   - once revoked, expired or exhausted the token is permanently unusable
//   - rows are never deleted, only marked
type ProximityToken struct {
	ID            id.TokenID        `json:"id"`
	Kind          Kind              `json:"kind"`
	Scope         string            `json:"scope"`
	VenueID       id.VenueID        `json:"venue_id"`
	PromotionID   *id.PromotionID   `json:"promotion_id,omitempty"`
	CampaignKey   string            `json:"campaign_key,omitempty"`
	ValidFrom     time.Time         `json:"valid_from"`
	ValidUntil    time.Time         `json:"valid_until"`
	MaxUses       int               `json:"max_uses"`
	UsedCount     int               `json:"used_count"`
	IsRevoked     bool              `json:"is_revoked"`
	RevokedAt     *time.Time        `json:"revoked_at,omitempty"`
	RevokedBy     *id.UserID        `json:"revoked_by,omitempty"`
	RevokedReason string            `json:"revoked_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	CreatedBy     *id.UserID        `json:"created_by,omitempty"`
	LastUsedAt    *time.Time        `json:"last_used_at,omitempty"`
	LastUsedBy    *id.UserID        `json:"last_used_by,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewCheckinToken builds a check-in token valid from now for ttl.
func NewCheckinToken(tokenID id.TokenID, venueID id.VenueID, issuer id.UserID, ttl time.Duration, maxUses int, now time.Time) (*ProximityToken, error) {
	if venueID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "venue id cannot be nil")
	}
	if issuer.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "issuer cannot be nil")
	}
	return newToken(tokenID, KindCheckin, ScopeCheckin, venueID, now, now.Add(ttl), maxUses, &issuer)
}

// NewRewardToken builds the single-use token backing a reward unit.
func NewRewardToken(tokenID id.TokenID, venueID id.VenueID, promotionID id.PromotionID, validUntil time.Time, metadata map[string]string, now time.Time) (*ProximityToken, error) {
	t, err := newToken(tokenID, KindPromo, ScopeReward, venueID, now, validUntil, 1, nil)
	if err != nil {
		return nil, err
	}
	t.PromotionID = &promotionID
	t.Metadata = maps.Clone(metadata)
	return t, nil
}

func newToken(tokenID id.TokenID, kind Kind, scope string, venueID id.VenueID, from, until time.Time, maxUses int, issuer *id.UserID) (*ProximityToken, error) {
	if tokenID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "token id cannot be nil")
	}
	if maxUses < 1 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "max uses must be at least 1")
	}
	if !until.After(from) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "valid_until must be after valid_from")
	}
	return &ProximityToken{
		ID:         tokenID,
		Kind:       kind,
		Scope:      scope,
		VenueID:    venueID,
		ValidFrom:  from,
		ValidUntil: until,
		MaxUses:    maxUses,
		CreatedAt:  from,
		CreatedBy:  issuer,
	}, nil
}

// Remaining returns how many uses are left.
func (t *ProximityToken) Remaining() int {
	if n := t.MaxUses - t.UsedCount; n > 0 {
		return n
	}
	return 0
}

// CheckUsable reports why the token cannot be consumed at now, checking
// revocation first, then exhaustion, then the validity window.
func (t *ProximityToken) CheckUsable(now time.Time) error {
	return RefusalError(t.Refusal(now))
}

// Refusal returns the storage fact that stops the token from being used at
// now, or nil: sentinel.ErrRevoked, sentinel.ErrAlreadyUsed when no uses are
// left, sentinel.ErrExpired, or sentinel.ErrInvalidState before ValidFrom.
func (t *ProximityToken) Refusal(now time.Time) error {
	switch {
	case t.IsRevoked:
		return sentinel.ErrRevoked
	case t.UsedCount >= t.MaxUses:
		return sentinel.ErrAlreadyUsed
	case !now.Before(t.ValidUntil):
		return sentinel.ErrExpired
	case now.Before(t.ValidFrom):
		return sentinel.ErrInvalidState
	}
	return nil
}

// RefusalError translates a Refusal into the caller-facing error code. It
// returns nil for nil and for errors that are not refusals.
func RefusalError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrRevoked):
		return dErrors.New(dErrors.CodeTokenRevoked, "token has been revoked")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeTokenExhausted, "token has already been used")
	case errors.Is(err, sentinel.ErrExpired):
		return dErrors.New(dErrors.CodeTokenExpired, "token has expired")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidToken, "token is not yet valid")
	}
	return nil
}

// ApplyUse records one use. Must only be called after CheckUsable returns nil.
func (t *ProximityToken) ApplyUse(consumer id.UserID, now time.Time) {
	t.UsedCount++
	t.LastUsedAt = &now
	t.LastUsedBy = &consumer
}

// ApplyRevocation marks the token revoked. Revoking twice keeps the first
// actor, reason and time.
func (t *ProximityToken) ApplyRevocation(actor id.UserID, reason string, now time.Time) {
	if t.IsRevoked {
		return
	}
	t.IsRevoked = true
	t.RevokedAt = &now
	t.RevokedBy = &actor
	t.RevokedReason = reason
}

// Clone returns a deep copy.
func (t *ProximityToken) Clone() *ProximityToken {
	c := *t
	c.Metadata = maps.Clone(t.Metadata)
	return &c
}
