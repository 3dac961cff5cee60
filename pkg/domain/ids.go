package domain

import (
	"github.com/google/uuid"

	dErrors "venuepass/pkg/domain-errors"
)

// Typed identifiers. Each is a distinct type over uuid.UUID so a venue id can
// never be passed where a user id is expected.
type (
	UserID       uuid.UUID
	VenueID      uuid.UUID
	TokenID      uuid.UUID
	ChallengeID  uuid.UUID
	BadgeID      uuid.UUID
	PromotionID  uuid.UUID
	LevelID      uuid.UUID
	RewardUnitID uuid.UUID
)

// parseID parses a non-nil UUID, reporting failures as CodeInvalidInput.
func parseID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	if len(s) > 64 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

func unmarshalID(dst *uuid.UUID, text []byte) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return err
	}
	*dst = u
	return nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseID(s, "user id")
	return UserID(u), err
}

func ParseVenueID(s string) (VenueID, error) {
	u, err := parseID(s, "venue id")
	return VenueID(u), err
}

func ParseTokenID(s string) (TokenID, error) {
	u, err := parseID(s, "token id")
	return TokenID(u), err
}

func ParseChallengeID(s string) (ChallengeID, error) {
	u, err := parseID(s, "challenge id")
	return ChallengeID(u), err
}

func ParseBadgeID(s string) (BadgeID, error) {
	u, err := parseID(s, "badge id")
	return BadgeID(u), err
}

func ParsePromotionID(s string) (PromotionID, error) {
	u, err := parseID(s, "promotion id")
	return PromotionID(u), err
}

func ParseLevelID(s string) (LevelID, error) {
	u, err := parseID(s, "level id")
	return LevelID(u), err
}

func ParseRewardUnitID(s string) (RewardUnitID, error) {
	u, err := parseID(s, "reward unit id")
	return RewardUnitID(u), err
}

func (id UserID) String() string                 { return uuid.UUID(id).String() }
func (id UserID) IsNil() bool                    { return uuid.UUID(id) == uuid.Nil }
func (id UserID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id *UserID) UnmarshalText(b []byte) error  { return unmarshalID((*uuid.UUID)(id), b) }
func (id VenueID) String() string                { return uuid.UUID(id).String() }
func (id VenueID) IsNil() bool                   { return uuid.UUID(id) == uuid.Nil }
func (id VenueID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *VenueID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }
func (id TokenID) String() string                { return uuid.UUID(id).String() }
func (id TokenID) IsNil() bool                   { return uuid.UUID(id) == uuid.Nil }
func (id TokenID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *TokenID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }

func (id ChallengeID) String() string                { return uuid.UUID(id).String() }
func (id ChallengeID) IsNil() bool                   { return uuid.UUID(id) == uuid.Nil }
func (id ChallengeID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *ChallengeID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }
func (id BadgeID) String() string                    { return uuid.UUID(id).String() }
func (id BadgeID) IsNil() bool                       { return uuid.UUID(id) == uuid.Nil }
func (id BadgeID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id *BadgeID) UnmarshalText(b []byte) error     { return unmarshalID((*uuid.UUID)(id), b) }
func (id PromotionID) String() string                { return uuid.UUID(id).String() }
func (id PromotionID) IsNil() bool                   { return uuid.UUID(id) == uuid.Nil }
func (id PromotionID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *PromotionID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }

func (id LevelID) String() string                     { return uuid.UUID(id).String() }
func (id LevelID) IsNil() bool                        { return uuid.UUID(id) == uuid.Nil }
func (id LevelID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id *LevelID) UnmarshalText(b []byte) error      { return unmarshalID((*uuid.UUID)(id), b) }
func (id RewardUnitID) String() string                { return uuid.UUID(id).String() }
func (id RewardUnitID) IsNil() bool                   { return uuid.UUID(id) == uuid.Nil }
func (id RewardUnitID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }
func (id *RewardUnitID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }
