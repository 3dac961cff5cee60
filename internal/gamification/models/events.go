package models

import (
	"maps"

	"github.com/google/uuid"

	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
)

// Well-known event codes.
const (
	EventCheckin         = "CHECKIN"
	EventReview          = "REVIEW"
	EventReferralUser    = "REFERRAL_USER"
	EventReferralVenue   = "REFERRAL_VENUE"
	EventMenuUpdate      = "MENU_UPDATE"
	EventQualityReview   = "QUALITY_REVIEW"
	EventChallengeReward = "CHALLENGE_REWARD"
	EventRewardRedeem    = "REWARD_REDEEM"
)

// SubjectKind is who a ledger entry credits.
type SubjectKind string

const (
	SubjectUser  SubjectKind = "user"
	SubjectVenue SubjectKind = "venue"
)

func (k SubjectKind) IsValid() bool {
	return k == SubjectUser || k == SubjectVenue
}

// EventDefinition is a catalog row mapping an event code to fixed points.
type EventDefinition struct {
	Code        string            `json:"code" msgpack:"code"`
	TargetKind  SubjectKind       `json:"target_kind" msgpack:"target_kind"`
	Points      int64             `json:"points" msgpack:"points"`
	IsActive    bool              `json:"is_active" msgpack:"is_active"`
	Description string            `json:"description,omitempty" msgpack:"description"`
	Config      map[string]string `json:"config,omitempty" msgpack:"config"`
}

// EventRequest asks the facade to credit one gamification event.
type EventRequest struct {
	UserID    id.UserID
	EventCode string
	VenueID   *id.VenueID
	// OriginType and SourceID name the entity that caused the event, e.g.
	// ("visit", "42"). OriginType defaults to OriginEvent.
	OriginType string
	SourceID   string
	Details    map[string]string
}

// Validate checks the request against the definition it resolved to.
func (r *EventRequest) Validate(def *EventDefinition) error {
	if r.EventCode == "" {
		return dErrors.New(dErrors.CodeValidation, "event code is required")
	}
	switch def.TargetKind {
	case SubjectUser:
		if r.UserID.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "user id is required for user events")
		}
	case SubjectVenue:
		if r.VenueID == nil || r.VenueID.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "venue id is required for venue events")
		}
	default:
		return dErrors.New(dErrors.CodeInvariantViolation, "event definition has unknown target kind")
	}
	return nil
}

// Subject resolves the ledger subject of r under def.
func (r *EventRequest) Subject(def *EventDefinition) Subject {
	if def.TargetKind == SubjectVenue {
		return VenueSubject(*r.VenueID)
	}
	return UserSubject(r.UserID)
}

// DetailsWithVenue returns a copy of Details carrying venue_id when known,
// so challenge filters can match on the venue.
func (r *EventRequest) DetailsWithVenue() map[string]string {
	out := maps.Clone(r.Details)
	if out == nil {
		out = map[string]string{}
	}
	if r.VenueID != nil {
		if _, ok := out["venue_id"]; !ok {
			out["venue_id"] = r.VenueID.String()
		}
	}
	return out
}

// Subject identifies a ledger subject.
type Subject struct {
	Kind SubjectKind
	ID   uuid.UUID
}

func UserSubject(u id.UserID) Subject   { return Subject{Kind: SubjectUser, ID: uuid.UUID(u)} }
func VenueSubject(v id.VenueID) Subject { return Subject{Kind: SubjectVenue, ID: uuid.UUID(v)} }
