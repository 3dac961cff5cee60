package models

import (
	"time"

	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/geo"
)

// Status is the review state of a visit.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a real transition.
// Only pending visits can be reviewed.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && (next == StatusConfirmed || next == StatusRejected)
}

// Visit is the permanent record of a consumed check-in token.
//
// Invariants:
//   - TokenID is unique across visits
//   - at most one visit per (VisitorID, VenueID, VisitDay)
//   - AwardedAt is set at most once; PointsAwarded is written with it and
//     may stay zero when the check-in event pays nothing
//   - Status is confirmed at creation iff GeofencePassed
type Visit struct {
	ID             int64      `json:"id"`
	VisitorID      id.UserID  `json:"visitor_id"`
	VenueID        id.VenueID `json:"venue_id"`
	TokenID        id.TokenID `json:"token_id"`
	Location       *geo.Point `json:"location,omitempty"`
	AccuracyMeters *float64   `json:"accuracy_meters,omitempty"`
	GeofencePassed bool       `json:"geofence_passed"`
	Status         Status     `json:"status"`
	PointsAwarded  int64      `json:"points_awarded"`
	AwardedAt      *time.Time `json:"awarded_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	VisitDay       time.Time  `json:"visit_day"`
}

// NewVisit builds an unsaved visit. ID is assigned by the store.
func NewVisit(visitor id.UserID, venue id.VenueID, token id.TokenID, location *geo.Point, accuracy *float64, geofencePassed bool, now time.Time, dayZone *time.Location) (*Visit, error) {
	if visitor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "visitor id cannot be nil")
	}
	if venue.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "venue id cannot be nil")
	}
	status := StatusPending
	if geofencePassed {
		status = StatusConfirmed
	}
	return &Visit{
		VisitorID:      visitor,
		VenueID:        venue,
		TokenID:        token,
		Location:       location,
		AccuracyMeters: accuracy,
		GeofencePassed: geofencePassed,
		Status:         status,
		CreatedAt:      now,
		VisitDay:       DayOf(now, dayZone),
	}, nil
}

// DayOf returns the calendar day of t in zone, as midnight UTC of that date.
// The result is what the (visitor, venue, day) uniqueness key compares.
func DayOf(t time.Time, zone *time.Location) time.Time {
	if zone == nil {
		zone = time.UTC
	}
	y, m, d := t.In(zone).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CheckReview decides what a review to next means for v. It returns
// noop=true when next is already the current status.
func (v *Visit) CheckReview(next Status) (noop bool, err error) {
	if !next.IsValid() {
		return false, dErrors.New(dErrors.CodeValidation, "unknown visit status")
	}
	if v.Status == next {
		return true, nil
	}
	if !v.Status.CanTransitionTo(next) {
		return false, dErrors.New(dErrors.CodeInvalidState, "visit is "+string(v.Status)+" and cannot become "+string(next))
	}
	return false, nil
}

// NeedsAward reports whether a confirmed visit has not yet had its
// check-in event registered.
func (v *Visit) NeedsAward() bool {
	return v.Status == StatusConfirmed && v.AwardedAt == nil
}
