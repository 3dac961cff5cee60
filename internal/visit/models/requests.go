package models

import (
	"github.com/go-playground/validator/v10"

	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/geo"
)

// CheckinRequest is a scan submitted by an authenticated visitor.
type CheckinRequest struct {
	VisitorID      id.UserID
	Token          string   `validate:"required,max=4096"`
	Latitude       *float64 `validate:"omitempty,latitude"`
	Longitude      *float64 `validate:"omitempty,longitude"`
	AccuracyMeters *float64 `validate:"omitempty,gte=0"`
}

// Validate checks the request shape. Coordinates must be given together.
func (r *CheckinRequest) Validate(v *validator.Validate) error {
	if r.VisitorID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "visitor identity is required")
	}
	if err := v.Struct(r); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid check-in request")
	}
	if (r.Latitude == nil) != (r.Longitude == nil) {
		return dErrors.New(dErrors.CodeValidation, "latitude and longitude must be provided together")
	}
	return nil
}

// Point returns the reported position, or nil when none was sent.
func (r *CheckinRequest) Point() *geo.Point {
	if r.Latitude == nil || r.Longitude == nil {
		return nil
	}
	return &geo.Point{Lat: *r.Latitude, Lng: *r.Longitude}
}

// ReviewRequest is a venue operator's decision on a pending visit.
type ReviewRequest struct {
	VenueID id.VenueID
	VisitID int64  `validate:"gt=0"`
	Status  Status `validate:"oneof=confirmed rejected"`
}

func (r *ReviewRequest) Validate(v *validator.Validate) error {
	if r.VenueID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "venue id is required")
	}
	if err := v.Struct(r); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid review request")
	}
	return nil
}
