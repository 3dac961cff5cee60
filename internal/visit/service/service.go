// Package service turns scanned proximity tokens into visits and lets venue
// operators review pending ones.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gmodels "venuepass/internal/gamification/models"
	"venuepass/internal/notify"
	"venuepass/internal/platform/metrics"
	pmodels "venuepass/internal/proximity/models"
	proximity "venuepass/internal/proximity/service"
	"venuepass/internal/storage"
	"venuepass/internal/visit/models"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/geo"
	"venuepass/pkg/platform/sentinel"
	"venuepass/pkg/requestcontext"
)

// DefaultGeofenceRadiusMeters applies when Config leaves the radius unset.
const DefaultGeofenceRadiusMeters = 100.0

// EventRegistrar credits gamification events inside a caller's transaction.
type EventRegistrar interface {
	RegisterEventTx(ctx context.Context, stores storage.Stores, req gmodels.EventRequest) (*gmodels.EventResult, error)
}

type Config struct {
	GeofenceRadiusMeters float64
	// DayZone is the timezone whose calendar day bounds one visit per venue.
	DayZone *time.Location
}

// Service processes check-ins.
type Service struct {
	tx        storage.TxRunner
	tokens    *proximity.Service
	locator   storage.VenueLocator
	events    EventRegistrar
	validator *validator.Validate
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(tx storage.TxRunner, tokens *proximity.Service, locator storage.VenueLocator, events EventRegistrar, cfg Config, opts ...Option) *Service {
	if cfg.GeofenceRadiusMeters <= 0 {
		cfg.GeofenceRadiusMeters = DefaultGeofenceRadiusMeters
	}
	if cfg.DayZone == nil {
		cfg.DayZone = time.UTC
	}
	s := &Service{
		tx:        tx,
		tokens:    tokens,
		locator:   locator,
		events:    events,
		validator: validator.New(),
		cfg:       cfg,
		logger:    slog.Default(),
		tracer:    otel.Tracer("venuepass/visit"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process validates a scan and records the visit. The token use, the visit
// row and any points it earns commit together or not at all.
func (s *Service) Process(ctx context.Context, req models.CheckinRequest) (visit *models.Visit, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "visit.Process")
	defer func() {
		var outcome string
		if err == nil {
			outcome = string(visit.Status)
			span.SetAttributes(attribute.Int64("visit_id", visit.ID), attribute.String("status", outcome))
		} else {
			outcome = string(dErrors.CodeOf(err))
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		s.metrics.ObserveCheckin(outcome, start)
		span.End()
	}()

	if err := req.Validate(s.validator); err != nil {
		return nil, err
	}
	verified, err := s.tokens.VerifyCheckin(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("venue_id", verified.VenueID.String()))

	venueLocation, err := s.locator.Location(ctx, verified.VenueID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "venue not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to locate venue")
	}
	reported := req.Point()
	passed := geo.Within(reported, venueLocation, s.cfg.GeofenceRadiusMeters)
	now := requestcontext.Now(ctx)

	err = s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		tok, err := s.tokens.ConsumeTx(ctx, stores, verified.TokenID, req.VisitorID, now)
		if err != nil {
			return err
		}
		if tok.Kind != pmodels.KindCheckin || tok.VenueID != verified.VenueID {
			return dErrors.New(dErrors.CodeInvalidToken, "token is not a check-in token for this venue")
		}

		visit, err = models.NewVisit(req.VisitorID, verified.VenueID, verified.TokenID, reported, req.AccuracyMeters, passed, now, s.cfg.DayZone)
		if err != nil {
			return err
		}
		if err := stores.Visits.Insert(ctx, visit); err != nil {
			switch {
			case errors.Is(err, sentinel.ErrConflict):
				return dErrors.New(dErrors.CodeDuplicateVisit, "already checked in at this venue today")
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				return dErrors.New(dErrors.CodeTokenExhausted, "token has already been used")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to insert visit")
		}

		if visit.Status == models.StatusConfirmed {
			return s.award(ctx, stores, visit)
		}
		return nil
	})
	if err != nil {
		return nil, wrapInternal(err, "failed to process check-in")
	}

	s.logger.InfoContext(ctx, "visit recorded",
		"visit_id", visit.ID,
		"venue_id", visit.VenueID,
		"status", visit.Status,
		"geofence_passed", visit.GeofencePassed,
		"points_awarded", visit.PointsAwarded,
	)
	return visit, nil
}

// SubmitCheckin is Process for callers holding loose request fields.
func (s *Service) SubmitCheckin(ctx context.Context, visitor id.UserID, opaqueToken string, lat, lng *float64) (*models.Visit, error) {
	return s.Process(ctx, models.CheckinRequest{
		VisitorID: visitor,
		Token:     opaqueToken,
		Latitude:  lat,
		Longitude: lng,
	})
}

// ReviewCheckin is Review for callers holding loose request fields.
func (s *Service) ReviewCheckin(ctx context.Context, venue id.VenueID, visitID int64, status models.Status) (*models.Visit, error) {
	return s.Review(ctx, models.ReviewRequest{VenueID: venue, VisitID: visitID, Status: status})
}

// Review moves a pending visit to confirmed or rejected. Replaying the
// current status changes nothing, except that a confirmed visit whose
// check-in event was skipped is offered it again.
func (s *Service) Review(ctx context.Context, req models.ReviewRequest) (*models.Visit, error) {
	ctx, span := s.tracer.Start(ctx, "visit.Review",
		trace.WithAttributes(attribute.Int64("visit_id", req.VisitID), attribute.String("status", string(req.Status))))
	defer span.End()

	if err := req.Validate(s.validator); err != nil {
		return nil, err
	}

	var visit *models.Visit
	err := s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		var err error
		visit, err = stores.Visits.FindForUpdate(ctx, req.VenueID, req.VisitID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "visit not found")
			}
			return err
		}
		noop, err := visit.CheckReview(req.Status)
		if err != nil {
			return err
		}
		if !noop {
			if err := stores.Visits.UpdateStatus(ctx, visit.ID, req.Status); err != nil {
				return fmt.Errorf("update visit status: %w", err)
			}
			visit.Status = req.Status
		}
		if visit.NeedsAward() {
			return s.award(ctx, stores, visit)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "review failed")
		return nil, wrapInternal(err, "failed to review visit")
	}

	s.metrics.IncReview(string(visit.Status))
	s.logger.InfoContext(ctx, "visit reviewed", "visit_id", visit.ID, "status", visit.Status, "points_awarded", visit.PointsAwarded)
	return visit, nil
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListVisits returns the visitor's visits, newest first. The limit defaults
// to 20 and is capped at 100.
func (s *Service) ListVisits(ctx context.Context, visitor id.UserID, limit int) ([]*models.Visit, error) {
	switch {
	case limit <= 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}
	var visits []*models.Visit
	err := s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		var err error
		visits, err = stores.Visits.ListByVisitor(ctx, visitor, limit)
		return err
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list visits")
	}
	return visits, nil
}

// award registers the CHECKIN event for a confirmed visit and marks the
// visit awarded, at most once. A skipped event leaves the visit unmarked so
// a later confirm can award it once the definition exists.
func (s *Service) award(ctx context.Context, stores storage.Stores, visit *models.Visit) error {
	visitID := strconv.FormatInt(visit.ID, 10)
	venueID := visit.VenueID
	result, err := s.events.RegisterEventTx(ctx, stores, gmodels.EventRequest{
		UserID:     visit.VisitorID,
		EventCode:  gmodels.EventCheckin,
		VenueID:    &venueID,
		OriginType: gmodels.OriginVisit,
		SourceID:   visitID,
		Details:    map[string]string{"venue_id": venueID.String(), "visit_id": visitID},
	})
	if err != nil {
		return err
	}
	if result.Skipped {
		return nil
	}

	now := requestcontext.Now(ctx)
	marked, err := stores.Visits.MarkAwarded(ctx, visit.ID, result.PointsAwarded, now)
	if err != nil {
		return fmt.Errorf("mark visit awarded: %w", err)
	}
	if !marked {
		return dErrors.New(dErrors.CodeConflict, "visit was already awarded")
	}
	visit.PointsAwarded = result.PointsAwarded
	visit.AwardedAt = &now

	if result.PointsAwarded == 0 {
		return nil
	}
	n := notify.New(visit.VisitorID, notify.KindCheckinConfirmed, "Check-in confirmed",
		fmt.Sprintf("You earned %d points.", result.PointsAwarded),
		map[string]string{"visit_id": visitID, "venue_id": venueID.String()},
		now)
	if err := stores.Outbox.Append(ctx, n); err != nil {
		return fmt.Errorf("append check-in notification: %w", err)
	}
	return nil
}

// wrapInternal keeps coded errors as they are and wraps the rest.
func wrapInternal(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
