// Package service is the single entry point for gamification events. One
// event credits the ledger, re-evaluates the user's level and advances
// challenges inside one transaction.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"venuepass/internal/gamification/challenge"
	"venuepass/internal/gamification/ledger"
	"venuepass/internal/gamification/level"
	"venuepass/internal/gamification/models"
	"venuepass/internal/platform/metrics"
	"venuepass/internal/storage"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/platform/sentinel"
	"venuepass/pkg/requestcontext"
)

// Service orchestrates ledger, level and challenge evaluation.
type Service struct {
	tx         storage.TxRunner
	catalog    storage.Catalog
	ledger     *ledger.Ledger
	levels     *level.Evaluator
	challenges *challenge.Evaluator
	rewards    challenge.RewardIssuer
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
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

// WithRewardIssuer enables promotion rewards on challenge completion.
func WithRewardIssuer(r challenge.RewardIssuer) Option {
	return func(s *Service) {
		s.rewards = r
	}
}

// New constructs a Service.
func New(tx storage.TxRunner, catalog storage.Catalog, opts ...Option) *Service {
	s := &Service{
		tx:      tx,
		catalog: catalog,
		logger:  slog.Default(),
		tracer:  otel.Tracer("venuepass/gamification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = ledger.New(s.metrics)
	s.levels = level.New(catalog, s.logger, s.metrics)
	s.challenges = challenge.New(catalog, s.ledger, s.rewards, s.logger, s.metrics)
	return s
}

// RegisterEvent credits one event in its own transaction.
func (s *Service) RegisterEvent(ctx context.Context, req models.EventRequest) (*models.EventResult, error) {
	ctx, span := s.tracer.Start(ctx, "gamification.RegisterEvent",
		trace.WithAttributes(attribute.String("event_code", req.EventCode)))
	defer span.End()

	var result *models.EventResult
	err := s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		var err error
		result, err = s.RegisterEventTx(ctx, stores, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register event failed")
		return nil, wrapInternal(err, "failed to register event")
	}
	span.SetAttributes(attribute.Int64("points_awarded", result.PointsAwarded))
	return result, nil
}

// RegisterEventTx credits one event inside the caller's transaction. An
// unknown or inactive event code is a no-op reported through Skipped.
func (s *Service) RegisterEventTx(ctx context.Context, stores storage.Stores, req models.EventRequest) (*models.EventResult, error) {
	result := &models.EventResult{EventCode: req.EventCode}

	def, err := s.catalog.EventDefinition(ctx, req.EventCode)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		s.skip(ctx, result, models.SkipUnknownEvent)
		return result, nil
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event definition")
	case !def.IsActive:
		s.skip(ctx, result, models.SkipInactiveEvent)
		return result, nil
	}
	if err := req.Validate(def); err != nil {
		return nil, err
	}
	if def.Points < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "event definition points cannot be negative")
	}

	now := requestcontext.Now(ctx)
	originType := req.OriginType
	if originType == "" {
		originType = models.OriginEvent
	}
	subject := req.Subject(def)

	if def.Points > 0 {
		entry, err := models.NewLedgerEntry(def.Code, subject, def.Points, originType, req.SourceID, req.Details, now)
		if err != nil {
			return nil, err
		}
		if subject.Kind == models.SubjectVenue {
			if _, err := s.ledger.CreditVenue(ctx, stores, entry); err != nil {
				return nil, err
			}
		} else if _, err := s.ledger.CreditUser(ctx, stores, entry); err != nil {
			return nil, err
		}
		result.PointsAwarded = def.Points
	}

	if subject.Kind == models.SubjectVenue {
		s.logger.InfoContext(ctx, "venue event registered", "event_code", def.Code, "venue_id", subject.ID, "points", def.Points)
		return result, nil
	}

	if err := s.evaluateUser(ctx, stores, req, result); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user event registered",
		"event_code", def.Code,
		"user_id", req.UserID,
		"points", result.PointsAwarded,
		"completions", len(result.Completions),
	)
	return result, nil
}

// evaluateUser runs level then challenges, and the level once more when
// challenge rewards paid points.
func (s *Service) evaluateUser(ctx context.Context, stores storage.Stores, req models.EventRequest, result *models.EventResult) error {
	outcome, err := s.levels.Evaluate(ctx, stores, req.UserID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to evaluate level")
	}
	result.Promoted = outcome.Promoted
	result.Level = outcome.Level

	challenges, err := s.challenges.Evaluate(ctx, stores, req.UserID, req.EventCode, req.DetailsWithVenue())
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to evaluate challenges")
	}
	result.Completions = challenges.Completions
	result.ChallengeErrors = challenges.Failures

	if challenges.PointsPaid() > 0 {
		again, err := s.levels.Evaluate(ctx, stores, req.UserID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to evaluate level")
		}
		result.Promoted = result.Promoted || again.Promoted
		if again.Level != nil {
			result.Level = again.Level
		}
	}
	return nil
}

func (s *Service) skip(ctx context.Context, result *models.EventResult, reason string) {
	result.Skipped = true
	result.SkipReason = reason
	s.metrics.IncConfigGap(metrics.GapEventDefinition)
	s.logger.WarnContext(ctx, "event definition missing or inactive",
		"event_code", result.EventCode,
		"reason", reason,
	)
}

// GetChallengeProgress returns the user's progress rows, most recently
// updated first.
func (s *Service) GetChallengeProgress(ctx context.Context, user id.UserID) ([]*models.ChallengeProgress, error) {
	var progress []*models.ChallengeProgress
	err := s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		var err error
		progress, err = stores.Progress.ListByUser(ctx, user)
		return err
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load challenge progress")
	}
	return progress, nil
}

// Balance returns the user's running balance.
func (s *Service) Balance(ctx context.Context, user id.UserID) (*models.UserBalance, error) {
	var balance *models.UserBalance
	err := s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		var err error
		balance, err = stores.Balances.FindUser(ctx, user)
		return err
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load balance")
	}
	return balance, nil
}

// wrapInternal keeps coded errors as they are and wraps the rest.
func wrapInternal(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
