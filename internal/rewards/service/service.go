// Package service mints and redeems promotion reward units. Each unit is
// backed by a single-use promo token.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"venuepass/internal/gamification/ledger"
	gmodels "venuepass/internal/gamification/models"
	"venuepass/internal/notify"
	"venuepass/internal/platform/metrics"
	pmodels "venuepass/internal/proximity/models"
	proximity "venuepass/internal/proximity/service"
	"venuepass/internal/rewards/models"
	"venuepass/internal/storage"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/platform/sentinel"
	"venuepass/pkg/requestcontext"
)

// DefaultRewardValidity applies when Config.RewardValidity is unset.
const DefaultRewardValidity = 30 * 24 * time.Hour

type Config struct {
	RewardValidity time.Duration
}

// Service owns reward units.
type Service struct {
	tx        storage.TxRunner
	catalog   storage.Catalog
	ledger    *ledger.Ledger
	proximity *proximity.Service
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
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
func New(tx storage.TxRunner, catalog storage.Catalog, l *ledger.Ledger, prox *proximity.Service, cfg Config, opts ...Option) *Service {
	if cfg.RewardValidity <= 0 {
		cfg.RewardValidity = DefaultRewardValidity
	}
	s := &Service{tx: tx, catalog: catalog, ledger: l, proximity: prox, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MintChallengeReward issues one unit of promotion to user for completing
// challenge, inside the caller's transaction.
func (s *Service) MintChallengeReward(ctx context.Context, stores storage.Stores, user id.UserID, promotion id.PromotionID, challenge id.ChallengeID) (*models.RewardUnit, error) {
	return s.mint(ctx, stores, user, promotion, models.SourceChallenge, &challenge)
}

// RedeemPromotion spends the promotion's points cost and mints a unit for
// user. Insufficient points or an unavailable promotion leave no trace.
func (s *Service) RedeemPromotion(ctx context.Context, user id.UserID, promotionID id.PromotionID) (*models.RewardUnit, error) {
	if user.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user identity is required")
	}
	promo, err := s.promotion(ctx, promotionID)
	if err != nil {
		return nil, err
	}
	if promo.PointsCost == nil {
		return nil, dErrors.New(dErrors.CodeInvalidState, "promotion cannot be bought with points")
	}
	cost := *promo.PointsCost

	var unit *models.RewardUnit
	err = s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		if cost > 0 {
			entry, err := gmodels.NewLedgerEntry(gmodels.EventRewardRedeem, gmodels.UserSubject(user), -cost,
				gmodels.OriginPromotion, promotionID.String(), map[string]string{"promotion_title": promo.Title},
				requestcontext.Now(ctx))
			if err != nil {
				return err
			}
			if _, err := s.ledger.SpendUser(ctx, stores, entry); err != nil {
				return err
			}
		}
		var err error
		unit, err = s.mint(ctx, stores, user, promotionID, models.SourcePoints, nil)
		return err
	})
	if err != nil {
		return nil, wrapInternal(err, "failed to redeem promotion")
	}
	return unit, nil
}

// RedeemReward consumes the reward unit backed by tokenID at venue.
func (s *Service) RedeemReward(ctx context.Context, venue id.VenueID, tokenID id.TokenID) (*models.RewardUnit, error) {
	now := requestcontext.Now(ctx)
	var unit *models.RewardUnit
	err := s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		var err error
		unit, err = stores.Rewards.FindByTokenID(ctx, tokenID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "reward not found")
			}
			return err
		}
		if unit.VenueID != venue {
			return dErrors.New(dErrors.CodeForbidden, "reward belongs to another venue")
		}
		if _, err := s.proximity.ConsumeTx(ctx, stores, tokenID, unit.UserID, now); err != nil {
			return err
		}
		if err := stores.Rewards.MarkConsumed(ctx, unit.ID, now); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeInvalidState, "reward already consumed")
			}
			return err
		}
		unit.Status = models.RewardConsumed
		unit.ConsumedAt = &now
		return nil
	})
	if err != nil {
		return nil, wrapInternal(err, "failed to redeem reward")
	}
	s.metrics.IncRewardRedeemed()
	s.logger.InfoContext(ctx, "reward redeemed", "reward_unit_id", unit.ID, "venue_id", venue)
	return unit, nil
}

// ListRewards returns the user's reward units, newest first.
func (s *Service) ListRewards(ctx context.Context, user id.UserID) ([]*models.RewardUnit, error) {
	var units []*models.RewardUnit
	err := s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		var err error
		units, err = stores.Rewards.ListByUser(ctx, user)
		return err
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list rewards")
	}
	return units, nil
}

func (s *Service) promotion(ctx context.Context, promotionID id.PromotionID) (*models.Promotion, error) {
	promo, err := s.catalog.Promotion(ctx, promotionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "promotion not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load promotion")
	}
	return promo, nil
}

func (s *Service) mint(ctx context.Context, stores storage.Stores, user id.UserID, promotionID id.PromotionID, source string, challenge *id.ChallengeID) (*models.RewardUnit, error) {
	promo, err := s.promotion(ctx, promotionID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	issued, err := stores.Rewards.CountByPromotion(ctx, promotionID)
	if err != nil {
		return nil, fmt.Errorf("count reward units: %w", err)
	}
	if err := promo.CheckAvailable(now, issued); err != nil {
		return nil, err
	}

	tok, err := pmodels.NewRewardToken(id.TokenID(uuid.New()), promo.VenueID, promo.ID,
		promo.UnitValidity(now, s.cfg.RewardValidity),
		map[string]string{"user_id": user.String(), "source": source}, now)
	if err != nil {
		return nil, err
	}
	if err := stores.Tokens.Create(ctx, tok); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "promotion venue not found")
		}
		return nil, fmt.Errorf("create reward token: %w", err)
	}

	unit := &models.RewardUnit{
		ID:                id.RewardUnitID(uuid.New()),
		PromotionID:       promo.ID,
		VenueID:           promo.VenueID,
		UserID:            user,
		TokenID:           tok.ID,
		Status:            models.RewardAvailable,
		Source:            source,
		SourceChallengeID: challenge,
		AssignedAt:        now,
	}
	if err := stores.Rewards.Create(ctx, unit); err != nil {
		return nil, fmt.Errorf("create reward unit: %w", err)
	}

	n := notify.New(user, notify.KindRewardGranted, "New reward",
		fmt.Sprintf("You received %s.", promo.Title),
		map[string]string{"reward_unit_id": unit.ID.String(), "promotion_id": promo.ID.String()},
		now)
	if err := stores.Outbox.Append(ctx, n); err != nil {
		return nil, fmt.Errorf("append reward notification: %w", err)
	}

	s.metrics.IncRewardMinted(source)
	return unit, nil
}

// wrapInternal keeps coded errors as they are and wraps the rest.
func wrapInternal(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
