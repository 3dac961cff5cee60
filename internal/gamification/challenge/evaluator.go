// Package challenge advances per-user challenge progress and pays completion
// rewards exactly once per (user, challenge).
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"venuepass/internal/gamification/ledger"
	"venuepass/internal/gamification/models"
	"venuepass/internal/notify"
	"venuepass/internal/platform/metrics"
	rmodels "venuepass/internal/rewards/models"
	"venuepass/internal/storage"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/platform/sentinel"
	"venuepass/pkg/requestcontext"
)

// RewardIssuer mints the reward unit a challenge promises.
type RewardIssuer interface {
	MintChallengeReward(ctx context.Context, stores storage.Stores, user id.UserID, promotion id.PromotionID, challenge id.ChallengeID) (*rmodels.RewardUnit, error)
}

// Evaluator advances challenges matching an event.
type Evaluator struct {
	catalog storage.Catalog
	ledger  *ledger.Ledger
	rewards RewardIssuer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New builds an Evaluator. rewards may be nil, in which case promotion
// rewards are skipped as a config gap.
func New(catalog storage.Catalog, l *ledger.Ledger, rewards RewardIssuer, logger *slog.Logger, m *metrics.Metrics) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{catalog: catalog, ledger: l, rewards: rewards, logger: logger, metrics: m}
}

// Outcome collects what one evaluation did.
type Outcome struct {
	Completions []models.ChallengeCompletion
	// Failures are challenges whose savepoint was rolled back.
	Failures []error
}

// PointsPaid sums the reward points of the completions.
func (o Outcome) PointsPaid() int64 {
	var total int64
	for _, c := range o.Completions {
		total += c.RewardPoints
	}
	return total
}

// Evaluate advances every open challenge of the goal type mapped from
// eventCode whose filters match details. Each challenge runs in its own
// savepoint; a failing challenge is recorded and never blocks the others.
func (e *Evaluator) Evaluate(ctx context.Context, stores storage.Stores, user id.UserID, eventCode string, details map[string]string) (Outcome, error) {
	goal, ok := models.GoalForEvent(eventCode)
	if !ok {
		return Outcome{}, nil
	}
	challenges, err := e.catalog.ChallengesByGoal(ctx, goal)
	if err != nil {
		return Outcome{}, fmt.Errorf("load challenges: %w", err)
	}

	now := requestcontext.Now(ctx)
	var out Outcome
	for i := range challenges {
		c := &challenges[i]
		if !c.OpenAt(now) || !c.Matches(details) {
			continue
		}
		var completion *models.ChallengeCompletion
		err := stores.Savepoint(ctx, func() error {
			var err error
			completion, err = e.advance(ctx, stores, user, c, now)
			return err
		})
		if err != nil {
			e.metrics.IncChallengeFailure()
			e.logger.ErrorContext(ctx, "challenge evaluation rolled back",
				"challenge_id", c.ID,
				"challenge_code", c.Code,
				"user_id", user,
				"error", err,
			)
			out.Failures = append(out.Failures, fmt.Errorf("challenge %s: %w", c.Code, err))
			continue
		}
		if completion != nil {
			out.Completions = append(out.Completions, *completion)
		}
	}
	return out, nil
}

// advance adds one unit of progress and, when that completes the challenge,
// pays its rewards. It returns nil when the challenge did not complete.
func (e *Evaluator) advance(ctx context.Context, stores storage.Stores, user id.UserID, c *models.Challenge, now time.Time) (*models.ChallengeCompletion, error) {
	progress, err := stores.Progress.GetOrCreate(ctx, user, c.ID, now)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	if progress.IsCompleted {
		return nil, nil
	}
	completed := progress.Advance(c.TargetValue, now)
	if err := stores.Progress.Update(ctx, progress); err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}
	if !completed {
		return nil, nil
	}

	completion := &models.ChallengeCompletion{ChallengeID: c.ID, Code: c.Code}

	if c.RewardPoints > 0 {
		entry, err := models.NewLedgerEntry(models.EventChallengeReward, models.UserSubject(user), c.RewardPoints,
			models.OriginChallenge, c.ID.String(), map[string]string{"challenge_code": c.Code}, now)
		if err != nil {
			return nil, err
		}
		if _, err := e.ledger.CreditUser(ctx, stores, entry); err != nil {
			return nil, fmt.Errorf("pay reward points: %w", err)
		}
		completion.RewardPoints = c.RewardPoints
	}

	if c.RewardBadgeID != nil {
		if e.awardBadge(ctx, stores, user, *c.RewardBadgeID, now) {
			completion.BadgeID = c.RewardBadgeID
		}
	}

	if c.RewardPromotionID != nil {
		if unit := e.mintReward(ctx, stores, user, *c.RewardPromotionID, c.ID); unit != nil {
			completion.RewardUnitID = &unit.ID
		}
	}

	n := notify.New(user, notify.KindChallengeCompleted,
		"Challenge completed!",
		fmt.Sprintf("You completed %s.", c.Title),
		map[string]string{"challenge_id": c.ID.String(), "challenge_code": c.Code},
		now,
	)
	if err := stores.Outbox.Append(ctx, n); err != nil {
		return nil, fmt.Errorf("append completion notification: %w", err)
	}

	e.metrics.IncChallengeCompleted()
	e.logger.InfoContext(ctx, "challenge completed", "challenge_code", c.Code, "user_id", user)
	return completion, nil
}

// awardBadge inserts the badge in a nested savepoint so a failure keeps the
// points already paid. It reports whether the user holds the badge afterwards.
func (e *Evaluator) awardBadge(ctx context.Context, stores storage.Stores, user id.UserID, badgeID id.BadgeID, now time.Time) bool {
	if _, err := e.catalog.Badge(ctx, badgeID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			e.metrics.IncConfigGap(metrics.GapBadge)
			e.logger.WarnContext(ctx, "challenge badge missing from catalog", "badge_id", badgeID)
			return false
		}
		e.logger.ErrorContext(ctx, "failed to load badge", "badge_id", badgeID, "error", err)
		return false
	}
	err := stores.Savepoint(ctx, func() error {
		_, err := stores.Badges.AwardIfAbsent(ctx, user, badgeID, now)
		return err
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to award badge", "badge_id", badgeID, "user_id", user, "error", err)
		return false
	}
	return true
}

// mintReward runs reward issuance in a nested savepoint.
func (e *Evaluator) mintReward(ctx context.Context, stores storage.Stores, user id.UserID, promotionID id.PromotionID, challengeID id.ChallengeID) *rmodels.RewardUnit {
	if e.rewards == nil {
		e.metrics.IncConfigGap(metrics.GapPromotion)
		e.logger.WarnContext(ctx, "no reward issuer configured", "promotion_id", promotionID)
		return nil
	}
	var unit *rmodels.RewardUnit
	err := stores.Savepoint(ctx, func() error {
		var err error
		unit, err = e.rewards.MintChallengeReward(ctx, stores, user, promotionID, challengeID)
		return err
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			e.metrics.IncConfigGap(metrics.GapPromotion)
		}
		e.logger.WarnContext(ctx, "challenge reward not minted",
			"promotion_id", promotionID,
			"challenge_id", challengeID,
			"error", err,
		)
		return nil
	}
	return unit
}
