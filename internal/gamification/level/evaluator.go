// Package level derives a user's tier from reputation.
package level

import (
	"context"
	"fmt"
	"log/slog"

	"venuepass/internal/gamification/models"
	"venuepass/internal/notify"
	"venuepass/internal/platform/metrics"
	"venuepass/internal/storage"
	id "venuepass/pkg/domain"
	"venuepass/pkg/requestcontext"
)

// Evaluator promotes users whose reputation crossed a level threshold.
// Users are never demoted.
type Evaluator struct {
	catalog storage.Catalog
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New builds an Evaluator.
func New(catalog storage.Catalog, logger *slog.Logger, m *metrics.Metrics) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{catalog: catalog, logger: logger, metrics: m}
}

// Evaluate compares the user's current level with the level their reputation
// earns and moves them up when it is higher, writing a level-up notification
// to the outbox.
func (e *Evaluator) Evaluate(ctx context.Context, stores storage.Stores, user id.UserID) (models.LevelOutcome, error) {
	levels, err := e.catalog.Levels(ctx)
	if err != nil {
		return models.LevelOutcome{}, fmt.Errorf("load levels: %w", err)
	}
	if len(levels) == 0 {
		e.logger.WarnContext(ctx, "level table is empty", "user_id", user)
		e.metrics.IncConfigGap(metrics.GapLevelTable)
		return models.LevelOutcome{}, nil
	}
	models.SortLevels(levels)

	balance, err := stores.Balances.FindUser(ctx, user)
	if err != nil {
		return models.LevelOutcome{}, fmt.Errorf("load balance: %w", err)
	}

	target, ok := models.LevelFor(levels, balance.Reputation)
	if !ok {
		return models.LevelOutcome{}, nil
	}
	if balance.LevelID != nil {
		if *balance.LevelID == target.ID {
			return models.LevelOutcome{Level: &target}, nil
		}
		if rank := models.Rank(levels, *balance.LevelID); rank > models.Rank(levels, target.ID) {
			current := levels[rank]
			return models.LevelOutcome{Level: &current}, nil
		}
	}

	if err := stores.Balances.SetUserLevel(ctx, user, target.ID); err != nil {
		return models.LevelOutcome{}, fmt.Errorf("set user level: %w", err)
	}
	n := notify.New(user, notify.KindLevelUp,
		"Level up!",
		fmt.Sprintf("You reached level %s.", target.Name),
		map[string]string{"level_id": target.ID.String(), "level_name": target.Name},
		requestcontext.Now(ctx),
	)
	if err := stores.Outbox.Append(ctx, n); err != nil {
		return models.LevelOutcome{}, fmt.Errorf("append level notification: %w", err)
	}

	e.metrics.IncLevelPromotion()
	e.logger.InfoContext(ctx, "user promoted", "user_id", user, "level", target.Name, "reputation", balance.Reputation)
	return models.LevelOutcome{Promoted: true, Level: &target}, nil
}
