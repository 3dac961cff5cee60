package memory

import (
	"context"
	"fmt"
	"maps"

	gmodels "venuepass/internal/gamification/models"
	rmodels "venuepass/internal/rewards/models"
	"venuepass/internal/storage"
	id "venuepass/pkg/domain"
	"venuepass/pkg/platform/sentinel"
)

var (
	_ storage.Catalog      = (*DB)(nil)
	_ storage.VenueLocator = (*DB)(nil)
)

// PutEventDefinition adds or replaces an event definition.
func (db *DB) PutEventDefinition(def gmodels.EventDefinition) {
	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()
	def.Config = maps.Clone(def.Config)
	db.events[def.Code] = def
}

// PutLevel adds or replaces a level by id.
func (db *DB) PutLevel(level gmodels.Level) {
	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()
	for i, l := range db.levels {
		if l.ID == level.ID {
			db.levels[i] = level
			gmodels.SortLevels(db.levels)
			return
		}
	}
	db.levels = append(db.levels, level)
	gmodels.SortLevels(db.levels)
}

// PutChallenge adds or replaces a challenge by id.
func (db *DB) PutChallenge(c gmodels.Challenge) {
	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()
	c.Filters = maps.Clone(c.Filters)
	for i, existing := range db.challenges {
		if existing.ID == c.ID {
			db.challenges[i] = c
			return
		}
	}
	db.challenges = append(db.challenges, c)
}

func (db *DB) PutBadge(b gmodels.Badge) {
	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()
	db.badgeDefs[b.ID] = b
}

func (db *DB) PutPromotion(p rmodels.Promotion) {
	db.catalogMu.Lock()
	defer db.catalogMu.Unlock()
	db.promotions[p.ID] = p
}

func (db *DB) EventDefinition(_ context.Context, code string) (*gmodels.EventDefinition, error) {
	db.catalogMu.RLock()
	defer db.catalogMu.RUnlock()
	def, ok := db.events[code]
	if !ok {
		return nil, fmt.Errorf("event definition %s: %w", code, sentinel.ErrNotFound)
	}
	def.Config = maps.Clone(def.Config)
	return &def, nil
}

func (db *DB) Levels(_ context.Context) ([]gmodels.Level, error) {
	db.catalogMu.RLock()
	defer db.catalogMu.RUnlock()
	return append([]gmodels.Level(nil), db.levels...), nil
}

func (db *DB) ChallengesByGoal(_ context.Context, goal gmodels.GoalType) ([]gmodels.Challenge, error) {
	db.catalogMu.RLock()
	defer db.catalogMu.RUnlock()
	out := make([]gmodels.Challenge, 0)
	for _, c := range db.challenges {
		if c.GoalType == goal {
			c.Filters = maps.Clone(c.Filters)
			out = append(out, c)
		}
	}
	return out, nil
}

func (db *DB) Badge(_ context.Context, badgeID id.BadgeID) (*gmodels.Badge, error) {
	db.catalogMu.RLock()
	defer db.catalogMu.RUnlock()
	b, ok := db.badgeDefs[badgeID]
	if !ok {
		return nil, fmt.Errorf("badge %s: %w", badgeID, sentinel.ErrNotFound)
	}
	return &b, nil
}

func (db *DB) Promotion(_ context.Context, promotionID id.PromotionID) (*rmodels.Promotion, error) {
	db.catalogMu.RLock()
	defer db.catalogMu.RUnlock()
	p, ok := db.promotions[promotionID]
	if !ok {
		return nil, fmt.Errorf("promotion %s: %w", promotionID, sentinel.ErrNotFound)
	}
	return &p, nil
}
