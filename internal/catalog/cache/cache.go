// Package cache is a read-through cache in front of storage.Catalog.
//
// Entries live in Redis (shared by every process) and optionally in a
// process-local TinyLFU. Lookup errors, including not-found, are never
// cached, so a catalog gap heals as soon as the row is written.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	gmodels "venuepass/internal/gamification/models"
	"venuepass/internal/platform/logger"
	rmodels "venuepass/internal/rewards/models"
	"venuepass/internal/storage"
	id "venuepass/pkg/domain"
)

var _ storage.Catalog = (*Catalog)(nil)

const (
	DefaultTTL       = 5 * time.Minute
	defaultLocalSize = 1000
	keyPrefix        = "venuepass:catalog:"
)

// Config tunes the cache. LocalTTL of zero disables the in-process tier.
type Config struct {
	TTL       time.Duration
	LocalSize int
	LocalTTL  time.Duration
}

// Catalog decorates a storage.Catalog.
type Catalog struct {
	next   storage.Catalog
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Catalog)

func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		c.logger = l
	}
}

// New wraps next. A nil client keeps only the local tier, which is what
// unit tests and single-process tools use.
func New(next storage.Catalog, client redis.UniversalClient, cfg Config, opts ...Option) *Catalog {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.LocalSize <= 0 {
		cfg.LocalSize = defaultLocalSize
	}
	var local cache.LocalCache
	if cfg.LocalTTL > 0 || client == nil {
		localTTL := cfg.LocalTTL
		if localTTL <= 0 {
			localTTL = cfg.TTL
		}
		local = cache.NewTinyLFU(cfg.LocalSize, localTTL)
	}
	cacheOpts := &cache.Options{LocalCache: local}
	if client != nil {
		cacheOpts.Redis = client
	}
	c := &Catalog{
		next:   next,
		cache:  cache.New(cacheOpts),
		ttl:    cfg.TTL,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Keys for the cached lookups. Exported so seeding can invalidate what it wrote.

func EventKey(code string) string                { return keyPrefix + "event:" + code }
func LevelsKey() string                          { return keyPrefix + "levels" }
func ChallengesKey(goal gmodels.GoalType) string { return keyPrefix + "challenges:" + string(goal) }
func BadgeKey(b id.BadgeID) string               { return keyPrefix + "badge:" + b.String() }
func PromotionKey(p id.PromotionID) string       { return keyPrefix + "promotion:" + p.String() }

// load runs fn on a miss. Once collapses concurrent misses for one key into
// a single backend call.
func load[T any](ctx context.Context, c *Catalog, key string, fn func(context.Context) (T, error)) (T, error) {
	var v T
	err := c.cache.Once(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: &v,
		TTL:   c.ttl,
		Do: func(*cache.Item) (any, error) {
			c.logger.DebugContext(ctx, "catalog cache miss", "key", key)
			return fn(ctx)
		},
	})
	return v, err
}

func (c *Catalog) EventDefinition(ctx context.Context, code string) (*gmodels.EventDefinition, error) {
	return load(ctx, c, EventKey(code), func(ctx context.Context) (*gmodels.EventDefinition, error) {
		return c.next.EventDefinition(ctx, code)
	})
}

func (c *Catalog) Levels(ctx context.Context) ([]gmodels.Level, error) {
	return load(ctx, c, LevelsKey(), c.next.Levels)
}

func (c *Catalog) ChallengesByGoal(ctx context.Context, goal gmodels.GoalType) ([]gmodels.Challenge, error) {
	return load(ctx, c, ChallengesKey(goal), func(ctx context.Context) ([]gmodels.Challenge, error) {
		return c.next.ChallengesByGoal(ctx, goal)
	})
}

func (c *Catalog) Badge(ctx context.Context, badgeID id.BadgeID) (*gmodels.Badge, error) {
	return load(ctx, c, BadgeKey(badgeID), func(ctx context.Context) (*gmodels.Badge, error) {
		return c.next.Badge(ctx, badgeID)
	})
}

func (c *Catalog) Promotion(ctx context.Context, promotionID id.PromotionID) (*rmodels.Promotion, error) {
	return load(ctx, c, PromotionKey(promotionID), func(ctx context.Context) (*rmodels.Promotion, error) {
		return c.next.Promotion(ctx, promotionID)
	})
}

// Invalidate drops keys from both tiers. Missing keys are not an error.
func (c *Catalog) Invalidate(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := c.cache.Delete(ctx, key); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
			return err
		}
	}
	return nil
}
