package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"venuepass/internal/catalog/cache"
	"venuepass/internal/gamification/ledger"
	gamification "venuepass/internal/gamification/service"
	"venuepass/internal/platform/config"
	"venuepass/internal/platform/database"
	"venuepass/internal/platform/logger"
	"venuepass/internal/platform/metrics"
	"venuepass/internal/platform/redis"
	proximity "venuepass/internal/proximity/service"
	"venuepass/internal/proximity/signer"
	rewards "venuepass/internal/rewards/service"
	"venuepass/internal/storage"
	"venuepass/internal/storage/postgres"
	visit "venuepass/internal/visit/service"
)

// runtime is everything one command invocation needs, wired from config.
type runtime struct {
	cfg      config.Config
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	sqlDB       *sql.DB
	db          *postgres.DB
	catalogRows *postgres.Catalog
	catalog     storage.Catalog
	cache       *cache.Catalog
	redis       *redis.Client

	tokens       *proximity.Service
	gamification *gamification.Service
	rewards      *rewards.Service
	visits       *visit.Service
}

// bootstrap loads config and opens the database. Services are built only
// when withServices is set, so migrate can run against an empty schema.
func bootstrap(ctx context.Context, withServices bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	rt := &runtime{
		cfg:      cfg,
		log:      logger.New(cfg.Log),
		registry: prometheus.NewRegistry(),
	}
	rt.metrics = metrics.New(rt.registry)

	rt.sqlDB, err = database.Open(ctx, cfg.Database, rt.log)
	if err != nil {
		return nil, err
	}
	rt.db = postgres.New(rt.sqlDB, cfg.Database.TxTimeout)
	rt.catalogRows = postgres.NewCatalog(rt.sqlDB)

	rt.redis, err = redis.New(ctx, cfg.Redis)
	if err != nil {
		rt.Close()
		return nil, err
	}
	cacheCfg := cache.Config{TTL: cfg.Redis.CatalogTTL}
	if rt.redis != nil {
		rt.cache = cache.New(rt.catalogRows, rt.redis.Client, cacheCfg, cache.WithLogger(rt.log))
	} else {
		rt.cache = cache.New(rt.catalogRows, nil, cacheCfg, cache.WithLogger(rt.log))
	}
	rt.catalog = rt.cache

	if withServices {
		if err := rt.wireServices(); err != nil {
			rt.Close()
			return nil, err
		}
	}
	return rt, nil
}

func (rt *runtime) wireServices() error {
	sig, err := signer.New(rt.cfg.Token.Secret, rt.cfg.Token.Issuer, rt.cfg.Token.Audience, rt.cfg.Token.Algorithm)
	if err != nil {
		return fmt.Errorf("token signer: %w", err)
	}
	dayZone, err := rt.cfg.Visit.Location()
	if err != nil {
		return fmt.Errorf("visit day timezone: %w", err)
	}

	rt.tokens = proximity.New(rt.db, sig,
		proximity.Config{CheckinTTL: rt.cfg.Token.CheckinTTL, MaxUses: rt.cfg.Token.MaxUses},
		proximity.WithLogger(rt.log),
		proximity.WithMetrics(rt.metrics),
	)
	rt.rewards = rewards.New(rt.db, rt.catalog, ledger.New(rt.metrics), rt.tokens,
		rewards.Config{RewardValidity: rt.cfg.Token.RewardValidity},
		rewards.WithLogger(rt.log),
		rewards.WithMetrics(rt.metrics),
	)
	rt.gamification = gamification.New(rt.db, rt.catalog,
		gamification.WithLogger(rt.log),
		gamification.WithMetrics(rt.metrics),
		gamification.WithRewardIssuer(rt.rewards),
	)
	rt.visits = visit.New(rt.db, rt.tokens, rt.db, rt.gamification,
		visit.Config{GeofenceRadiusMeters: rt.cfg.Visit.GeofenceRadiusMeters, DayZone: dayZone},
		visit.WithLogger(rt.log),
		visit.WithMetrics(rt.metrics),
	)
	return nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
	if rt.sqlDB != nil {
		_ = rt.sqlDB.Close()
	}
}

// withRuntime adapts a command body that needs wired services.
func withRuntime(fn func(c *cli.Context, rt *runtime) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rt, err := bootstrap(c.Context, true)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(c, rt)
	}
}

// printJSON writes v to stdout for scripting.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
