package main

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/urfave/cli/v2"

	"venuepass/internal/catalog/cache"
	"venuepass/internal/catalog/seed"
	gmodels "venuepass/internal/gamification/models"
	"venuepass/internal/notify/relay"
	"venuepass/internal/storage/postgres"
	vmodels "venuepass/internal/visit/models"
	id "venuepass/pkg/domain"
	"venuepass/pkg/geo"
)

func commandMigrate() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply the embedded schema migrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "down", Usage: "roll back every migration instead"},
		},
		Action: func(c *cli.Context) error {
			rt, err := bootstrap(c.Context, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if c.Bool("down") {
				return postgres.MigrateDown(rt.sqlDB)
			}
			return postgres.Migrate(rt.sqlDB, rt.log)
		},
	}
}

func commandSeed() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "upsert the default event definitions and levels",
		Action: func(c *cli.Context) error {
			rt, err := bootstrap(c.Context, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			data := seed.Defaults()
			if err := seed.Apply(c.Context, rt.catalogRows, data, rt.log); err != nil {
				return err
			}
			keys := []string{cache.LevelsKey()}
			for _, def := range data.Events {
				keys = append(keys, cache.EventKey(def.Code))
			}
			return rt.cache.Invalidate(c.Context, keys...)
		},
	}
}

func commandPutVenue() *cli.Command {
	return &cli.Command{
		Name:  "put-venue",
		Usage: "create or update a venue and its stored position",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Required: true},
			&cli.StringFlag{Name: "name", Required: true},
			&cli.Float64Flag{Name: "lat"},
			&cli.Float64Flag{Name: "lng"},
		},
		Action: func(c *cli.Context) error {
			venue, err := id.ParseVenueID(c.String("id"))
			if err != nil {
				return err
			}
			var location *geo.Point
			switch {
			case c.IsSet("lat") && c.IsSet("lng"):
				location = &geo.Point{Lat: c.Float64("lat"), Lng: c.Float64("lng")}
			case c.IsSet("lat") || c.IsSet("lng"):
				return errors.New("lat and lng must be given together")
			}
			rt, err := bootstrap(c.Context, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.db.PutVenue(c.Context, venue, c.String("name"), location)
		},
	}
}

func commandIssueToken() *cli.Command {
	return &cli.Command{
		Name:  "issue-token",
		Usage: "issue a check-in token for a venue",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "venue", Required: true},
			&cli.StringFlag{Name: "issuer", Required: true, Usage: "staff user id"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			venue, err := id.ParseVenueID(c.String("venue"))
			if err != nil {
				return err
			}
			issuer, err := id.ParseUserID(c.String("issuer"))
			if err != nil {
				return err
			}
			issued, err := rt.tokens.IssueCheckinToken(c.Context, venue, issuer)
			if err != nil {
				return err
			}
			return printJSON(issued)
		}),
	}
}

func commandRevokeToken() *cli.Command {
	return &cli.Command{
		Name:  "revoke-token",
		Usage: "revoke a proximity token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "token", Required: true, Usage: "token id"},
			&cli.StringFlag{Name: "actor", Required: true},
			&cli.StringFlag{Name: "reason"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			tokenID, err := id.ParseTokenID(c.String("token"))
			if err != nil {
				return err
			}
			actor, err := id.ParseUserID(c.String("actor"))
			if err != nil {
				return err
			}
			tok, err := rt.tokens.Revoke(c.Context, tokenID, actor, c.String("reason"))
			if err != nil {
				return err
			}
			return printJSON(tok)
		}),
	}
}

func commandCheckin() *cli.Command {
	return &cli.Command{
		Name:  "checkin",
		Usage: "submit a scanned token on behalf of a visitor",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "visitor", Required: true},
			&cli.StringFlag{Name: "token", Required: true, Usage: "opaque token from the QR code"},
			&cli.Float64Flag{Name: "lat"},
			&cli.Float64Flag{Name: "lng"},
			&cli.Float64Flag{Name: "accuracy", Usage: "reported accuracy in meters"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			visitor, err := id.ParseUserID(c.String("visitor"))
			if err != nil {
				return err
			}
			req := vmodels.CheckinRequest{VisitorID: visitor, Token: c.String("token")}
			if c.IsSet("lat") {
				lat := c.Float64("lat")
				req.Latitude = &lat
			}
			if c.IsSet("lng") {
				lng := c.Float64("lng")
				req.Longitude = &lng
			}
			if c.IsSet("accuracy") {
				acc := c.Float64("accuracy")
				req.AccuracyMeters = &acc
			}
			v, err := rt.visits.Process(c.Context, req)
			if err != nil {
				return err
			}
			return printJSON(v)
		}),
	}
}

func commandReview() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "confirm or reject a pending visit",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "venue", Required: true},
			&cli.Int64Flag{Name: "visit", Required: true},
			&cli.StringFlag{Name: "status", Required: true, Usage: "confirmed or rejected"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			venue, err := id.ParseVenueID(c.String("venue"))
			if err != nil {
				return err
			}
			v, err := rt.visits.ReviewCheckin(c.Context, venue, c.Int64("visit"), vmodels.Status(c.String("status")))
			if err != nil {
				return err
			}
			return printJSON(v)
		}),
	}
}

func commandListVisits() *cli.Command {
	return &cli.Command{
		Name:  "list-visits",
		Usage: "show a visitor's most recent visits",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "visitor", Required: true},
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			visitor, err := id.ParseUserID(c.String("visitor"))
			if err != nil {
				return err
			}
			visits, err := rt.visits.ListVisits(c.Context, visitor, c.Int("limit"))
			if err != nil {
				return err
			}
			return printJSON(visits)
		}),
	}
}

func commandEvent() *cli.Command {
	return &cli.Command{
		Name:  "event",
		Usage: "register a gamification event",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "code", Required: true},
			&cli.StringFlag{Name: "user"},
			&cli.StringFlag{Name: "venue"},
			&cli.StringFlag{Name: "source", Usage: "id of the entity that caused the event"},
			&cli.StringSliceFlag{Name: "detail", Usage: "key=value, repeatable"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			req := gmodels.EventRequest{EventCode: c.String("code"), SourceID: c.String("source")}
			if c.IsSet("user") {
				user, err := id.ParseUserID(c.String("user"))
				if err != nil {
					return err
				}
				req.UserID = user
			}
			if c.IsSet("venue") {
				venue, err := id.ParseVenueID(c.String("venue"))
				if err != nil {
					return err
				}
				req.VenueID = &venue
			}
			details, err := parseDetails(c.StringSlice("detail"))
			if err != nil {
				return err
			}
			req.Details = details

			res, err := rt.gamification.RegisterEvent(c.Context, req)
			if err != nil {
				return err
			}
			return printJSON(res)
		}),
	}
}

func parseDetails(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("detail %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func commandProgress() *cli.Command {
	return &cli.Command{
		Name:  "progress",
		Usage: "show a user's balance and challenge progress",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			user, err := id.ParseUserID(c.String("user"))
			if err != nil {
				return err
			}
			balance, err := rt.gamification.Balance(c.Context, user)
			if err != nil {
				return err
			}
			progress, err := rt.gamification.GetChallengeProgress(c.Context, user)
			if err != nil {
				return err
			}
			rewardUnits, err := rt.rewards.ListRewards(c.Context, user)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"balance":    balance,
				"challenges": progress,
				"rewards":    rewardUnits,
			})
		}),
	}
}

func commandRedeemPromotion() *cli.Command {
	return &cli.Command{
		Name:  "redeem-promotion",
		Usage: "spend a user's points on a promotion unit",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true},
			&cli.StringFlag{Name: "promotion", Required: true},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			user, err := id.ParseUserID(c.String("user"))
			if err != nil {
				return err
			}
			promotion, err := id.ParsePromotionID(c.String("promotion"))
			if err != nil {
				return err
			}
			unit, err := rt.rewards.RedeemPromotion(c.Context, user, promotion)
			if err != nil {
				return err
			}
			return printJSON(unit)
		}),
	}
}

func commandRedeemReward() *cli.Command {
	return &cli.Command{
		Name:  "redeem-reward",
		Usage: "consume a reward unit at its venue",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "venue", Required: true},
			&cli.StringFlag{Name: "token", Required: true, Usage: "reward token id"},
		},
		Action: withRuntime(func(c *cli.Context, rt *runtime) error {
			venue, err := id.ParseVenueID(c.String("venue"))
			if err != nil {
				return err
			}
			tokenID, err := id.ParseTokenID(c.String("token"))
			if err != nil {
				return err
			}
			unit, err := rt.rewards.RedeemReward(c.Context, venue, tokenID)
			if err != nil {
				return err
			}
			return printJSON(unit)
		}),
	}
}

func commandRelayOutbox() *cli.Command {
	return &cli.Command{
		Name:  "relay-outbox",
		Usage: "publish pending notifications to Kafka",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "ensure-topic", Usage: "create the notification topic if missing"},
			&cli.DurationFlag{Name: "watch", Usage: "keep relaying at this interval instead of draining once"},
			&cli.StringFlag{Name: "metrics-addr", Usage: "serve Prometheus metrics on this address while watching"},
		},
		Action: func(c *cli.Context) error {
			rt, err := bootstrap(c.Context, false)
			if err != nil {
				return err
			}
			defer rt.Close()
			if len(rt.cfg.Kafka.Brokers) == 0 {
				return errors.New("KAFKA_BROKERS is not set")
			}

			client, err := kgo.NewClient(
				kgo.SeedBrokers(rt.cfg.Kafka.Brokers...),
				kgo.RequiredAcks(kgo.AllISRAcks()),
			)
			if err != nil {
				return fmt.Errorf("kafka client: %w", err)
			}
			defer client.Close()

			topic := rt.cfg.Kafka.NotificationTopic
			if c.Bool("ensure-topic") {
				if err := relay.EnsureTopic(c.Context, kadm.NewClient(client), topic, 3, -1); err != nil {
					return err
				}
			}

			r := relay.New(rt.db, client, topic,
				relay.WithLogger(rt.log),
				relay.WithMetrics(rt.metrics),
				relay.WithBatchSize(rt.cfg.Kafka.RelayBatchSize),
			)

			interval := c.Duration("watch")
			if interval <= 0 {
				n, err := r.Drain(c.Context)
				if err != nil {
					return err
				}
				rt.log.Info("outbox drained", "count", n)
				return nil
			}

			if addr := c.String("metrics-addr"); addr != "" {
				srv := &http.Server{
					Addr:              addr,
					Handler:           promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						rt.log.Error("metrics server failed", "error", err)
					}
				}()
				defer func() { _ = srv.Close() }()
			}

			if err := r.Run(c.Context, interval); err != nil && !errors.Is(err, c.Context.Err()) {
				return err
			}
			return nil
		},
	}
}
