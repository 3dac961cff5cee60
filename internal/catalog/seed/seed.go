// Package seed writes the default catalog: the event definitions and level
// table a fresh deployment starts with.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	gmodels "venuepass/internal/gamification/models"
	id "venuepass/pkg/domain"
)

// Writer upserts catalog rows. Implemented by postgres.Catalog.
type Writer interface {
	PutEventDefinition(ctx context.Context, def gmodels.EventDefinition) error
	PutLevel(ctx context.Context, level gmodels.Level) error
}

// Data is one catalog seed.
type Data struct {
	Events []gmodels.EventDefinition
	Levels []gmodels.Level
}

// levelNamespace derives stable level ids from names, so re-seeding updates
// the same rows instead of adding new ones.
var levelNamespace = uuid.MustParse("6b1f3f0e-52c4-4c1e-9d7a-3a3f2d0c9e11")

// LevelID returns the seeded id for a level name.
func LevelID(name string) id.LevelID {
	return id.LevelID(uuid.NewSHA1(levelNamespace, []byte(name)))
}

// Defaults returns the stock events and levels.
func Defaults() Data {
	user := func(code string, points int64, desc string) gmodels.EventDefinition {
		return gmodels.EventDefinition{Code: code, TargetKind: gmodels.SubjectUser, Points: points, IsActive: true, Description: desc}
	}
	level := func(name string, minReputation int64) gmodels.Level {
		return gmodels.Level{ID: LevelID(name), Name: name, MinReputation: minReputation}
	}
	return Data{
		Events: []gmodels.EventDefinition{
			user(gmodels.EventCheckin, 10, "Confirmed check-in at a venue"),
			user(gmodels.EventReview, 20, "Approved venue review"),
			user(gmodels.EventReferralUser, 500, "Invited a user who signed up"),
			user(gmodels.EventReferralVenue, 1000, "Registered a new venue"),
			user(gmodels.EventQualityReview, 200, "Verified quality review"),
			{Code: gmodels.EventMenuUpdate, TargetKind: gmodels.SubjectVenue, Points: 100, IsActive: true, Description: "Venue updated its menu"},
		},
		Levels: []gmodels.Level{
			level("Bronze", 0),
			level("Silver", 1000),
			level("Gold", 5000),
			level("Ambassador", 20000),
		},
	}
}

// Apply upserts every row in data. It stops at the first failure; rows
// already written stay written and a rerun converges.
func Apply(ctx context.Context, w Writer, data Data, log *slog.Logger) error {
	for _, def := range data.Events {
		if !def.TargetKind.IsValid() {
			return fmt.Errorf("event %s: invalid target kind %q", def.Code, def.TargetKind)
		}
		if err := w.PutEventDefinition(ctx, def); err != nil {
			return fmt.Errorf("seed event %s: %w", def.Code, err)
		}
	}
	for _, l := range data.Levels {
		if err := w.PutLevel(ctx, l); err != nil {
			return fmt.Errorf("seed level %s: %w", l.Name, err)
		}
	}
	if log != nil {
		log.InfoContext(ctx, "catalog seeded", "events", len(data.Events), "levels", len(data.Levels))
	}
	return nil
}
