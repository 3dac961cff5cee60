package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	gmodels "venuepass/internal/gamification/models"
	rmodels "venuepass/internal/rewards/models"
	"venuepass/internal/storage"
	"venuepass/internal/storage/memory"
	id "venuepass/pkg/domain"
	"venuepass/pkg/platform/sentinel"
)

// countingCatalog records how often each lookup reaches the backend.
type countingCatalog struct {
	storage.Catalog
	events, levels, challenges, badges, promotions atomic.Int32
}

func (c *countingCatalog) EventDefinition(ctx context.Context, code string) (*gmodels.EventDefinition, error) {
	c.events.Add(1)
	return c.Catalog.EventDefinition(ctx, code)
}

func (c *countingCatalog) Levels(ctx context.Context) ([]gmodels.Level, error) {
	c.levels.Add(1)
	return c.Catalog.Levels(ctx)
}

func (c *countingCatalog) ChallengesByGoal(ctx context.Context, goal gmodels.GoalType) ([]gmodels.Challenge, error) {
	c.challenges.Add(1)
	return c.Catalog.ChallengesByGoal(ctx, goal)
}

func (c *countingCatalog) Badge(ctx context.Context, badgeID id.BadgeID) (*gmodels.Badge, error) {
	c.badges.Add(1)
	return c.Catalog.Badge(ctx, badgeID)
}

func (c *countingCatalog) Promotion(ctx context.Context, promotionID id.PromotionID) (*rmodels.Promotion, error) {
	c.promotions.Add(1)
	return c.Catalog.Promotion(ctx, promotionID)
}

type CatalogCacheSuite struct {
	suite.Suite
	db      *memory.DB
	backend *countingCatalog
	catalog *Catalog
	ctx     context.Context
}

func TestCatalogCacheSuite(t *testing.T) {
	suite.Run(t, new(CatalogCacheSuite))
}

func (s *CatalogCacheSuite) SetupTest() {
	s.db = memory.New()
	s.backend = &countingCatalog{Catalog: s.db}
	s.catalog = New(s.backend, nil, Config{TTL: time.Minute})
	s.ctx = context.Background()
	s.db.PutEventDefinition(gmodels.EventDefinition{
		Code: gmodels.EventCheckin, TargetKind: gmodels.SubjectUser, Points: 10, IsActive: true,
		Config: map[string]string{"cooldown": "none"},
	})
}

func (s *CatalogCacheSuite) TestEventDefinition_ReadThrough() {
	for range 3 {
		def, err := s.catalog.EventDefinition(s.ctx, gmodels.EventCheckin)
		s.Require().NoError(err)
		s.Equal(int64(10), def.Points)
		s.Equal(gmodels.SubjectUser, def.TargetKind)
		s.Equal("none", def.Config["cooldown"])
	}
	s.Equal(int32(1), s.backend.events.Load())
}

func (s *CatalogCacheSuite) TestNotFoundIsNotCached() {
	_, err := s.catalog.EventDefinition(s.ctx, gmodels.EventReview)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.db.PutEventDefinition(gmodels.EventDefinition{Code: gmodels.EventReview, TargetKind: gmodels.SubjectUser, Points: 25, IsActive: true})
	def, err := s.catalog.EventDefinition(s.ctx, gmodels.EventReview)
	s.Require().NoError(err)
	s.Equal(int64(25), def.Points)
	s.Equal(int32(2), s.backend.events.Load())
}

func (s *CatalogCacheSuite) TestInvalidate() {
	bronze := gmodels.Level{ID: id.LevelID(uuid.New()), Name: "Bronze", MinReputation: 0}
	s.db.PutLevel(bronze)

	levels, err := s.catalog.Levels(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(levels, 1)
	s.Equal(bronze.ID, levels[0].ID)

	s.db.PutLevel(gmodels.Level{ID: id.LevelID(uuid.New()), Name: "Silver", MinReputation: 200})
	levels, err = s.catalog.Levels(s.ctx)
	s.Require().NoError(err)
	s.Len(levels, 1, "stale until invalidated")

	s.Require().NoError(s.catalog.Invalidate(s.ctx, LevelsKey(), EventKey("NEVER_CACHED")))
	levels, err = s.catalog.Levels(s.ctx)
	s.Require().NoError(err)
	s.Len(levels, 2)
	s.Equal(int32(2), s.backend.levels.Load())
}

func (s *CatalogCacheSuite) TestChallengesBadgesPromotions() {
	badge := gmodels.Badge{ID: id.BadgeID(uuid.New()), Name: "Regular"}
	s.db.PutBadge(badge)
	end := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
	s.db.PutChallenge(gmodels.Challenge{
		ID: id.ChallengeID(uuid.New()), Code: "WEEKLY_3", GoalType: gmodels.GoalCheckinCount, TargetValue: 3,
		Filters: map[string]string{"venue_id": "v1"}, PeriodEnd: &end, IsActive: true, RewardBadgeID: &badge.ID,
	})
	units := 10
	promo := rmodels.Promotion{ID: id.PromotionID(uuid.New()), VenueID: id.VenueID(uuid.New()), Title: "Dessert", IsActive: true, TotalUnits: &units}
	s.db.PutPromotion(promo)

	for range 2 {
		challenges, err := s.catalog.ChallengesByGoal(s.ctx, gmodels.GoalCheckinCount)
		s.Require().NoError(err)
		s.Require().Len(challenges, 1)
		s.Equal("v1", challenges[0].Filters["venue_id"])
		s.True(challenges[0].PeriodEnd.Equal(end))
		s.Equal(badge.ID, *challenges[0].RewardBadgeID)

		got, err := s.catalog.Badge(s.ctx, badge.ID)
		s.Require().NoError(err)
		s.Equal("Regular", got.Name)

		p, err := s.catalog.Promotion(s.ctx, promo.ID)
		s.Require().NoError(err)
		s.Equal(10, *p.TotalUnits)
		s.Nil(p.PointsCost)
	}
	s.Equal(int32(1), s.backend.challenges.Load())
	s.Equal(int32(1), s.backend.badges.Load())
	s.Equal(int32(1), s.backend.promotions.Load())

	empty, err := s.catalog.ChallengesByGoal(s.ctx, gmodels.GoalReferralCount)
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *CatalogCacheSuite) TestConcurrentMissesShareOneLoad() {
	const goroutines = 20
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.catalog.EventDefinition(s.ctx, gmodels.EventCheckin)
			s.NoError(err)
		}()
	}
	wg.Wait()
	s.Equal(int32(1), s.backend.events.Load())
}
