package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"venuepass/internal/gamification/models"
	"venuepass/internal/notify"
	"venuepass/internal/platform/metrics"
	rmodels "venuepass/internal/rewards/models"
	"venuepass/internal/storage"
	"venuepass/internal/storage/memory"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/requestcontext"
)

// failingIssuer writes a ledger entry and then fails, so tests can see the
// write is rolled back with its savepoint.
type failingIssuer struct{}

func (failingIssuer) MintChallengeReward(ctx context.Context, stores storage.Stores, user id.UserID, _ id.PromotionID, _ id.ChallengeID) (*rmodels.RewardUnit, error) {
	entry, err := models.NewLedgerEntry("STRAY", models.UserSubject(user), 999, models.OriginPromotion, "stray", nil, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := stores.Ledger.Append(ctx, entry); err != nil {
		return nil, err
	}
	return nil, errors.New("reward backend unavailable")
}

type GamificationServiceSuite struct {
	suite.Suite
	db      *memory.DB
	metrics *metrics.Metrics
	service *Service
	user    id.UserID
	venue   id.VenueID
	now     time.Time
	ctx     context.Context

	bronze models.Level
	silver models.Level
	gold   models.Level
}

func TestGamificationServiceSuite(t *testing.T) {
	suite.Run(t, new(GamificationServiceSuite))
}

func (s *GamificationServiceSuite) SetupTest() {
	s.db = memory.New()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.user = id.UserID(uuid.New())
	s.venue = id.VenueID(uuid.New())
	s.db.PutVenue(s.venue, nil)
	s.now = time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	s.db.PutEventDefinition(models.EventDefinition{Code: models.EventCheckin, TargetKind: models.SubjectUser, Points: 10, IsActive: true})
	s.db.PutEventDefinition(models.EventDefinition{Code: models.EventReview, TargetKind: models.SubjectUser, Points: 25, IsActive: true})
	s.db.PutEventDefinition(models.EventDefinition{Code: models.EventMenuUpdate, TargetKind: models.SubjectVenue, Points: 5, IsActive: true})
	s.db.PutEventDefinition(models.EventDefinition{Code: models.EventQualityReview, TargetKind: models.SubjectUser, Points: 40, IsActive: false})

	s.bronze = models.Level{ID: id.LevelID(uuid.New()), Name: "Bronze", MinReputation: 0}
	s.silver = models.Level{ID: id.LevelID(uuid.New()), Name: "Silver", MinReputation: 20}
	s.gold = models.Level{ID: id.LevelID(uuid.New()), Name: "Gold", MinReputation: 100}
	s.db.PutLevel(s.bronze)
	s.db.PutLevel(s.silver)
	s.db.PutLevel(s.gold)

	s.service = s.newService()
}

func (s *GamificationServiceSuite) newService(opts ...Option) *Service {
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	}, opts...)
	return New(s.db, s.db, opts...)
}

func (s *GamificationServiceSuite) checkin(details map[string]string) *models.EventResult {
	venue := s.venue
	result, err := s.service.RegisterEvent(s.ctx, models.EventRequest{
		UserID:    s.user,
		EventCode: models.EventCheckin,
		VenueID:   &venue,
		Details:   details,
	})
	s.Require().NoError(err)
	return result
}

func (s *GamificationServiceSuite) ledgerSum(subject models.Subject) int64 {
	var sum int64
	s.Require().NoError(s.db.RunInTx(s.ctx, func(stores storage.Stores) error {
		var err error
		sum, err = stores.Ledger.SumBySubject(s.ctx, subject)
		return err
	}))
	return sum
}

func (s *GamificationServiceSuite) outbox() []*notify.Notification {
	var out []*notify.Notification
	s.Require().NoError(s.db.RunInTx(s.ctx, func(stores storage.Stores) error {
		var err error
		out, err = stores.Outbox.ListUnpublished(s.ctx, 100)
		return err
	}))
	return out
}

func (s *GamificationServiceSuite) countKind(kind notify.Kind) int {
	n := 0
	for _, item := range s.outbox() {
		if item.Kind == kind {
			n++
		}
	}
	return n
}

func (s *GamificationServiceSuite) challenge(target int, rewardPoints int64, mutate ...func(*models.Challenge)) models.Challenge {
	c := models.Challenge{
		ID:           id.ChallengeID(uuid.New()),
		Code:         "CHK_" + uuid.NewString()[:8],
		Title:        "Regular",
		GoalType:     models.GoalCheckinCount,
		TargetValue:  target,
		IsActive:     true,
		RewardPoints: rewardPoints,
	}
	for _, m := range mutate {
		m(&c)
	}
	s.db.PutChallenge(c)
	return c
}

// =============================================================================
// Ledger and balances
// =============================================================================

func (s *GamificationServiceSuite) TestRegisterEvent_CreditsLedgerAndBalance() {
	result := s.checkin(nil)
	s.Equal(int64(10), result.PointsAwarded)
	s.False(result.Skipped)

	s.checkin(nil)
	_, err := s.service.RegisterEvent(s.ctx, models.EventRequest{UserID: s.user, EventCode: models.EventReview})
	s.Require().NoError(err)

	balance, err := s.service.Balance(s.ctx, s.user)
	s.Require().NoError(err)
	s.Equal(int64(45), balance.PointsCurrent)
	s.Equal(int64(45), balance.PointsLifetime)
	s.Equal(int64(45), balance.Reputation)
	s.Equal(balance.PointsLifetime, s.ledgerSum(models.UserSubject(s.user)))
	s.InDelta(45, testutil.ToFloat64(s.metrics.PointsAwarded.WithLabelValues("user")), 1e-9)
}

func (s *GamificationServiceSuite) TestRegisterEvent_SkipsMissingOrInactiveDefinition() {
	s.Run("unknown code", func() {
		result, err := s.service.RegisterEvent(s.ctx, models.EventRequest{UserID: s.user, EventCode: "NOT_A_CODE"})
		s.Require().NoError(err)
		s.True(result.Skipped)
		s.Equal(models.SkipUnknownEvent, result.SkipReason)
		s.Zero(result.PointsAwarded)
	})

	s.Run("inactive code", func() {
		result, err := s.service.RegisterEvent(s.ctx, models.EventRequest{UserID: s.user, EventCode: models.EventQualityReview})
		s.Require().NoError(err)
		s.True(result.Skipped)
		s.Equal(models.SkipInactiveEvent, result.SkipReason)
	})

	s.Zero(s.ledgerSum(models.UserSubject(s.user)))
	s.InDelta(2, testutil.ToFloat64(s.metrics.ConfigGaps.WithLabelValues(metrics.GapEventDefinition)), 1e-9)
}

func (s *GamificationServiceSuite) TestRegisterEvent_Validation() {
	s.Run("user event without user", func() {
		_, err := s.service.RegisterEvent(s.ctx, models.EventRequest{EventCode: models.EventCheckin})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("venue event without venue", func() {
		_, err := s.service.RegisterEvent(s.ctx, models.EventRequest{UserID: s.user, EventCode: models.EventMenuUpdate})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("venue event for unknown venue", func() {
		unknown := id.VenueID(uuid.New())
		_, err := s.service.RegisterEvent(s.ctx, models.EventRequest{EventCode: models.EventMenuUpdate, VenueID: &unknown})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *GamificationServiceSuite) TestRegisterEvent_VenueEvent() {
	venue := s.venue
	result, err := s.service.RegisterEvent(s.ctx, models.EventRequest{EventCode: models.EventMenuUpdate, VenueID: &venue})
	s.Require().NoError(err)
	s.Equal(int64(5), result.PointsAwarded)
	s.Nil(result.Level)

	s.Require().NoError(s.db.RunInTx(s.ctx, func(stores storage.Stores) error {
		balance, err := stores.Balances.FindVenue(s.ctx, s.venue)
		s.Require().NoError(err)
		s.Equal(int64(5), balance.PointsBalance)
		s.Equal(int64(5), balance.PointsLifetime)
		return nil
	}))
	s.Equal(int64(5), s.ledgerSum(models.VenueSubject(s.venue)))
}

// =============================================================================
// Levels
// =============================================================================

func (s *GamificationServiceSuite) TestLevels_PromoteOnThreshold() {
	first := s.checkin(nil)
	s.True(first.Promoted)
	s.Equal("Bronze", first.Level.Name)

	second := s.checkin(nil)
	s.True(second.Promoted)
	s.Equal("Silver", second.Level.Name)

	third := s.checkin(nil)
	s.False(third.Promoted)
	s.Equal("Silver", third.Level.Name)

	s.Equal(2, s.countKind(notify.KindLevelUp))
	s.InDelta(2, testutil.ToFloat64(s.metrics.LevelPromotions), 1e-9)
}

func (s *GamificationServiceSuite) TestLevels_NeverDemote() {
	s.Require().NoError(s.db.RunInTx(s.ctx, func(stores storage.Stores) error {
		return stores.Balances.SetUserLevel(s.ctx, s.user, s.gold.ID)
	}))

	result := s.checkin(nil)
	s.False(result.Promoted)
	s.Equal("Gold", result.Level.Name)

	balance, err := s.service.Balance(s.ctx, s.user)
	s.Require().NoError(err)
	s.Equal(s.gold.ID, *balance.LevelID)
	s.Zero(s.countKind(notify.KindLevelUp))
}

func (s *GamificationServiceSuite) TestLevels_EmptyTableIsConfigGap() {
	db := memory.New()
	db.PutEventDefinition(models.EventDefinition{Code: models.EventCheckin, TargetKind: models.SubjectUser, Points: 10, IsActive: true})
	svc := New(db, db, WithMetrics(s.metrics), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	result, err := svc.RegisterEvent(s.ctx, models.EventRequest{UserID: s.user, EventCode: models.EventCheckin})
	s.Require().NoError(err)
	s.Equal(int64(10), result.PointsAwarded)
	s.Nil(result.Level)
	s.InDelta(1, testutil.ToFloat64(s.metrics.ConfigGaps.WithLabelValues(metrics.GapLevelTable)), 1e-9)
}

// =============================================================================
// Challenges
// =============================================================================

func (s *GamificationServiceSuite) TestChallenges_CompleteOnceAndPayReward() {
	c := s.challenge(2, 50)

	first := s.checkin(nil)
	s.Empty(first.Completions)

	second := s.checkin(nil)
	s.Require().Len(second.Completions, 1)
	s.Equal(c.ID, second.Completions[0].ChallengeID)
	s.Equal(int64(50), second.Completions[0].RewardPoints)
	s.True(second.Promoted)
	s.Equal("Silver", second.Level.Name)

	third := s.checkin(nil)
	s.Empty(third.Completions)

	progress, err := s.service.GetChallengeProgress(s.ctx, s.user)
	s.Require().NoError(err)
	s.Require().Len(progress, 1)
	s.True(progress[0].IsCompleted)
	s.Equal(2, progress[0].CurrentValue)

	balance, err := s.service.Balance(s.ctx, s.user)
	s.Require().NoError(err)
	s.Equal(int64(80), balance.PointsLifetime)
	s.Equal(balance.PointsLifetime, s.ledgerSum(models.UserSubject(s.user)))
	s.Equal(1, s.countKind(notify.KindChallengeCompleted))
}

func (s *GamificationServiceSuite) TestChallenges_FiltersAndWindow() {
	other := id.VenueID(uuid.New())
	past := s.now.Add(-48 * time.Hour)
	yesterday := s.now.Add(-24 * time.Hour)
	tomorrow := s.now.Add(24 * time.Hour)

	venueOnly := s.challenge(1, 0, func(c *models.Challenge) {
		c.Filters = map[string]string{"venue_id": s.venue.String()}
	})
	s.challenge(1, 0, func(c *models.Challenge) {
		c.Filters = map[string]string{"venue_id": other.String()}
	})
	s.challenge(1, 0, func(c *models.Challenge) {
		c.PeriodStart = &past
		c.PeriodEnd = &yesterday
	})
	s.challenge(1, 0, func(c *models.Challenge) {
		c.PeriodStart = &tomorrow
	})
	s.challenge(1, 0, func(c *models.Challenge) {
		c.IsActive = false
	})
	s.challenge(1, 0, func(c *models.Challenge) {
		c.GoalType = models.GoalReviewCount
	})

	result := s.checkin(nil)
	s.Require().Len(result.Completions, 1)
	s.Equal(venueOnly.ID, result.Completions[0].ChallengeID)
}

func (s *GamificationServiceSuite) TestChallenges_MissingBadgeKeepsPoints() {
	badge := id.BadgeID(uuid.New())
	s.challenge(1, 30, func(c *models.Challenge) {
		c.RewardBadgeID = &badge
	})

	result := s.checkin(nil)
	s.Require().Len(result.Completions, 1)
	s.Nil(result.Completions[0].BadgeID)
	s.Equal(int64(30), result.Completions[0].RewardPoints)
	s.Empty(result.ChallengeErrors)

	s.Equal(int64(40), s.ledgerSum(models.UserSubject(s.user)))
	s.InDelta(1, testutil.ToFloat64(s.metrics.ConfigGaps.WithLabelValues(metrics.GapBadge)), 1e-9)
}

func (s *GamificationServiceSuite) TestChallenges_BadgeAwarded() {
	badge := models.Badge{ID: id.BadgeID(uuid.New()), Name: "Regular"}
	s.db.PutBadge(badge)
	s.challenge(1, 0, func(c *models.Challenge) {
		c.RewardBadgeID = &badge.ID
	})

	result := s.checkin(nil)
	s.Require().Len(result.Completions, 1)
	s.Require().NotNil(result.Completions[0].BadgeID)
	s.Equal(badge.ID, *result.Completions[0].BadgeID)

	s.Require().NoError(s.db.RunInTx(s.ctx, func(stores storage.Stores) error {
		badges, err := stores.Badges.ListByUser(s.ctx, s.user)
		s.Require().NoError(err)
		s.Len(badges, 1)
		return nil
	}))
}

func (s *GamificationServiceSuite) TestChallenges_FailingRewardRollsBackOnlyItsSavepoint() {
	s.service = s.newService(WithRewardIssuer(failingIssuer{}))
	promo := id.PromotionID(uuid.New())
	s.challenge(1, 20, func(c *models.Challenge) {
		c.RewardPromotionID = &promo
	})

	result := s.checkin(nil)
	s.Require().Len(result.Completions, 1)
	s.Nil(result.Completions[0].RewardUnitID)
	s.Equal(int64(20), result.Completions[0].RewardPoints)

	// 10 for the check-in and 20 for the challenge; the stray 999 is gone.
	s.Equal(int64(30), s.ledgerSum(models.UserSubject(s.user)))
}

func (s *GamificationServiceSuite) TestChallenges_NoIssuerIsPromotionGap() {
	promo := id.PromotionID(uuid.New())
	s.challenge(1, 0, func(c *models.Challenge) {
		c.RewardPromotionID = &promo
	})

	result := s.checkin(nil)
	s.Require().Len(result.Completions, 1)
	s.Nil(result.Completions[0].RewardUnitID)
	s.InDelta(1, testutil.ToFloat64(s.metrics.ConfigGaps.WithLabelValues(metrics.GapPromotion)), 1e-9)
}

func (s *GamificationServiceSuite) TestRegisterEventTx_RollsBackWithCaller() {
	s.challenge(1, 10)
	errAbort := errors.New("abort")
	err := s.db.RunInTx(s.ctx, func(stores storage.Stores) error {
		result, err := s.service.RegisterEventTx(s.ctx, stores, models.EventRequest{UserID: s.user, EventCode: models.EventCheckin})
		s.Require().NoError(err)
		s.Len(result.Completions, 1)
		return errAbort
	})
	s.ErrorIs(err, errAbort)

	s.Zero(s.ledgerSum(models.UserSubject(s.user)))
	progress, err := s.service.GetChallengeProgress(s.ctx, s.user)
	s.Require().NoError(err)
	s.Empty(progress)
	s.Empty(s.outbox())
}
