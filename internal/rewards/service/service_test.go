package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"venuepass/internal/gamification/ledger"
	gmodels "venuepass/internal/gamification/models"
	gamification "venuepass/internal/gamification/service"
	"venuepass/internal/platform/metrics"
	pmodels "venuepass/internal/proximity/models"
	proximity "venuepass/internal/proximity/service"
	"venuepass/internal/proximity/signer"
	"venuepass/internal/rewards/models"
	"venuepass/internal/storage"
	"venuepass/internal/storage/memory"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/requestcontext"
)

type RewardsServiceSuite struct {
	suite.Suite
	db      *memory.DB
	metrics *metrics.Metrics
	ledger  *ledger.Ledger
	prox    *proximity.Service
	service *Service
	user    id.UserID
	venue   id.VenueID
	promo   models.Promotion
	now     time.Time
	ctx     context.Context
}

func TestRewardsServiceSuite(t *testing.T) {
	suite.Run(t, new(RewardsServiceSuite))
}

func (s *RewardsServiceSuite) SetupTest() {
	s.db = memory.New()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.ledger = ledger.New(s.metrics)
	s.user = id.UserID(uuid.New())
	s.venue = id.VenueID(uuid.New())
	s.db.PutVenue(s.venue, nil)
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	cost := int64(30)
	units := 2
	s.promo = models.Promotion{
		ID:         id.PromotionID(uuid.New()),
		VenueID:    s.venue,
		Title:      "Free coffee",
		IsActive:   true,
		TotalUnits: &units,
		PointsCost: &cost,
	}
	s.db.PutPromotion(s.promo)

	sig, err := signer.New("rewards-test-signing-key", "venuepass-qr", "venuepass-app", "HS256")
	s.Require().NoError(err)
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.prox = proximity.New(s.db, sig, proximity.Config{CheckinTTL: time.Minute, MaxUses: 1}, proximity.WithLogger(discard))
	s.service = New(s.db, s.db, s.ledger, s.prox, Config{RewardValidity: 7 * 24 * time.Hour},
		WithLogger(discard),
		WithMetrics(s.metrics),
	)
}

func (s *RewardsServiceSuite) credit(points int64) {
	s.Require().NoError(s.db.RunInTx(s.ctx, func(stores storage.Stores) error {
		entry, err := gmodels.NewLedgerEntry(gmodels.EventCheckin, gmodels.UserSubject(s.user), points, gmodels.OriginEvent, "seed", nil, s.now)
		if err != nil {
			return err
		}
		_, err = s.ledger.CreditUser(s.ctx, stores, entry)
		return err
	}))
}

func (s *RewardsServiceSuite) balance() *gmodels.UserBalance {
	var b *gmodels.UserBalance
	s.Require().NoError(s.db.RunInTx(s.ctx, func(stores storage.Stores) error {
		var err error
		b, err = stores.Balances.FindUser(s.ctx, s.user)
		return err
	}))
	return b
}

func (s *RewardsServiceSuite) TestRedeemPromotion() {
	s.Run("insufficient points leaves no trace", func() {
		s.credit(10)
		_, err := s.service.RedeemPromotion(s.ctx, s.user, s.promo.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientPoints))

		units, err := s.service.ListRewards(s.ctx, s.user)
		s.Require().NoError(err)
		s.Empty(units)
		s.Equal(int64(10), s.balance().PointsCurrent)
	})

	s.Run("spends current points only", func() {
		s.credit(50)
		unit, err := s.service.RedeemPromotion(s.ctx, s.user, s.promo.ID)
		s.Require().NoError(err)
		s.Equal(models.RewardAvailable, unit.Status)
		s.Equal(models.SourcePoints, unit.Source)
		s.Equal(s.venue, unit.VenueID)

		b := s.balance()
		s.Equal(int64(30), b.PointsCurrent)
		s.Equal(int64(60), b.PointsLifetime)
		s.Equal(int64(60), b.Reputation)

		tok, err := s.prox.Validate(s.ctx, unit.TokenID)
		s.Require().NoError(err)
		s.Equal(pmodels.KindPromo, tok.Kind)
		s.Equal(s.now.Add(7*24*time.Hour), tok.ValidUntil)
	})

	s.Run("stock limit", func() {
		s.credit(100)
		_, err := s.service.RedeemPromotion(s.ctx, s.user, s.promo.ID)
		s.Require().NoError(err)

		before := s.balance().PointsCurrent
		_, err = s.service.RedeemPromotion(s.ctx, s.user, s.promo.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
		s.Equal(before, s.balance().PointsCurrent)
	})

	s.Run("unknown promotion", func() {
		_, err := s.service.RedeemPromotion(s.ctx, s.user, id.PromotionID(uuid.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.InDelta(2, testutil.ToFloat64(s.metrics.RewardsMinted.WithLabelValues(models.SourcePoints)), 1e-9)
}

func (s *RewardsServiceSuite) TestRedeemPromotion_Inactive() {
	inactive := s.promo
	inactive.ID = id.PromotionID(uuid.New())
	inactive.IsActive = false
	s.db.PutPromotion(inactive)
	s.credit(100)

	_, err := s.service.RedeemPromotion(s.ctx, s.user, inactive.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	s.Equal(int64(100), s.balance().PointsCurrent)
}

func (s *RewardsServiceSuite) TestRedeemReward() {
	s.credit(30)
	unit, err := s.service.RedeemPromotion(s.ctx, s.user, s.promo.ID)
	s.Require().NoError(err)

	s.Run("wrong venue", func() {
		_, err := s.service.RedeemReward(s.ctx, id.VenueID(uuid.New()), unit.TokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unknown token", func() {
		_, err := s.service.RedeemReward(s.ctx, s.venue, id.TokenID(uuid.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("consumes once", func() {
		redeemed, err := s.service.RedeemReward(s.ctx, s.venue, unit.TokenID)
		s.Require().NoError(err)
		s.Equal(models.RewardConsumed, redeemed.Status)
		s.Require().NotNil(redeemed.ConsumedAt)

		_, err = s.service.RedeemReward(s.ctx, s.venue, unit.TokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenExhausted))
	})

	s.InDelta(1, testutil.ToFloat64(s.metrics.RewardsRedeemed), 1e-9)
}

func (s *RewardsServiceSuite) TestMintChallengeReward_ThroughGamification() {
	s.db.PutEventDefinition(gmodels.EventDefinition{Code: gmodels.EventCheckin, TargetKind: gmodels.SubjectUser, Points: 10, IsActive: true})
	challenge := gmodels.Challenge{
		ID:                id.ChallengeID(uuid.New()),
		Code:              "FIRST_VISIT",
		Title:             "First visit",
		GoalType:          gmodels.GoalCheckinCount,
		TargetValue:       1,
		IsActive:          true,
		RewardPromotionID: &s.promo.ID,
	}
	s.db.PutChallenge(challenge)

	facade := gamification.New(s.db, s.db,
		gamification.WithRewardIssuer(s.service),
		gamification.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	result, err := facade.RegisterEvent(s.ctx, gmodels.EventRequest{UserID: s.user, EventCode: gmodels.EventCheckin})
	s.Require().NoError(err)
	s.Require().Len(result.Completions, 1)
	s.Require().NotNil(result.Completions[0].RewardUnitID)

	units, err := s.service.ListRewards(s.ctx, s.user)
	s.Require().NoError(err)
	s.Require().Len(units, 1)
	s.Equal(models.SourceChallenge, units[0].Source)
	s.Equal(challenge.ID, *units[0].SourceChallengeID)
	// Challenge rewards cost nothing.
	s.Equal(int64(10), s.balance().PointsCurrent)
}
