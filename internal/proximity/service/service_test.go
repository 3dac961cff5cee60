package service

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"venuepass/internal/platform/metrics"
	"venuepass/internal/proximity/signer"
	"venuepass/internal/storage"
	"venuepass/internal/storage/memory"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/requestcontext"
)

type ProximityServiceSuite struct {
	suite.Suite
	db      *memory.DB
	service *Service
	venue   id.VenueID
	issuer  id.UserID
	now     time.Time
	ctx     context.Context
}

func TestProximityServiceSuite(t *testing.T) {
	suite.Run(t, new(ProximityServiceSuite))
}

func (s *ProximityServiceSuite) SetupTest() {
	s.db = memory.New()
	s.venue = id.VenueID(uuid.New())
	s.issuer = id.UserID(uuid.New())
	s.db.PutVenue(s.venue, nil)
	s.now = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)

	sig, err := signer.New("proximity-test-signing-key", "venuepass-qr", "venuepass-app", "HS256")
	s.Require().NoError(err)
	s.service = New(s.db, sig, Config{CheckinTTL: 2 * time.Minute, MaxUses: 1},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
}

func (s *ProximityServiceSuite) at(d time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.now.Add(d))
}

func (s *ProximityServiceSuite) consume(ctx context.Context, tokenID id.TokenID) error {
	return s.db.RunInTx(ctx, func(stores storage.Stores) error {
		_, err := s.service.ConsumeTx(ctx, stores, tokenID, id.UserID(uuid.New()), requestcontext.Now(ctx))
		return err
	})
}

// =============================================================================
// Issue
// =============================================================================

func (s *ProximityServiceSuite) TestIssueCheckinToken() {
	issued, err := s.service.IssueCheckinToken(s.ctx, s.venue, s.issuer)
	s.Require().NoError(err)
	s.Equal(120, issued.ExpiresInSeconds)
	s.Equal(s.now.Add(2*time.Minute), issued.ValidUntil)

	verified, err := s.service.VerifyCheckin(s.ctx, issued.OpaqueToken)
	s.Require().NoError(err)
	s.Equal(issued.TokenID, verified.TokenID)
	s.Equal(s.venue, verified.VenueID)

	tok, err := s.service.Validate(s.ctx, issued.TokenID)
	s.Require().NoError(err)
	s.Equal(0, tok.UsedCount)
	s.Equal(1, tok.MaxUses)
}

func (s *ProximityServiceSuite) TestIssueCheckinToken_UnknownVenue() {
	_, err := s.service.IssueCheckinToken(s.ctx, id.VenueID(uuid.New()), s.issuer)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Validate and consume
// =============================================================================

func (s *ProximityServiceSuite) TestValidate_States() {
	s.Run("unknown token", func() {
		_, err := s.service.Validate(s.ctx, id.TokenID(uuid.New()))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidToken))
	})

	s.Run("expired in the store", func() {
		issued, err := s.service.IssueCheckinToken(s.ctx, s.venue, s.issuer)
		s.Require().NoError(err)
		_, err = s.service.Validate(s.at(3*time.Minute), issued.TokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenExpired))
	})

	s.Run("exhausted after consume", func() {
		issued, err := s.service.IssueCheckinToken(s.ctx, s.venue, s.issuer)
		s.Require().NoError(err)
		s.Require().NoError(s.consume(s.ctx, issued.TokenID))

		_, err = s.service.Validate(s.ctx, issued.TokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenExhausted))
		s.True(dErrors.HasCode(s.consume(s.ctx, issued.TokenID), dErrors.CodeTokenExhausted))
	})

	s.Run("revoked", func() {
		issued, err := s.service.IssueCheckinToken(s.ctx, s.venue, s.issuer)
		s.Require().NoError(err)
		_, err = s.service.Revoke(s.ctx, issued.TokenID, s.issuer, "printed by mistake")
		s.Require().NoError(err)

		_, err = s.service.Validate(s.ctx, issued.TokenID)
		s.True(dErrors.HasCode(err, dErrors.CodeTokenRevoked))
		s.True(dErrors.HasCode(s.consume(s.ctx, issued.TokenID), dErrors.CodeTokenRevoked))
	})
}

func (s *ProximityServiceSuite) TestRevoke_Idempotent() {
	issued, err := s.service.IssueCheckinToken(s.ctx, s.venue, s.issuer)
	s.Require().NoError(err)

	first, err := s.service.Revoke(s.ctx, issued.TokenID, s.issuer, "first")
	s.Require().NoError(err)
	second, err := s.service.Revoke(s.at(time.Minute), issued.TokenID, id.UserID(uuid.New()), "second")
	s.Require().NoError(err)
	s.Equal(first.RevokedAt, second.RevokedAt)
	s.Equal("first", second.RevokedReason)

	_, err = s.service.Revoke(s.ctx, id.TokenID(uuid.New()), s.issuer, "missing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ProximityServiceSuite) TestConsume_ConcurrentSingleUse() {
	issued, err := s.service.IssueCheckinToken(s.ctx, s.venue, s.issuer)
	s.Require().NoError(err)

	const goroutines = 50
	var succeeded, exhausted atomic.Int32
	var g errgroup.Group
	for range goroutines {
		g.Go(func() error {
			err := s.consume(s.ctx, issued.TokenID)
			switch {
			case err == nil:
				succeeded.Add(1)
			case dErrors.HasCode(err, dErrors.CodeTokenExhausted):
				exhausted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(int32(1), succeeded.Load(), "exactly one consumer wins")
	s.Equal(int32(goroutines-1), exhausted.Load())

	tok, err := s.service.Validate(s.ctx, issued.TokenID)
	s.Nil(tok)
	s.True(dErrors.HasCode(err, dErrors.CodeTokenExhausted))
}
