// Package service issues, validates, consumes and revokes proximity tokens.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"venuepass/internal/platform/metrics"
	"venuepass/internal/proximity/models"
	"venuepass/internal/proximity/signer"
	"venuepass/internal/storage"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/platform/sentinel"
	"venuepass/pkg/requestcontext"
)

// Config holds the token lifetime settings.
type Config struct {
	CheckinTTL time.Duration
	MaxUses    int
}

// IssuedToken is what a venue operator receives when requesting a QR code.
type IssuedToken struct {
	OpaqueToken      string                 `json:"token"`
	ExpiresInSeconds int                    `json:"expires_in"`
	TokenID          id.TokenID             `json:"token_id"`
	ValidUntil       time.Time              `json:"valid_until"`
	Token            *models.ProximityToken `json:"-"`
}

// Service manages proximity tokens.
type Service struct {
	tx      storage.TxRunner
	signer  *signer.Signer
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service. Zero config values fall back to a 120 s TTL and
// a single use.
func New(tx storage.TxRunner, sig *signer.Signer, cfg Config, opts ...Option) *Service {
	if cfg.CheckinTTL <= 0 {
		cfg.CheckinTTL = 120 * time.Second
	}
	if cfg.MaxUses < 1 {
		cfg.MaxUses = 1
	}
	s := &Service{tx: tx, signer: sig, cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueCheckinToken persists a fresh check-in token for venue and returns
// its signed form.
func (s *Service) IssueCheckinToken(ctx context.Context, venue id.VenueID, issuer id.UserID) (*IssuedToken, error) {
	now := requestcontext.Now(ctx)
	tok, err := models.NewCheckinToken(id.TokenID(uuid.New()), venue, issuer, s.cfg.CheckinTTL, s.cfg.MaxUses, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, err
	}

	opaque, err := s.signer.Issue(tok)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}

	err = s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		return stores.Tokens.Create(ctx, tok)
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "venue not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store token")
	}

	s.metrics.IncTokenIssued(string(models.KindCheckin))
	s.logger.InfoContext(ctx, "checkin token issued",
		"token_id", tok.ID,
		"venue_id", venue,
		"valid_until", tok.ValidUntil,
	)
	return &IssuedToken{
		OpaqueToken:      opaque,
		ExpiresInSeconds: int(s.cfg.CheckinTTL / time.Second),
		TokenID:          tok.ID,
		ValidUntil:       tok.ValidUntil,
		Token:            tok,
	}, nil
}

// VerifyCheckin checks the signed form of a check-in token at the request time.
func (s *Service) VerifyCheckin(ctx context.Context, opaque string) (*signer.Verified, error) {
	v, err := s.signer.Verify(opaque, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if v.Scope != models.ScopeCheckin {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "token is not a check-in token")
	}
	return v, nil
}

// Validate loads the persisted token and reports why it cannot be used, if
// it cannot. Stored state wins over the signed expiry.
func (s *Service) Validate(ctx context.Context, tokenID id.TokenID) (*models.ProximityToken, error) {
	var tok *models.ProximityToken
	err := s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		var err error
		tok, err = s.ValidateTx(ctx, stores, tokenID, requestcontext.Now(ctx))
		return err
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// ValidateTx is Validate inside the caller's transaction.
func (s *Service) ValidateTx(ctx context.Context, stores storage.Stores, tokenID id.TokenID, now time.Time) (*models.ProximityToken, error) {
	tok, err := stores.Tokens.FindByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidToken, "token not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load token")
	}
	if err := tok.CheckUsable(now); err != nil {
		return nil, err
	}
	return tok, nil
}

// ConsumeTx validates the token and records one use by consumer inside the
// caller's transaction. The increment is a single guarded update, so of two
// concurrent consumers of a single-use token exactly one succeeds.
func (s *Service) ConsumeTx(ctx context.Context, stores storage.Stores, tokenID id.TokenID, consumer id.UserID, now time.Time) (*models.ProximityToken, error) {
	if _, err := s.ValidateTx(ctx, stores, tokenID, now); err != nil {
		return nil, err
	}
	tok, err := stores.Tokens.ConsumeIfUsable(ctx, tokenID, consumer, now)
	if err == nil {
		return tok, nil
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeInvalidToken, "token not found")
	}
	// Lost a race: the store reports what the winner left behind.
	if refused := models.RefusalError(err); refused != nil {
		return nil, refused
	}
	return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to consume token")
}

// Revoke marks a token unusable. Revoking an already revoked token is a no-op.
func (s *Service) Revoke(ctx context.Context, tokenID id.TokenID, actor id.UserID, reason string) (*models.ProximityToken, error) {
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "actor is required")
	}
	var tok *models.ProximityToken
	err := s.tx.RunInTx(ctx, func(stores storage.Stores) error {
		var err error
		tok, err = stores.Tokens.Revoke(ctx, tokenID, actor, reason, requestcontext.Now(ctx))
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "token not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke token")
	}
	s.metrics.IncTokenRevoked()
	s.logger.InfoContext(ctx, "token revoked", "token_id", tokenID, "actor", actor, "reason", reason)
	return tok, nil
}
