// Package storage declares the persistence contracts the services depend on.
// Implementations live in storage/memory and storage/postgres.
package storage

//go:generate mockgen -destination=mocks/mocks.go -package=mocks venuepass/internal/storage VenueLocator

import (
	"context"
	"time"

	"github.com/google/uuid"

	gmodels "venuepass/internal/gamification/models"
	"venuepass/internal/notify"
	pmodels "venuepass/internal/proximity/models"
	rmodels "venuepass/internal/rewards/models"
	vmodels "venuepass/internal/visit/models"
	id "venuepass/pkg/domain"
	"venuepass/pkg/geo"
)

// Stores are interface-driven to keep the domain logic testable and to allow
// swapping in-memory or Postgres persistence without rewiring business code.
// Methods return pkg/platform/sentinel errors for storage facts.

// TokenStore persists proximity tokens.
type TokenStore interface {
	Create(ctx context.Context, token *pmodels.ProximityToken) error
	FindByID(ctx context.Context, tokenID id.TokenID) (*pmodels.ProximityToken, error)
	// ConsumeIfUsable atomically records one use when the token is not
	// revoked, has uses left and is unexpired at now. When the guard rejects
	// the update it returns the token's Refusal (sentinel.ErrRevoked,
	// sentinel.ErrAlreadyUsed, sentinel.ErrExpired or
	// sentinel.ErrInvalidState), and sentinel.ErrNotFound when no such token
	// exists.
	ConsumeIfUsable(ctx context.Context, tokenID id.TokenID, consumer id.UserID, now time.Time) (*pmodels.ProximityToken, error)
	// Revoke marks the token revoked; an already revoked token is returned unchanged.
	Revoke(ctx context.Context, tokenID id.TokenID, actor id.UserID, reason string, now time.Time) (*pmodels.ProximityToken, error)
}

// VisitStore persists visits.
type VisitStore interface {
	// Insert assigns the visit id. It returns sentinel.ErrConflict when the
	// visitor already has a visit at the venue that day, and
	// sentinel.ErrAlreadyUsed when the token already backs a visit.
	Insert(ctx context.Context, visit *vmodels.Visit) error
	// FindForUpdate loads a venue's visit and locks it for the transaction.
	FindForUpdate(ctx context.Context, venueID id.VenueID, visitID int64) (*vmodels.Visit, error)
	UpdateStatus(ctx context.Context, visitID int64, status vmodels.Status) error
	// MarkAwarded stamps awarded_at and points_awarded only while awarded_at
	// is unset, and reports whether it did.
	MarkAwarded(ctx context.Context, visitID int64, points int64, at time.Time) (bool, error)
	ListByVisitor(ctx context.Context, visitor id.UserID, limit int) ([]*vmodels.Visit, error)
}

// LedgerStore is the append-only points log.
type LedgerStore interface {
	Append(ctx context.Context, entry *gmodels.LedgerEntry) error
	ListBySubject(ctx context.Context, subject gmodels.Subject, limit int) ([]*gmodels.LedgerEntry, error)
	SumBySubject(ctx context.Context, subject gmodels.Subject) (int64, error)
}

// BalanceStore holds the running balances. All updates are relative.
type BalanceStore interface {
	// ApplyUserDelta upserts the user's profile row and adds delta.
	ApplyUserDelta(ctx context.Context, user id.UserID, delta gmodels.BalanceDelta) (*gmodels.UserBalance, error)
	// SpendUserPoints subtracts amount only when the current balance covers
	// it; otherwise it returns sentinel.ErrInvalidState.
	SpendUserPoints(ctx context.Context, user id.UserID, amount int64) (*gmodels.UserBalance, error)
	// FindUser returns a zero balance for users without a profile row.
	FindUser(ctx context.Context, user id.UserID) (*gmodels.UserBalance, error)
	SetUserLevel(ctx context.Context, user id.UserID, level id.LevelID) error
	// ApplyVenueDelta adds delta to the venue; sentinel.ErrNotFound when the
	// venue does not exist.
	ApplyVenueDelta(ctx context.Context, venue id.VenueID, delta int64) (*gmodels.VenueBalance, error)
	FindVenue(ctx context.Context, venue id.VenueID) (*gmodels.VenueBalance, error)
}

// ProgressStore persists challenge progress.
type ProgressStore interface {
	// GetOrCreate loads the (user, challenge) row, inserting a zero row when
	// absent, and locks it for the transaction.
	GetOrCreate(ctx context.Context, user id.UserID, challenge id.ChallengeID, now time.Time) (*gmodels.ChallengeProgress, error)
	Update(ctx context.Context, progress *gmodels.ChallengeProgress) error
	ListByUser(ctx context.Context, user id.UserID) ([]*gmodels.ChallengeProgress, error)
}

// BadgeStore records badge awards.
type BadgeStore interface {
	// AwardIfAbsent inserts the award and reports whether it was new.
	AwardIfAbsent(ctx context.Context, user id.UserID, badge id.BadgeID, now time.Time) (bool, error)
	ListByUser(ctx context.Context, user id.UserID) ([]*gmodels.UserBadge, error)
}

// RewardStore persists reward units.
type RewardStore interface {
	Create(ctx context.Context, unit *rmodels.RewardUnit) error
	CountByPromotion(ctx context.Context, promotion id.PromotionID) (int, error)
	FindByTokenID(ctx context.Context, tokenID id.TokenID) (*rmodels.RewardUnit, error)
	// MarkConsumed moves an available unit to consumed; sentinel.ErrInvalidState
	// when it is not available.
	MarkConsumed(ctx context.Context, unitID id.RewardUnitID, now time.Time) error
	ListByUser(ctx context.Context, user id.UserID) ([]*rmodels.RewardUnit, error)
}

// OutboxStore is the transactional notification outbox.
type OutboxStore interface {
	Append(ctx context.Context, n *notify.Notification) error
	// ListUnpublished returns the oldest unpublished rows, locking them so
	// concurrent relays skip them.
	ListUnpublished(ctx context.Context, limit int) ([]*notify.Notification, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, now time.Time) error
}

// Savepointer opens nested rollback scopes inside the current transaction.
type Savepointer interface {
	// Savepoint runs fn; when fn fails its writes are discarded and the
	// enclosing transaction continues.
	Savepoint(ctx context.Context, fn func() error) error
}

// Stores is the set of stores bound to one transaction.
type Stores struct {
	Tokens     TokenStore
	Visits     VisitStore
	Ledger     LedgerStore
	Balances   BalanceStore
	Progress   ProgressStore
	Badges     BadgeStore
	Rewards    RewardStore
	Outbox     OutboxStore
	Savepoints Savepointer
}

// Savepoint delegates to the bound Savepointer.
func (s Stores) Savepoint(ctx context.Context, fn func() error) error {
	return s.Savepoints.Savepoint(ctx, fn)
}

// TxRunner runs fn with stores bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(stores Stores) error) error
}

// Catalog is the read-only lookup data. It is read outside transactions
// and may be cached.
type Catalog interface {
	// EventDefinition returns sentinel.ErrNotFound for unknown codes.
	EventDefinition(ctx context.Context, code string) (*gmodels.EventDefinition, error)
	// Levels returns every level sorted by ascending threshold.
	Levels(ctx context.Context) ([]gmodels.Level, error)
	ChallengesByGoal(ctx context.Context, goal gmodels.GoalType) ([]gmodels.Challenge, error)
	Badge(ctx context.Context, badgeID id.BadgeID) (*gmodels.Badge, error)
	Promotion(ctx context.Context, promotionID id.PromotionID) (*rmodels.Promotion, error)
}

// VenueLocator resolves a venue's stored position.
type VenueLocator interface {
	// Location returns nil without error when the venue has no stored
	// position, and sentinel.ErrNotFound when the venue does not exist.
	Location(ctx context.Context, venueID id.VenueID) (*geo.Point, error)
}
