// Package ledger appends point movements and keeps the running balances in
// step with them inside the caller's transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"venuepass/internal/gamification/models"
	"venuepass/internal/platform/metrics"
	"venuepass/internal/storage"
	id "venuepass/pkg/domain"
	dErrors "venuepass/pkg/domain-errors"
	"venuepass/pkg/platform/sentinel"
)

// Ledger writes ledger entries and their balance updates together.
type Ledger struct {
	metrics *metrics.Metrics
}

// New builds a Ledger. m may be nil.
func New(m *metrics.Metrics) *Ledger {
	return &Ledger{metrics: m}
}

// CreditUser appends entry for a user subject and applies it to the user's
// balance. Negative deltas must go through SpendUser.
func (l *Ledger) CreditUser(ctx context.Context, stores storage.Stores, entry *models.LedgerEntry) (*models.UserBalance, error) {
	if entry.Subject.Kind != models.SubjectUser {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "credit user needs a user subject")
	}
	if entry.Delta < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "credit user needs a positive delta")
	}
	if err := stores.Ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	balance, err := stores.Balances.ApplyUserDelta(ctx, id.UserID(entry.Subject.ID), models.DeltaFor(entry.Delta))
	if err != nil {
		return nil, fmt.Errorf("apply user delta: %w", err)
	}
	l.metrics.AddPoints(string(models.SubjectUser), entry.Delta)
	return balance, nil
}

// SpendUser debits -entry.Delta from the user's current balance. The debit
// is guarded so the balance never goes negative.
func (l *Ledger) SpendUser(ctx context.Context, stores storage.Stores, entry *models.LedgerEntry) (*models.UserBalance, error) {
	if entry.Subject.Kind != models.SubjectUser || entry.Delta >= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "spend needs a user subject and a negative delta")
	}
	balance, err := stores.Balances.SpendUserPoints(ctx, id.UserID(entry.Subject.ID), -entry.Delta)
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil, dErrors.New(dErrors.CodeInsufficientPoints, "not enough points")
		}
		return nil, fmt.Errorf("spend user points: %w", err)
	}
	if err := stores.Ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return balance, nil
}

// CreditVenue applies entry to the venue balance and appends it. The venue
// must exist.
func (l *Ledger) CreditVenue(ctx context.Context, stores storage.Stores, entry *models.LedgerEntry) (*models.VenueBalance, error) {
	if entry.Subject.Kind != models.SubjectVenue {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "credit venue needs a venue subject")
	}
	balance, err := stores.Balances.ApplyVenueDelta(ctx, id.VenueID(entry.Subject.ID), entry.Delta)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "venue not found")
		}
		return nil, fmt.Errorf("apply venue delta: %w", err)
	}
	if err := stores.Ledger.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	l.metrics.AddPoints(string(models.SubjectVenue), entry.Delta)
	return balance, nil
}
