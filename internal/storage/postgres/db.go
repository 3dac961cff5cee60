// Package postgres implements the storage contracts on PostgreSQL through
// database/sql and lib/pq. Guards that must hold under concurrency are
// single conditional statements or database constraints.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"venuepass/internal/storage"
	id "venuepass/pkg/domain"
	"venuepass/pkg/geo"
	"venuepass/pkg/platform/sentinel"
	"venuepass/pkg/platform/tx"
)

var (
	_ storage.TxRunner     = (*DB)(nil)
	_ storage.VenueLocator = (*DB)(nil)
)

// DB opens transactions whose stores share one *sql.Tx.
type DB struct {
	db     *sql.DB
	runner *tx.Runner
}

// New wraps db. txTimeout bounds transactions whose context has no deadline.
func New(db *sql.DB, txTimeout time.Duration) *DB {
	return &DB{db: db, runner: tx.NewRunner(db, txTimeout)}
}

// RunInTx implements storage.TxRunner.
func (d *DB) RunInTx(ctx context.Context, fn func(stores storage.Stores) error) error {
	return d.runner.Run(ctx, func(sqlTx *sql.Tx) error {
		return fn(newStores(sqlTx))
	})
}

func newStores(sqlTx *sql.Tx) storage.Stores {
	return storage.Stores{
		Tokens:     &TokenStore{q: sqlTx},
		Visits:     &VisitStore{q: sqlTx},
		Ledger:     &LedgerStore{q: sqlTx},
		Balances:   &BalanceStore{q: sqlTx},
		Progress:   &ProgressStore{q: sqlTx},
		Badges:     &BadgeStore{q: sqlTx},
		Rewards:    &RewardStore{q: sqlTx},
		Outbox:     &OutboxStore{q: sqlTx},
		Savepoints: tx.NewSavepoints(sqlTx),
	}
}

// Location implements storage.VenueLocator.
func (d *DB) Location(ctx context.Context, venueID id.VenueID) (*geo.Point, error) {
	var lat, lng sql.NullFloat64
	err := d.db.QueryRowContext(ctx,
		`SELECT latitude, longitude FROM venues WHERE id = $1`,
		uuid.UUID(venueID),
	).Scan(&lat, &lng)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("venue %s: %w", venueID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("locate venue: %w", err)
	}
	if !lat.Valid || !lng.Valid {
		return nil, nil
	}
	return &geo.Point{Lat: lat.Float64, Lng: lng.Float64}, nil
}

// PutVenue inserts or updates a venue's name and stored position. Balances
// are left untouched.
func (d *DB) PutVenue(ctx context.Context, venueID id.VenueID, name string, location *geo.Point) error {
	var lat, lng sql.NullFloat64
	if location != nil {
		lat = sql.NullFloat64{Float64: location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: location.Lng, Valid: true}
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO venues (id, name, latitude, longitude)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude
	`, uuid.UUID(venueID), name, lat, lng)
	if err != nil {
		return fmt.Errorf("put venue: %w", err)
	}
	return nil
}
