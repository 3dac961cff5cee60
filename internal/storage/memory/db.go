// Package memory is an in-process implementation of the storage contracts.
// Transactions are serialized; each works on a private copy of the state that
// replaces the committed state only when the transaction succeeds.
package memory

import (
	"context"
	"maps"
	"sync"

	gmodels "venuepass/internal/gamification/models"
	"venuepass/internal/notify"
	pmodels "venuepass/internal/proximity/models"
	rmodels "venuepass/internal/rewards/models"
	"venuepass/internal/storage"
	vmodels "venuepass/internal/visit/models"
	id "venuepass/pkg/domain"
	"venuepass/pkg/geo"
)

type dayKey struct {
	visitor id.UserID
	venue   id.VenueID
	day     int64
}

type progressKey struct {
	user      id.UserID
	challenge id.ChallengeID
}

type badgeKey struct {
	user  id.UserID
	badge id.BadgeID
}

type venue struct {
	balance  gmodels.VenueBalance
	location *geo.Point
}

// state is everything a transaction can write.
type state struct {
	tokens     map[id.TokenID]*pmodels.ProximityToken
	visits     map[int64]*vmodels.Visit
	visitSeq   int64
	visitDays  map[dayKey]int64
	visitToken map[id.TokenID]int64
	ledger     []*gmodels.LedgerEntry
	users      map[id.UserID]*gmodels.UserBalance
	venues     map[id.VenueID]*venue
	progress   map[progressKey]*gmodels.ChallengeProgress
	badges     map[badgeKey]*gmodels.UserBadge
	rewards    map[id.RewardUnitID]*rmodels.RewardUnit
	outbox     []*notify.Notification
}

func newState() *state {
	return &state{
		tokens:     map[id.TokenID]*pmodels.ProximityToken{},
		visits:     map[int64]*vmodels.Visit{},
		visitDays:  map[dayKey]int64{},
		visitToken: map[id.TokenID]int64{},
		users:      map[id.UserID]*gmodels.UserBalance{},
		venues:     map[id.VenueID]*venue{},
		progress:   map[progressKey]*gmodels.ChallengeProgress{},
		badges:     map[badgeKey]*gmodels.UserBadge{},
		rewards:    map[id.RewardUnitID]*rmodels.RewardUnit{},
	}
}

// clone deep-copies every mutable row. Ledger entries are immutable once
// appended, so only the slice is copied.
func (s *state) clone() *state {
	c := &state{
		tokens:     make(map[id.TokenID]*pmodels.ProximityToken, len(s.tokens)),
		visits:     make(map[int64]*vmodels.Visit, len(s.visits)),
		visitSeq:   s.visitSeq,
		visitDays:  maps.Clone(s.visitDays),
		visitToken: maps.Clone(s.visitToken),
		ledger:     append([]*gmodels.LedgerEntry(nil), s.ledger...),
		users:      make(map[id.UserID]*gmodels.UserBalance, len(s.users)),
		venues:     make(map[id.VenueID]*venue, len(s.venues)),
		progress:   make(map[progressKey]*gmodels.ChallengeProgress, len(s.progress)),
		badges:     maps.Clone(s.badges),
		rewards:    make(map[id.RewardUnitID]*rmodels.RewardUnit, len(s.rewards)),
		outbox:     make([]*notify.Notification, 0, len(s.outbox)),
	}
	for k, v := range s.tokens {
		c.tokens[k] = v.Clone()
	}
	for k, v := range s.visits {
		cp := *v
		c.visits[k] = &cp
	}
	for k, v := range s.users {
		cp := *v
		c.users[k] = &cp
	}
	for k, v := range s.venues {
		cp := *v
		c.venues[k] = &cp
	}
	for k, v := range s.progress {
		cp := *v
		c.progress[k] = &cp
	}
	for k, v := range s.rewards {
		cp := *v
		c.rewards[k] = &cp
	}
	for _, n := range s.outbox {
		cp := *n
		c.outbox = append(c.outbox, &cp)
	}
	return c
}

// DB holds committed state plus the read-only catalog.
type DB struct {
	mu    sync.Mutex
	state *state

	catalogMu  sync.RWMutex
	events     map[string]gmodels.EventDefinition
	levels     []gmodels.Level
	challenges []gmodels.Challenge
	badgeDefs  map[id.BadgeID]gmodels.Badge
	promotions map[id.PromotionID]rmodels.Promotion
}

// New returns an empty database.
func New() *DB {
	return &DB{
		state:      newState(),
		events:     map[string]gmodels.EventDefinition{},
		badgeDefs:  map[id.BadgeID]gmodels.Badge{},
		promotions: map[id.PromotionID]rmodels.Promotion{},
	}
}

var _ storage.TxRunner = (*DB)(nil)

// RunInTx runs fn against a private copy of the state and commits it when fn
// succeeds and ctx is still live.
func (db *DB) RunInTx(ctx context.Context, fn func(stores storage.Stores) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	t := &txn{w: db.state.clone()}
	if err := fn(t.stores()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	db.state = t.w
	return nil
}

// txn is one open transaction. Stores reach the working state through it so
// a savepoint restore is visible to all of them.
type txn struct {
	w *state
}

func (t *txn) stores() storage.Stores {
	return storage.Stores{
		Tokens:     &tokenStore{t},
		Visits:     &visitStore{t},
		Ledger:     &ledgerStore{t},
		Balances:   &balanceStore{t},
		Progress:   &progressStore{t},
		Badges:     &badgeStore{t},
		Rewards:    &rewardStore{t},
		Outbox:     &outboxStore{t},
		Savepoints: t,
	}
}

// Savepoint snapshots the working state and restores it when fn fails.
func (t *txn) Savepoint(ctx context.Context, fn func() error) error {
	snapshot := t.w.clone()
	if err := fn(); err != nil {
		t.w = snapshot
		return err
	}
	return nil
}

// PutVenue registers a venue with an optional stored position.
func (db *DB) PutVenue(venueID id.VenueID, location *geo.Point) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var loc *geo.Point
	if location != nil {
		cp := *location
		loc = &cp
	}
	db.state.venues[venueID] = &venue{
		balance:  gmodels.VenueBalance{VenueID: venueID},
		location: loc,
	}
}

// Location implements storage.VenueLocator.
func (db *DB) Location(ctx context.Context, venueID id.VenueID) (*geo.Point, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	v, ok := db.state.venues[venueID]
	if !ok {
		return nil, errVenueNotFound
	}
	if v.location == nil {
		return nil, nil
	}
	cp := *v.location
	return &cp, nil
}
