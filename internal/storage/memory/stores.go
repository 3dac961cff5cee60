package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	gmodels "venuepass/internal/gamification/models"
	"venuepass/internal/notify"
	pmodels "venuepass/internal/proximity/models"
	rmodels "venuepass/internal/rewards/models"
	vmodels "venuepass/internal/visit/models"
	id "venuepass/pkg/domain"
	"venuepass/pkg/platform/sentinel"
)

var errVenueNotFound = fmt.Errorf("venue: %w", sentinel.ErrNotFound)

// tokens

type tokenStore struct{ t *txn }

func (s *tokenStore) Create(_ context.Context, token *pmodels.ProximityToken) error {
	if _, exists := s.t.w.tokens[token.ID]; exists {
		return fmt.Errorf("token %s: %w", token.ID, sentinel.ErrConflict)
	}
	if _, ok := s.t.w.venues[token.VenueID]; !ok {
		return errVenueNotFound
	}
	s.t.w.tokens[token.ID] = token.Clone()
	return nil
}

func (s *tokenStore) FindByID(_ context.Context, tokenID id.TokenID) (*pmodels.ProximityToken, error) {
	tok, ok := s.t.w.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, sentinel.ErrNotFound)
	}
	return tok.Clone(), nil
}

func (s *tokenStore) ConsumeIfUsable(_ context.Context, tokenID id.TokenID, consumer id.UserID, now time.Time) (*pmodels.ProximityToken, error) {
	tok, ok := s.t.w.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, sentinel.ErrNotFound)
	}
	if refusal := tok.Refusal(now); refusal != nil {
		return nil, fmt.Errorf("consume token %s: %w", tokenID, refusal)
	}
	tok.ApplyUse(consumer, now)
	return tok.Clone(), nil
}

func (s *tokenStore) Revoke(_ context.Context, tokenID id.TokenID, actor id.UserID, reason string, now time.Time) (*pmodels.ProximityToken, error) {
	tok, ok := s.t.w.tokens[tokenID]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", tokenID, sentinel.ErrNotFound)
	}
	tok.ApplyRevocation(actor, reason, now)
	return tok.Clone(), nil
}

// visits

type visitStore struct{ t *txn }

func (s *visitStore) Insert(_ context.Context, visit *vmodels.Visit) error {
	w := s.t.w
	key := dayKey{visitor: visit.VisitorID, venue: visit.VenueID, day: visit.VisitDay.Unix()}
	if _, dup := w.visitDays[key]; dup {
		return fmt.Errorf("insert visit: %w", sentinel.ErrConflict)
	}
	if _, dup := w.visitToken[visit.TokenID]; dup {
		return fmt.Errorf("insert visit: %w", sentinel.ErrAlreadyUsed)
	}
	w.visitSeq++
	visit.ID = w.visitSeq
	cp := *visit
	w.visits[visit.ID] = &cp
	w.visitDays[key] = visit.ID
	w.visitToken[visit.TokenID] = visit.ID
	return nil
}

func (s *visitStore) FindForUpdate(_ context.Context, venueID id.VenueID, visitID int64) (*vmodels.Visit, error) {
	v, ok := s.t.w.visits[visitID]
	if !ok || v.VenueID != venueID {
		return nil, fmt.Errorf("visit %d: %w", visitID, sentinel.ErrNotFound)
	}
	cp := *v
	return &cp, nil
}

func (s *visitStore) UpdateStatus(_ context.Context, visitID int64, status vmodels.Status) error {
	v, ok := s.t.w.visits[visitID]
	if !ok {
		return fmt.Errorf("visit %d: %w", visitID, sentinel.ErrNotFound)
	}
	v.Status = status
	return nil
}

func (s *visitStore) MarkAwarded(_ context.Context, visitID int64, points int64, at time.Time) (bool, error) {
	v, ok := s.t.w.visits[visitID]
	if !ok {
		return false, fmt.Errorf("visit %d: %w", visitID, sentinel.ErrNotFound)
	}
	if v.AwardedAt != nil {
		return false, nil
	}
	v.PointsAwarded = points
	v.AwardedAt = &at
	return true, nil
}

func (s *visitStore) ListByVisitor(_ context.Context, visitor id.UserID, limit int) ([]*vmodels.Visit, error) {
	out := make([]*vmodels.Visit, 0)
	for _, v := range s.t.w.visits {
		if v.VisitorID == visitor {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ledger

type ledgerStore struct{ t *txn }

func (s *ledgerStore) Append(_ context.Context, entry *gmodels.LedgerEntry) error {
	cp := *entry
	s.t.w.ledger = append(s.t.w.ledger, &cp)
	return nil
}

func (s *ledgerStore) ListBySubject(_ context.Context, subject gmodels.Subject, limit int) ([]*gmodels.LedgerEntry, error) {
	out := make([]*gmodels.LedgerEntry, 0)
	for i := len(s.t.w.ledger) - 1; i >= 0; i-- {
		e := s.t.w.ledger[i]
		if e.Subject != subject {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *ledgerStore) SumBySubject(_ context.Context, subject gmodels.Subject) (int64, error) {
	var sum int64
	for _, e := range s.t.w.ledger {
		if e.Subject == subject {
			sum += e.Delta
		}
	}
	return sum, nil
}

// balances

type balanceStore struct{ t *txn }

func (s *balanceStore) user(u id.UserID) *gmodels.UserBalance {
	b, ok := s.t.w.users[u]
	if !ok {
		b = &gmodels.UserBalance{UserID: u}
		s.t.w.users[u] = b
	}
	return b
}

func (s *balanceStore) ApplyUserDelta(_ context.Context, u id.UserID, delta gmodels.BalanceDelta) (*gmodels.UserBalance, error) {
	b := s.user(u)
	b.PointsCurrent += delta.Current
	b.PointsLifetime += delta.Lifetime
	b.Reputation += delta.Reputation
	cp := *b
	return &cp, nil
}

func (s *balanceStore) SpendUserPoints(_ context.Context, u id.UserID, amount int64) (*gmodels.UserBalance, error) {
	b, ok := s.t.w.users[u]
	if !ok || b.PointsCurrent < amount {
		return nil, fmt.Errorf("spend points: %w", sentinel.ErrInvalidState)
	}
	b.PointsCurrent -= amount
	cp := *b
	return &cp, nil
}

func (s *balanceStore) FindUser(_ context.Context, u id.UserID) (*gmodels.UserBalance, error) {
	if b, ok := s.t.w.users[u]; ok {
		cp := *b
		return &cp, nil
	}
	return &gmodels.UserBalance{UserID: u}, nil
}

func (s *balanceStore) SetUserLevel(_ context.Context, u id.UserID, level id.LevelID) error {
	s.user(u).LevelID = &level
	return nil
}

func (s *balanceStore) ApplyVenueDelta(_ context.Context, v id.VenueID, delta int64) (*gmodels.VenueBalance, error) {
	ven, ok := s.t.w.venues[v]
	if !ok {
		return nil, errVenueNotFound
	}
	ven.balance.PointsBalance += delta
	if delta > 0 {
		ven.balance.PointsLifetime += delta
	}
	cp := ven.balance
	return &cp, nil
}

func (s *balanceStore) FindVenue(_ context.Context, v id.VenueID) (*gmodels.VenueBalance, error) {
	ven, ok := s.t.w.venues[v]
	if !ok {
		return nil, errVenueNotFound
	}
	cp := ven.balance
	return &cp, nil
}

// challenge progress

type progressStore struct{ t *txn }

func (s *progressStore) GetOrCreate(_ context.Context, u id.UserID, c id.ChallengeID, now time.Time) (*gmodels.ChallengeProgress, error) {
	key := progressKey{user: u, challenge: c}
	p, ok := s.t.w.progress[key]
	if !ok {
		p = &gmodels.ChallengeProgress{UserID: u, ChallengeID: c, LastUpdatedAt: now}
		s.t.w.progress[key] = p
	}
	cp := *p
	return &cp, nil
}

func (s *progressStore) Update(_ context.Context, p *gmodels.ChallengeProgress) error {
	key := progressKey{user: p.UserID, challenge: p.ChallengeID}
	if _, ok := s.t.w.progress[key]; !ok {
		return fmt.Errorf("challenge progress: %w", sentinel.ErrNotFound)
	}
	cp := *p
	s.t.w.progress[key] = &cp
	return nil
}

func (s *progressStore) ListByUser(_ context.Context, u id.UserID) ([]*gmodels.ChallengeProgress, error) {
	out := make([]*gmodels.ChallengeProgress, 0)
	for k, p := range s.t.w.progress {
		if k.user == u {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt)
	})
	return out, nil
}

// badges

type badgeStore struct{ t *txn }

func (s *badgeStore) AwardIfAbsent(_ context.Context, u id.UserID, b id.BadgeID, now time.Time) (bool, error) {
	key := badgeKey{user: u, badge: b}
	if _, ok := s.t.w.badges[key]; ok {
		return false, nil
	}
	s.t.w.badges[key] = &gmodels.UserBadge{UserID: u, BadgeID: b, AwardedAt: now}
	return true, nil
}

func (s *badgeStore) ListByUser(_ context.Context, u id.UserID) ([]*gmodels.UserBadge, error) {
	out := make([]*gmodels.UserBadge, 0)
	for k, b := range s.t.w.badges {
		if k.user == u {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AwardedAt.Before(out[j].AwardedAt) })
	return out, nil
}

// reward units

type rewardStore struct{ t *txn }

func (s *rewardStore) Create(_ context.Context, unit *rmodels.RewardUnit) error {
	for _, r := range s.t.w.rewards {
		if r.TokenID == unit.TokenID {
			return fmt.Errorf("reward unit: %w", sentinel.ErrConflict)
		}
	}
	cp := *unit
	s.t.w.rewards[unit.ID] = &cp
	return nil
}

func (s *rewardStore) CountByPromotion(_ context.Context, p id.PromotionID) (int, error) {
	n := 0
	for _, r := range s.t.w.rewards {
		if r.PromotionID == p {
			n++
		}
	}
	return n, nil
}

func (s *rewardStore) FindByTokenID(_ context.Context, tokenID id.TokenID) (*rmodels.RewardUnit, error) {
	for _, r := range s.t.w.rewards {
		if r.TokenID == tokenID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("reward unit: %w", sentinel.ErrNotFound)
}

func (s *rewardStore) MarkConsumed(_ context.Context, unitID id.RewardUnitID, now time.Time) error {
	r, ok := s.t.w.rewards[unitID]
	if !ok {
		return fmt.Errorf("reward unit: %w", sentinel.ErrNotFound)
	}
	if r.Status != rmodels.RewardAvailable {
		return fmt.Errorf("reward unit: %w", sentinel.ErrInvalidState)
	}
	r.Status = rmodels.RewardConsumed
	r.ConsumedAt = &now
	return nil
}

func (s *rewardStore) ListByUser(_ context.Context, u id.UserID) ([]*rmodels.RewardUnit, error) {
	out := make([]*rmodels.RewardUnit, 0)
	for _, r := range s.t.w.rewards {
		if r.UserID == u {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssignedAt.After(out[j].AssignedAt) })
	return out, nil
}

// outbox

type outboxStore struct{ t *txn }

func (s *outboxStore) Append(_ context.Context, n *notify.Notification) error {
	cp := *n
	s.t.w.outbox = append(s.t.w.outbox, &cp)
	return nil
}

func (s *outboxStore) ListUnpublished(_ context.Context, limit int) ([]*notify.Notification, error) {
	out := make([]*notify.Notification, 0)
	for _, n := range s.t.w.outbox {
		if n.PublishedAt != nil {
			continue
		}
		cp := *n
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *outboxStore) MarkPublished(_ context.Context, ids []uuid.UUID, now time.Time) error {
	want := make(map[uuid.UUID]struct{}, len(ids))
	for _, i := range ids {
		want[i] = struct{}{}
	}
	for _, n := range s.t.w.outbox {
		if _, ok := want[n.ID]; ok && n.PublishedAt == nil {
			n.PublishedAt = &now
		}
	}
	return nil
}
