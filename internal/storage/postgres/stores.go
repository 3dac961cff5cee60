package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	gmodels "venuepass/internal/gamification/models"
	"venuepass/internal/notify"
	pmodels "venuepass/internal/proximity/models"
	rmodels "venuepass/internal/rewards/models"
	"venuepass/internal/storage"
	vmodels "venuepass/internal/visit/models"
	id "venuepass/pkg/domain"
	"venuepass/pkg/geo"
	"venuepass/pkg/platform/sentinel"
)

var (
	_ storage.TokenStore    = (*TokenStore)(nil)
	_ storage.VisitStore    = (*VisitStore)(nil)
	_ storage.LedgerStore   = (*LedgerStore)(nil)
	_ storage.BalanceStore  = (*BalanceStore)(nil)
	_ storage.ProgressStore = (*ProgressStore)(nil)
	_ storage.BadgeStore    = (*BadgeStore)(nil)
	_ storage.RewardStore   = (*RewardStore)(nil)
	_ storage.OutboxStore   = (*OutboxStore)(nil)
)

// Constraint names the stores translate into sentinel errors.
const (
	constraintVisitDay   = "ux_visits_visitor_venue_day"
	constraintVisitToken = "ux_visits_token"
)

// =============================================================================
// Tokens
// =============================================================================

// TokenStore persists proximity tokens.
type TokenStore struct {
	q queryer
}

const tokenColumns = `id, kind, scope, venue_id, promotion_id, campaign_key, valid_from, valid_until,
	max_uses, used_count, is_revoked, revoked_at, revoked_by, revoked_reason,
	created_at, created_by, last_used_at, last_used_by, metadata`

func (s *TokenStore) Create(ctx context.Context, t *pmodels.ProximityToken) error {
	metadata, err := encodeMap(t.Metadata)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO proximity_tokens (`+tokenColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`,
		uuid.UUID(t.ID), string(t.Kind), t.Scope, uuid.UUID(t.VenueID), nullID(t.PromotionID), t.CampaignKey,
		t.ValidFrom, t.ValidUntil, t.MaxUses, t.UsedCount, t.IsRevoked, nullTime(t.RevokedAt),
		nullID(t.RevokedBy), t.RevokedReason, t.CreatedAt, nullID(t.CreatedBy), nullTime(t.LastUsedAt),
		nullID(t.LastUsedBy), metadata,
	)
	if err != nil {
		if _, ok := constraintViolation(err, pqForeignKeyViolation); ok {
			return fmt.Errorf("token venue %s: %w", t.VenueID, sentinel.ErrNotFound)
		}
		if _, ok := constraintViolation(err, pqUniqueViolation); ok {
			return fmt.Errorf("token %s: %w", t.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *TokenStore) FindByID(ctx context.Context, tokenID id.TokenID) (*pmodels.ProximityToken, error) {
	t, err := scanToken(s.q.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM proximity_tokens WHERE id = $1`, uuid.UUID(tokenID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("token %s: %w", tokenID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find token: %w", err)
	}
	return t, nil
}

// ConsumeIfUsable increments used_count in one guarded UPDATE, so of N
// concurrent consumers of a token with one use left exactly one gets a row.
func (s *TokenStore) ConsumeIfUsable(ctx context.Context, tokenID id.TokenID, consumer id.UserID, now time.Time) (*pmodels.ProximityToken, error) {
	t, err := scanToken(s.q.QueryRowContext(ctx, `
		UPDATE proximity_tokens
		SET used_count = used_count + 1,
			last_used_at = $3,
			last_used_by = $2
		WHERE id = $1
		  AND NOT is_revoked
		  AND used_count < max_uses
		  AND valid_from <= $3
		  AND valid_until > $3
		RETURNING `+tokenColumns,
		uuid.UUID(tokenID), uuid.UUID(consumer), now,
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("consume token: %w", err)
	}
	current, err := s.FindByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	refusal := current.Refusal(now)
	if refusal == nil {
		refusal = sentinel.ErrAlreadyUsed
	}
	return nil, fmt.Errorf("consume token %s: %w", tokenID, refusal)
}

func (s *TokenStore) Revoke(ctx context.Context, tokenID id.TokenID, actor id.UserID, reason string, now time.Time) (*pmodels.ProximityToken, error) {
	t, err := scanToken(s.q.QueryRowContext(ctx, `
		UPDATE proximity_tokens
		SET is_revoked = TRUE,
			revoked_at = $3,
			revoked_by = $2,
			revoked_reason = $4
		WHERE id = $1 AND NOT is_revoked
		RETURNING `+tokenColumns,
		uuid.UUID(tokenID), uuid.UUID(actor), now, reason,
	))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("revoke token: %w", err)
	}
	// Already revoked, or missing.
	return s.FindByID(ctx, tokenID)
}

func scanToken(r rowScanner) (*pmodels.ProximityToken, error) {
	var (
		t                               pmodels.ProximityToken
		tokenID, venueID                uuid.UUID
		kind                            string
		promotion, revokedBy, createdBy uuid.NullUUID
		lastUsedBy                      uuid.NullUUID
		revokedAt, lastUsedAt           sql.NullTime
		metadata                        []byte
	)
	err := r.Scan(&tokenID, &kind, &t.Scope, &venueID, &promotion, &t.CampaignKey, &t.ValidFrom, &t.ValidUntil,
		&t.MaxUses, &t.UsedCount, &t.IsRevoked, &revokedAt, &revokedBy, &t.RevokedReason,
		&t.CreatedAt, &createdBy, &lastUsedAt, &lastUsedBy, &metadata)
	if err != nil {
		return nil, err
	}
	t.ID = id.TokenID(tokenID)
	t.Kind = pmodels.Kind(kind)
	t.VenueID = id.VenueID(venueID)
	t.PromotionID = idPtr[id.PromotionID](promotion)
	t.RevokedAt = timePtr(revokedAt)
	t.RevokedBy = idPtr[id.UserID](revokedBy)
	t.CreatedBy = idPtr[id.UserID](createdBy)
	t.LastUsedAt = timePtr(lastUsedAt)
	t.LastUsedBy = idPtr[id.UserID](lastUsedBy)
	if t.Metadata, err = decodeMap(metadata); err != nil {
		return nil, err
	}
	return &t, nil
}

// =============================================================================
// Visits
// =============================================================================

// VisitStore persists visits. Per-day and per-token uniqueness are table
// constraints.
type VisitStore struct {
	q queryer
}

const visitColumns = `id, visitor_id, venue_id, token_id, latitude, longitude, accuracy_meters,
	geofence_passed, status, points_awarded, awarded_at, created_at, visit_day`

func (s *VisitStore) Insert(ctx context.Context, v *vmodels.Visit) error {
	var lat, lng sql.NullFloat64
	if v.Location != nil {
		lat = sql.NullFloat64{Float64: v.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: v.Location.Lng, Valid: true}
	}
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO visits (visitor_id, venue_id, token_id, latitude, longitude, accuracy_meters,
			geofence_passed, status, points_awarded, awarded_at, created_at, visit_day)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`,
		uuid.UUID(v.VisitorID), uuid.UUID(v.VenueID), uuid.UUID(v.TokenID), lat, lng, nullFloat(v.AccuracyMeters),
		v.GeofencePassed, string(v.Status), v.PointsAwarded, nullTime(v.AwardedAt), v.CreatedAt, v.VisitDay.Format(time.DateOnly),
	).Scan(&v.ID)
	if err != nil {
		if constraint, ok := constraintViolation(err, pqUniqueViolation); ok {
			switch constraint {
			case constraintVisitDay:
				return fmt.Errorf("insert visit: %w", sentinel.ErrConflict)
			case constraintVisitToken:
				return fmt.Errorf("insert visit: %w", sentinel.ErrAlreadyUsed)
			}
		}
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (s *VisitStore) FindForUpdate(ctx context.Context, venueID id.VenueID, visitID int64) (*vmodels.Visit, error) {
	v, err := scanVisit(s.q.QueryRowContext(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE id = $1 AND venue_id = $2 FOR UPDATE`,
		visitID, uuid.UUID(venueID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("visit %d: %w", visitID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find visit: %w", err)
	}
	return v, nil
}

func (s *VisitStore) UpdateStatus(ctx context.Context, visitID int64, status vmodels.Status) error {
	res, err := s.q.ExecContext(ctx, `UPDATE visits SET status = $2 WHERE id = $1`, visitID, string(status))
	if err != nil {
		return fmt.Errorf("update visit status: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("visit %d: %w", visitID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *VisitStore) MarkAwarded(ctx context.Context, visitID int64, points int64, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE visits SET points_awarded = $2, awarded_at = $3 WHERE id = $1 AND awarded_at IS NULL`,
		visitID, points, at)
	if err != nil {
		return false, fmt.Errorf("mark visit awarded: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *VisitStore) ListByVisitor(ctx context.Context, visitor id.UserID, limit int) ([]*vmodels.Visit, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+visitColumns+` FROM visits WHERE visitor_id = $1 ORDER BY id DESC LIMIT $2`,
		uuid.UUID(visitor), limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	out := make([]*vmodels.Visit, 0)
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	return out, nil
}

func scanVisit(r rowScanner) (*vmodels.Visit, error) {
	var (
		v                           vmodels.Visit
		visitorID, venueID, tokenID uuid.UUID
		lat, lng, accuracy          sql.NullFloat64
		status                      string
		awardedAt                   sql.NullTime
		day                         time.Time
	)
	err := r.Scan(&v.ID, &visitorID, &venueID, &tokenID, &lat, &lng, &accuracy,
		&v.GeofencePassed, &status, &v.PointsAwarded, &awardedAt, &v.CreatedAt, &day)
	if err != nil {
		return nil, err
	}
	v.VisitorID = id.UserID(visitorID)
	v.VenueID = id.VenueID(venueID)
	v.TokenID = id.TokenID(tokenID)
	if lat.Valid && lng.Valid {
		v.Location = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	v.AccuracyMeters = floatPtr(accuracy)
	v.AwardedAt = timePtr(awardedAt)
	v.Status = vmodels.Status(status)
	y, m, d := day.Date()
	v.VisitDay = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &v, nil
}

// limitArg maps a non-positive limit to LIMIT NULL, which Postgres reads as
// no limit.
func limitArg(limit int) sql.NullInt64 {
	if limit <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(limit), Valid: true}
}

// =============================================================================
// Ledger
// =============================================================================

// LedgerStore is the append-only points_ledger table.
type LedgerStore struct {
	q queryer
}

func (s *LedgerStore) Append(ctx context.Context, e *gmodels.LedgerEntry) error {
	details, err := encodeMap(e.Details)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO points_ledger (id, event_code, subject_kind, subject_id, delta, origin_type, origin_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.EventCode, string(e.Subject.Kind), e.Subject.ID, e.Delta, e.OriginType, e.OriginID, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (s *LedgerStore) ListBySubject(ctx context.Context, subject gmodels.Subject, limit int) ([]*gmodels.LedgerEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, event_code, subject_kind, subject_id, delta, origin_type, origin_id, details, created_at
		FROM points_ledger
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY created_at DESC, id
		LIMIT $3
	`, string(subject.Kind), subject.ID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	out := make([]*gmodels.LedgerEntry, 0)
	for rows.Next() {
		var (
			e       gmodels.LedgerEntry
			kind    string
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.EventCode, &kind, &e.Subject.ID, &e.Delta, &e.OriginType, &e.OriginID, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Subject.Kind = gmodels.SubjectKind(kind)
		if e.Details, err = decodeMap(details); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return out, nil
}

func (s *LedgerStore) SumBySubject(ctx context.Context, subject gmodels.Subject) (int64, error) {
	var sum int64
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(delta), 0)::BIGINT FROM points_ledger WHERE subject_kind = $1 AND subject_id = $2`,
		string(subject.Kind), subject.ID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return sum, nil
}

// =============================================================================
// Balances
// =============================================================================

// BalanceStore keeps the running balances on user_profiles and venues. Every
// write is a relative update.
type BalanceStore struct {
	q queryer
}

const userBalanceColumns = `user_id, points_current, points_lifetime, reputation, level_id`

func (s *BalanceStore) ApplyUserDelta(ctx context.Context, user id.UserID, delta gmodels.BalanceDelta) (*gmodels.UserBalance, error) {
	b, err := scanUserBalance(s.q.QueryRowContext(ctx, `
		INSERT INTO user_profiles (user_id, points_current, points_lifetime, reputation, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			points_current = user_profiles.points_current + EXCLUDED.points_current,
			points_lifetime = user_profiles.points_lifetime + EXCLUDED.points_lifetime,
			reputation = user_profiles.reputation + EXCLUDED.reputation,
			updated_at = NOW()
		RETURNING `+userBalanceColumns,
		uuid.UUID(user), delta.Current, delta.Lifetime, delta.Reputation,
	))
	if err != nil {
		return nil, fmt.Errorf("apply user delta: %w", err)
	}
	return b, nil
}

func (s *BalanceStore) SpendUserPoints(ctx context.Context, user id.UserID, amount int64) (*gmodels.UserBalance, error) {
	b, err := scanUserBalance(s.q.QueryRowContext(ctx, `
		UPDATE user_profiles
		SET points_current = points_current - $2, updated_at = NOW()
		WHERE user_id = $1 AND points_current >= $2
		RETURNING `+userBalanceColumns,
		uuid.UUID(user), amount,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("spend points: %w", sentinel.ErrInvalidState)
		}
		return nil, fmt.Errorf("spend points: %w", err)
	}
	return b, nil
}

func (s *BalanceStore) FindUser(ctx context.Context, user id.UserID) (*gmodels.UserBalance, error) {
	b, err := scanUserBalance(s.q.QueryRowContext(ctx,
		`SELECT `+userBalanceColumns+` FROM user_profiles WHERE user_id = $1`, uuid.UUID(user)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &gmodels.UserBalance{UserID: user}, nil
		}
		return nil, fmt.Errorf("find user balance: %w", err)
	}
	return b, nil
}

func (s *BalanceStore) SetUserLevel(ctx context.Context, user id.UserID, level id.LevelID) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, level_id, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET level_id = EXCLUDED.level_id, updated_at = NOW()
	`, uuid.UUID(user), uuid.UUID(level))
	if err != nil {
		return fmt.Errorf("set user level: %w", err)
	}
	return nil
}

func (s *BalanceStore) ApplyVenueDelta(ctx context.Context, venue id.VenueID, delta int64) (*gmodels.VenueBalance, error) {
	b, err := scanVenueBalance(s.q.QueryRowContext(ctx, `
		UPDATE venues
		SET points_balance = points_balance + $2,
			points_lifetime = points_lifetime + GREATEST($2, 0)
		WHERE id = $1
		RETURNING id, points_balance, points_lifetime
	`, uuid.UUID(venue), delta))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("venue %s: %w", venue, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("apply venue delta: %w", err)
	}
	return b, nil
}

func (s *BalanceStore) FindVenue(ctx context.Context, venue id.VenueID) (*gmodels.VenueBalance, error) {
	b, err := scanVenueBalance(s.q.QueryRowContext(ctx,
		`SELECT id, points_balance, points_lifetime FROM venues WHERE id = $1`, uuid.UUID(venue)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("venue %s: %w", venue, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find venue balance: %w", err)
	}
	return b, nil
}

func scanUserBalance(r rowScanner) (*gmodels.UserBalance, error) {
	var (
		b      gmodels.UserBalance
		userID uuid.UUID
		level  uuid.NullUUID
	)
	if err := r.Scan(&userID, &b.PointsCurrent, &b.PointsLifetime, &b.Reputation, &level); err != nil {
		return nil, err
	}
	b.UserID = id.UserID(userID)
	b.LevelID = idPtr[id.LevelID](level)
	return &b, nil
}

func scanVenueBalance(r rowScanner) (*gmodels.VenueBalance, error) {
	var (
		b       gmodels.VenueBalance
		venueID uuid.UUID
	)
	if err := r.Scan(&venueID, &b.PointsBalance, &b.PointsLifetime); err != nil {
		return nil, err
	}
	b.VenueID = id.VenueID(venueID)
	return &b, nil
}

// =============================================================================
// Challenge progress
// =============================================================================

// ProgressStore persists challenge_progress rows.
type ProgressStore struct {
	q queryer
}

const progressColumns = `user_id, challenge_id, current_value, is_completed, completed_at, last_updated_at`

// GetOrCreate upserts the zero row; the no-op DO UPDATE takes the row lock
// so concurrent events for one user advance the challenge one at a time.
func (s *ProgressStore) GetOrCreate(ctx context.Context, user id.UserID, challenge id.ChallengeID, now time.Time) (*gmodels.ChallengeProgress, error) {
	p, err := scanProgress(s.q.QueryRowContext(ctx, `
		INSERT INTO challenge_progress (user_id, challenge_id, current_value, is_completed, last_updated_at)
		VALUES ($1, $2, 0, FALSE, $3)
		ON CONFLICT (user_id, challenge_id) DO UPDATE SET
			user_id = EXCLUDED.user_id
		RETURNING `+progressColumns,
		uuid.UUID(user), uuid.UUID(challenge), now,
	))
	if err != nil {
		return nil, fmt.Errorf("get or create challenge progress: %w", err)
	}
	return p, nil
}

func (s *ProgressStore) Update(ctx context.Context, p *gmodels.ChallengeProgress) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE challenge_progress
		SET current_value = $3,
			is_completed = $4,
			completed_at = $5,
			last_updated_at = $6
		WHERE user_id = $1 AND challenge_id = $2
	`, uuid.UUID(p.UserID), uuid.UUID(p.ChallengeID), p.CurrentValue, p.IsCompleted, nullTime(p.CompletedAt), p.LastUpdatedAt)
	if err != nil {
		return fmt.Errorf("update challenge progress: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("challenge progress: %w", sentinel.ErrNotFound)
	}
	return nil
}

func (s *ProgressStore) ListByUser(ctx context.Context, user id.UserID) ([]*gmodels.ChallengeProgress, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+progressColumns+` FROM challenge_progress WHERE user_id = $1 ORDER BY last_updated_at DESC`,
		uuid.UUID(user))
	if err != nil {
		return nil, fmt.Errorf("list challenge progress: %w", err)
	}
	defer rows.Close()

	out := make([]*gmodels.ChallengeProgress, 0)
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan challenge progress: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list challenge progress: %w", err)
	}
	return out, nil
}

func scanProgress(r rowScanner) (*gmodels.ChallengeProgress, error) {
	var (
		p                   gmodels.ChallengeProgress
		userID, challengeID uuid.UUID
		completedAt         sql.NullTime
	)
	if err := r.Scan(&userID, &challengeID, &p.CurrentValue, &p.IsCompleted, &completedAt, &p.LastUpdatedAt); err != nil {
		return nil, err
	}
	p.UserID = id.UserID(userID)
	p.ChallengeID = id.ChallengeID(challengeID)
	p.CompletedAt = timePtr(completedAt)
	return &p, nil
}

// =============================================================================
// Badges
// =============================================================================

// BadgeStore persists user_badges.
type BadgeStore struct {
	q queryer
}

func (s *BadgeStore) AwardIfAbsent(ctx context.Context, user id.UserID, badge id.BadgeID, now time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO user_badges (user_id, badge_id, awarded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, badge_id) DO NOTHING
	`, uuid.UUID(user), uuid.UUID(badge), now)
	if err != nil {
		if _, ok := constraintViolation(err, pqForeignKeyViolation); ok {
			return false, fmt.Errorf("badge %s: %w", badge, sentinel.ErrNotFound)
		}
		return false, fmt.Errorf("award badge: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *BadgeStore) ListByUser(ctx context.Context, user id.UserID) ([]*gmodels.UserBadge, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT user_id, badge_id, awarded_at FROM user_badges WHERE user_id = $1 ORDER BY awarded_at`,
		uuid.UUID(user))
	if err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	defer rows.Close()

	out := make([]*gmodels.UserBadge, 0)
	for rows.Next() {
		var (
			b               gmodels.UserBadge
			userID, badgeID uuid.UUID
		)
		if err := rows.Scan(&userID, &badgeID, &b.AwardedAt); err != nil {
			return nil, fmt.Errorf("scan user badge: %w", err)
		}
		b.UserID = id.UserID(userID)
		b.BadgeID = id.BadgeID(badgeID)
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list user badges: %w", err)
	}
	return out, nil
}

// =============================================================================
// Reward units
// =============================================================================

// RewardStore persists reward_units.
type RewardStore struct {
	q queryer
}

const rewardColumns = `id, promotion_id, venue_id, user_id, token_id, status, source, source_challenge_id, assigned_at, consumed_at`

func (s *RewardStore) Create(ctx context.Context, u *rmodels.RewardUnit) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO reward_units (`+rewardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		uuid.UUID(u.ID), uuid.UUID(u.PromotionID), uuid.UUID(u.VenueID), uuid.UUID(u.UserID), uuid.UUID(u.TokenID),
		string(u.Status), u.Source, nullID(u.SourceChallengeID), u.AssignedAt, nullTime(u.ConsumedAt),
	)
	if err != nil {
		if _, ok := constraintViolation(err, pqUniqueViolation); ok {
			return fmt.Errorf("reward unit: %w", sentinel.ErrConflict)
		}
		if _, ok := constraintViolation(err, pqForeignKeyViolation); ok {
			return fmt.Errorf("reward unit promotion: %w", sentinel.ErrNotFound)
		}
		return fmt.Errorf("insert reward unit: %w", err)
	}
	return nil
}

// CountByPromotion locks the promotion row before counting so two
// transactions minting the last unit serialize on it.
func (s *RewardStore) CountByPromotion(ctx context.Context, promotion id.PromotionID) (int, error) {
	var locked uuid.UUID
	err := s.q.QueryRowContext(ctx,
		`SELECT id FROM promotions WHERE id = $1 FOR UPDATE`, uuid.UUID(promotion)).Scan(&locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lock promotion: %w", err)
	}
	var n int
	if err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reward_units WHERE promotion_id = $1`, uuid.UUID(promotion)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reward units: %w", err)
	}
	return n, nil
}

func (s *RewardStore) FindByTokenID(ctx context.Context, tokenID id.TokenID) (*rmodels.RewardUnit, error) {
	u, err := scanReward(s.q.QueryRowContext(ctx,
		`SELECT `+rewardColumns+` FROM reward_units WHERE token_id = $1 FOR UPDATE`, uuid.UUID(tokenID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reward unit: %w", sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find reward unit: %w", err)
	}
	return u, nil
}

func (s *RewardStore) MarkConsumed(ctx context.Context, unitID id.RewardUnitID, now time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE reward_units SET status = $2, consumed_at = $3
		WHERE id = $1 AND status = $4
	`, uuid.UUID(unitID), string(rmodels.RewardConsumed), now, string(rmodels.RewardAvailable))
	if err != nil {
		return fmt.Errorf("mark reward consumed: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reward_units WHERE id = $1)`, uuid.UUID(unitID)).Scan(&exists); err != nil {
		return fmt.Errorf("mark reward consumed: %w", err)
	}
	if !exists {
		return fmt.Errorf("reward unit: %w", sentinel.ErrNotFound)
	}
	return fmt.Errorf("reward unit: %w", sentinel.ErrInvalidState)
}

func (s *RewardStore) ListByUser(ctx context.Context, user id.UserID) ([]*rmodels.RewardUnit, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+rewardColumns+` FROM reward_units WHERE user_id = $1 ORDER BY assigned_at DESC`,
		uuid.UUID(user))
	if err != nil {
		return nil, fmt.Errorf("list reward units: %w", err)
	}
	defer rows.Close()

	out := make([]*rmodels.RewardUnit, 0)
	for rows.Next() {
		u, err := scanReward(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reward unit: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reward units: %w", err)
	}
	return out, nil
}

func scanReward(r rowScanner) (*rmodels.RewardUnit, error) {
	var (
		u                                rmodels.RewardUnit
		unitID, promoID, venueID, userID uuid.UUID
		tokenID                          uuid.UUID
		status                           string
		challenge                        uuid.NullUUID
		consumedAt                       sql.NullTime
	)
	err := r.Scan(&unitID, &promoID, &venueID, &userID, &tokenID, &status, &u.Source, &challenge, &u.AssignedAt, &consumedAt)
	if err != nil {
		return nil, err
	}
	u.ID = id.RewardUnitID(unitID)
	u.PromotionID = id.PromotionID(promoID)
	u.VenueID = id.VenueID(venueID)
	u.UserID = id.UserID(userID)
	u.TokenID = id.TokenID(tokenID)
	u.Status = rmodels.RewardStatus(status)
	u.SourceChallengeID = idPtr[id.ChallengeID](challenge)
	u.ConsumedAt = timePtr(consumedAt)
	return &u, nil
}

// =============================================================================
// Notification outbox
// =============================================================================

// OutboxStore persists notification_outbox rows.
type OutboxStore struct {
	q queryer
}

func (s *OutboxStore) Append(ctx context.Context, n *notify.Notification) error {
	data, err := encodeMap(n.Data)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO notification_outbox (id, recipient_id, kind, title, body, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, uuid.UUID(n.RecipientID), string(n.Kind), n.Title, n.Body, data, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	return nil
}

// ListUnpublished locks the returned rows with SKIP LOCKED so concurrent
// relays split the backlog instead of publishing it twice.
func (s *OutboxStore) ListUnpublished(ctx context.Context, limit int) ([]*notify.Notification, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, recipient_id, kind, title, body, data, created_at
		FROM notification_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list unpublished notifications: %w", err)
	}
	defer rows.Close()

	out := make([]*notify.Notification, 0)
	for rows.Next() {
		var (
			n         notify.Notification
			recipient uuid.UUID
			kind      string
			data      []byte
		)
		if err := rows.Scan(&n.ID, &recipient, &kind, &n.Title, &n.Body, &data, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.RecipientID = id.UserID(recipient)
		n.Kind = notify.Kind(kind)
		if n.Data, err = decodeMap(data); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unpublished notifications: %w", err)
	}
	return out, nil
}

func (s *OutboxStore) MarkPublished(ctx context.Context, ids []uuid.UUID, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, v := range ids {
		keys[i] = v.String()
	}
	_, err := s.q.ExecContext(ctx, `
		UPDATE notification_outbox SET published_at = $2
		WHERE id = ANY($1::uuid[]) AND published_at IS NULL
	`, pq.StringArray(keys), now)
	if err != nil {
		return fmt.Errorf("mark notifications published: %w", err)
	}
	return nil
}
