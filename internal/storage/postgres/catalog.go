package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"

	"github.com/google/uuid"

	gmodels "venuepass/internal/gamification/models"
	rmodels "venuepass/internal/rewards/models"
	"venuepass/internal/storage"
	id "venuepass/pkg/domain"
	"venuepass/pkg/platform/sentinel"
)

var _ storage.Catalog = (*Catalog)(nil)

// Catalog reads event definitions, levels, challenges, badges and
// promotions outside any transaction. Wrap it in the catalog cache for
// production reads.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

func (c *Catalog) EventDefinition(ctx context.Context, code string) (*gmodels.EventDefinition, error) {
	var (
		def    gmodels.EventDefinition
		kind   string
		config []byte
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT code, target_kind, points, is_active, description, config
		FROM event_definitions WHERE code = $1
	`, code).Scan(&def.Code, &kind, &def.Points, &def.IsActive, &def.Description, &config)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event definition %s: %w", code, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find event definition: %w", err)
	}
	def.TargetKind = gmodels.SubjectKind(kind)
	if def.Config, err = decodeMap(config); err != nil {
		return nil, err
	}
	return &def, nil
}

func (c *Catalog) Levels(ctx context.Context) ([]gmodels.Level, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, min_reputation FROM levels ORDER BY min_reputation, name`)
	if err != nil {
		return nil, fmt.Errorf("list levels: %w", err)
	}
	defer rows.Close()

	out := make([]gmodels.Level, 0)
	for rows.Next() {
		var (
			l       gmodels.Level
			levelID uuid.UUID
		)
		if err := rows.Scan(&levelID, &l.Name, &l.MinReputation); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		l.ID = id.LevelID(levelID)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list levels: %w", err)
	}
	// Collation can order names differently from Go; keep one ordering.
	gmodels.SortLevels(out)
	return out, nil
}

const challengeColumns = `id, code, title, goal_type, target_value, filters, period_start, period_end,
	is_active, reward_points, reward_badge_id, reward_promotion_id`

func (c *Catalog) ChallengesByGoal(ctx context.Context, goal gmodels.GoalType) ([]gmodels.Challenge, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT `+challengeColumns+` FROM challenges WHERE goal_type = $1 ORDER BY code`, string(goal))
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()

	out := make([]gmodels.Challenge, 0)
	for rows.Next() {
		var (
			ch               gmodels.Challenge
			challengeID      uuid.UUID
			goalType         string
			filters          []byte
			start, end       sql.NullTime
			badge, promotion uuid.NullUUID
		)
		err := rows.Scan(&challengeID, &ch.Code, &ch.Title, &goalType, &ch.TargetValue, &filters, &start, &end,
			&ch.IsActive, &ch.RewardPoints, &badge, &promotion)
		if err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		ch.ID = id.ChallengeID(challengeID)
		ch.GoalType = gmodels.GoalType(goalType)
		ch.PeriodStart = timePtr(start)
		ch.PeriodEnd = timePtr(end)
		ch.RewardBadgeID = idPtr[id.BadgeID](badge)
		ch.RewardPromotionID = idPtr[id.PromotionID](promotion)
		if ch.Filters, err = decodeMap(filters); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	return out, nil
}

func (c *Catalog) Badge(ctx context.Context, badgeID id.BadgeID) (*gmodels.Badge, error) {
	var (
		b   gmodels.Badge
		bid uuid.UUID
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, description, category FROM badges WHERE id = $1`, uuid.UUID(badgeID),
	).Scan(&bid, &b.Name, &b.Description, &b.Category)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("badge %s: %w", badgeID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find badge: %w", err)
	}
	b.ID = id.BadgeID(bid)
	return &b, nil
}

func (c *Catalog) Promotion(ctx context.Context, promotionID id.PromotionID) (*rmodels.Promotion, error) {
	var (
		p            rmodels.Promotion
		pid, venueID uuid.UUID
		validUntil   sql.NullTime
		totalUnits   sql.NullInt32
		pointsCost   sql.NullInt64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT id, venue_id, title, is_active, valid_until, total_units, points_cost
		FROM promotions WHERE id = $1
	`, uuid.UUID(promotionID)).Scan(&pid, &venueID, &p.Title, &p.IsActive, &validUntil, &totalUnits, &pointsCost)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("promotion %s: %w", promotionID, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find promotion: %w", err)
	}
	p.ID = id.PromotionID(pid)
	p.VenueID = id.VenueID(venueID)
	p.ValidUntil = timePtr(validUntil)
	if totalUnits.Valid {
		n := int(totalUnits.Int32)
		p.TotalUnits = &n
	}
	if pointsCost.Valid {
		cost := pointsCost.Int64
		p.PointsCost = &cost
	}
	return &p, nil
}

// Writers used by seeding and operator commands.

func (c *Catalog) PutEventDefinition(ctx context.Context, def gmodels.EventDefinition) error {
	config, err := encodeMap(def.Config)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO event_definitions (code, target_kind, points, is_active, description, config)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			target_kind = EXCLUDED.target_kind,
			points = EXCLUDED.points,
			is_active = EXCLUDED.is_active,
			description = EXCLUDED.description,
			config = EXCLUDED.config
	`, def.Code, string(def.TargetKind), def.Points, def.IsActive, def.Description, config)
	if err != nil {
		return fmt.Errorf("put event definition: %w", err)
	}
	return nil
}

func (c *Catalog) PutLevel(ctx context.Context, level gmodels.Level) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO levels (id, name, min_reputation)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, min_reputation = EXCLUDED.min_reputation
	`, uuid.UUID(level.ID), level.Name, level.MinReputation)
	if err != nil {
		if _, ok := constraintViolation(err, pqUniqueViolation); ok {
			return fmt.Errorf("level %s: %w", level.Name, sentinel.ErrConflict)
		}
		return fmt.Errorf("put level: %w", err)
	}
	return nil
}

func (c *Catalog) PutChallenge(ctx context.Context, ch gmodels.Challenge) error {
	filters, err := encodeMap(maps.Clone(ch.Filters))
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO challenges (`+challengeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			title = EXCLUDED.title,
			goal_type = EXCLUDED.goal_type,
			target_value = EXCLUDED.target_value,
			filters = EXCLUDED.filters,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			is_active = EXCLUDED.is_active,
			reward_points = EXCLUDED.reward_points,
			reward_badge_id = EXCLUDED.reward_badge_id,
			reward_promotion_id = EXCLUDED.reward_promotion_id
	`,
		uuid.UUID(ch.ID), ch.Code, ch.Title, string(ch.GoalType), ch.TargetValue, filters,
		nullTime(ch.PeriodStart), nullTime(ch.PeriodEnd), ch.IsActive, ch.RewardPoints,
		nullID(ch.RewardBadgeID), nullID(ch.RewardPromotionID),
	)
	if err != nil {
		if _, ok := constraintViolation(err, pqUniqueViolation); ok {
			return fmt.Errorf("challenge %s: %w", ch.Code, sentinel.ErrConflict)
		}
		return fmt.Errorf("put challenge: %w", err)
	}
	return nil
}

func (c *Catalog) PutBadge(ctx context.Context, b gmodels.Badge) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO badges (id, name, description, category)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			category = EXCLUDED.category
	`, uuid.UUID(b.ID), b.Name, b.Description, b.Category)
	if err != nil {
		return fmt.Errorf("put badge: %w", err)
	}
	return nil
}

func (c *Catalog) PutPromotion(ctx context.Context, p rmodels.Promotion) error {
	var (
		totalUnits sql.NullInt32
		pointsCost sql.NullInt64
	)
	if p.TotalUnits != nil {
		totalUnits = sql.NullInt32{Int32: int32(*p.TotalUnits), Valid: true}
	}
	if p.PointsCost != nil {
		pointsCost = sql.NullInt64{Int64: *p.PointsCost, Valid: true}
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO promotions (id, venue_id, title, is_active, valid_until, total_units, points_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			venue_id = EXCLUDED.venue_id,
			title = EXCLUDED.title,
			is_active = EXCLUDED.is_active,
			valid_until = EXCLUDED.valid_until,
			total_units = EXCLUDED.total_units,
			points_cost = EXCLUDED.points_cost
	`, uuid.UUID(p.ID), uuid.UUID(p.VenueID), p.Title, p.IsActive, nullTime(p.ValidUntil), totalUnits, pointsCost)
	if err != nil {
		if _, ok := constraintViolation(err, pqForeignKeyViolation); ok {
			return fmt.Errorf("promotion venue %s: %w", p.VenueID, sentinel.ErrNotFound)
		}
		return fmt.Errorf("put promotion: %w", err)
	}
	return nil
}
