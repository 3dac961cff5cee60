package models

import (
	"time"

	id "venuepass/pkg/domain"
)

// GoalType is what a challenge counts.
type GoalType string

const (
	GoalCheckinCount  GoalType = "CHECKIN_COUNT"
	GoalReviewCount   GoalType = "REVIEW_COUNT"
	GoalReferralCount GoalType = "REFERRAL_COUNT"
)

// GoalForEvent maps an event code to the goal type it advances.
func GoalForEvent(eventCode string) (GoalType, bool) {
	switch eventCode {
	case EventCheckin:
		return GoalCheckinCount, true
	case EventReview:
		return GoalReviewCount, true
	case EventReferralUser:
		return GoalReferralCount, true
	}
	return "", false
}

// Challenge is a catalog goal with rewards paid once on completion.
type Challenge struct {
	ID                id.ChallengeID    `json:"id" msgpack:"id"`
	Code              string            `json:"code" msgpack:"code"`
	Title             string            `json:"title" msgpack:"title"`
	GoalType          GoalType          `json:"goal_type" msgpack:"goal_type"`
	TargetValue       int               `json:"target_value" msgpack:"target_value"`
	Filters           map[string]string `json:"filters,omitempty" msgpack:"filters"`
	PeriodStart       *time.Time        `json:"period_start,omitempty" msgpack:"period_start"`
	PeriodEnd         *time.Time        `json:"period_end,omitempty" msgpack:"period_end"`
	IsActive          bool              `json:"is_active" msgpack:"is_active"`
	RewardPoints      int64             `json:"reward_points" msgpack:"reward_points"`
	RewardBadgeID     *id.BadgeID       `json:"reward_badge_id,omitempty" msgpack:"reward_badge_id"`
	RewardPromotionID *id.PromotionID   `json:"reward_promotion_id,omitempty" msgpack:"reward_promotion_id"`
}

// OpenAt reports whether the challenge accepts progress at now. Missing
// window bounds are open.
func (c *Challenge) OpenAt(now time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.PeriodStart != nil && now.Before(*c.PeriodStart) {
		return false
	}
	if c.PeriodEnd != nil && now.After(*c.PeriodEnd) {
		return false
	}
	return true
}

// Matches reports whether every filter key is present in details with an
// equal value.
func (c *Challenge) Matches(details map[string]string) bool {
	for k, want := range c.Filters {
		if got, ok := details[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// ChallengeProgress is a user's count toward one challenge.
//
// Invariants:
//   - unique per (UserID, ChallengeID)
//   - once IsCompleted it never changes again
type ChallengeProgress struct {
	UserID        id.UserID      `json:"user_id"`
	ChallengeID   id.ChallengeID `json:"challenge_id"`
	CurrentValue  int            `json:"current_value"`
	IsCompleted   bool           `json:"is_completed"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	LastUpdatedAt time.Time      `json:"last_updated_at"`
}

// Advance adds one unit of progress and reports whether this call completed
// the challenge. Completed progress is left untouched.
func (p *ChallengeProgress) Advance(target int, now time.Time) bool {
	if p.IsCompleted {
		return false
	}
	p.CurrentValue++
	p.LastUpdatedAt = now
	if p.CurrentValue >= target {
		p.IsCompleted = true
		p.CompletedAt = &now
		return true
	}
	return false
}

// ChallengeCompletion reports what one completion paid out.
type ChallengeCompletion struct {
	ChallengeID  id.ChallengeID   `json:"challenge_id"`
	Code         string           `json:"code"`
	RewardPoints int64            `json:"reward_points"`
	BadgeID      *id.BadgeID      `json:"badge_id,omitempty"`
	RewardUnitID *id.RewardUnitID `json:"reward_unit_id,omitempty"`
}
