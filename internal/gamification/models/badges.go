package models

import (
	"time"

	id "venuepass/pkg/domain"
)

// Badge is a catalog entry awarded by challenges.
type Badge struct {
	ID          id.BadgeID `json:"id" msgpack:"id"`
	Name        string     `json:"name" msgpack:"name"`
	Description string     `json:"description,omitempty" msgpack:"description"`
	Category    string     `json:"category,omitempty" msgpack:"category"`
}

// UserBadge records one award; (UserID, BadgeID) is unique.
type UserBadge struct {
	UserID    id.UserID  `json:"user_id"`
	BadgeID   id.BadgeID `json:"badge_id"`
	AwardedAt time.Time  `json:"awarded_at"`
}
