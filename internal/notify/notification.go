// Package notify defines the notification requests written to the outbox.
// Delivery is handled out of band by the relay.
package notify

import (
	"maps"
	"time"

	"github.com/google/uuid"

	id "venuepass/pkg/domain"
)

// Kind classifies a notification.
type Kind string

const (
	KindLevelUp            Kind = "level_up"
	KindChallengeCompleted Kind = "challenge_completed"
	KindCheckinConfirmed   Kind = "checkin_confirmed"
	KindRewardGranted      Kind = "reward_granted"
)

// Notification is a request to tell a user something.
type Notification struct {
	ID          uuid.UUID         `json:"id"`
	RecipientID id.UserID         `json:"recipient_id"`
	Kind        Kind              `json:"kind"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
}

// New builds an unpublished notification.
func New(recipient id.UserID, kind Kind, title, body string, data map[string]string, now time.Time) *Notification {
	return &Notification{
		ID:          uuid.New(),
		RecipientID: recipient,
		Kind:        kind,
		Title:       title,
		Body:        body,
		Data:        maps.Clone(data),
		CreatedAt:   now,
	}
}
