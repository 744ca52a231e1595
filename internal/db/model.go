package db

import (
	"time"

	"github.com/google/uuid"
)

// NotificationEntity is one row of the transactional email outbox.
// ScheduledAt set means the row is due for (re)publishing.
type NotificationEntity struct {
	ID               uuid.UUID
	Kind             string
	AggregateID      string
	Recipients       string
	Subject          string
	Body             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ScheduledAt      *time.Time
	PublishedAt      *time.Time
	DeliveredAt      *time.Time
	PublishAttempts  int
	DeliveryAttempts int
	Error            *string
}
