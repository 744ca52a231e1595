package message

import (
	"github.com/google/uuid"
)

// Notification is the Kafka envelope for one outbox email.
type Notification struct {
	ID          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"`
	AggregateID string    `json:"aggregateId"`
	Recipients  []string  `json:"recipients"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	Attempts    int       `json:"attempts"`
}
