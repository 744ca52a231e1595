package notify

import (
	"context"
	"strings"
	"time"

	"fulfillment-service/internal/db"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var ErrNoRecipients = errors.New("notification has no recipients")

type Email struct {
	Kind        string
	AggregateID string
	Recipients  []string
	Subject     string
	Body        string
}

// Enqueuer stores an email for later delivery. q may be a transaction so the
// email commits or rolls back with the state change that caused it.
type Enqueuer interface {
	Enqueue(ctx context.Context, q db.DBTX, email Email) (uuid.UUID, error)
}

type Outbox struct {
	repo *db.NotificationRepository
	now  func() time.Time
}

func NewOutbox(repo *db.NotificationRepository) *Outbox {
	return &Outbox{repo: repo, now: time.Now}
}

func (o *Outbox) Enqueue(ctx context.Context, q db.DBTX, email Email) (uuid.UUID, error) {
	recipients := cleanRecipients(email.Recipients)
	if len(recipients) == 0 {
		return uuid.Nil, ErrNoRecipients
	}

	now := o.now()
	entity := &db.NotificationEntity{
		ID:          uuid.New(),
		Kind:        email.Kind,
		AggregateID: email.AggregateID,
		Recipients:  strings.Join(recipients, ","),
		Subject:     email.Subject,
		Body:        email.Body,
		CreatedAt:   now,
		ScheduledAt: &now,
	}
	if _, err := o.repo.Create(ctx, q, entity); err != nil {
		return uuid.Nil, errors.Wrap(err, "enqueueing notification")
	}
	return entity.ID, nil
}

func cleanRecipients(in []string) []string {
	var out []string
	for _, r := range in {
		for _, part := range strings.Split(r, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func splitRecipients(s string) []string {
	return cleanRecipients([]string{s})
}
