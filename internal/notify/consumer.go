package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fulfillment-service/internal/config"
	"fulfillment-service/internal/db"
	"fulfillment-service/internal/logcontext"
	"fulfillment-service/internal/message"
	"github.com/VictoriaMetrics/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const (
	defaultParallelism         = 100
	defaultMaxDeliveryAttempts = 5
	defaultRescheduleDelayMs   = 30_000
)

var (
	consumerDeliveredCounter   = metrics.GetOrCreateCounter(`notify_consumer_total{result="delivered"}`)
	consumerDuplicateCounter   = metrics.GetOrCreateCounter(`notify_consumer_total{result="duplicate"}`)
	consumerRescheduledCounter = metrics.GetOrCreateCounter(`notify_consumer_total{result="rescheduled"}`)
	consumerParkedCounter      = metrics.GetOrCreateCounter(`notify_consumer_total{result="max_attempts_reached"}`)
	consumerErrorCounter       = metrics.GetOrCreateCounter(`notify_consumer_total{result="db_error"}`)
)

type Sender interface {
	Send(ctx context.Context, email Email) error
}

// Consumer delivers notifications read from Kafka. Each delivery holds the
// outbox row lock, so a redelivered message waits and then sees delivered_at.
type Consumer struct {
	repo            *db.NotificationRepository
	sender          Sender
	sem             chan struct{}
	wg              sync.WaitGroup
	maxAttempts     int
	rescheduleDelay time.Duration
	logger          *slog.Logger
}

func NewConsumer(repo *db.NotificationRepository, sender Sender, cfg config.Notify, logger *slog.Logger) *Consumer {
	maxAttempts := cfg.MaxDeliveryAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxDeliveryAttempts
	}
	delay := config.Millis(cfg.RescheduleDelayMs)
	if delay <= 0 {
		delay = config.Millis(defaultRescheduleDelayMs)
	}
	return &Consumer{
		repo:            repo,
		sender:          sender,
		sem:             make(chan struct{}, defaultParallelism),
		maxAttempts:     maxAttempts,
		rescheduleDelay: delay,
		logger:          logger,
	}
}

// Process hands the message to a worker and returns once a slot is free.
func (c *Consumer) Process(ctx context.Context, msg message.Notification) error {
	c.sem <- struct{}{}
	c.wg.Add(1)
	go func() {
		defer func() {
			<-c.sem
			c.wg.Done()
		}()
		if err := c.Deliver(ctx, msg); err != nil {
			c.logger.ErrorContext(ctx, "Error delivering notification", "id", msg.ID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) Deliver(ctx context.Context, msg message.Notification) error {
	ctx = logcontext.AppendCtx(ctx, slog.String("notificationId", msg.ID.String()))

	tx, err := c.repo.BeginTx(ctx)
	if err != nil {
		consumerErrorCounter.Inc()
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback(ctx)

	entity, err := c.repo.SelectForUpdateByID(ctx, tx, msg.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		c.logger.WarnContext(ctx, "Notification not found in outbox")
		consumerErrorCounter.Inc()
		return nil
	}
	if err != nil {
		consumerErrorCounter.Inc()
		return errors.Wrap(err, "selecting notification for update")
	}

	if entity.DeliveredAt != nil {
		c.logger.InfoContext(ctx, "Notification already delivered")
		consumerDuplicateCounter.Inc()
		return nil
	}

	attempts := entity.DeliveryAttempts + 1
	sendErr := c.sender.Send(ctx, Email{
		Kind:        entity.Kind,
		AggregateID: entity.AggregateID,
		Recipients:  splitRecipients(entity.Recipients),
		Subject:     entity.Subject,
		Body:        entity.Body,
	})

	if sendErr != nil {
		var scheduledAt *time.Time
		if attempts < c.maxAttempts {
			next := time.Now().Add(time.Duration(attempts) * c.rescheduleDelay)
			scheduledAt = &next
			consumerRescheduledCounter.Inc()
			c.logger.WarnContext(ctx, "Notification delivery failed, rescheduled", "attempts", attempts, "error", sendErr)
		} else {
			consumerParkedCounter.Inc()
			c.logger.ErrorContext(ctx, "Max delivery attempts reached for notification", "attempts", attempts, "error", sendErr)
		}
		err = c.repo.UpdateScheduledAtAndAttemptsByID(ctx, tx, msg.ID, scheduledAt, attempts, sendErr.Error())
	} else {
		consumerDeliveredCounter.Inc()
		err = c.repo.UpdateAttemptsAndDeliveredAtByID(ctx, tx, msg.ID, attempts, time.Now())
	}
	if err != nil {
		consumerErrorCounter.Inc()
		return errors.Wrap(err, "updating notification")
	}

	if err := tx.Commit(ctx); err != nil {
		consumerErrorCounter.Inc()
		return errors.Wrap(err, "committing notification")
	}
	return nil
}
