package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"fulfillment-service/internal/config"
	"fulfillment-service/internal/db"
	"fulfillment-service/internal/logcontext"
	"fulfillment-service/internal/message"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	defaultPollingIntervalMs   = 500
	defaultFetchSize           = 200
	defaultRetryPublishDelayMs = 10_000
	defaultMaxPublishAttempts  = 3
)

var (
	// producer batch metrics
	producerErrorFetchingCounter = metrics.GetOrCreateCounter(`notify_producer_total{result="fetching_failed"}`)
	producerErrorKafkaCounter    = metrics.GetOrCreateCounter(`notify_producer_total{result="publish_failed"}`)
	producerErrorUpdateCounter   = metrics.GetOrCreateCounter(`notify_producer_total{result="db_update_failed"}`)
	producerSuccessCounter       = metrics.GetOrCreateCounter(`notify_producer_total{result="success"}`)

	producerProcessDurationHistogram = metrics.GetOrCreateHistogram(`notify_producer_duration_milliseconds`)

	// producer per message metrics
	producerMessagesPublishedCounter   = metrics.GetOrCreateCounter(`notify_producer_messages_total{result="published"}`)
	producerMessagesMaxAttemptsCounter = metrics.GetOrCreateCounter(`notify_producer_messages_total{result="max_attempts_reached"}`)
	producerMessagesRescheduledCounter = metrics.GetOrCreateCounter(`notify_producer_messages_total{result="rescheduled"}`)
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer relays due outbox rows to Kafka.
type Producer struct {
	repo               *db.NotificationRepository
	writer             MessageWriter
	pollingInterval    time.Duration
	fetchSize          int
	retryDelay         time.Duration
	maxPublishAttempts int
	logger             *slog.Logger
}

func NewProducer(repo *db.NotificationRepository, writer MessageWriter, cfg config.NotifyProducer, logger *slog.Logger) *Producer {
	p := &Producer{
		repo:               repo,
		writer:             writer,
		pollingInterval:    config.Millis(cfg.PollingIntervalMs),
		fetchSize:          cfg.FetchSize,
		retryDelay:         config.Millis(cfg.RescheduleDelayMs),
		maxPublishAttempts: cfg.MaxPublishAttempts,
		logger:             logger,
	}
	if p.pollingInterval <= 0 {
		p.pollingInterval = config.Millis(defaultPollingIntervalMs)
	}
	if p.fetchSize <= 0 {
		p.fetchSize = defaultFetchSize
	}
	if p.retryDelay <= 0 {
		p.retryDelay = config.Millis(defaultRetryPublishDelayMs)
	}
	if p.maxPublishAttempts <= 0 {
		p.maxPublishAttempts = defaultMaxPublishAttempts
	}
	return p
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.pollingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.Process(ctx)
			case <-ctx.Done():
				p.logger.InfoContext(ctx, "Context done, stopping notification producer")
				return
			}
		}
	}()
}

// Process publishes one batch of due notifications. Rows that fail to publish
// are rescheduled with a linear delay until they reach the attempt limit.
func (p *Producer) Process(ctx context.Context) {
	startTime := time.Now()
	defer func() {
		producerProcessDurationHistogram.Update(float64(time.Since(startTime).Milliseconds()))
	}()

	ctx = logcontext.AppendCtx(ctx, slog.String("runId", uuid.New().String()))

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error starting transaction", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}
	defer tx.Rollback(ctx)

	entities, err := p.repo.GetScheduledNotifications(ctx, tx, p.fetchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error fetching scheduled notifications", "error", err)
		producerErrorFetchingCounter.Inc()
		return
	}

	if len(entities) == 0 {
		p.logger.DebugContext(ctx, "No scheduled notifications found")
		producerSuccessCounter.Inc()
		return
	}

	p.logger.InfoContext(ctx, "Writing notifications to Kafka", "count", len(entities))
	publishErr := p.writer.WriteMessages(ctx, p.toKafkaMessages(ctx, entities)...)
	if publishErr != nil {
		p.logger.ErrorContext(ctx, "Error writing messages to Kafka", "error", publishErr)
		producerErrorKafkaCounter.Inc()
	}

	now := time.Now()
	for _, entity := range entities {
		messageCtx := logcontext.AppendCtx(ctx, slog.String("id", entity.ID.String()))

		entity.PublishAttempts++

		if publishErr != nil {
			errMsg := publishErr.Error()
			entity.Error = &errMsg

			if entity.PublishAttempts >= p.maxPublishAttempts {
				p.logger.WarnContext(messageCtx, "Max publish attempts reached for notification")
				entity.ScheduledAt = nil

				producerMessagesMaxAttemptsCounter.Inc()
			} else {
				scheduledAt := now.Add(time.Duration(entity.PublishAttempts) * p.retryDelay)
				entity.ScheduledAt = &scheduledAt

				producerMessagesRescheduledCounter.Inc()
			}
		} else {
			entity.ScheduledAt = nil
			entity.PublishedAt = &now
			entity.Error = nil

			producerMessagesPublishedCounter.Inc()
		}

		if err := p.repo.Update(messageCtx, tx, entity); err != nil {
			p.logger.ErrorContext(messageCtx, "Error updating notification", "error", err)
			producerErrorUpdateCounter.Inc()
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		p.logger.ErrorContext(ctx, "Error committing transaction", "error", err)
		producerErrorUpdateCounter.Inc()
		return
	}

	producerSuccessCounter.Inc()
}

func (p *Producer) toKafkaMessages(ctx context.Context, entities []*db.NotificationEntity) []kafka.Message {
	kafkaMessages := make([]kafka.Message, 0, len(entities))

	for _, entity := range entities {
		p.logger.DebugContext(ctx, "Preparing Kafka message for notification", "id", entity.ID)

		value, _ := json.Marshal(message.Notification{
			ID:          entity.ID,
			Kind:        entity.Kind,
			AggregateID: entity.AggregateID,
			Recipients:  splitRecipients(entity.Recipients),
			Subject:     entity.Subject,
			Body:        entity.Body,
			Attempts:    entity.DeliveryAttempts,
		})

		kafkaMessages = append(kafkaMessages, kafka.Message{
			// all emails for one order land on the same partition
			Key:   []byte(entity.AggregateID),
			Value: value,
		})
	}
	return kafkaMessages
}
