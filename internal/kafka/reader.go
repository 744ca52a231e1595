package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"fulfillment-service/internal/config"
	"fulfillment-service/internal/message"
	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type Metrics struct {
	ReadErrorCounter      *metrics.Counter
	UnmarshalErrorCounter *metrics.Counter
	ProcessErrorCounter   *metrics.Counter
	SuccessCounter        *metrics.Counter
}

var notificationMetrics = Metrics{
	ReadErrorCounter:      metrics.GetOrCreateCounter(`kafka_reader_total{result="read_error",type="notification"}`),
	UnmarshalErrorCounter: metrics.GetOrCreateCounter(`kafka_reader_total{result="unmarshal_error",type="notification"}`),
	ProcessErrorCounter:   metrics.GetOrCreateCounter(`kafka_reader_total{result="process_error",type="notification"}`),
	SuccessCounter:        metrics.GetOrCreateCounter(`kafka_reader_total{result="success",type="notification"}`),
}

// MessageReader is the subset of *kafka.Reader used by the read loop.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type NotificationProcessor interface {
	Process(ctx context.Context, msg message.Notification) error
}

func NewReader(cfg config.Kafka) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: strings.Split(cfg.Broker.URL, ","),
		GroupID: cfg.Reader.GroupID,
		Topic:   cfg.Topic.Notifications,
	})
}

// ReadNotifications consumes the notification topic until ctx is done.
func ReadNotifications(ctx context.Context, reader MessageReader, processor NotificationProcessor, logger *slog.Logger) {
	readMessages(ctx, reader, logger, func(ctx context.Context, value []byte) error {
		var n message.Notification
		if err := json.Unmarshal(value, &n); err != nil {
			notificationMetrics.UnmarshalErrorCounter.Inc()
			return errors.Wrap(err, "unmarshalling notification")
		}
		return processor.Process(ctx, n)
	}, notificationMetrics)
}

func readMessages(ctx context.Context, reader MessageReader, logger *slog.Logger, process func(context.Context, []byte) error, kafkaMetrics Metrics) {
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.InfoContext(ctx, "Context done, stopping reader")
				return
			}
			logger.ErrorContext(ctx, "Error reading message", "error", err)
			kafkaMetrics.ReadErrorCounter.Inc()
			continue
		}
		logger.DebugContext(ctx, "Received message", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset)

		if err := process(ctx, m.Value); err != nil {
			logger.ErrorContext(ctx, "Error processing message", "error", err)
			kafkaMetrics.ProcessErrorCounter.Inc()
			continue
		}
		kafkaMetrics.SuccessCounter.Inc()
	}
}
