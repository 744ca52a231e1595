package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"fulfillment-service/internal/config"
	"fulfillment-service/internal/message"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReader replays values, then cancels the context and blocks like a real reader would.
type scriptedReader struct {
	values [][]byte
	errs   []error
	cancel context.CancelFunc
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return kafka.Message{}, err
	}
	if len(r.values) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	v := r.values[0]
	r.values = r.values[1:]
	return kafka.Message{Topic: "customer-notifications", Value: v}, nil
}

type recordingProcessor struct {
	got []message.Notification
	err error
}

func (p *recordingProcessor) Process(_ context.Context, n message.Notification) error {
	p.got = append(p.got, n)
	return p.err
}

func TestReadNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := uuid.New()
	valid, err := json.Marshal(message.Notification{ID: id, Kind: "shipped", Recipients: []string{"a@example.com"}})
	require.NoError(t, err)

	reader := &scriptedReader{
		values: [][]byte{[]byte("not json"), valid},
		errs:   []error{errors.New("transient")},
		cancel: cancel,
	}
	processor := &recordingProcessor{}

	ReadNotifications(ctx, reader, processor, slog.Default())

	require.Len(t, processor.got, 1)
	assert.Equal(t, id, processor.got[0].ID)
	assert.Equal(t, []string{"a@example.com"}, processor.got[0].Recipients)
}

func TestNewWriter_Defaults(t *testing.T) {
	w := NewWriter(config.Kafka{
		Broker: config.KafkaBroker{URL: "k1:9092,k2:9092"},
		Topic:  config.KafkaTopic{Notifications: "customer-notifications"},
	})
	defer w.Close()

	assert.Equal(t, "customer-notifications", w.Topic)
	assert.Equal(t, DefaultBatchSize, w.BatchSize)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}
