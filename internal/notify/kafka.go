package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/Subtalime/vintel-sub001/internal/config"
	"github.com/Subtalime/vintel-sub001/internal/metrics"
	"github.com/Subtalime/vintel-sub001/internal/model"
)

// Message is the JSON published for each change, keyed by location so a
// location's changes stay ordered within one partition.
type Message struct {
	ID string `json:"id"`
	model.StateChange
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes changes asynchronously; the engine never waits on the
// broker.
type Kafka struct {
	writer messageWriter
	logger *slog.Logger
	newID  func() string
}

func NewKafka(cfg config.NotifyKafkaConfig, logger *slog.Logger) *Kafka {
	k := &Kafka{logger: logger, newID: uuid.NewString}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion:   k.completed,
	}
	if logger != nil {
		logger.Info("kafka notifier enabled", "brokers", cfg.Brokers, "topic", cfg.Topic)
	}
	return k
}

func (k *Kafka) LocationStateChanged(ch model.StateChange) {
	value, err := json.Marshal(Message{ID: k.newID(), StateChange: ch})
	if err != nil {
		k.failed(err, 1)
		return
	}
	msg := kafka.Message{Key: []byte(ch.Location), Value: value, Time: ch.At}
	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		k.failed(err, 1)
	}
}

func (k *Kafka) completed(messages []kafka.Message, err error) {
	if err != nil {
		k.failed(err, len(messages))
	}
}

func (k *Kafka) failed(err error, n int) {
	for i := 0; i < n; i++ {
		metrics.IncNotifyError("kafka")
	}
	if k.logger != nil {
		k.logger.Warn("kafka notify failed", "messages", n, "err", err)
	}
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
