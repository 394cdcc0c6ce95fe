package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

// Kafka writes one message per reading, keyed by device name.
type Kafka struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafka builds a writer for the topic. Connections are made lazily on the
// first write.
func NewKafka(brokers []string, topic string, logger *slog.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	logger.Info("kafka notifier configured", "brokers", brokers, "topic", topic)
	return &Kafka{writer: w, logger: logger}
}

// Messages converts readings to Kafka messages.
func Messages(readings []models.Reading) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(readings))
	for _, r := range readings {
		value, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("encode reading: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.DeviceName),
			Value: value,
			Time:  r.Timestamp,
		})
	}
	return msgs, nil
}

// Publish writes the readings in one call.
func (k *Kafka) Publish(ctx context.Context, readings []models.Reading) error {
	msgs, err := Messages(readings)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
