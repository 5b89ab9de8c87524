package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Kafka writes events to a topic through an asynchronous writer. Messages
// are keyed by event name so one event type keeps its order on a partition.
type Kafka struct {
	writer *kafka.Writer
	logger *zap.Logger
	now    func() time.Time
}

// NewKafka builds the writer. No connection is made until the first write.
func NewKafka(cfg KafkaConfig, logger *zap.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	logger = logger.Named("analytics.kafka")
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn("failed to deliver events", zap.Int("count", len(messages)), zap.Error(err))
			}
		},
	}

	return &Kafka{writer: w, logger: logger, now: time.Now}, nil
}

func (k *Kafka) Emit(name string, props Properties) {
	value, err := json.Marshal(Event{Name: name, Properties: props, Timestamp: k.now()})
	if err != nil {
		k.logger.Warn("failed to encode event", zap.String("event", name), zap.Error(err))
		return
	}
	// Async writer: returns once the message is queued.
	if err := k.writer.WriteMessages(context.Background(), kafka.Message{Key: []byte(name), Value: value}); err != nil {
		k.logger.Warn("failed to queue event", zap.String("event", name), zap.Error(err))
	}
}

// Close flushes queued messages.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
