package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/metrics"
)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaSink produces records keyed by position id, so each position's
// records land on one partition in poll order. Writes are asynchronous:
// Handle only enqueues, and delivery failures are reported from the
// writer's completion callback.
type KafkaSink struct {
	writer  *kafka.Writer
	logger  *zap.Logger
	metrics *metrics.Collector
	failed  atomic.Uint64
}

// NewKafkaSink creates an async writer for cfg.Topic.
func NewKafkaSink(cfg KafkaConfig, logger *zap.Logger, m *metrics.Collector) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	k := &KafkaSink{
		logger:  logger.Named("kafka_sink"),
		metrics: m,
	}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: cfg.WriteTimeout,
		BatchSize:    1,
		Async:        true,
		Completion:   k.complete,
	}
	return k, nil
}

func kafkaMessage(rec Record) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode record: %w", err)
	}
	return kafka.Message{
		Key:   []byte(rec.PositionID),
		Value: value,
		Time:  rec.TS,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(rec.Kind)},
		},
	}, nil
}

// Handle enqueues rec for the topic without waiting for the broker.
func (k *KafkaSink) Handle(ctx context.Context, rec Record) error {
	msg, err := kafkaMessage(rec)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaSink) complete(messages []kafka.Message, err error) {
	if err == nil {
		return
	}
	for range messages {
		k.failed.Add(1)
		k.metrics.IncSinkFailure("kafka")
	}
	k.logger.Warn("Kafka delivery failed",
		zap.Int("messages", len(messages)),
		zap.Error(err))
}

// Failed returns the number of messages the broker did not accept.
func (k *KafkaSink) Failed() uint64 {
	return k.failed.Load()
}

// Close flushes pending writes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
