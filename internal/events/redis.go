package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/metrics"
)

const (
	defaultRedisBuffer       = 1024
	defaultRedisWriteTimeout = 5 * time.Second
)

var (
	// ErrSinkOverflow is returned when a sink's queue is full and the record
	// was dropped.
	ErrSinkOverflow = errors.New("sink queue full, record dropped")
	// ErrSinkClosed is returned by Handle after Close.
	ErrSinkClosed = errors.New("sink closed")
)

// RedisConfig configures the Redis sink. Records go to Stream (XADD) and,
// when Channel is set, are also published for live subscribers.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	Stream       string        `mapstructure:"stream"`
	MaxLen       int64         `mapstructure:"max_len"`
	Channel      string        `mapstructure:"channel"`
	Buffer       int           `mapstructure:"buffer"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RedisSink writes records to a Redis stream and pub/sub channel. Handle
// never waits on Redis: records are queued for a single forwarding
// goroutine, which keeps their order, and dropped when the queue is full.
type RedisSink struct {
	client       redis.UniversalClient
	stream       string
	maxLen       int64
	channel      string
	writeTimeout time.Duration
	logger       *zap.Logger
	metrics      *metrics.Collector

	mu      sync.RWMutex
	closed  bool
	queue   chan Record
	done    chan struct{}
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewRedisSink connects to Redis, verifies the connection and starts the
// forwarder.
func NewRedisSink(ctx context.Context, cfg RedisConfig, logger *zap.Logger, m *metrics.Collector) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return newRedisSink(client, cfg, logger, m), nil
}

func newRedisSink(client redis.UniversalClient, cfg RedisConfig, logger *zap.Logger, m *metrics.Collector) *RedisSink {
	stream := cfg.Stream
	if stream == "" {
		stream = "position-monitor:events"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultRedisBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultRedisWriteTimeout
	}

	s := &RedisSink{
		client:       client,
		stream:       stream,
		maxLen:       cfg.MaxLen,
		channel:      cfg.Channel,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger.Named("redis_sink"),
		metrics:      m,
		queue:        make(chan Record, cfg.Buffer),
		done:         make(chan struct{}),
	}
	go s.forward()
	return s
}

func streamValues(rec Record, payload []byte) map[string]any {
	return map[string]any{
		"ts":          rec.TS.UnixMilli(),
		"poll_seq":    strconv.FormatUint(rec.PollSeq, 10),
		"kind":        string(rec.Kind),
		"position_id": rec.PositionID,
		"payload":     string(payload),
	}
}

// Handle queues rec for delivery. A full queue drops rec and returns
// ErrSinkOverflow.
func (s *RedisSink) Handle(_ context.Context, rec Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.queue <- rec:
		return nil
	default:
		s.dropped.Add(1)
		return ErrSinkOverflow
	}
}

func (s *RedisSink) forward() {
	defer close(s.done)
	for rec := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err := s.write(ctx, rec)
		cancel()
		if err != nil {
			s.failed.Add(1)
			s.metrics.IncSinkFailure("redis")
			s.logger.Warn("Redis write failed",
				zap.String("kind", string(rec.Kind)),
				zap.String("position_id", rec.PositionID),
				zap.Uint64("poll_seq", rec.PollSeq),
				zap.Error(err))
		}
	}
}

// write appends rec to the stream and publishes it on the channel.
func (s *RedisSink) write(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: streamValues(rec, payload),
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}

	if s.channel != "" {
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		if err := s.client.Publish(ctx, s.channel, line).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", s.channel, err)
		}
	}
	return nil
}

// Dropped returns the number of records lost to a full queue.
func (s *RedisSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Failed returns the number of records Redis rejected.
func (s *RedisSink) Failed() uint64 {
	return s.failed.Load()
}

// Close stops accepting records, drains the queue and closes the Redis
// connection.
func (s *RedisSink) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	<-s.done
	return s.client.Close()
}
