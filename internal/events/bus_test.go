package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), nil)

	var seen []string
	bus.SubscribeFunc("first", func(_ context.Context, rec Record) error {
		seen = append(seen, "first:"+string(rec.Kind))
		return nil
	})
	bus.SubscribeFunc("orders", func(_ context.Context, rec Record) error {
		seen = append(seen, "orders:"+string(rec.Kind))
		return nil
	}, KindOrder)

	require.NoError(t, bus.Publish(context.Background(), Record{Kind: KindOpen}))
	require.NoError(t, bus.Publish(context.Background(), Record{Kind: KindOrder}))

	assert.Equal(t, []string{"first:open", "first:order", "orders:order"}, seen)
	assert.Equal(t, []string{"first", "orders"}, bus.Handlers())
}

func TestBusFailureDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), nil)
	ring := NewRing(4)

	bus.SubscribeFunc("broken", func(context.Context, Record) error {
		return errors.New("disk full")
	})
	bus.Subscribe("ring", ring)

	err := bus.Publish(context.Background(), Record{Kind: KindError})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: disk full")
	assert.Len(t, ring.Records(), 1)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t), nil)
	ring := NewRing(4)
	sub := bus.Subscribe("ring", ring)

	sub.Unsubscribe()
	require.NoError(t, bus.Publish(context.Background(), Record{Kind: KindOpen}))
	assert.Empty(t, ring.Records())
	assert.Empty(t, bus.Handlers())
}

func TestRingWraps(t *testing.T) {
	ring := NewRing(3)
	for i := uint64(1); i <= 5; i++ {
		_ = ring.Handle(context.Background(), Record{PollSeq: i, Kind: KindChange})
	}

	recs := ring.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, uint64(3), recs[0].PollSeq)
	assert.Equal(t, uint64(5), recs[2].PollSeq)
	assert.Len(t, ring.Filter(KindChange), 3)
	assert.Empty(t, ring.Filter(KindOpen))
}

func TestJournalWritesNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "journal.ndjson")
	j, err := NewJournal(path, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.Handle(context.Background(), Record{TS: ts, PollSeq: 1, Kind: KindOpen, PositionID: "P1", Payload: map[string]string{"symbol": "BTCUSDT"}}))
	require.NoError(t, j.Handle(context.Background(), Record{TS: ts, PollSeq: 2, Kind: KindDegraded, Payload: DegradedPayload{ErrorKind: "transport", Degraded: true}}))
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "open", lines[0]["kind"])
	assert.Equal(t, "P1", lines[0]["position_id"])
	assert.Equal(t, float64(1), lines[0]["poll_seq"])
	assert.Equal(t, "2026-01-02T03:04:05Z", lines[0]["ts"])

	_, hasID := lines[1]["position_id"]
	assert.False(t, hasID)
	assert.Equal(t, "degraded", lines[1]["kind"])
}

func TestKafkaMessageKeyedByPosition(t *testing.T) {
	msg, err := kafkaMessage(Record{Kind: KindRecommendation, PositionID: "P1", PollSeq: 3})
	require.NoError(t, err)
	assert.Equal(t, []byte("P1"), msg.Key)
	assert.Equal(t, "kind", msg.Headers[0].Key)

	var back Record
	require.NoError(t, json.Unmarshal(msg.Value, &back))
	assert.Equal(t, uint64(3), back.PollSeq)

	_, err = NewKafkaSink(KafkaConfig{Topic: "x"}, zaptest.NewLogger(t), nil)
	assert.Error(t, err)
}

func TestKafkaSinkCountsFailedDeliveries(t *testing.T) {
	sink, err := NewKafkaSink(KafkaConfig{Brokers: []string{"127.0.0.1:1"}, Topic: "events"}, zaptest.NewLogger(t), nil)
	require.NoError(t, err)
	defer sink.Close()
	assert.True(t, sink.writer.Async)
	require.NotNil(t, sink.writer.Completion)

	msg, err := kafkaMessage(Record{Kind: KindOpen, PositionID: "P1"})
	require.NoError(t, err)
	sink.writer.Completion([]kafka.Message{msg}, nil)
	assert.Zero(t, sink.Failed())
	sink.writer.Completion([]kafka.Message{msg, msg}, errors.New("broker down"))
	assert.Equal(t, uint64(2), sink.Failed())
}

// gatedRedis blocks XAdd until the gate opens and counts writes.
type gatedRedis struct {
	redis.UniversalClient
	gate    chan struct{}
	entered chan struct{}
	mu      sync.Mutex
	streams []string
	closed  bool
}

func (g *gatedRedis) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	g.mu.Lock()
	g.streams = append(g.streams, a.Values.(map[string]any)["position_id"].(string))
	g.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("0-1")
	return cmd
}

func (g *gatedRedis) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func TestRedisSinkDropsOnOverflow(t *testing.T) {
	client := &gatedRedis{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	sink := newRedisSink(client, RedisConfig{Buffer: 2}, zaptest.NewLogger(t), nil)
	ctx := context.Background()

	require.NoError(t, sink.Handle(ctx, Record{Kind: KindOpen, PositionID: "P1"}))
	<-client.entered // forwarder is now stuck on P1

	start := time.Now()
	require.NoError(t, sink.Handle(ctx, Record{Kind: KindOpen, PositionID: "P2"}))
	require.NoError(t, sink.Handle(ctx, Record{Kind: KindOpen, PositionID: "P3"}))
	assert.ErrorIs(t, sink.Handle(ctx, Record{Kind: KindOpen, PositionID: "P4"}), ErrSinkOverflow)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(1), sink.Dropped())

	close(client.gate)
	require.NoError(t, sink.Close())
	assert.Equal(t, []string{"P1", "P2", "P3"}, client.streams)
	assert.True(t, client.closed)
	assert.ErrorIs(t, sink.Handle(ctx, Record{Kind: KindOpen}), ErrSinkClosed)
}

func TestRedisStreamValues(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	v := streamValues(Record{TS: ts, PollSeq: 9, Kind: KindOrder, PositionID: "P1"}, []byte(`{"status":"placed"}`))
	assert.Equal(t, int64(1700000000123), v["ts"])
	assert.Equal(t, "9", v["poll_seq"])
	assert.Equal(t, "order", v["kind"])
	assert.Equal(t, `{"status":"placed"}`, v["payload"])
}
