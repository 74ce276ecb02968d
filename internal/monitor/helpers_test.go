package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/position-monitor/internal/aggregate"
	"github.com/rovshanmuradov/position-monitor/internal/cache"
	"github.com/rovshanmuradov/position-monitor/internal/domain"
	"github.com/rovshanmuradov/position-monitor/internal/events"
	"github.com/rovshanmuradov/position-monitor/internal/exchange"
	"github.com/rovshanmuradov/position-monitor/internal/persona"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock advances only when slept on. onSleep, if set, runs before each
// sleep and may cancel the loop.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	sleeps  []time.Duration
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	n := len(c.sleeps)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testPosition(id, mark, pnl string) domain.Position {
	return domain.Position{
		ID:            id,
		Symbol:        "BTCUSDT",
		Side:          domain.SideLong,
		MarginCoin:    "USDT",
		EntryPrice:    dec("60000"),
		MarkPrice:     dec(mark),
		Quantity:      dec("0.1"),
		Leverage:      10,
		UnrealizedPnL: dec(pnl),
		OpenedAt:      time.UnixMilli(1700000000000).UTC(),
	}
}

// stubExchange scripts Positions per call and records orders.
type stubExchange struct {
	mu         sync.Mutex
	positions  func(ctx context.Context, call int) (exchange.PositionBatch, error)
	calls      int
	account    domain.Account
	accountErr error
	accounts   int
	orders     []domain.OrderRequest
	orderErr   error
}

func (s *stubExchange) Positions(ctx context.Context) (exchange.PositionBatch, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.positions(ctx, call)
}

func (s *stubExchange) Account(context.Context) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts++
	return s.account, s.accountErr
}

func (s *stubExchange) PlaceOrder(_ context.Context, o domain.OrderRequest) (domain.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
	if s.orderErr != nil {
		return domain.OrderResult{}, s.orderErr
	}
	return domain.OrderResult{OrderID: fmt.Sprintf("ord-%d", len(s.orders)), ClientOrderID: exchange.ClientOrderID(o.IdempotencyKey)}, nil
}

type harness struct {
	monitor *Monitor
	clock   *fakeClock
	ring    *events.Ring
	cache   *cache.Positions
	history *History
}

func newHarness(t *testing.T, ex Exchange, cfg Config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	panel, err := persona.NewPanel(persona.DefaultRegistry(), persona.Order, logger, nil)
	require.NoError(t, err)

	ring := events.NewRing(512)
	bus := events.NewBus(logger, nil)
	bus.Subscribe("ring", ring)

	history, err := NewHistory(64, "", time.Second, logger)
	require.NoError(t, err)

	h := &harness{
		clock:   newFakeClock(),
		ring:    ring,
		cache:   cache.New(cache.DefaultEpsilon),
		history: history,
	}
	h.monitor, err = New(MonitorContext{
		Logger:     logger,
		Clock:      h.clock,
		Exchange:   ex,
		Cache:      h.cache,
		Panel:      panel,
		Aggregator: aggregate.New(nil),
		Events:     bus,
		History:    history,
		Config:     cfg,
	})
	require.NoError(t, err)
	return h
}

// venue is an httptest server speaking the v2 mix API. Each positions call
// pops the next scripted payload; the last one repeats.
type venue struct {
	*httptest.Server
	mu        sync.Mutex
	script    []string
	status    int
	code      string
	positions atomic.Int32
	accounts  atomic.Int32
	orders    []map[string]string
}

func positionJSON(id, mark, pnl string) string {
	return fmt.Sprintf(`{"positionId":%q,"symbol":"BTCUSDT","holdSide":"long","marginCoin":"USDT",`+
		`"openPriceAvg":"60000","markPrice":%q,"total":"0.1","leverage":"10","unrealizedPL":%q,`+
		`"cTime":"1700000000000"}`, id, mark, pnl)
}

func newVenue(t *testing.T) *venue {
	t.Helper()
	v := &venue{status: http.StatusOK, code: "00000"}
	v.Server = httptest.NewServer(http.HandlerFunc(v.serve))
	t.Cleanup(v.Close)
	return v
}

func (v *venue) push(payloads ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.script = append(v.script, payloads...)
}

func (v *venue) fail(status int, code string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status, v.code = status, code
}

func (v *venue) placed() []map[string]string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]map[string]string(nil), v.orders...)
}

func (v *venue) serve(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	status, code := v.status, v.code
	v.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"code":%q,"msg":"failure","data":null}`, code)
		return
	}

	var data string
	switch r.URL.Path {
	case "/api/v2/mix/position/all-position":
		v.positions.Add(1)
		v.mu.Lock()
		data = "[]"
		if len(v.script) > 0 {
			data = v.script[0]
			if len(v.script) > 1 {
				v.script = v.script[1:]
			}
		}
		v.mu.Unlock()
	case "/api/v2/mix/account/accounts":
		v.accounts.Add(1)
		data = `[{"marginCoin":"USDT","accountEquity":"1000","available":"900","unrealizedPL":"10"}]`
	case "/api/v2/mix/order/place-order":
		raw, _ := io.ReadAll(r.Body)
		var body map[string]string
		_ = json.Unmarshal(raw, &body)
		v.mu.Lock()
		v.orders = append(v.orders, body)
		n := len(v.orders)
		v.mu.Unlock()
		data = fmt.Sprintf(`{"orderId":"%d","clientOid":%q}`, 1000+n, body["clientOid"])
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"code":"40404","msg":"not found","data":null}`)
		return
	}
	fmt.Fprintf(w, `{"code":"00000","msg":"success","data":%s}`, data)
}

func venueConfig(baseURL string) exchange.Config {
	cfg := exchange.DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.APIKey = "key"
	cfg.APISecret = "secret"
	cfg.Passphrase = "phrase"
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 4 * time.Millisecond
	cfg.Retry.AttemptTimeout = time.Second
	cfg.Retry.TotalTimeout = 5 * time.Second
	cfg.Limits = map[exchange.Class]exchange.Bucket{
		exchange.ClassMarket:  {Rate: 1000, Burst: 100},
		exchange.ClassAccount: {Rate: 1000, Burst: 100},
		exchange.ClassOrder:   {Rate: 1000, Burst: 100},
	}
	return cfg
}

// retrySleeps stands in for the client's retry wait: it returns at once
// and records the requested delays.
type retrySleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *retrySleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *retrySleeps) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newVenueClient(t *testing.T, baseURL string, opts ...exchange.Option) (*exchange.Client, *retrySleeps) {
	t.Helper()
	sleeps := &retrySleeps{}
	opts = append(opts, exchange.WithSleep(sleeps.sleep))
	return exchange.NewClient(venueConfig(baseURL), zaptest.NewLogger(t), opts...), sleeps
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

type flakyTransport struct {
	failures atomic.Int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, timeoutErr{}
	}
	return f.next.RoundTrip(r)
}
