package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/aggregate"
	"github.com/rovshanmuradov/position-monitor/internal/cache"
	"github.com/rovshanmuradov/position-monitor/internal/domain"
	"github.com/rovshanmuradov/position-monitor/internal/events"
	"github.com/rovshanmuradov/position-monitor/internal/exchange"
	"github.com/rovshanmuradov/position-monitor/internal/fib"
	"github.com/rovshanmuradov/position-monitor/internal/metrics"
	"github.com/rovshanmuradov/position-monitor/internal/persona"
)

// State is the loop state.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateAnalyzing
	StateAdvising
	StateActing
	StateSleeping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateAnalyzing:
		return "analyzing"
	case StateAdvising:
		return "advising"
	case StateActing:
		return "acting"
	case StateSleeping:
		return "sleeping"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Exchange is the subset of the venue client used by the loop.
type Exchange interface {
	Positions(ctx context.Context) (exchange.PositionBatch, error)
	Account(ctx context.Context) (domain.Account, error)
	PlaceOrder(ctx context.Context, o domain.OrderRequest) (domain.OrderResult, error)
}

// Publisher receives journal records in publication order.
type Publisher interface {
	Publish(ctx context.Context, rec events.Record) error
}

// MonitorContext carries every dependency of one monitor instance.
type MonitorContext struct {
	Logger     *zap.Logger
	Clock      Clock
	Exchange   Exchange
	Cache      *cache.Positions
	Analyzer   fib.Analyzer
	Panel      *persona.Panel
	Aggregator *aggregate.Aggregator
	Events     Publisher
	Metrics    *metrics.Collector
	History    *History
	Guard      *ActionGuard
	Rand       *rand.Rand
	Config     Config
}

// Order statuses reported in order events.
const (
	OrderSubmitted  = "submitted"
	OrderFailed     = "failed"
	OrderSuppressed = "suppressed"
	OrderSkipped    = "skipped"
)

// OrderOutcome is the result of acting on one recommendation.
type OrderOutcome struct {
	Request domain.OrderRequest
	Result  domain.OrderResult
	Status  string
	Err     error
}

// Outcome summarizes one poll.
type Outcome struct {
	PollSeq         uint64
	SampledAt       time.Time
	Degraded        bool
	Err             error
	Delta           domain.Delta
	Malformed       int
	Filtered        int
	Recommendations []domain.Recommendation
	Orders          []OrderOutcome
}

// Status is a copy of the loop's externally visible state.
type Status struct {
	State     string    `json:"state"`
	Mode      Mode      `json:"mode"`
	PollSeq   uint64    `json:"poll_seq"`
	LastPoll  time.Time `json:"last_poll"`
	Degraded  bool      `json:"degraded"`
	LastError string    `json:"last_error,omitempty"`
	Tracked   int       `json:"tracked"`
}

// Monitor polls positions, advises on each and optionally acts.
// Tick, Once and Run must not be called concurrently; Status may be.
type Monitor struct {
	mc      MonitorContext
	logger  *zap.Logger
	rand    *rand.Rand
	partial decimal.Decimal

	state   atomic.Int32
	pollSeq atomic.Uint64

	mu       sync.RWMutex
	lastPoll time.Time
	degraded bool
	lastErr  string
}

// New validates mc and fills optional dependencies with defaults.
func New(mc MonitorContext) (*Monitor, error) {
	switch {
	case mc.Exchange == nil:
		return nil, errors.New("monitor: exchange is required")
	case mc.Cache == nil:
		return nil, errors.New("monitor: cache is required")
	case mc.Panel == nil:
		return nil, errors.New("monitor: persona panel is required")
	case mc.Events == nil:
		return nil, errors.New("monitor: event publisher is required")
	case mc.Config.Interval <= 0:
		return nil, fmt.Errorf("monitor: interval must be positive, got %s", mc.Config.Interval)
	}
	if _, err := ParseMode(string(mc.Config.Mode)); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	if mc.Logger == nil {
		mc.Logger = zap.NewNop()
	}
	if mc.Clock == nil {
		mc.Clock = RealClock()
	}
	if mc.Aggregator == nil {
		mc.Aggregator = aggregate.New(nil)
	}
	if mc.Guard == nil {
		mc.Guard = NewActionGuard(mc.Config.Order.Cooldown, mc.Logger)
	}
	if mc.Rand == nil {
		seed := mc.Config.Seed
		mc.Rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}

	partial := decimal.NewFromFloat(mc.Config.Order.PartialFraction)
	if !partial.IsPositive() || partial.GreaterThan(decimal.NewFromInt(1)) {
		partial = decimal.RequireFromString("0.5")
	}

	return &Monitor{
		mc:      mc,
		logger:  mc.Logger.Named("monitor"),
		rand:    mc.Rand,
		partial: partial,
	}, nil
}

// State returns the current loop state.
func (m *Monitor) State() State {
	return State(m.state.Load())
}

// Status returns a copy of the loop status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:     m.State().String(),
		Mode:      m.mc.Config.Mode,
		PollSeq:   m.pollSeq.Load(),
		LastPoll:  m.lastPoll,
		Degraded:  m.degraded,
		LastError: m.lastErr,
		Tracked:   m.mc.Cache.Len(),
	}
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
}

// transition moves to s unless ctx is done, in which case the loop
// terminates.
func (m *Monitor) transition(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		m.setState(StateTerminated)
		return fmt.Errorf("monitor stopped: %w", err)
	}
	m.setState(s)
	return nil
}

// fatal reports whether err must end the loop.
func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	switch exchange.KindOf(err) {
	case exchange.KindAuth, exchange.KindCancelled:
		return true
	default:
		return false
	}
}

// Run polls until ctx is cancelled, an auth failure occurs or the degraded
// streak limit is reached.
func (m *Monitor) Run(ctx context.Context) error {
	cfg := m.mc.Config
	m.logger.Info("Monitor started",
		zap.String("mode", string(cfg.Mode)),
		zap.Duration("interval", cfg.Interval),
		zap.Float64("jitter", cfg.Jitter))
	defer m.setState(StateTerminated)

	streak := 0
	for {
		start := m.mc.Clock.Now()
		out, err := m.Tick(ctx)
		if err != nil {
			return err
		}

		if out.Degraded {
			streak++
			if limit := cfg.MaxConsecutiveDegraded; limit > 0 && streak >= limit {
				m.logger.Error("Giving up after consecutive degraded polls",
					zap.Int("streak", streak),
					zap.Error(out.Err))
				return fmt.Errorf("%d consecutive degraded polls: %w", streak, out.Err)
			}
		} else {
			streak = 0
		}

		period := m.nextPeriod()
		elapsed := m.mc.Clock.Now().Sub(start)
		if elapsed >= period {
			m.mc.Metrics.IncLag()
			m.logger.Warn("Poll overran its period, skipping sleep",
				zap.Uint64("poll_seq", out.PollSeq),
				zap.Duration("elapsed", elapsed),
				zap.Duration("period", period))
			continue
		}

		if err := m.transition(ctx, StateSleeping); err != nil {
			return err
		}
		if err := m.mc.Clock.Sleep(ctx, period-elapsed); err != nil {
			m.setState(StateTerminated)
			return fmt.Errorf("monitor stopped: %w", err)
		}
	}
}

// Once runs a single poll. A degraded poll is returned as an error.
func (m *Monitor) Once(ctx context.Context) (Outcome, error) {
	out, err := m.Tick(ctx)
	if err != nil {
		return out, err
	}
	m.setState(StateTerminated)
	if out.Degraded {
		return out, fmt.Errorf("poll %d degraded: %w", out.PollSeq, out.Err)
	}
	return out, nil
}

// nextPeriod is the interval scaled by a uniform factor in [1-j, 1+j].
func (m *Monitor) nextPeriod() time.Duration {
	interval := m.mc.Config.Interval
	j := m.mc.Config.Jitter
	if j <= 0 {
		return interval
	}
	f := 1 + j*(2*m.rand.Float64()-1)
	return time.Duration(float64(interval) * f)
}

// Tick runs one poll: fetch, ingest, analyze, advise and, in execute mode,
// act. The returned error is non-nil only when the loop must stop.
func (m *Monitor) Tick(ctx context.Context) (Outcome, error) {
	if err := m.transition(ctx, StatePolling); err != nil {
		return Outcome{}, err
	}
	seq := m.pollSeq.Add(1)
	out := Outcome{PollSeq: seq}

	batch, err := m.mc.Exchange.Positions(ctx)
	out.SampledAt = m.mc.Clock.Now()
	if err != nil {
		return m.pollFailed(ctx, out, err)
	}

	snapshots, unparsed := m.admit(ctx, &out, batch)

	if err := m.transition(ctx, StateAnalyzing); err != nil {
		return out, err
	}
	out.Delta = m.mc.Cache.Ingest(snapshots, unparsed...)
	m.mc.Metrics.SetTrackedPositions(m.mc.Cache.Len())
	m.publishDelta(ctx, out)

	account := &accountCheck{exchange: m.mc.Exchange}
	for _, entry := range m.mc.Cache.Entries() {
		// positions missed this poll are retained but not re-analyzed
		if entry.Snapshot.PollSeq != seq {
			continue
		}

		rec, err := m.advise(ctx, out.SampledAt, entry)
		if err != nil {
			return out, err
		}
		out.Recommendations = append(out.Recommendations, rec)

		if m.mc.Config.Mode != ModeExecute || rec.Verdict == domain.VerdictHold {
			continue
		}
		order, err := m.act(ctx, entry.Snapshot, rec, account)
		if err != nil {
			return out, err
		}
		out.Orders = append(out.Orders, order)
	}

	m.mc.Metrics.ObservePoll(seq, false)
	m.finishPoll(out)
	m.logger.Debug("Poll complete",
		zap.Uint64("poll_seq", seq),
		zap.Int("positions", len(snapshots)),
		zap.Int("opened", len(out.Delta.Opened)),
		zap.Int("closed", len(out.Delta.Closed)),
		zap.Int("changed", len(out.Delta.Changed)),
		zap.Int("recommendations", len(out.Recommendations)))
	return out, nil
}

func (m *Monitor) pollFailed(ctx context.Context, out Outcome, err error) (Outcome, error) {
	if fatal(ctx, err) {
		m.setState(StateTerminated)
		if exchange.IsAuth(err) {
			m.logger.Error("Authentication rejected, stopping",
				zap.Uint64("poll_seq", out.PollSeq),
				zap.Error(err))
		}
		return out, fmt.Errorf("poll %d: %w", out.PollSeq, err)
	}

	kind := exchange.KindOf(err)
	out.Degraded = true
	out.Err = err
	m.logger.Warn("Degraded cycle",
		zap.Uint64("poll_seq", out.PollSeq),
		zap.String("error_kind", kind.String()),
		zap.Error(err))

	m.publish(ctx, events.Record{
		TS:      out.SampledAt,
		PollSeq: out.PollSeq,
		Kind:    events.KindDegraded,
		Payload: events.DegradedPayload{
			ErrorKind: kind.String(),
			Message:   err.Error(),
			Degraded:  true,
		},
	})
	m.mc.Metrics.ObservePoll(out.PollSeq, true)
	m.finishPoll(out)
	return out, nil
}

// admit turns fetched positions into snapshots. Malformed and invalid
// positions are reported and skipped, and their ids are returned so the
// cache keeps them as still open; zero-quantity positions are dropped.
func (m *Monitor) admit(ctx context.Context, out *Outcome, batch exchange.PositionBatch) ([]domain.Snapshot, []string) {
	var unparsed []string
	for _, bad := range batch.Malformed {
		out.Malformed++
		m.reportMalformed(ctx, out, bad.ID, bad.Index, bad.Err)
		if bad.ID != "" {
			unparsed = append(unparsed, bad.ID)
		}
	}

	snapshots := make([]domain.Snapshot, 0, len(batch.Positions))
	for i, pos := range batch.Positions {
		if err := pos.Validate(); err != nil {
			out.Malformed++
			m.reportMalformed(ctx, out, pos.ID, i, err)
			if pos.ID != "" {
				unparsed = append(unparsed, pos.ID)
			}
			continue
		}
		if pos.Quantity.IsZero() {
			out.Filtered++
			m.logger.Debug("Skipping zero-quantity position",
				zap.String("position_id", pos.ID),
				zap.Uint64("poll_seq", out.PollSeq))
			continue
		}
		pos.LastSeenAt = out.SampledAt
		snapshots = append(snapshots, domain.Snapshot{
			Position:  pos,
			SampledAt: out.SampledAt,
			PollSeq:   out.PollSeq,
		})
	}
	return snapshots, unparsed
}

func (m *Monitor) reportMalformed(ctx context.Context, out *Outcome, id string, index int, err error) {
	m.logger.Warn("Malformed position skipped",
		zap.Uint64("poll_seq", out.PollSeq),
		zap.String("position_id", id),
		zap.Int("index", index),
		zap.Error(err))
	m.publish(ctx, events.Record{
		TS:         out.SampledAt,
		PollSeq:    out.PollSeq,
		Kind:       events.KindError,
		PositionID: id,
		Payload: events.ErrorPayload{
			ErrorKind: exchange.KindProtocol.String(),
			Message:   err.Error(),
			Index:     &index,
		},
	})
}

func (m *Monitor) publishDelta(ctx context.Context, out Outcome) {
	for _, s := range out.Delta.Opened {
		m.logger.Info("Position opened",
			zap.String("position_id", s.ID()),
			zap.String("symbol", s.Position.Symbol),
			zap.String("side", string(s.Position.Side)),
			zap.Uint64("poll_seq", out.PollSeq))
		m.publish(ctx, events.Record{TS: out.SampledAt, PollSeq: out.PollSeq, Kind: events.KindOpen, PositionID: s.ID(), Payload: s.Position})
	}
	for _, c := range out.Delta.Changed {
		m.publish(ctx, events.Record{TS: out.SampledAt, PollSeq: out.PollSeq, Kind: events.KindChange, PositionID: c.Current.ID(), Payload: c})
	}
	for _, s := range out.Delta.Closed {
		m.logger.Info("Position closed",
			zap.String("position_id", s.ID()),
			zap.String("symbol", s.Position.Symbol),
			zap.Uint64("last_seen_poll", s.PollSeq),
			zap.Uint64("poll_seq", out.PollSeq))
		m.mc.Guard.Forget(s.ID())
		m.publish(ctx, events.Record{TS: out.SampledAt, PollSeq: out.PollSeq, Kind: events.KindClose, PositionID: s.ID(), Payload: s})
	}
}

func (m *Monitor) advise(ctx context.Context, sampledAt time.Time, entry cache.Entry) (domain.Recommendation, error) {
	pos := entry.Snapshot.Position
	seq := entry.Snapshot.PollSeq

	in := persona.Input{
		Position: pos,
		Snapshot: entry.Snapshot,
		Levels:   m.mc.Analyzer.Analyze(pos, pos.MarkPrice, entry.High, entry.Low),
		Mark:     pos.MarkPrice,
		Context: persona.Context{
			PollSeq:      seq,
			Prior:        entry.Prior,
			PriorPnLSign: entry.PriorPnLSign,
			High:         entry.High,
			Low:          entry.Low,
		},
	}
	votes, err := m.mc.Panel.Evaluate(ctx, in)
	if err != nil {
		m.setState(StateTerminated)
		return domain.Recommendation{}, fmt.Errorf("evaluate %s: %w", pos.ID, err)
	}

	if err := m.transition(ctx, StateAdvising); err != nil {
		return domain.Recommendation{}, err
	}
	rec := m.mc.Aggregator.Aggregate(pos.ID, votes)
	rec.Symbol = pos.Symbol
	rec.PollSeq = seq

	m.mc.Metrics.IncRecommendation(string(rec.Verdict))
	if m.mc.History != nil {
		// failures are logged by the history itself
		_ = m.mc.History.Add(sampledAt, rec)
	}
	m.logger.Info("Recommendation",
		zap.String("position_id", rec.PositionID),
		zap.String("symbol", rec.Symbol),
		zap.Uint64("poll_seq", seq),
		zap.String("verdict", string(rec.Verdict)),
		zap.String("confidence", rec.AggregateConfidence.String()),
		zap.Int("dissent", rec.DissentCount),
		zap.Bool("degenerate_levels", in.Levels.Degenerate))
	m.publish(ctx, events.Record{
		TS:         sampledAt,
		PollSeq:    seq,
		Kind:       events.KindRecommendation,
		PositionID: rec.PositionID,
		Payload:    rec,
	})
	return rec, nil
}

// accountCheck fetches the account at most once per poll, before the first
// order, and refuses orders when the account looks unusable.
type accountCheck struct {
	exchange Exchange
	done     bool
	account  domain.Account
	err      error
}

func (a *accountCheck) check(ctx context.Context) error {
	if a.done {
		return a.err
	}
	a.done = true
	a.account, a.err = a.exchange.Account(ctx)
	if a.err == nil && !a.account.Equity.IsPositive() {
		a.err = fmt.Errorf("account %s equity %s is not positive", a.account.MarginCoin, a.account.Equity)
	}
	return a.err
}

// orderSize is the full quantity for exit_full and the partial fraction,
// rounded down to the size scale, for exit_partial.
func (m *Monitor) orderSize(qty decimal.Decimal, verdict domain.Verdict) decimal.Decimal {
	if verdict == domain.VerdictExitFull {
		return qty
	}
	return qty.Mul(m.partial).Truncate(m.mc.Config.Order.SizeScale)
}

func (m *Monitor) act(ctx context.Context, snap domain.Snapshot, rec domain.Recommendation, account *accountCheck) (OrderOutcome, error) {
	if err := m.transition(ctx, StateActing); err != nil {
		return OrderOutcome{}, err
	}
	pos := snap.Position
	cfg := m.mc.Config.Order
	now := m.mc.Clock.Now()

	req := domain.OrderRequest{
		PositionID:     pos.ID,
		Symbol:         pos.Symbol,
		MarginCoin:     pos.MarginCoin,
		PositionSide:   pos.Side,
		Verdict:        rec.Verdict,
		Type:           cfg.Type,
		Quantity:       m.orderSize(pos.Quantity, rec.Verdict),
		IdempotencyKey: exchange.IdempotencyKey(pos.ID, rec.Verdict, rec.PollSeq),
	}
	if req.Type == "" {
		req.Type = domain.OrderTypeMarket
	}
	if req.Type == domain.OrderTypeLimit {
		req.Price = pos.MarkPrice
	}

	out := OrderOutcome{Request: req}
	switch {
	case !req.Quantity.IsPositive():
		out.Status = OrderSkipped
		out.Err = fmt.Errorf("order size rounds to zero at scale %d", cfg.SizeScale)
	case !m.mc.Guard.Allow(pos.ID, rec.Verdict, now):
		out.Status = OrderSuppressed
	default:
		if err := account.check(ctx); err != nil {
			if fatal(ctx, err) {
				m.setState(StateTerminated)
				return out, fmt.Errorf("account check: %w", err)
			}
			out.Status = OrderSkipped
			out.Err = err
			break
		}

		m.mc.Guard.Record(pos.ID, rec.Verdict, now)
		res, err := m.mc.Exchange.PlaceOrder(ctx, req)
		if err != nil {
			if fatal(ctx, err) {
				m.setState(StateTerminated)
				return out, fmt.Errorf("place order %s: %w", req.IdempotencyKey, err)
			}
			out.Status = OrderFailed
			out.Err = err
			break
		}
		out.Status = OrderSubmitted
		out.Result = res
	}

	m.mc.Metrics.IncOrder(out.Status)
	fields := []zap.Field{
		zap.String("position_id", pos.ID),
		zap.Uint64("poll_seq", rec.PollSeq),
		zap.String("verdict", string(rec.Verdict)),
		zap.String("quantity", req.Quantity.String()),
		zap.String("status", out.Status),
		zap.String("idempotency_key", req.IdempotencyKey),
	}
	if out.Err != nil {
		m.logger.Warn("Exit order not placed", append(fields, zap.Error(out.Err))...)
	} else {
		m.logger.Info("Exit order", append(fields, zap.String("order_id", out.Result.OrderID))...)
	}

	payload := events.OrderPayload{
		Verdict:        string(rec.Verdict),
		Quantity:       req.Quantity.String(),
		Type:           string(req.Type),
		IdempotencyKey: req.IdempotencyKey,
		ClientOrderID:  out.Result.ClientOrderID,
		OrderID:        out.Result.OrderID,
		Status:         out.Status,
	}
	if out.Err != nil {
		payload.Error = out.Err.Error()
	}
	m.publish(ctx, events.Record{
		TS:         now,
		PollSeq:    rec.PollSeq,
		Kind:       events.KindOrder,
		PositionID: pos.ID,
		Payload:    payload,
	})
	return out, nil
}

func (m *Monitor) publish(ctx context.Context, rec events.Record) {
	// the bus logs and counts sink failures
	_ = m.mc.Events.Publish(ctx, rec)
}

func (m *Monitor) finishPoll(out Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPoll = out.SampledAt
	m.degraded = out.Degraded
	m.lastErr = ""
	if out.Err != nil {
		m.lastErr = out.Err.Error()
	}
}
