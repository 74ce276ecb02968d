package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/position-monitor/internal/aggregate"
	"github.com/rovshanmuradov/position-monitor/internal/cache"
	"github.com/rovshanmuradov/position-monitor/internal/config"
	"github.com/rovshanmuradov/position-monitor/internal/events"
	"github.com/rovshanmuradov/position-monitor/internal/exchange"
	"github.com/rovshanmuradov/position-monitor/internal/fib"
	"github.com/rovshanmuradov/position-monitor/internal/metrics"
	"github.com/rovshanmuradov/position-monitor/internal/monitor"
	"github.com/rovshanmuradov/position-monitor/internal/persona"
	"github.com/rovshanmuradov/position-monitor/internal/status"
)

// Process exit codes.
const (
	ExitOK        = 0
	ExitConfig    = 2
	ExitAuth      = 3
	ExitTransport = 4
	ExitCancelled = 130
)

// ExitCode maps the error that ended the process to its exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, config.ErrInvalid):
		return ExitConfig
	}
	switch exchange.KindOf(err) {
	case exchange.KindAuth:
		return ExitAuth
	case exchange.KindCancelled:
		return ExitCancelled
	default:
		return ExitTransport
	}
}

type options struct {
	exchange monitor.Exchange
	clock    monitor.Clock
	sinks    []namedHandler
}

type namedHandler struct {
	name    string
	handler events.Handler
}

// Option customizes a Runner.
type Option func(*options)

// WithExchange replaces the venue client.
func WithExchange(ex monitor.Exchange) Option {
	return func(o *options) { o.exchange = ex }
}

// WithClock replaces the loop clock.
func WithClock(c monitor.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSink subscribes an extra handler to every event.
func WithSink(name string, h events.Handler) Option {
	return func(o *options) { o.sinks = append(o.sinks, namedHandler{name: name, handler: h}) }
}

// Runner owns every component of one monitor process.
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	cache    *cache.Positions
	bus      *events.Bus
	ring     *events.Ring
	history  *monitor.History
	monitor  *monitor.Monitor
	status   *status.Server
	shutdown *ShutdownHandler
}

// NewRunner builds the component graph for cfg. On failure, everything
// opened so far is closed again.
func NewRunner(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *Runner, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r := &Runner{
		cfg:      cfg,
		logger:   logger.Named("runner"),
		shutdown: NewShutdownHandler(logger, 0),
	}
	defer func() {
		if err != nil {
			_ = r.shutdown.Shutdown(context.Background())
		}
	}()

	r.metrics = metrics.NewCollector(prometheus.NewRegistry())
	r.cache = cache.New(decimal.NewFromFloat(cfg.Cache.Epsilon))

	ex := o.exchange
	if ex == nil {
		clientOpts := []exchange.Option{exchange.WithMetrics(r.metrics)}
		if o.clock != nil {
			clientOpts = append(clientOpts, exchange.WithSleep(o.clock.Sleep))
		}
		client := exchange.NewClient(cfg.Exchange, logger, clientOpts...)
		r.shutdown.Add("exchange", client)
		ex = client
	}

	panel, err := persona.NewPanel(persona.DefaultRegistry(), persona.Order, logger, r.metrics)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	weights := make(map[string]decimal.Decimal, len(cfg.Personas.Weights))
	for id, w := range cfg.Personas.Weights {
		weights[id] = decimal.NewFromFloat(w)
	}

	if err := r.buildBus(ctx, logger, o.sinks); err != nil {
		return nil, err
	}

	r.history, err = monitor.NewHistory(cfg.History.Size, cfg.History.CSVPath, cfg.History.FlushInterval, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}
	r.shutdown.Add("history", r.history)

	r.monitor, err = monitor.New(monitor.MonitorContext{
		Logger:     logger,
		Clock:      o.clock,
		Exchange:   ex,
		Cache:      r.cache,
		Analyzer:   fib.Analyzer{SigmaRatio: decimal.NewFromFloat(cfg.Fib.SigmaRatio)},
		Panel:      panel,
		Aggregator: aggregate.New(weights),
		Events:     r.bus,
		Metrics:    r.metrics,
		History:    r.history,
		Config:     cfg.Monitor,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	if cfg.Status.Addr != "" {
		r.status = status.NewServer(cfg.Status, status.Deps{
			Monitor: r.monitor,
			Cache:   r.cache,
			History: r.history,
			Events:  r.ring,
			Metrics: r.metrics,
		}, logger)
	}
	return r, nil
}

// buildBus subscribes the configured sinks. The in-memory ring is always
// present; an unreachable Redis or Kafka sink is logged and left out.
func (r *Runner) buildBus(ctx context.Context, logger *zap.Logger, extra []namedHandler) error {
	cfg := r.cfg
	r.bus = events.NewBus(logger, r.metrics)
	r.ring = events.NewRing(cfg.Sinks.RingSize)
	r.bus.Subscribe("ring", r.ring)

	if cfg.Journal.Path != "" {
		journal, err := events.NewJournal(cfg.Journal.Path, cfg.Journal.FlushInterval, logger)
		if err != nil {
			return fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		r.shutdown.Add("journal", journal)
		r.bus.Subscribe("journal", journal)
	}

	if cfg.Sinks.Redis.Addr != "" {
		sink, err := events.NewRedisSink(ctx, cfg.Sinks.Redis, logger, r.metrics)
		if err != nil {
			r.logger.Warn("Redis sink disabled", zap.String("addr", cfg.Sinks.Redis.Addr), zap.Error(err))
		} else {
			r.shutdown.Add("redis", sink)
			r.bus.Subscribe("redis", sink)
		}
	}

	if len(cfg.Sinks.Kafka.Brokers) > 0 {
		sink, err := events.NewKafkaSink(cfg.Sinks.Kafka, logger, r.metrics)
		if err != nil {
			r.logger.Warn("Kafka sink disabled", zap.Strings("brokers", cfg.Sinks.Kafka.Brokers), zap.Error(err))
		} else {
			r.shutdown.Add("kafka", sink)
			r.bus.Subscribe("kafka", sink)
		}
	}

	for _, s := range extra {
		r.bus.Subscribe(s.name, s.handler)
	}

	r.logger.Info("Event sinks ready", zap.Strings("sinks", r.bus.Handlers()))
	return nil
}

// Monitor returns the monitor loop.
func (r *Runner) Monitor() *monitor.Monitor {
	return r.monitor
}

// Events returns the in-memory event ring.
func (r *Runner) Events() *events.Ring {
	return r.ring
}

// Run polls until ctx is cancelled or the loop fails, serving status in
// parallel when configured. The first failure stops both.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.monitor.Run(gctx)
	})
	if r.status != nil {
		g.Go(func() error {
			return r.status.Run(gctx)
		})
	}

	err := g.Wait()
	switch {
	case err == nil:
	case exchange.KindOf(err) == exchange.KindCancelled:
		r.logger.Info("Monitor stopped", zap.Uint64("poll_seq", r.monitor.Status().PollSeq))
	default:
		r.logger.Error("Monitor failed", zap.Error(err))
	}
	return err
}

// Once runs a single poll.
func (r *Runner) Once(ctx context.Context) (monitor.Outcome, error) {
	return r.monitor.Once(ctx)
}

// Close releases every component, most recently opened first.
func (r *Runner) Close() error {
	return r.shutdown.Shutdown(context.Background())
}
