package status

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/cache"
	"github.com/rovshanmuradov/position-monitor/internal/events"
	"github.com/rovshanmuradov/position-monitor/internal/metrics"
	"github.com/rovshanmuradov/position-monitor/internal/monitor"
)

// Config holds server configuration. An empty Addr disables the server.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DefaultConfig returns a disabled server with sane timeouts.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Source reports the monitor loop status.
type Source interface {
	Status() monitor.Status
}

// Deps are the read-only views served over HTTP. Nil members disable their
// routes' data (empty lists) rather than the routes.
type Deps struct {
	Monitor Source
	Cache   *cache.Positions
	History *monitor.History
	Events  *events.Ring
	Metrics *metrics.Collector
}

// APIResponse is the response envelope of every JSON route.
type APIResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// Server exposes the monitor state over HTTP.
type Server struct {
	echo   *echo.Echo
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// NewServer creates the server and registers its routes.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	s := &Server{
		echo:   e,
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("status"),
	}

	e.Use(s.recoverPanics(), s.requestLogging())
	s.RegisterRoutes(e)
	return s
}

// RegisterRoutes mounts the status routes on e.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.Health)
	e.GET("/positions", s.Positions)
	e.GET("/positions/:id", s.Position)
	e.GET("/recommendations", s.Recommendations)
	e.GET("/recommendations/:id", s.Recommendation)
	e.GET("/events", s.Events)
	e.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Status server listening", zap.String("addr", s.cfg.Addr))
		errCh <- s.echo.Start(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info("Status server stopped")
	return nil
}

func respond(c echo.Context, statusCode int, data any) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// Health reports the loop state. Degraded or stopped loops answer 503.
func (s *Server) Health(c echo.Context) error {
	if s.deps.Monitor == nil {
		return respond(c, http.StatusServiceUnavailable, nil)
	}
	st := s.deps.Monitor.Status()
	code := http.StatusOK
	if st.Degraded || st.State == monitor.StateTerminated.String() {
		code = http.StatusServiceUnavailable
	}
	return respond(c, code, st)
}

// Positions lists tracked positions with their extremes and missed polls.
func (s *Server) Positions(c echo.Context) error {
	if s.deps.Cache == nil {
		return respond(c, http.StatusOK, []cache.Entry{})
	}
	return respond(c, http.StatusOK, s.deps.Cache.Entries())
}

// Position returns one tracked position.
func (s *Server) Position(c echo.Context) error {
	if s.deps.Cache != nil {
		if entry, ok := s.deps.Cache.Entry(c.Param("id")); ok {
			return respond(c, http.StatusOK, entry)
		}
	}
	return respond(c, http.StatusNotFound, "position not tracked")
}

// Recommendations returns recent recommendations, oldest first.
func (s *Server) Recommendations(c echo.Context) error {
	limit, err := queryLimit(c)
	if err != nil {
		return respond(c, http.StatusBadRequest, err.Error())
	}
	if s.deps.History == nil {
		return respond(c, http.StatusOK, []monitor.HistoryEntry{})
	}
	return respond(c, http.StatusOK, s.deps.History.Recent(limit))
}

// Recommendation returns the latest recommendation for a position.
func (s *Server) Recommendation(c echo.Context) error {
	if s.deps.History != nil {
		if entry, ok := s.deps.History.Latest(c.Param("id")); ok {
			return respond(c, http.StatusOK, entry)
		}
	}
	return respond(c, http.StatusNotFound, "no recommendation")
}

// Events returns the buffered journal records, optionally filtered by kind.
func (s *Server) Events(c echo.Context) error {
	if s.deps.Events == nil {
		return respond(c, http.StatusOK, []events.Record{})
	}
	if kind := c.QueryParam("kind"); kind != "" {
		return respond(c, http.StatusOK, s.deps.Events.Filter(events.Kind(kind)))
	}
	return respond(c, http.StatusOK, s.deps.Events.Records())
}

func queryLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return n, nil
}
