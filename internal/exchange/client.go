package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/metrics"
)

const maxResponseBytes = 4 << 20

var rateLimitMarkers = []string{"too many requests", "rate limit", "frequen"}

// envelope is the venue response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client is a signed, rate-limited REST client for the venue.
// Concurrent calls are safe and serialized by the per-class token buckets.
type Client struct {
	cfg      Config
	http     *http.Client
	signer   *Signer
	limiters *Limiters
	clock    *skewClock
	logger   *zap.Logger
	metrics  *metrics.Collector
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithNow overrides the wall clock used for request timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.clock.now = now }
}

// WithSleep replaces the wait between retries. sleep must return early with
// the context error once ctx is done.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// NewClient creates a client for cfg.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		cfg:      cfg,
		http:     &http.Client{},
		signer:   NewSigner(cfg.APIKey, cfg.APISecret, cfg.Passphrase, cfg.Headers),
		limiters: NewLimiters(cfg.Limits),
		clock:    newSkewClock(time.Now, cfg.MaxClockSkew),
		logger:   logger.Named("exchange"),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClockOffset is the correction currently applied to request timestamps.
func (c *Client) ClockOffset() time.Duration {
	return c.clock.Offset()
}

// Close wipes credentials from memory.
func (c *Client) Close() error {
	c.signer.Wipe()
	return nil
}

type request struct {
	op      string
	class   Class
	method  string
	path    string
	query   url.Values
	body    any
	private bool
}

// do executes req under the retry policy and returns the envelope data.
func (c *Client) do(ctx context.Context, req request) (json.RawMessage, error) {
	var body []byte
	if req.body != nil {
		var err error
		if body, err = json.Marshal(req.body); err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", req.op, err)
		}
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Retry.TotalTimeout)
	defer cancel()

	var (
		lastErr  error
		resynced bool
		attempt  int
	)

	operation := func() (json.RawMessage, error) {
		attempt++
		if err := c.limiters.Wait(ctx, req.class); err != nil {
			lastErr = c.interrupted(parent, req.op, err)
			return nil, backoff.Permanent(lastErr)
		}

		start := time.Now()
		data, err := c.attempt(ctx, req, body)
		c.metrics.ObserveRequest(string(req.class), time.Since(start), err == nil)
		if err == nil {
			return data, nil
		}
		lastErr = err

		var apiErr *Error
		if !errors.As(err, &apiErr) {
			return nil, backoff.Permanent(err)
		}

		switch apiErr.Kind {
		case KindRateLimit:
			if apiErr.RetryAfter > 0 {
				return nil, &backoff.RetryAfterError{Duration: apiErr.RetryAfter}
			}
			return nil, err
		case KindTransport:
			return nil, err
		case KindClient:
			if req.private && !resynced && errors.Is(err, ErrRequestExpired) {
				resynced = true
				if rerr := c.resync(ctx); rerr != nil {
					c.logger.Warn("Clock resync failed", zap.Error(rerr))
					return nil, backoff.Permanent(err)
				}
				return nil, &backoff.RetryAfterError{}
			}
			return nil, backoff.Permanent(err)
		default:
			return nil, backoff.Permanent(err)
		}
	}

	notify := func(err error, next time.Duration) {
		c.metrics.IncRetry(string(req.class), KindOf(lastErr).String())
		c.logger.Debug("Retrying request",
			zap.String("op", req.op),
			zap.Int("attempt", attempt),
			zap.Duration("next", next),
			zap.Error(lastErr))
	}

	policy := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.Retry.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         c.cfg.Retry.MaxDelay,
	}

	data, err := c.retry(ctx, policy, operation, notify)
	if err == nil {
		return data, nil
	}

	if parent.Err() != nil {
		return nil, cancelled(req.op, parent.Err())
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	var after *backoff.RetryAfterError
	if errors.As(err, &after) || errors.Is(err, context.DeadlineExceeded) {
		if lastErr != nil {
			err = lastErr
		}
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		err = &Error{Kind: KindTransport, Op: req.op, Err: err}
	}
	return nil, err
}

// retry runs operation until it succeeds, fails permanently, or runs out of
// attempts or elapsed time. Waits between attempts go through c.sleep.
func (c *Client) retry(ctx context.Context, policy backoff.BackOff, operation backoff.Operation[json.RawMessage], notify backoff.Notify) (json.RawMessage, error) {
	maxTries := uint(c.cfg.Retry.MaxAttempts)
	started := time.Now()
	policy.Reset()

	for tries := uint(1); ; tries++ {
		data, err := operation()
		if err == nil {
			return data, nil
		}
		if maxTries > 0 && tries >= maxTries {
			return nil, err
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, err
		}
		if cerr := context.Cause(ctx); cerr != nil {
			return nil, cerr
		}

		next := policy.NextBackOff()
		if next == backoff.Stop {
			return nil, err
		}
		var after *backoff.RetryAfterError
		if errors.As(err, &after) {
			next = after.Duration
			policy.Reset()
		}
		if time.Since(started)+next > c.cfg.Retry.TotalTimeout {
			return nil, err
		}

		notify(err, next)
		if serr := c.sleep(ctx, next); serr != nil {
			return nil, serr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt performs a single HTTP round trip bounded by the per-attempt timeout.
func (c *Client) attempt(ctx context.Context, req request, body []byte) (json.RawMessage, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Retry.AttemptTimeout)
	defer cancel()

	query := ""
	if len(req.query) > 0 {
		query = req.query.Encode()
	}
	target := strings.TrimRight(c.cfg.BaseURL, "/") + req.path
	if query != "" {
		target += "?" + query
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(actx, req.method, target, reader)
	if err != nil {
		return nil, &Error{Kind: KindClient, Op: req.op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.Locale != "" {
		httpReq.Header.Set("locale", c.cfg.Locale)
	}
	if req.private {
		c.signer.Apply(httpReq.Header, c.clock.Timestamp(), req.method, req.path, query, string(body))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, cancelled(req.op, ctx.Err())
		}
		return nil, &Error{Kind: KindTransport, Op: req.op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: req.op, Status: resp.StatusCode, Err: err}
	}
	return c.classify(req.op, resp, raw)
}

// classify maps an HTTP response to data or a typed error.
func (c *Client) classify(op string, resp *http.Response, raw []byte) (json.RawMessage, error) {
	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	ok2xx := resp.StatusCode >= 200 && resp.StatusCode < 300
	success := ok2xx && decodeErr == nil && env.Code == c.cfg.SuccessCode

	if success {
		return env.Data, nil
	}

	msg := env.Msg
	if decodeErr != nil {
		msg = strings.TrimSpace(string(raw))
	}

	base := Error{Op: op, Status: resp.StatusCode, Code: env.Code, Message: msg}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || env.Code == "429" || hasRateLimitMarker(msg):
		base.Kind = KindRateLimit
		base.RetryAfter = retryAfter(resp.Header)
	case resp.StatusCode >= 500:
		base.Kind = KindTransport
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		slices.Contains(c.cfg.AuthCodes, env.Code):
		base.Kind = KindAuth
	case ok2xx && decodeErr != nil:
		base.Kind = KindProtocol
		base.Err = decodeErr
	default:
		e := ClientError(env.Code, msg)
		e.Op, e.Status = op, resp.StatusCode
		if slices.Contains(c.cfg.ExpiredCodes, env.Code) {
			e.Err = ErrRequestExpired
		}
		return nil, e
	}
	return nil, &base
}

func hasRateLimitMarker(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

// resync measures the venue clock once and updates the timestamp offset.
func (c *Client) resync(ctx context.Context) error {
	sent := c.clock.now()
	data, err := c.attempt(ctx, request{
		op:     "server_time",
		class:  ClassMarket,
		method: http.MethodGet,
		path:   c.cfg.Endpoints.ServerTime,
	}, nil)
	if err != nil {
		return err
	}
	received := c.clock.now()

	server, err := parseServerTime(data)
	if err != nil {
		return err
	}
	off := c.clock.Adjust(server, sent, received)
	c.logger.Info("Clock resynchronized", zap.Duration("offset", off))
	return nil
}

func (c *Client) interrupted(parent context.Context, op string, err error) error {
	if parent.Err() != nil {
		return cancelled(op, parent.Err())
	}
	return &Error{Kind: KindTransport, Op: op, Err: err}
}
