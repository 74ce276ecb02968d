// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/position-monitor/internal/metrics"
)

type entry struct {
	id      string
	name    string
	kinds   map[Kind]struct{}
	handler Handler
}

func (e entry) wants(k Kind) bool {
	if len(e.kinds) == 0 {
		return true
	}
	_, ok := e.kinds[k]
	return ok
}

// Bus fans records out to subscribed handlers. Delivery is synchronous and
// in subscription order, so records published for one position reach every
// sink ordered by poll sequence.
type Bus struct {
	mu      sync.RWMutex
	entries []entry
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger, m *metrics.Collector) *Bus {
	return &Bus{
		logger:  logger.Named("event_bus"),
		metrics: m,
	}
}

// Subscribe registers a named handler for the given kinds, or for every
// kind when none are given.
func (b *Bus) Subscribe(name string, handler Handler, kinds ...Kind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	e := entry{id: id, name: name, handler: handler}
	if len(kinds) > 0 {
		e.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			e.kinds[k] = struct{}{}
		}
	}
	b.entries = append(b.entries, e)

	b.logger.Debug("Handler subscribed",
		zap.String("handler", name),
		zap.String("subscription_id", id))

	return &subscription{id: id, bus: b}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(name string, fn func(context.Context, Record) error, kinds ...Kind) Subscription {
	return b.Subscribe(name, HandlerFunc(fn), kinds...)
}

// Publish delivers rec to every interested handler. Handler failures are
// logged and counted; the joined error is returned for callers that care.
func (b *Bus) Publish(ctx context.Context, rec Record) error {
	b.mu.RLock()
	entries := make([]entry, len(b.entries))
	copy(entries, b.entries)
	b.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		if !e.wants(rec.Kind) {
			continue
		}
		if err := e.handler.Handle(ctx, rec); err != nil {
			b.logger.Error("Handler error",
				zap.String("handler", e.name),
				zap.String("kind", string(rec.Kind)),
				zap.Uint64("poll_seq", rec.PollSeq),
				zap.Error(err))
			b.metrics.IncSinkFailure(e.name)
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.entries {
		if e.id == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			b.logger.Debug("Handler unsubscribed",
				zap.String("handler", e.name),
				zap.String("subscription_id", id))
			return
		}
	}
}

// Handlers returns the names of the subscribed handlers in delivery order.
func (b *Bus) Handlers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.entries))
	for _, e := range b.entries {
		names = append(names, e.name)
	}
	return names
}
