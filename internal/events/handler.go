package events

import (
	"context"
)

// Handler receives published records. Handlers run synchronously on the
// publisher's goroutine and should return quickly.
type Handler interface {
	Handle(ctx context.Context, rec Record) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as handlers.
type HandlerFunc func(ctx context.Context, rec Record) error

// Handle calls f(ctx, rec).
func (f HandlerFunc) Handle(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Subscription represents a subscription to records.
type Subscription interface {
	// Unsubscribe removes the subscription.
	Unsubscribe()
}

type subscription struct {
	id  string
	bus *Bus
}

// Unsubscribe removes this subscription from the bus.
func (s *subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}
