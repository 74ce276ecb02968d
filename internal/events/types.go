package events

import (
	"time"
)

// Kind is the type of a journal record.
type Kind string

const (
	KindOpen           Kind = "open"
	KindClose          Kind = "close"
	KindChange         Kind = "change"
	KindRecommendation Kind = "recommendation"
	KindOrder          Kind = "order"
	KindError          Kind = "error"
	KindDegraded       Kind = "degraded"
)

// Record is one event-log line.
type Record struct {
	TS         time.Time `json:"ts"`
	PollSeq    uint64    `json:"poll_seq"`
	Kind       Kind      `json:"kind"`
	PositionID string    `json:"position_id,omitempty"`
	Payload    any       `json:"payload"`
}

// ErrorPayload describes an isolated failure, such as a malformed position.
type ErrorPayload struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Index     *int   `json:"index,omitempty"`
}

// DegradedPayload is attached to a poll whose fetch ultimately failed.
type DegradedPayload struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Degraded  bool   `json:"degraded"`
}

// OrderPayload records an exit order submission and its outcome.
type OrderPayload struct {
	Verdict        string `json:"verdict"`
	Quantity       string `json:"quantity"`
	Type           string `json:"type"`
	IdempotencyKey string `json:"idempotency_key"`
	ClientOrderID  string `json:"client_order_id,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}
