package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies failures surfaced by the client.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport covers network failures, timeouts and 5xx responses.
	KindTransport
	// KindRateLimit is venue-signalled throttling.
	KindRateLimit
	// KindAuth means the signature or key was rejected.
	KindAuth
	// KindClient is any other 4xx rejection. Never retried.
	KindClient
	// KindProtocol is an unexpected payload shape.
	KindProtocol
	// KindCancelled is cooperative shutdown.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "auth"
	case KindClient:
		return "client"
	case KindProtocol:
		return "protocol"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

var (
	ErrCancelled      = errors.New("request cancelled")
	ErrRequestExpired = errors.New("request timestamp expired")
	ErrMissingField   = errors.New("missing field")
	ErrFieldType      = errors.New("unexpected field type")
)

// Error is a typed client failure.
type Error struct {
	Kind       Kind
	Op         string
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" code=%s", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClientError builds the fail-fast error returned for non-429 4xx responses.
func ClientError(code, message string) *Error {
	return &Error{Kind: KindClient, Code: code, Message: message}
}

// KindOf extracts the failure kind from err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransport, KindRateLimit:
		return true
	default:
		return false
	}
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

func cancelled(op string, err error) *Error {
	return &Error{Kind: KindCancelled, Op: op, Err: errors.Join(ErrCancelled, err)}
}
