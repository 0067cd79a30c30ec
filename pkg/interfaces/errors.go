package interfaces

import (
	"errors"
	"fmt"
	"time"
)

// Common error variables returned across the SDK
var (
	// ErrNotConnected is returned when an operation is attempted on a
	// streaming session that hasn't been connected yet or lost connection
	ErrNotConnected = errors.New("streaming session not connected")

	// ErrTokenNotFound is returned when no usable credential exists in the
	// token store and nothing is cached in memory
	ErrTokenNotFound = errors.New("no valid token found, authentication required")

	// ErrTooManySymbols is returned when a subscription request exceeds the
	// transport-declared maximum for the socket variant
	ErrTooManySymbols = errors.New("subscription exceeds maximum symbols per connection")

	// ErrInvalidChannel is returned when a tick-by-tick channel id is outside
	// the range supported by the depth transport
	ErrInvalidChannel = errors.New("invalid depth channel id")

	// ErrSubscriptionNotFound is returned when unsubscribing symbols that
	// were never subscribed on this session
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrAlreadyConnected is returned when Connect is called on a session
	// that is already connected or connecting
	ErrAlreadyConnected = errors.New("streaming session already connected")
)

// Tier identifies which rate-limit window rejected a call.
type Tier string

const (
	TierSecond Tier = "second"
	TierMinute Tier = "minute"
	TierDay    Tier = "day"
)

// AuthError represents a credential the provider rejected: a bad or expired
// token, a refused authorization code, or an auth failure reported inside a
// 2xx envelope. It is not retryable without re-running the auth flow.
type AuthError struct {
	Code    int
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("auth error [%d]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("auth error: %s", e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates an AuthError with a provider code and message.
func NewAuthError(code int, message string) error {
	return &AuthError{Code: code, Message: message}
}

// RateLimitError is returned when a call would exceed one of the configured
// rate-limit tiers. RetryAfter is the shortest wait that could allow the
// call to pass; for the day tier it spans until local midnight and the call
// should not be retried before then.
type RateLimitError struct {
	Tier       Tier
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded on %s tier, retry after %s", e.Tier, e.RetryAfter)
}

// APIError represents a business request the provider rejected, either via
// an HTTP status >= 400 or an "error" status inside a 2xx envelope.
type APIError struct {
	Status  int
	Code    int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error [http %d, code %d]: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error [http %d]: %s", e.Status, e.Body)
}

// NetworkError represents a transport-level failure (DNS, refused
// connection, timeout) before any provider response was received.
// Callers may retry these.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
