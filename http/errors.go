package http

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker for a host is open.
var ErrCircuitOpen = errors.New("http: circuit breaker is open")

// StatusError records an upstream response that counts as a host failure.
// The response itself is still handed back to the caller.
type StatusError struct {
	Host       string
	StatusCode int
	// RetryAfter is the server's Retry-After hint, if any.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("http: %s returned %d, retry after %v", e.Host, e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("http: %s returned %d", e.Host, e.StatusCode)
}
