package http

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal state where requests are allowed.
	CircuitClosed CircuitState = iota
	// CircuitOpen is the state where requests fail fast.
	CircuitOpen
	// CircuitHalfOpen lets a single probe request through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Circuit breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
)

type circuit struct {
	state       CircuitState
	failures    int
	changedAt   time.Time
	probeIssued bool
}

// CircuitBreaker tracks consecutive failures per host and fails fast once
// a host reaches the threshold. After RecoveryTimeout one probe is let
// through; its outcome closes or reopens the circuit.
type CircuitBreaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	recovery  time.Duration
	now       func() time.Time

	// OnStateChange, if set, is called with the lock released.
	OnStateChange func(host string, from, to CircuitState)
}

// NewCircuitBreaker creates a breaker. Non-positive arguments take the
// defaults.
func NewCircuitBreaker(threshold int, recovery time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
}

func (cb *CircuitBreaker) get(host string) *circuit {
	c, ok := cb.circuits[host]
	if !ok {
		c = &circuit{changedAt: cb.now()}
		cb.circuits[host] = c
	}
	return c
}

// transition must be called with the lock held; it returns a notifier to
// run after unlocking.
func (cb *CircuitBreaker) transition(host string, c *circuit, to CircuitState) func() {
	from := c.state
	c.state = to
	c.changedAt = cb.now()
	c.probeIssued = false
	if cb.OnStateChange == nil || from == to {
		return func() {}
	}
	return func() { cb.OnStateChange(host, from, to) }
}

// Allow returns ErrCircuitOpen when requests to host must not be sent.
func (cb *CircuitBreaker) Allow(host string) error {
	cb.mu.Lock()
	c := cb.get(host)
	notify := func() {}
	var err error

	switch c.state {
	case CircuitOpen:
		if cb.now().Sub(c.changedAt) < cb.recovery {
			err = ErrCircuitOpen
			break
		}
		notify = cb.transition(host, c, CircuitHalfOpen)
		c.probeIssued = true
	case CircuitHalfOpen:
		if c.probeIssued {
			err = ErrCircuitOpen
		} else {
			c.probeIssued = true
		}
	}
	cb.mu.Unlock()

	notify()
	return err
}

// RecordSuccess closes a half-open circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(host string) {
	cb.mu.Lock()
	c := cb.get(host)
	c.failures = 0
	notify := func() {}
	if c.state != CircuitClosed {
		notify = cb.transition(host, c, CircuitClosed)
	}
	cb.mu.Unlock()
	notify()
}

// RecordFailure counts a failure; a failed probe reopens the circuit.
func (cb *CircuitBreaker) RecordFailure(host string) {
	cb.mu.Lock()
	c := cb.get(host)
	c.failures++
	notify := func() {}
	switch c.state {
	case CircuitClosed:
		if c.failures >= cb.threshold {
			notify = cb.transition(host, c, CircuitOpen)
		}
	case CircuitHalfOpen:
		notify = cb.transition(host, c, CircuitOpen)
	}
	cb.mu.Unlock()
	notify()
}

// State reports the state of host's circuit.
func (cb *CircuitBreaker) State(host string) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	c, ok := cb.circuits[host]
	if !ok {
		return CircuitClosed
	}
	if c.state == CircuitOpen && cb.now().Sub(c.changedAt) >= cb.recovery {
		return CircuitHalfOpen
	}
	return c.state
}

// Reset forgets every circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.circuits = make(map[string]*circuit)
}
