package marketplace

import (
	"errors"
	"sync"
	"time"
)

// Circuit breaker (Closed → Open → Half-Open) guarding one marketplace so an
// outage fast-fails queued pushes instead of piling up timeouts.

// CBState represents the current circuit breaker state.
type CBState int

const (
	CBClosed   CBState = iota // normal, requests flow
	CBOpen                    // tripped, fast-fail
	CBHalfOpen                // probing
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "closed"
	case CBOpen:
		return "open"
	case CBHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Execute while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig holds tunable parameters.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures to trip open
	SuccessThreshold int           // consecutive half-open successes to close
	OpenTimeout      time.Duration // time open before probing
}

// DefaultBreakerConfig trips after 5 failures and lets a trial request through after 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, OpenTimeout: 30 * time.Second}
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	mu              sync.Mutex
	state           CBState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	cfg             BreakerConfig
	now             func() time.Time
}

// NewCircuitBreaker creates a breaker in Closed state.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &CircuitBreaker{state: CBClosed, cfg: cfg, now: time.Now}
}

// State returns the current state, moving open → half-open once the timeout elapsed.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CBOpen && cb.now().Sub(cb.lastFailureTime) >= cb.cfg.OpenTimeout {
		cb.state = CBHalfOpen
		cb.successCount = 0
	}
	return cb.state
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if cb.State() == CBOpen {
		return ErrCircuitOpen
	}

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

// must be called under lock
func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CBClosed:
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.state = CBOpen
			cb.successCount = 0
		}
	case CBHalfOpen:
		cb.state = CBOpen
		cb.failureCount = 0
	}
}

// must be called under lock
func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case CBClosed:
		cb.failureCount = 0
	case CBHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.state = CBClosed
			cb.failureCount = 0
			cb.successCount = 0
		}
	}
}
