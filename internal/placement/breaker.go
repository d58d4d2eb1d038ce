package placement

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CircuitState is the state of a Breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned while the object store is considered down.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when a half-open breaker is already
	// testing the backend with a trial call.
	ErrTooManyRequests = errors.New("too many requests while circuit is half-open")
)

// Breaker fails object-store calls fast after repeated infrastructure
// failures, then lets a single trial call through once timeout has elapsed.
type Breaker struct {
	mu sync.Mutex

	maxFailures uint32
	timeout     time.Duration
	maxHalfOpen uint32
	logger      zerolog.Logger
	now         func() time.Time

	state            CircuitState
	failures         uint32
	lastFailureTime  time.Time
	halfOpenRequests uint32
}

// NewBreaker opens after maxFailures consecutive failures and stays open
// for timeout.
func NewBreaker(maxFailures uint32, timeout time.Duration, logger zerolog.Logger) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		maxHalfOpen: 1,
		logger:      logger,
		now:         time.Now,
		state:       StateClosed,
	}
}

// Execute runs fn under breaker protection. Errors for which countable
// returns false (client-side outcomes such as "object exists") pass
// through without counting as failures.
func (cb *Breaker) Execute(fn func() error, countable func(error) bool) error {
	cb.mu.Lock()
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) <= cb.timeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.halfOpenRequests = 1
		cb.logger.Info().Dur("timeout", cb.timeout).Msg("circuit breaker half-open")
	case StateHalfOpen:
		if cb.halfOpenRequests >= cb.maxHalfOpen {
			cb.mu.Unlock()
			return ErrTooManyRequests
		}
		cb.halfOpenRequests++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && (countable == nil || countable(err)) {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return err
}

func (cb *Breaker) onSuccess() {
	if cb.state == StateHalfOpen {
		cb.logger.Info().Msg("circuit breaker closed")
	}
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenRequests = 0
}

func (cb *Breaker) onFailure() {
	cb.failures++
	cb.lastFailureTime = cb.now()

	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		if cb.state != StateOpen {
			cb.logger.Warn().
				Uint32("failures", cb.failures).
				Uint32("max_failures", cb.maxFailures).
				Dur("timeout", cb.timeout).
				Msg("circuit breaker opened")
		}
		cb.state = StateOpen
		cb.halfOpenRequests = 0
	}
}

// State returns the current circuit state.
func (cb *Breaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
