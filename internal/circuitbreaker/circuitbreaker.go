package circuitbreaker

import (
	"sync"
	"time"

	"gateway/pkg/errors"
)

// State represents the state of a circuit breaker
type State int

const (
	// StateClosed allows requests to pass through
	StateClosed State = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a single trial request to test recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
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

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// ResetTimeout is the duration of the open state before a trial is allowed
	ResetTimeout time.Duration
	// TripOnServerError counts upstream 5xx responses as failures
	TripOnServerError bool
	// OnStateChange is called when the state changes
	OnStateChange func(from, to State)
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		TripOnServerError: true,
	}
}

// Breaker is a per-backend-URL failure-isolation state machine.
//
// CLOSED: requests pass; FailureThreshold consecutive failures open it.
// OPEN: requests are rejected until ResetTimeout has elapsed since openedAt.
// HALF_OPEN: exactly one trial request passes; concurrent callers are
// rejected as if still open. Trial success closes, trial failure reopens.
type Breaker struct {
	config Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	trialInFlight       bool
}

// New creates a new circuit breaker
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &Breaker{config: config}
}

// State returns the current state, applying the OPEN -> HALF_OPEN
// transition if the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Ready reports whether the breaker would let a request through right now.
// Used by the load balancer's health filter; it does not claim the
// half-open trial slot.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return !b.trialInFlight
	default:
		return false
	}
}

// Allow checks whether a request may proceed, claiming the trial slot in
// half-open state. Callers that get true must report the outcome via
// Success or Failure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return false
	}
}

// Success records a successful request
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.trialInFlight = false
		b.consecutiveFailures = 0
		b.changeState(StateClosed)
	}
}

// Failure records a failed request
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.openedAt = time.Now()
			b.changeState(StateOpen)
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.openedAt = time.Now()
		b.changeState(StateOpen)
	}
}

// Stats returns a snapshot of breaker state for observability
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()

	return Stats{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// maybeHalfOpen transitions OPEN to HALF_OPEN once the reset timeout has
// elapsed. Must be called with the lock held.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.config.ResetTimeout {
		b.changeState(StateHalfOpen)
	}
}

// changeState changes state and notifies the callback. Must be called
// with the lock held.
func (b *Breaker) changeState(newState State) {
	if b.state == newState {
		return
	}
	from := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		// Run outside the lock
		go b.config.OnStateChange(from, newState)
	}
}

// Stats holds a circuit breaker snapshot
type Stats struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// ErrCircuitOpen is returned when a request is rejected by an open breaker
var ErrCircuitOpen = errors.NewError(errors.ErrorTypeCircuitOpen, "circuit breaker is open")
