// Package resilience provides fault-tolerance primitives for calls to
// remote stores: a circuit breaker, exponential-backoff retry and a
// context-based timeout wrapper.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreakerConfig controls when a breaker trips and how it probes for
// recovery. IsFailure decides which errors count against the breaker; nil
// counts every non-nil error except permanent ones. OnStateChange runs with
// the breaker locked and must not call back into it.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	ResetTimeout        time.Duration
	HalfOpenMaxRequests int
	IsFailure           func(error) bool
	OnStateChange       func(name string, from, to State)
}

// Counts is a snapshot of breaker activity since the last transition.
type Counts struct {
	Requests            int
	ConsecutiveFailures int
	Rejected            int
}

// CircuitBreaker trips open after FailureThreshold consecutive failures,
// rejects calls for ResetTimeout, then lets HalfOpenMaxRequests probes
// through. A successful probe closes it; a failed one reopens it. Results
// of calls started before a transition are discarded.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	openedAt   time.Time
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return !IsPermanent(err) }
	}
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn unless the breaker is rejecting calls, in which case the
// returned error wraps ErrCircuitOpen and fn is not called.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(gen, err == nil || !cb.cfg.IsFailure(err))
	return err
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

// expire moves an open breaker to half-open once ResetTimeout has passed.
func (cb *CircuitBreaker) expire() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expire()
	switch {
	case cb.state == StateOpen:
		cb.counts.Rejected++
		wait := cb.cfg.ResetTimeout - cb.now().Sub(cb.openedAt)
		return 0, fmt.Errorf("%w: %s (retry in %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
	case cb.state == StateHalfOpen && cb.counts.Requests >= cb.cfg.HalfOpenMaxRequests:
		cb.counts.Rejected++
		return 0, fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
	}
	cb.counts.Requests++
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(gen uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if gen != cb.generation {
		return
	}
	if ok {
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed)
		}
		return
	}
	cb.counts.ConsecutiveFailures++
	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold {
		cb.logger.Warn("circuit opened",
			"from", cb.state.String(),
			"consecutive_failures", cb.counts.ConsecutiveFailures,
		)
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.counts = Counts{}
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if from == to {
		return
	}
	if to != StateOpen {
		cb.logger.Info("circuit state changed", "from", from.String(), "to", to.String())
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}
