package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // calls pass through
	StateOpen                  // calls fail fast with ErrOpen
	StateHalfOpen              // one trial call decides
)

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
	FailureThreshold int           // consecutive failures that open the circuit
	OpenTimeout      time.Duration // time spent open before a trial call
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      10 * time.Second,
	}
}

// CircuitBreaker fails fast after repeated failures of the guarded call.
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool

	onStateChange func(from, to State)
}

func New(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// OnStateChange registers fn, called synchronously outside the lock.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	var from, to State
	changed := false
	allowed := true

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			allowed = false
			break
		}
		from, to, changed = cb.transition(StateHalfOpen)
		cb.trial = true
	case StateHalfOpen:
		if cb.trial {
			allowed = false
			break
		}
		cb.trial = true
	}
	notify := cb.onStateChange
	cb.mu.Unlock()

	if changed && notify != nil {
		notify(from, to)
	}
	return allowed
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	var from, to State
	changed := false

	switch {
	case success:
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.trial = false
			from, to, changed = cb.transition(StateClosed)
		}
	case cb.state == StateHalfOpen:
		cb.trial = false
		from, to, changed = cb.transition(StateOpen)
	default:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.config.FailureThreshold {
			from, to, changed = cb.transition(StateOpen)
		}
	}
	notify := cb.onStateChange
	cb.mu.Unlock()

	if changed && notify != nil {
		notify(from, to)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) (State, State, bool) {
	from := cb.state
	if from == to {
		return from, to, false
	}
	cb.state = to
	cb.failures = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	return from, to, true
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
