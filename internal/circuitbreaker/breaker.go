package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	Closed   State = iota // requests pass through
	Open                  // requests are rejected immediately
	HalfOpen              // one request probes recovery
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureClassifier decides which errors count against the breaker.
// Errors it rejects are returned to the caller but reset nothing and open nothing.
func WithFailureClassifier(fn func(error) bool) Option {
	return func(b *Breaker) { b.isFailure = fn }
}

// OnStateChange registers a hook called after every state transition,
// outside the breaker's lock.
func OnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name            string
	mu              sync.Mutex
	state           State
	failures        int
	maxFailures     int
	resetTimeout    time.Duration
	lastFailureTime time.Time

	isFailure func(error) bool
	onChange  func(name string, from, to State)
}

// New creates a Breaker that opens after maxFailures consecutive failures
// and attempts recovery after resetTimeout.
func New(name string, maxFailures int, resetTimeout time.Duration, opts ...Option) *Breaker {
	b := &Breaker{
		name:         name,
		state:        Closed,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		isFailure:    func(err error) bool { return err != nil },
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the breaker's name.
func (b *Breaker) Name() string {
	return b.name
}

// setState must be called with mu held. It returns a func that fires the
// change hook, to be called after unlocking.
func (b *Breaker) setState(to State) func() {
	from := b.state
	b.state = to
	if from == to || b.onChange == nil {
		return func() {}
	}
	return func() { b.onChange(b.name, from, to) }
}

// Execute runs fn through the circuit breaker. If the circuit is open,
// ErrCircuitOpen is returned without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	probe := func() {}
	if b.state == Open {
		if time.Since(b.lastFailureTime) <= b.resetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		probe = b.setState(HalfOpen)
	}
	b.mu.Unlock()
	probe()

	err := fn()

	b.mu.Lock()
	notify := func() {}
	switch {
	case err != nil && b.isFailure(err):
		b.failures++
		b.lastFailureTime = time.Now()
		if b.failures >= b.maxFailures || b.state == HalfOpen {
			notify = b.setState(Open)
		}
	case err != nil:
		// not a failure; a half-open probe that got an answer proves recovery
		if b.state == HalfOpen {
			b.failures = 0
			notify = b.setState(Closed)
		}
	default:
		b.failures = 0
		notify = b.setState(Closed)
	}
	b.mu.Unlock()
	notify()
	return err
}

// GetState returns the current state of the breaker.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
