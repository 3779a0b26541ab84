package circuitbreaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrOpen is returned by Allow callers when the breaker is rejecting calls
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker fails fast once a dependency has failed repeatedly and probes it
// again after a cooldown.
type Breaker struct {
	state        atomic.Int32
	failures     atomic.Int32
	successes    atomic.Int32
	openedAt     atomic.Int64
	maxFailures  int32
	probeSuccess int32
	cooldown     time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	onChange func(from, to State)
}

// New creates a breaker that opens after maxFailures consecutive failures and
// closes again after probeSuccess successes in half-open state.
func New(maxFailures, probeSuccess int32, cooldown time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if probeSuccess < 1 {
		probeSuccess = 1
	}
	return &Breaker{
		maxFailures:  maxFailures,
		probeSuccess: probeSuccess,
		cooldown:     cooldown,
		now:          time.Now,
	}
}

// OnStateChange registers a callback for transitions
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allow reports whether a call may proceed, moving open to half-open once the
// cooldown has passed.
func (b *Breaker) Allow() bool {
	switch b.State() {
	case StateClosed, StateHalfOpen:
		return true
	}
	if b.now().Sub(time.Unix(0, b.openedAt.Load())) > b.cooldown {
		b.transition(StateHalfOpen)
		return true
	}
	return false
}

// Success records a successful call
func (b *Breaker) Success() {
	switch b.State() {
	case StateHalfOpen:
		if b.successes.Add(1) >= b.probeSuccess {
			b.transition(StateClosed)
		}
	case StateClosed:
		b.failures.Store(0)
	}
}

// Failure records a failed call
func (b *Breaker) Failure() {
	switch b.State() {
	case StateClosed:
		if b.failures.Add(1) >= b.maxFailures {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.transition(StateOpen)
	}
}

func (b *Breaker) State() State {
	return State(b.state.Load())
}

func (b *Breaker) transition(to State) {
	from := State(b.state.Swap(int32(to)))
	if from == to {
		return
	}
	b.failures.Store(0)
	b.successes.Store(0)
	if to == StateOpen {
		b.openedAt.Store(b.now().UnixNano())
	}
	b.mu.RLock()
	fn := b.onChange
	b.mu.RUnlock()
	if fn != nil {
		fn(from, to)
	}
}
