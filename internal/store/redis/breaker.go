package redis

import (
	"errors"
	"sync"
	"time"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed   State = 0 // calls pass through
	StateOpen     State = 1 // calls fail fast with ErrCircuitOpen
	StateHalfOpen State = 2 // one probe call allowed
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

// ErrCircuitOpen is returned by Breaker.Do while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker opens after maxFailures consecutive failures and rejects calls
// for cooldown. The first call after cooldown is a probe: success closes
// the breaker, failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	trips       int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	now         func() time.Time

	onChange func(from, to State)
}

// NewBreaker creates a closed breaker. onChange, when non-nil, is called
// on every transition with the breaker lock held.
func NewBreaker(maxFailures int, cooldown time.Duration, onChange func(from, to State)) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
		onChange:    onChange,
	}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.set(StateHalfOpen)
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.openedAt = b.now()
			if b.state != StateOpen {
				b.trips++
				b.set(StateOpen)
			}
		}
		return err
	}
	b.failures = 0
	if b.state != StateClosed {
		b.set(StateClosed)
	}
	return nil
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Trips counts transitions into the open state.
func (b *Breaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

func (b *Breaker) set(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
