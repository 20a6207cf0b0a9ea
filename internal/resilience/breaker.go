// Package resilience provides reliability patterns for storage, broker and
// webhook calls.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while a breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the position of a breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker stops calling a failing sink after maxFailures consecutive errors.
// Once open it rejects calls for timeout, then lets a single probe through:
// success closes it, failure reopens it.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker. name appears in transition logs.
func NewBreaker(name string, maxFailures int, timeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
		state:       StateClosed,
	}
}

// Execute runs fn unless the breaker is open. A context.Canceled error
// from fn is returned without counting as a failure.
func (b *Breaker) Execute(fn func() error) error {
	probe, ok := b.acquire()
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		b.probing = false
	}
	switch {
	case err == nil:
		b.failures = 0
		b.transition(StateClosed)
	case errors.Is(err, context.Canceled):
	default:
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	}
	return err
}

// acquire reports whether a call may proceed and whether it is the probe.
func (b *Breaker) acquire() (probe, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		b.transition(StateHalfOpen)
	}
	switch b.state {
	case StateClosed:
		return false, true
	case StateHalfOpen:
		if b.probing {
			return false, false
		}
		b.probing = true
		return true, true
	}
	return false, false
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == StateOpen {
		slog.Warn("circuit breaker opened", "breaker", b.name, "from", from, "failures", b.failures, "retry_in", b.timeout)
		return
	}
	slog.Info("circuit breaker state changed", "breaker", b.name, "from", from, "to", to)
}

// State reports the current position, treating an expired open period as
// half open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.timeout {
		return StateHalfOpen
	}
	return b.state
}

// Ping fails while the breaker is open, so a breaker can sit in a health
// check next to the sink it guards.
func (b *Breaker) Ping(context.Context) error {
	if b.State() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}
