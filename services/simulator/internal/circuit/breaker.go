// Package circuit stops the simulator from retrying a broker that keeps
// failing.
package circuit

import (
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Breaker opens after maxFailures consecutive failures. Once the cooldown
// has passed one probe call is let through: success closes the breaker,
// failure reopens it with a doubled cooldown capped at maxCooldown.
type Breaker struct {
	maxFailures  int
	baseCooldown time.Duration
	maxCooldown  time.Duration
	now          func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	cooldown time.Duration
	openedAt time.Time
	probing  bool

	rejected uint64
	onChange func(from, to State)
}

// NewBreaker creates a closed breaker.
func NewBreaker(maxFailures int, cooldown, maxCooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	if maxCooldown < cooldown {
		maxCooldown = cooldown
	}
	return &Breaker{
		maxFailures:  maxFailures,
		baseCooldown: cooldown,
		maxCooldown:  maxCooldown,
		cooldown:     cooldown,
		now:          time.Now,
	}
}

// OnStateChange registers fn to be called on every transition, with the
// breaker lock held.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Call runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Call(fn func() error) error {
	if !b.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.rejected++
			return false
		}
		b.transitionTo(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			b.rejected++
			return false
		}
		b.probing = true
		return true
	}
	return true
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state != StateClosed {
			b.cooldown = b.baseCooldown
			b.transitionTo(StateClosed)
		}
		b.probing = false
		return
	}

	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.maxFailures {
			b.open()
		}
	case StateHalfOpen:
		b.cooldown *= 2
		if b.cooldown > b.maxCooldown {
			b.cooldown = b.maxCooldown
		}
		b.open()
	}
	b.probing = false
}

func (b *Breaker) open() {
	b.failures = 0
	b.openedAt = b.now()
	b.transitionTo(StateOpen)
}

func (b *Breaker) transitionTo(s State) {
	if s == b.state {
		return
	}
	from := b.state
	b.state = s
	if b.onChange != nil {
		b.onChange(from, s)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Rejected returns how many calls were refused.
func (b *Breaker) Rejected() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected
}
