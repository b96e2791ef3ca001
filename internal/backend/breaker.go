package backend

import (
	"context"
	"sync"
	"time"
)

// BreakerState is the circuit breaker position
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "closed"
}

// Breaker stops traffic to a backend after an unavailable failure. After
// the cooldown a single probe request is let through; its outcome closes
// or re-opens the circuit.
type Breaker struct {
	mu          sync.Mutex
	state       BreakerState
	cooldown    time.Duration
	now         func() time.Time
	openedAt    time.Time
	outageStart time.Time
	changed     chan struct{}
	onChange    func(BreakerState)
}

// NewBreaker creates a closed breaker. A nil clock means time.Now.
func NewBreaker(cooldown time.Duration, clock func() time.Time) *Breaker {
	if clock == nil {
		clock = time.Now
	}
	return &Breaker{
		cooldown: cooldown,
		now:      clock,
		changed:  make(chan struct{}),
	}
}

// OnStateChange registers a callback invoked (under the breaker lock) on transitions
func (b *Breaker) OnStateChange(fn func(BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// State returns the current state, promoting open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && !b.now().Before(b.openedAt.Add(b.cooldown)) {
		return BreakerHalfOpen
	}
	return b.state
}

// Allow reports whether a request may be sent. It returns ErrCircuitOpen
// while open, and while a half-open probe is already in flight. probe is
// true when the caller was granted the single half-open probe and must
// report back through Record or Abandon.
func (b *Breaker) Allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return false, nil
	case BreakerOpen:
		if b.now().Before(b.openedAt.Add(b.cooldown)) {
			return false, ErrCircuitOpen
		}
		b.transition(BreakerHalfOpen)
		return true, nil
	default:
		return false, ErrCircuitOpen
	}
}

// Record feeds the outcome of a request that Allow let through. Any answer
// other than unavailable proves the backend is reachable.
func (b *Breaker) Record(class Class, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if failed && class == ClassUnavailable {
		if b.outageStart.IsZero() {
			b.outageStart = b.now()
		}
		b.openedAt = b.now()
		b.transition(BreakerOpen)
		return
	}
	b.outageStart = time.Time{}
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// Abandon is called when an allowed request ended without an answer
// because the caller cancelled it. A pending probe slot is freed so the
// next caller can probe immediately.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.openedAt = b.now().Add(-b.cooldown)
		b.transition(BreakerOpen)
	}
}

// UnavailableSince returns when the current outage began
func (b *Breaker) UnavailableSince() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outageStart, !b.outageStart.IsZero()
}

// WaitReady blocks until a request has a chance of being allowed: the
// circuit is closed, or the cooldown elapsed and no probe is in flight.
func (b *Breaker) WaitReady(ctx context.Context) error {
	for {
		b.mu.Lock()
		state := b.state
		remaining := b.openedAt.Add(b.cooldown).Sub(b.now())
		changed := b.changed
		b.mu.Unlock()

		switch {
		case state == BreakerClosed:
			return nil
		case state == BreakerOpen && remaining <= 0:
			return nil
		case state == BreakerOpen:
			timer := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-changed:
				timer.Stop()
			case <-timer.C:
			}
		default:
			// half-open: wait for the probe's verdict
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-changed:
			}
		}
	}
}

// transition must be called with b.mu held
func (b *Breaker) transition(to BreakerState) {
	if b.state == to && to != BreakerOpen {
		return
	}
	b.state = to
	close(b.changed)
	b.changed = make(chan struct{})
	if b.onChange != nil {
		b.onChange(to)
	}
}
