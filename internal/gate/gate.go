// Package gate provides a bounded admission gate for a scarce, non-shareable
// resource such as a GPU. At most Capacity holders exist at any time.
//
// Every successful acquisition yields a *Permit. Releasing a permit more than
// once is a no-op, so callers can both release early and defer a release.
package gate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultImmediateSlack is how long TryAcquireImmediate may wait for a slot
// that is being handed back at the moment of the call.
const DefaultImmediateSlack = 5 * time.Millisecond

// ErrInvalidCapacity is returned by New when capacity is less than one.
var ErrInvalidCapacity = errors.New("gate capacity must be at least 1")

// Gate is a counting admission gate. Waiters are served in arrival order,
// so no acquire starves while slots keep cycling.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
	slack    time.Duration

	// held lags sem by at most one in-flight grant/release. It is only read
	// for status reporting.
	held atomic.Int64
}

// Option configures a Gate.
type Option func(*Gate)

// WithImmediateSlack overrides DefaultImmediateSlack. A zero slack makes
// TryAcquireImmediate equivalent to TryAcquireWithin(ctx, 0).
func WithImmediateSlack(d time.Duration) Option {
	return func(g *Gate) {
		if d >= 0 {
			g.slack = d
		}
	}
}

// New creates a gate with the given number of slots.
func New(capacity int, opts ...Option) (*Gate, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	g := &Gate{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
		slack:    DefaultImmediateSlack,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Acquire blocks until a slot is free. It only fails if ctx is done first,
// in which case nothing is held.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return g.grant(), nil
}

// TryAcquireImmediate takes a slot if one is free now. It tolerates a few
// milliseconds of scheduling latency before giving up.
func (g *Gate) TryAcquireImmediate() (*Permit, bool) {
	if g.sem.TryAcquire(1) {
		return g.grant(), true
	}
	if g.slack == 0 {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.slack)
	defer cancel()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	return g.grant(), true
}

// TryAcquireWithin waits up to timeout for a slot. A zero or negative
// timeout is a pure probe that never waits. Cancelling ctx ends the wait early.
func (g *Gate) TryAcquireWithin(ctx context.Context, timeout time.Duration) (*Permit, bool) {
	if timeout <= 0 {
		if g.sem.TryAcquire(1) {
			return g.grant(), true
		}
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, false
	}
	return g.grant(), true
}

// IsSaturated reports whether no slot is currently free. The answer may be
// stale by the time the caller reads it; never use it to decide admission.
func (g *Gate) IsSaturated() bool {
	return g.held.Load() >= g.capacity
}

// Capacity returns the total number of slots.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// Held returns the number of slots currently held.
func (g *Gate) Held() int {
	return int(g.held.Load())
}

// Stats is a point-in-time snapshot of the gate.
type Stats struct {
	Capacity  int  `json:"capacity"`
	Held      int  `json:"held"`
	Saturated bool `json:"saturated"`
}

// Stats returns a snapshot suitable for status endpoints.
func (g *Gate) Stats() Stats {
	held := g.Held()
	return Stats{Capacity: g.Capacity(), Held: held, Saturated: held >= g.Capacity()}
}

func (g *Gate) grant() *Permit {
	g.held.Add(1)
	return &Permit{gate: g, acquiredAt: time.Now()}
}

// Permit is one held slot.
type Permit struct {
	gate       *Gate
	acquiredAt time.Time
	once       sync.Once
	released   atomic.Bool
}

// Release returns the slot to the gate. Only the first call has an effect.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.released.Store(true)
		p.gate.held.Add(-1)
		p.gate.sem.Release(1)
	})
}

// Released reports whether Release has been called.
func (p *Permit) Released() bool {
	return p.released.Load()
}

// HeldFor returns the time elapsed since the permit was granted.
func (p *Permit) HeldFor() time.Duration {
	if p == nil {
		return 0
	}
	return time.Since(p.acquiredAt)
}
