package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Barrier is a cyclic rendezvous for a fixed number of parties. When a
// waiter gives up, the current generation breaks and every party waiting on
// it is released with ErrBarrierBroken.
type Barrier struct {
	mu      sync.Mutex
	parties int
	count   int
	gen     *generation
}

type generation struct {
	done   chan struct{}
	broken bool
}

func newGeneration() *generation {
	return &generation{done: make(chan struct{})}
}

func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		parties = 1
	}
	return &Barrier{parties: parties, gen: newGeneration()}
}

func (b *Barrier) Parties() int {
	return b.parties
}

// Wait blocks until every party has arrived or ctx ends. A deadline maps to
// ErrRendezvousTimeout and a cancellation to ErrBarrierBroken.
func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	g := b.gen
	if g.broken {
		b.mu.Unlock()
		return ErrBarrierBroken
	}
	b.count++
	if b.count == b.parties {
		close(g.done)
		b.count = 0
		b.gen = newGeneration()
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-g.done:
	case <-ctx.Done():
		b.mu.Lock()
		if b.gen == g && !g.broken {
			g.broken = true
			close(g.done)
			b.mu.Unlock()
			return waitError(ctx.Err())
		}
		b.mu.Unlock()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if g.broken {
		return ErrBarrierBroken
	}
	return nil
}

// Break releases the current generation's waiters with ErrBarrierBroken.
// Later Wait calls fail immediately.
func (b *Barrier) Break() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.gen.broken {
		b.gen.broken = true
		close(b.gen.done)
	}
}

// Waiting reports parties currently blocked in the active generation.
func (b *Barrier) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func waitError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrRendezvousTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrBarrierBroken, err)
}

// waitPhase waits on b, bounding the wait by timeout when it is positive.
func waitPhase(ctx context.Context, b *Barrier, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return b.Wait(ctx)
}
