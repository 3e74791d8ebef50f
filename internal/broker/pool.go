package broker

import (
	"context"
	"sync"
	"time"
)

// waiter is one queued admission request.
type waiter struct {
	id    string
	ready chan struct{}
	// guarded by slotPool.mu
	granted bool
	removed bool
}

// slotPool is the concurrency core: a fixed number of execution slots plus a
// FIFO admission queue. All admission decisions serialize on one mutex so no
// two of them can race past the capacity check.
type slotPool struct {
	mu       sync.Mutex
	capacity int
	maxQueue int
	active   int
	queue    []*waiter
	leased   map[string]time.Time // request id -> lease start
}

func newSlotPool(capacity, maxQueue int) *slotPool {
	return &slotPool{
		capacity: capacity,
		maxQueue: maxQueue,
		leased:   make(map[string]time.Time),
	}
}

// acquire leases a slot for id, blocking FIFO behind earlier waiters when the
// pool is full. It returns ctx.Err when the context ends first; in that case
// the waiter has been removed (or its freshly granted slot released) before
// returning, so no slot leaks.
func (p *slotPool) acquire(ctx context.Context, id string) error {
	p.mu.Lock()
	if p.active < p.capacity && p.queued() == 0 {
		p.active++
		p.leased[id] = time.Now()
		p.mu.Unlock()
		return nil
	}
	if p.queued() >= p.maxQueue {
		p.mu.Unlock()
		return ErrTooBusy(id)
	}
	w := &waiter{id: id, ready: make(chan struct{})}
	p.queue = append(p.queue, w)
	p.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		if !p.abandon(w) {
			// Promotion raced the cancellation: the slot was granted just
			// as the context ended, so hand it straight back.
			p.release(id)
		}
		return ctx.Err()
	}
}

// release frees the slot held by id and promotes the queue head, if any.
// Every release performs exactly one promotion attempt.
func (p *slotPool) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.leased, id)
	p.active--
	for len(p.queue) > 0 {
		w := p.queue[0]
		p.queue = p.queue[1:]
		if w.removed {
			continue
		}
		w.granted = true
		p.active++
		p.leased[w.id] = time.Now()
		close(w.ready)
		return
	}
}

// abandon removes a queued waiter. Returns false when the waiter was already
// granted a slot, in which case the caller owns that slot and must release it.
func (p *slotPool) abandon(w *waiter) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.granted {
		return false
	}
	w.removed = true
	return true
}

// queued counts live (non-removed) waiters. Caller holds p.mu.
func (p *slotPool) queued() int {
	n := 0
	for _, w := range p.queue {
		if !w.removed {
			n++
		}
	}
	return n
}

// snapshot returns current occupancy for status reporting.
func (p *slotPool) snapshot() (active, capacity, queued int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active, p.capacity, p.queued()
}
