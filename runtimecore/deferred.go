package runtimecore

import (
	"context"
	"sync"
)

// deferredUnprotectQueue batches Unprotect calls raised from a native
// thread (where it would be unsafe to touch the ManagedEngine directly)
// so they are applied on the scheduler goroutine instead; any goroutine
// other than the scheduler may be the "native thread" in question.
type deferredUnprotectQueue struct {
	mu      sync.Mutex
	pending []Handle
	wake    chan struct{}
}

func newDeferredUnprotectQueue() *deferredUnprotectQueue {
	return &deferredUnprotectQueue{wake: make(chan struct{}, 1)}
}

// Request enqueues h for unprotection on the next drain. Safe to call
// from any goroutine, including one executing inside native code.
func (q *deferredUnprotectQueue) Request(h Handle) {
	q.mu.Lock()
	q.pending = append(q.pending, h)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *deferredUnprotectQueue) takeAll() []Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// run is the drain loop, supervised alongside the timer scheduler.
func (q *deferredUnprotectQueue) run(ctx context.Context, c *Core) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
			for _, h := range q.takeAll() {
				c.Unprotect(h)
			}
		}
	}
}

// drainSync flushes any outstanding requests synchronously, used by
// Core.Flush so Flush observes a fully-drained queue before returning.
func (q *deferredUnprotectQueue) drainSync(c *Core) {
	for _, h := range q.takeAll() {
		c.Unprotect(h)
	}
}

// RequestUnprotect is the public entry point a callframe/closure
// collaborator (or any native-thread caller) uses to release a protect
// handle without touching the ManagedEngine off the scheduler goroutine.
func (c *Core) RequestUnprotect(h Handle) {
	if c.State() >= Disposed {
		return
	}
	c.deferQ.Request(h)
}
