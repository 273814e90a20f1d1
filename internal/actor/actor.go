// Package actor provides the single-goroutine event loop each client runs
// on: inbound transport events, request completions, and timer ticks are
// serialized as closures, so client state needs no locking.
package actor

import (
	"sync"

	"github.com/example/ridelink/internal/observability"
)

// Loop executes submitted closures one at a time in submission order.
type Loop struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewLoop starts the loop goroutine.
func NewLoop() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Submit enqueues one closure. It reports false after Close, when the
// closure is dropped instead of run; callers on the teardown path treat
// that as success.
func (l *Loop) Submit(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queue = append(l.queue, fn)
	observability.EventLoopDepth.Set(float64(len(l.queue)))
	l.cond.Signal()
	return true
}

// Do submits fn and blocks until it ran. Used for consistent state
// snapshots. Returns false without running fn when the loop is closed,
// including when Close drops the closure while it is still queued.
func (l *Loop) Do(fn func()) bool {
	ran := make(chan struct{})
	if !l.Submit(func() {
		fn()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-l.done:
	}
	// The loop exited; fn may still have run just before Close.
	select {
	case <-ran:
		return true
	default:
		return false
	}
}

// Close stops the loop: queued but unstarted closures are dropped, the
// in-flight one (if any) finishes, and Close returns once the goroutine
// exited. Idempotent.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.queue = nil
	observability.EventLoopDepth.Set(0)
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		fn := l.queue[0]
		l.queue = l.queue[1:]
		observability.EventLoopDepth.Set(float64(len(l.queue)))
		l.mu.Unlock()

		fn()
	}
}
