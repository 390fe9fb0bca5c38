package scheduler

import (
	"context"
	"sync"
)

// Loop is the single-threaded execution context that owns the slice cache.
// Any goroutine may Post work; only the goroutine running Run (or calling
// RunPending) executes it, in posting order.
type Loop struct {
	mu    sync.Mutex
	queue []func()
	// Buffered (size 1) to coalesce wake-ups.
	ready chan struct{}
}

func NewLoop() *Loop {
	return &Loop{ready: make(chan struct{}, 1)}
}

// Post schedules fn on the loop. It never blocks.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.ready <- struct{}{}:
	default:
	}
}

// Ready fires when work has been posted. Hosts that multiplex the loop with
// other event sources select on it and then call RunPending.
func (l *Loop) Ready() <-chan struct{} {
	return l.ready
}

// RunPending executes everything queued so far, including work posted by the
// functions it runs, and returns how many functions ran.
func (l *Loop) RunPending() int {
	n := 0
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			return n
		}
		for _, fn := range batch {
			fn()
		}
		n += len(batch)
	}
}

// Len reports how many functions are waiting.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Run drains the loop until ctx is done. Work still queued at that point is
// left for a final RunPending by the caller.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.ready:
		}
	}
}
