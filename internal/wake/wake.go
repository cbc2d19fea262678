// Package wake implements the park and wake protocol between the draw
// submitter and backend workers.
//
// Workers park on a condition variable when they have no queued work.
// Anything that needs retirement to advance calls WakeAll, which broadcasts
// under the same mutex the workers check their idle predicate with, so a
// wake issued after new work is published is never lost.
//
// Waiters that need to observe worker progress (fence waits, backpressure)
// block on the channel returned by Progress. Workers call NotifyProgress
// whenever a progress counter moves, which closes the current channel.
//
// Thread safety: Waker is safe for concurrent use.
package wake

import "sync"

// Waker couples the worker condition variable with a progress broadcast.
type Waker struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	// progress is closed and cleared by NotifyProgress.
	// Nil until a waiter asks for it.
	progress chan struct{}
}

// New creates a Waker.
func New() *Waker {
	w := &Waker{}
	w.notEmpty = sync.NewCond(&w.mu)
	return w
}

// Park blocks the calling worker until the next WakeAll, provided idle still
// reports true once the mutex is held. Spurious returns are allowed; callers
// re-check their own state in a loop.
func (w *Waker) Park(idle func() bool) {
	w.mu.Lock()
	if idle() {
		w.notEmpty.Wait()
	}
	w.mu.Unlock()
}

// WakeAll wakes every parked worker.
func (w *Waker) WakeAll() {
	w.mu.Lock()
	w.notEmpty.Broadcast()
	w.mu.Unlock()
}

// Progress returns a channel that is closed at the next NotifyProgress.
func (w *Waker) Progress() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.progress == nil {
		w.progress = make(chan struct{})
	}
	return w.progress
}

// NotifyProgress releases everyone waiting on the current Progress channel.
func (w *Waker) NotifyProgress() {
	w.mu.Lock()
	if w.progress != nil {
		close(w.progress)
		w.progress = nil
	}
	w.mu.Unlock()
}
