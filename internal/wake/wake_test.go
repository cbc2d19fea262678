package wake

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaker_ParkSkipsWhenNotIdle(t *testing.T) {
	w := New()
	done := make(chan struct{})
	go func() {
		w.Park(func() bool { return false })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Park blocked although idle() returned false")
	}
}

func TestWaker_WakeAllReleasesParked(t *testing.T) {
	w := New()
	var pending atomic.Bool
	pending.Store(false)

	const workers = 4
	var parked sync.WaitGroup
	var wg sync.WaitGroup
	parked.Add(workers)
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			first := true
			for !pending.Load() {
				w.Park(func() bool {
					if first {
						first = false
						parked.Done()
					}
					return !pending.Load()
				})
			}
		}()
	}
	parked.Wait()

	pending.Store(true)
	w.WakeAll()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers still parked after WakeAll")
	}
}

func TestWaker_Progress(t *testing.T) {
	w := New()
	ch := w.Progress()
	if ch2 := w.Progress(); ch2 != ch {
		t.Error("Progress() returned a new channel before NotifyProgress")
	}

	select {
	case <-ch:
		t.Fatal("progress channel closed before NotifyProgress")
	default:
	}

	w.NotifyProgress()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("progress channel not closed by NotifyProgress")
	}

	if next := w.Progress(); next == ch {
		t.Error("Progress() after NotifyProgress returned the closed channel")
	}
}

func TestWaker_NotifyWithoutWaiters(t *testing.T) {
	w := New()
	// Must not panic on a nil channel or double close.
	w.NotifyProgress()
	w.NotifyProgress()
	_ = w.Progress()
	w.NotifyProgress()
	w.NotifyProgress()
}
