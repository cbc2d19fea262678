package parallel

import (
	"errors"
	"runtime"
	"sync"
	"testing"
)

func TestWorkers_StartAndClose(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}
	w := StartWorkers(3, func(id int, stop <-chan struct{}) error {
		mu.Lock()
		seen[id] = true
		mu.Unlock()
		<-stop
		return nil
	})
	if w.Workers() != 3 {
		t.Errorf("Workers() = %d, want 3", w.Workers())
	}
	woke := false
	if err := w.Close(func() { woke = true }); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !woke {
		t.Error("Close did not call wake")
	}
	if len(seen) != 3 {
		t.Errorf("started %d loops, want 3", len(seen))
	}
	if err := w.Close(nil); err != nil {
		t.Errorf("second Close error: %v", err)
	}
}

func TestWorkers_DefaultCount(t *testing.T) {
	w := StartWorkers(0, func(_ int, stop <-chan struct{}) error {
		<-stop
		return nil
	})
	defer w.Close(nil)
	if w.Workers() != runtime.GOMAXPROCS(0) {
		t.Errorf("Workers() = %d, want GOMAXPROCS", w.Workers())
	}
}

func TestWorkers_CloseReturnsLoopError(t *testing.T) {
	boom := errors.New("boom")
	w := StartWorkers(2, func(id int, stop <-chan struct{}) error {
		<-stop
		if id == 1 {
			return boom
		}
		return nil
	})
	if err := w.Close(nil); !errors.Is(err, boom) {
		t.Errorf("Close error = %v, want boom", err)
	}
}
