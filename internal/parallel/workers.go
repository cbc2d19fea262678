package parallel

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Loop is the body of one backend worker. It must return once stop is closed.
type Loop func(id int, stop <-chan struct{}) error

// Workers runs a fixed set of backend worker goroutines.
//
// Unlike a task pool, workers do not receive work through channels: each one
// runs its Loop, which polls the draw ring and parks when idle. Workers only
// owns start and shutdown.
//
// Thread safety: Workers is safe for concurrent use.
type Workers struct {
	n       int
	g       errgroup.Group
	stop    chan struct{}
	running atomic.Bool
}

// StartWorkers launches n goroutines running loop.
// If n is 0 or negative, GOMAXPROCS is used.
func StartWorkers(n int, loop Loop) *Workers {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	w := &Workers{
		n:    n,
		stop: make(chan struct{}),
	}
	w.running.Store(true)
	for i := range n {
		id := i
		w.g.Go(func() error {
			return loop(id, w.stop)
		})
	}
	return w
}

// Close signals every worker to stop, calls wake so parked workers notice,
// and waits for all loops to return. The first loop error is returned.
// Close is safe to call multiple times; later calls return nil.
func (w *Workers) Close(wake func()) error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	close(w.stop)
	if wake != nil {
		wake()
	}
	return w.g.Wait()
}

// Workers returns the number of worker goroutines.
func (w *Workers) Workers() int {
	return w.n
}
