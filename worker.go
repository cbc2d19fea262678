package swr

import (
	"runtime"

	"github.com/gogpu/swr/internal/parallel"
)

// worker is the per-goroutine state of one backend worker.
type worker struct {
	id int
	p  *workerProgress

	// used holds tiles this worker saw complete (or completed itself) in
	// earlier draws of the current backend pass.
	used *parallel.TileSet
}

// workerLoop is the body of each backend goroutine.
//
// While caught up it spins, then parks until woken. Otherwise it runs the
// backend pass and then the frontend pass. When passes stop making progress
// (tiles owned by others, unmet dependencies) it parks until the epoch moves.
func (c *Context) workerLoop(id int, stop <-chan struct{}) error {
	w := &worker{id: id, p: &c.progress[id], used: parallel.NewTileSet()}
	stopping := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}

	stalls := 0
	for !stopping() {
		for i := 0; i < c.opts.spinCount && c.caughtUp(w); i++ {
			runtime.Gosched()
		}
		if c.caughtUp(w) {
			c.waker.Park(func() bool { return !stopping() && c.caughtUp(w) })
			continue
		}

		epoch := c.epoch.Load()
		progressed := c.workOnBackend(w)
		progressed = c.workOnFrontend(w) || progressed
		if progressed {
			stalls = 0
			continue
		}
		stalls++
		if stalls < c.opts.spinCount {
			runtime.Gosched()
			continue
		}
		stalls = 0
		c.waker.Park(func() bool { return !stopping() && c.epoch.Load() == epoch })
	}
	return nil
}

// caughtUp reports whether w has nothing left to do for queued draws.
func (c *Context) caughtUp(w *worker) bool {
	last := c.enqueued.Load()
	return w.p.be.Load() > last && w.p.fe.Load() > last
}

// workOnFrontend advances w past binned draws and runs the frontend of any
// queued draw nobody has claimed yet.
func (c *Context) workOnFrontend(w *worker) bool {
	progressed := false
	cur := w.p.fe.Load()
	last := c.enqueued.Load()

	start := cur
	for cur <= last {
		dc := c.slot(DrawID(cur))
		if !dc.doneFE.Load() && !dc.feLock.Load() {
			break
		}
		cur++
	}
	if cur != start {
		w.p.fe.Store(cur)
		c.waker.NotifyProgress()
		progressed = true
	}

	for i := cur; i <= last; i++ {
		dc := c.slot(DrawID(i))
		if dc.doneFE.Load() {
			continue
		}
		if dc.feLock.CompareAndSwap(false, true) {
			c.runFrontend(dc)
			c.WakeAllThreads()
			progressed = true
		}
	}
	return progressed
}

// workOnBackend runs tile work of binned draws in id order.
//
// The oldest draw w has not finished (its backend counter) may run any
// tile. Newer draws may only run tiles already complete in every draw this
// pass visited, which keeps per-tile order without locks. A draw whose
// dependency is newer than the last draw w has seen finish stops the pass.
func (c *Context) workOnBackend(w *worker) bool {
	progressed := false
	cur := w.p.be.Load()
	last := c.enqueued.Load()

	advance := func() {
		cur++
		w.p.be.Store(cur)
		w.used.Clear()
		c.waker.NotifyProgress()
		progressed = true
	}

	w.used.Clear()
	for i := cur; i <= last; i++ {
		dc := c.slot(DrawID(i))
		if !dc.doneFE.Load() {
			break
		}
		if uint64(dc.dependency) > cur-1 {
			break
		}

		tiles := dc.tiles
		if tiles.IsWorkComplete() {
			c.complete(dc)
			if i == cur {
				advance()
			}
			continue
		}

		for _, tid := range tiles.Used() {
			t := tiles.Tile(tid)
			if t.Complete() {
				w.used.Add(tid)
				continue
			}
			if i != cur && !w.used.Has(tid) {
				continue
			}
			if !t.Claim() {
				w.used.Remove(tid)
				continue
			}
			w.used.Add(tid)
			t.Run()
			progressed = true
			if tiles.MarkComplete(tid) {
				c.complete(dc)
				if i == cur {
					advance()
				}
				break
			}
		}
	}
	return progressed
}
