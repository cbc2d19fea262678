package swr

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/cpu"

	"github.com/gogpu/swr/internal/backing"
	"github.com/gogpu/swr/internal/parallel"
	"github.com/gogpu/swr/internal/wake"
)

// workerProgress holds the lowest draw id a worker may still touch in its
// frontend and backend passes. A value above every enqueued id means idle.
// Padded so workers do not share cache lines.
type workerProgress struct {
	_  cpu.CacheLinePad
	fe atomic.Uint64
	be atomic.Uint64
	_  cpu.CacheLinePad
}

// Context owns the draw context ring, the fence counters, the backend
// workers and the backing store for one independent rendering pipeline.
type Context struct {
	opts contextOptions

	store    *backing.Store
	waker    *wake.Waker
	tilePool *parallel.TilePool
	workers  *parallel.Workers

	ring     []drawContext
	capacity uint64

	// nextDrawID is the id the next SubmitDraw hands out.
	nextDrawID atomic.Uint64
	// lastRetired is the newest id such that it and every older draw finished.
	lastRetired atomic.Uint64
	// enqueued is the newest queued id. Draws are queued in id order.
	enqueued atomic.Uint64
	// epoch changes whenever backend work may have become runnable.
	epoch atomic.Uint64
	// tileWork counts binned work items of completed draws.
	tileWork atomic.Uint64

	progress []workerProgress

	retireMu sync.Mutex
	closed   atomic.Bool
	nextNode atomic.Uint32
}

// NewContext creates a context and starts its backend workers.
//
// Example:
//
//	ctx, err := swr.NewContext(swr.WithMaxDrawsInFlight(16), swr.WithWorkers(4))
//	if err != nil {
//		return err
//	}
//	defer ctx.Close()
func NewContext(opts ...ContextOption) (*Context, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	workers := o.resolveWorkers()

	c := &Context{
		opts: o,
		store: backing.New(backing.Config{
			Nodes:       o.numaNodes,
			BudgetBytes: o.memoryBudget,
		}),
		waker:    wake.New(),
		tilePool: parallel.NewTilePool(),
		ring:     make([]drawContext, o.maxDraws),
		capacity: uint64(o.maxDraws), //nolint:gosec // G115: maxDraws >= 1
		progress: make([]workerProgress, max(workers, 1)),
	}
	for i := range c.ring {
		c.ring[i].tiles = parallel.NewTileManager(c.tilePool)
	}
	c.nextDrawID.Store(1)
	for i := range c.progress {
		c.progress[i].fe.Store(1)
		c.progress[i].be.Store(1)
	}

	if !o.singleThreaded {
		c.workers = parallel.StartWorkers(workers, c.workerLoop)
	}

	Logger().Info("swr: context created",
		slog.Int("maxDrawsInFlight", o.maxDraws),
		slog.Int("workers", workers),
		slog.Bool("singleThreaded", o.singleThreaded),
		slog.Int("numaNodes", c.store.Nodes()))
	return c, nil
}

// MaxDrawsInFlight returns the draw context ring capacity.
func (c *Context) MaxDrawsInFlight() int {
	return len(c.ring)
}

// SingleThreaded reports whether the context runs all work inline.
func (c *Context) SingleThreaded() bool {
	return c.opts.singleThreaded
}

// Workers returns the number of backend worker goroutines.
func (c *Context) Workers() int {
	if c.workers == nil {
		return 0
	}
	return c.workers.Workers()
}

func (c *Context) slot(id DrawID) *drawContext {
	return &c.ring[uint64(id)%c.capacity]
}

// SubmitDraw issues the next draw id and claims its ring slot.
//
// If the slot's previous occupant is still drawing, SubmitDraw drives
// wake and retirement cycles until it finishes. The returned Draw must be
// queued with Draw.Queue, in submission order, for it to ever retire.
func (c *Context) SubmitDraw() (*Draw, error) {
	return c.submit(true)
}

// TrySubmitDraw is SubmitDraw without backpressure: it returns ErrRingFull
// instead of waiting, and no id is consumed.
func (c *Context) TrySubmitDraw() (*Draw, error) {
	return c.submit(false)
}

func (c *Context) submit(block bool) (*Draw, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	id := DrawID(c.nextDrawID.Load())
	dc := c.slot(id)
	if prev := DrawID(dc.id.Load()); prev != 0 {
		if !dc.queued {
			return nil, fmt.Errorf("%w: draw %d in slot %d was never queued",
				ErrRingFull, prev, uint64(id)%c.capacity)
		}
		if c.StillDrawing(prev) {
			if !block {
				return nil, ErrRingFull
			}
			Logger().Debug("swr: draw ring full, waiting for slot",
				slog.Uint64("draw", uint64(id)),
				slog.Uint64("occupant", uint64(prev)))
			c.waitFor(func() bool { return !c.StillDrawing(prev) })
		}
	}

	c.UpdateLastRetiredID()
	c.nextDrawID.Store(uint64(id) + 1)
	dc.reset(id)
	return &Draw{c: c, dc: dc, id: id}, nil
}

// MarkFrontendDone confirms that binning for id is complete. Queue and the
// worker that runs the frontend record this themselves, so for a queued
// draw whose frontend finished it is a no-op. It returns ErrNotQueued for
// a draw that has not been queued and ErrFrontendPending while the draw's
// frontend has yet to run or is still running.
func (c *Context) MarkFrontendDone(id DrawID) error {
	if id == 0 || id >= c.NextDrawID() {
		return fmt.Errorf("%w: draw %d was never issued", ErrNotQueued, id)
	}
	dc := c.slot(id)
	if DrawID(dc.id.Load()) != id {
		// Superseded draws finished before their slot was reused.
		return nil
	}
	if uint64(id) > c.enqueued.Load() {
		return fmt.Errorf("%w: draw %d", ErrNotQueued, id)
	}
	if !dc.doneFE.Load() {
		return fmt.Errorf("%w: draw %d", ErrFrontendPending, id)
	}
	return nil
}

// StillDrawing reports whether any part of the pipeline may still touch
// draw id. Once it returns false for an id it keeps doing so.
//
// The draw is still in flight while its frontend has not finished, or while
// any worker's frontend or backend progress is at or below id. Otherwise the
// slot is marked not in use. In single-threaded mode every draw is finished.
func (c *Context) StillDrawing(id DrawID) bool {
	if id == 0 {
		return false
	}
	dc := c.slot(id)
	if cur := DrawID(dc.id.Load()); cur != id {
		// Superseded draws finished before their slot was reused.
		return cur < id
	}
	if c.opts.singleThreaded {
		dc.inUse.Store(false)
		return false
	}
	if dc.doneFE.Load() {
		for i := range c.progress {
			p := &c.progress[i]
			if p.fe.Load() <= uint64(id) || p.be.Load() <= uint64(id) {
				return true
			}
		}
		dc.inUse.Store(false)
	}
	return dc.inUse.Load()
}

// UpdateLastRetiredID advances the retired watermark over every draw that
// has finished, in id order, and returns it. It stops at the first draw
// still in flight even when later draws are done.
func (c *Context) UpdateLastRetiredID() DrawID {
	c.retireMu.Lock()
	defer c.retireMu.Unlock()

	last := c.lastRetired.Load()
	issued := c.nextDrawID.Load() - 1
	if c.opts.singleThreaded {
		last = issued
	} else {
		// Slots of ids at or below issued-capacity have been reused, which
		// required their occupants (and so every older draw) to finish.
		if issued > c.capacity && last < issued-c.capacity {
			last = issued - c.capacity
		}
		for last < issued && !c.StillDrawing(DrawID(last+1)) {
			last++
		}
	}
	c.lastRetired.Store(last)
	return DrawID(last)
}

// LastRetiredID returns the retired watermark without rescanning.
func (c *Context) LastRetiredID() DrawID {
	return DrawID(c.lastRetired.Load())
}

// NextDrawID returns the id the next SubmitDraw will issue.
func (c *Context) NextDrawID() DrawID {
	return DrawID(c.nextDrawID.Load())
}

// WaitForDependencies blocks until draw id and every older draw retired.
//
// Each iteration wakes all workers and rescans; between iterations it sleeps
// until a worker reports progress or the wait interval elapses. Waiting on
// a draw that has not been queued returns ErrNotQueued, as does waiting on
// an id that was never issued.
func (c *Context) WaitForDependencies(id DrawID) error {
	if uint64(id) <= c.lastRetired.Load() {
		return nil
	}
	if uint64(id) > c.enqueued.Load() {
		return fmt.Errorf("%w: waiting for draw %d, newest queued is %d",
			ErrNotQueued, id, c.enqueued.Load())
	}
	c.waitFor(func() bool { return c.UpdateLastRetiredID() >= id })
	return nil
}

// waitFor loops {wake workers, check done} and sleeps on worker progress
// between iterations.
func (c *Context) waitFor(done func() bool) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		progressed := c.waker.Progress()
		c.WakeAllThreads()
		if done() {
			return
		}
		if timer == nil {
			timer = time.NewTimer(c.opts.waitInterval)
		} else {
			timer.Reset(c.opts.waitInterval)
		}
		select {
		case <-progressed:
		case <-timer.C:
		}
	}
}

// WakeAllThreads wakes every parked worker so it re-examines the ring and
// publishes fresh progress.
func (c *Context) WakeAllThreads() {
	c.waker.WakeAll()
}

// nodeHint spreads resources over NUMA nodes round robin.
func (c *Context) nodeHint() int {
	return int(c.nextNode.Add(1)-1) % c.store.Nodes()
}

// Close waits for every queued draw to retire, stops the workers and
// releases all backing memory. Resources must not be used afterwards.
// Draws submitted but never queued are abandoned. Close is safe to call
// multiple times.
func (c *Context) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if last := DrawID(c.enqueued.Load()); last > 0 {
		if err := c.WaitForDependencies(last); err != nil {
			return err
		}
	}

	var err error
	if c.workers != nil {
		err = c.workers.Close(c.WakeAllThreads)
	}
	stats := c.Stats()
	if cerr := c.store.Close(); err == nil {
		err = cerr
	}
	Logger().Info("swr: context closed", slog.String("stats", stats.String()))
	return err
}
