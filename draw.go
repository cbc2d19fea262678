package swr

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/image/math/fixed"

	"github.com/gogpu/swr/internal/parallel"
)

// TileFunc is backend work for the macro tile at column x, row y.
// Work binned into one tile runs in binning order; tiles of one draw run
// concurrently; a tile's work never starts before the same tile's work of
// every earlier draw has finished.
type TileFunc func(x, y int)

// FrontendFunc bins a draw's work. It runs on a worker goroutine after the
// draw is queued. Returning an error abandons the draw's tile work; the
// error is passed to the completion callback and the draw retires normally.
type FrontendFunc func(b *Binner) error

// Tracked is anything a draw can record a read or write dependency on.
// Resource, Buffer, RenderTarget and Texture implement it.
type Tracked interface {
	AddReadDependency(dep, reader DrawID, tileable bool) DrawID
	AddWriteDependency(dep, writer DrawID) DrawID
}

// drawContext is one slot of the draw context ring.
type drawContext struct {
	id     atomic.Uint64
	doneFE atomic.Bool
	inUse  atomic.Bool

	// feLock is taken by the worker running the frontend.
	feLock atomic.Bool
	// completed guards the completion callback.
	completed atomic.Bool

	// Written by the submitter before the draw is queued.
	queued     bool
	dependency DrawID
	frontend   FrontendFunc
	onComplete func(DrawID, error)

	// Written by the frontend runner before doneFE.
	err error

	tiles *parallel.TileManager
}

func (dc *drawContext) reset(id DrawID) {
	dc.tiles.Reset()
	dc.queued = false
	dc.dependency = 0
	dc.frontend = nil
	dc.onComplete = nil
	dc.err = nil
	dc.doneFE.Store(false)
	dc.feLock.Store(false)
	dc.completed.Store(false)
	dc.inUse.Store(true)
	dc.id.Store(uint64(id))
}

// Draw is the producer's handle on a submitted draw.
//
// Record every resource the draw touches with Read and Write, bin tile work
// with Bin, BinRect, BinFixed or SetFrontend, then call Queue.
type Draw struct {
	c  *Context
	dc *drawContext
	id DrawID
}

// ID returns the draw id.
func (d *Draw) ID() DrawID {
	return d.id
}

// Dependency returns the newest older draw this draw's backend work must
// wait for.
func (d *Draw) Dependency() DrawID {
	return d.dc.dependency
}

func (d *Draw) stale() bool {
	return DrawID(d.dc.id.Load()) != d.id
}

// fold raises the draw's dependency. A draw never waits on itself or on
// newer draws.
func (d *Draw) fold(dep DrawID) {
	if d.dc.queued || d.stale() {
		return
	}
	if dep < d.id && dep > d.dc.dependency {
		d.dc.dependency = dep
	}
}

// Read records that the draw reads t. Unless tileable, the draw inherits a
// dependency on t's last writer. Pass tileable only when every read happens
// in tile work binned to the tiles the writer wrote.
func (d *Draw) Read(t Tracked, tileable bool) {
	d.fold(t.AddReadDependency(d.dc.dependency, d.id, tileable))
}

// Write records that the draw writes t. The draw inherits a dependency on
// t's last reader.
func (d *Draw) Write(t Tracked) {
	d.fold(t.AddWriteDependency(d.dc.dependency, d.id))
}

// Bin queues fn for the macro tile at (x, y).
func (d *Draw) Bin(x, y int, fn TileFunc) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.dc.tiles.Enqueue(x, y, parallel.Work(fn))
}

// BinRect queues fn for every macro tile intersecting the pixel rectangle.
func (d *Draw) BinRect(x, y, w, h int, fn TileFunc) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.dc.tiles.EnqueueRect(x, y, w, h, parallel.Work(fn))
}

// BinFixed queues fn for every macro tile touched by the 26.6 fixed point
// rectangle r. Partially covered pixels count as covered.
func (d *Draw) BinFixed(r fixed.Rectangle26_6, fn TileFunc) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	x, y, w, h := fixedPixels(r)
	return d.dc.tiles.EnqueueRect(x, y, w, h, parallel.Work(fn))
}

// SetFrontend makes a worker run fn to bin the draw after Queue.
func (d *Draw) SetFrontend(fn FrontendFunc) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.dc.frontend = fn
	return nil
}

// OnComplete registers fn to run once all of the draw's tile work has
// finished, with the frontend error if any. It runs on a worker goroutine
// (or inline in single-threaded mode) and must not wait on the context.
func (d *Draw) OnComplete(fn func(DrawID, error)) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	d.dc.onComplete = fn
	return nil
}

func (d *Draw) checkOpen() error {
	if d.stale() {
		return ErrStaleDraw
	}
	if d.dc.queued {
		return ErrAlreadyQueued
	}
	return nil
}

// Queue hands the draw to the backend. Draws must be queued in the order
// they were submitted. A draw without a frontend func is marked binned
// immediately.
func (d *Draw) Queue() error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	c := d.c
	if c.closed.Load() {
		return ErrClosed
	}
	if want := c.enqueued.Load() + 1; uint64(d.id) != want {
		return fmt.Errorf("%w: queued %d, next expected %d", ErrQueueOrder, d.id, want)
	}

	d.dc.queued = true
	if d.dc.frontend == nil {
		d.dc.doneFE.Store(true)
	}
	c.enqueued.Store(uint64(d.id))
	c.epoch.Add(1)

	if c.opts.singleThreaded {
		c.runInline(d.dc)
		return nil
	}
	c.WakeAllThreads()
	return nil
}

// abandon drops any binned work and queues the draw so its slot can retire.
func (d *Draw) abandon() {
	if d.stale() || d.dc.queued {
		return
	}
	d.dc.tiles.Discard()
	d.dc.frontend = nil
	if err := d.Queue(); err != nil {
		Logger().Warn("swr: abandoned draw could not be queued",
			slog.Uint64("draw", uint64(d.id)),
			slog.String("error", err.Error()))
	}
}

// Binner lets a FrontendFunc bin work into its draw.
type Binner struct {
	id    DrawID
	tiles *parallel.TileManager
}

// DrawID returns the id of the draw being binned.
func (b *Binner) DrawID() DrawID {
	return b.id
}

// Bin queues fn for the macro tile at (x, y).
func (b *Binner) Bin(x, y int, fn TileFunc) error {
	return b.tiles.Enqueue(x, y, parallel.Work(fn))
}

// BinRect queues fn for every macro tile intersecting the pixel rectangle.
func (b *Binner) BinRect(x, y, w, h int, fn TileFunc) error {
	return b.tiles.EnqueueRect(x, y, w, h, parallel.Work(fn))
}

// BinFixed queues fn for every macro tile touched by the 26.6 fixed point
// rectangle r.
func (b *Binner) BinFixed(r fixed.Rectangle26_6, fn TileFunc) error {
	x, y, w, h := fixedPixels(r)
	return b.tiles.EnqueueRect(x, y, w, h, parallel.Work(fn))
}

// fixedPixels returns the pixel rectangle covering r.
func fixedPixels(r fixed.Rectangle26_6) (x, y, w, h int) {
	if r.Empty() {
		return 0, 0, 0, 0
	}
	x, y = r.Min.X.Floor(), r.Min.Y.Floor()
	return x, y, r.Max.X.Ceil() - x, r.Max.Y.Ceil() - y
}

// runFrontend bins dc. The caller holds dc.feLock or runs single-threaded.
func (c *Context) runFrontend(dc *drawContext) {
	id := DrawID(dc.id.Load())
	if fn := dc.frontend; fn != nil {
		if err := fn(&Binner{id: id, tiles: dc.tiles}); err != nil {
			Logger().Warn("swr: frontend failed, draw abandoned",
				slog.Uint64("draw", uint64(id)),
				slog.String("error", err.Error()))
			dc.err = err
			dc.tiles.Discard()
		}
	}
	dc.doneFE.Store(true)
	c.epoch.Add(1)
}

// complete runs the completion callback of dc exactly once.
func (c *Context) complete(dc *drawContext) {
	if !dc.completed.CompareAndSwap(false, true) {
		return
	}
	c.tileWork.Add(uint64(dc.tiles.Produced())) //nolint:gosec // G115: counts are never negative
	if fn := dc.onComplete; fn != nil {
		fn(DrawID(dc.id.Load()), dc.err)
	}
	c.epoch.Add(1)
	if !c.opts.singleThreaded {
		c.WakeAllThreads()
	}
}

// runInline executes a queued draw on the calling goroutine.
func (c *Context) runInline(dc *drawContext) {
	if !dc.doneFE.Load() {
		c.runFrontend(dc)
	}
	for _, id := range dc.tiles.Used() {
		if t := dc.tiles.Tile(id); t.Claim() {
			t.Run()
			dc.tiles.MarkComplete(id)
		}
	}
	c.complete(dc)
	p := &c.progress[0]
	next := dc.id.Load() + 1
	p.fe.Store(next)
	p.be.Store(next)
}
