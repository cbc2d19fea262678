// Package swr implements resource fencing and draw retirement for a tiled
// software rasterizer.
//
// # Overview
//
// A rasterizer built on swr splits each draw into a frontend step (binning
// work into 128x128 macro tiles) and backend work run by a pool of worker
// goroutines. swr lets many draws be in flight at once while they share
// buffers, render targets and textures, and guarantees read-after-write,
// write-after-read and write-after-write ordering between them.
//
// # Quick Start
//
//	ctx, err := swr.NewContext(swr.WithMaxDrawsInFlight(8))
//	if err != nil {
//		return err
//	}
//	defer ctx.Close()
//
//	rt, _ := ctx.CreateRenderTarget(640, 480, gputypes.TextureFormatRGBA8Unorm)
//	_, _ = ctx.ClearRenderTarget(rt, gputypes.ColorBlack)
//
//	d, _ := ctx.SubmitDraw()
//	d.Write(rt)
//	_ = d.BinRect(0, 0, 640, 480, func(x, y int) { /* shade macro tile (x, y) */ })
//	_ = d.Queue()
//
//	_ = ctx.WaitForDependencies(d.ID())
//
// # Draw ids and retirement
//
// Every draw gets a DrawID, starting at 1 and increasing by one per draw.
// Draw contexts live in a fixed ring of MaxDrawsInFlight slots; submitting a
// draw whose slot is still occupied blocks until the previous occupant
// finishes (backpressure). The context retires draws strictly in order:
// LastRetiredID is the newest id for which every draw up to and including it
// has finished on every worker.
//
// # Resources and aliasing
//
// A Resource keeps one Allocation per ring slot. Each allocation records the
// newest draw that read it and the newest that wrote it. A draw that writes
// a resource still being read can rename it to a free allocation with
// NextAllocation instead of waiting. Resources created over caller memory
// have a single allocation and cannot be renamed.
//
// Textures take part in hazard tracking through per-subresource wrappers but
// never alias: each mip level and plane has exactly one allocation.
//
// # Cancellation
//
// There is no way to cancel a draw. A draw that should be abandoned must
// still be queued and will retire normally.
//
// # Thread safety
//
// Submission and resource bookkeeping (SubmitDraw, Draw methods, Resource
// methods) belong to one frontend goroutine. StillDrawing, LastRetiredID,
// WaitForDependencies, WakeAllThreads and Stats may be called from any
// goroutine.
package swr
