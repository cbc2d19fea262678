package swr

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/gogpu/swr/internal/backing"
)

// Stats is a snapshot of a context's fence counters and memory.
type Stats struct {
	// MaxDrawsInFlight is the ring capacity.
	MaxDrawsInFlight int

	// Workers is the number of backend goroutines (0 when single-threaded).
	Workers int

	// NextDrawID is the id the next submit will issue.
	NextDrawID DrawID

	// LastQueued is the newest queued draw.
	LastQueued DrawID

	// LastRetired is the retired watermark.
	LastRetired DrawID

	// InFlight is the number of queued draws not yet retired.
	InFlight uint64

	// TileWork is the number of binned tile work items of completed draws.
	// Work dropped by a failed frontend is not counted.
	TileWork uint64

	// Memory describes the backing store.
	Memory backing.Stats
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Draws[%s submitted, %s retired, %d in flight of %d, %d workers, %s tile work] %s",
		humanize.Comma(int64(s.NextDrawID-1)), //nolint:gosec // G115: ids stay far below 2^63
		humanize.Comma(int64(s.LastRetired)),  //nolint:gosec // G115: ids stay far below 2^63
		s.InFlight,
		s.MaxDrawsInFlight,
		s.Workers,
		humanize.Comma(int64(s.TileWork)), //nolint:gosec // G115: counts stay far below 2^63
		s.Memory)
}

// Stats returns current counters. It does not rescan for retired draws.
func (c *Context) Stats() Stats {
	queued := DrawID(c.enqueued.Load())
	retired := c.LastRetiredID()
	var inFlight uint64
	if queued > retired {
		inFlight = uint64(queued - retired)
	}
	return Stats{
		MaxDrawsInFlight: c.MaxDrawsInFlight(),
		Workers:          c.Workers(),
		NextDrawID:       c.NextDrawID(),
		LastQueued:       queued,
		LastRetired:      retired,
		InFlight:         inFlight,
		TileWork:         c.tileWork.Load(),
		Memory:           c.store.Stats(),
	}
}
