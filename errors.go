package swr

import (
	"errors"

	"github.com/gogpu/swr/internal/backing"
	"github.com/gogpu/swr/internal/parallel"
)

// Context errors.
var (
	// ErrClosed is returned when operating on a closed context.
	ErrClosed = errors.New("swr: context closed")

	// ErrRingFull is returned by TrySubmitDraw when the next slot is still
	// drawing, and by SubmitDraw when the slot holds a draw that was never
	// queued and so can never retire.
	ErrRingFull = errors.New("swr: draw context ring full")

	// ErrNotQueued is returned when waiting for a draw that has not been
	// queued. Such a draw cannot retire, so the wait would never end.
	ErrNotQueued = errors.New("swr: draw not queued")

	// ErrFrontendPending is returned by MarkFrontendDone while the draw's
	// frontend has not finished binning.
	ErrFrontendPending = errors.New("swr: draw frontend still pending")
)

// Draw errors.
var (
	// ErrAlreadyQueued is returned when queueing or binning a draw after Queue.
	ErrAlreadyQueued = errors.New("swr: draw already queued")

	// ErrQueueOrder is returned when draws are queued out of submission order.
	ErrQueueOrder = errors.New("swr: draws must be queued in submission order")

	// ErrStaleDraw is returned when using a Draw whose slot has been reused.
	ErrStaleDraw = errors.New("swr: draw handle is stale")

	// ErrTileOutOfRange is returned when binning outside the macro tile grid.
	ErrTileOutOfRange = parallel.ErrTileOutOfRange
)

// Resource errors.
var (
	// ErrUserProvided is returned when renaming a resource that wraps caller
	// memory. Such resources have a single allocation.
	ErrUserProvided = errors.New("swr: resource uses caller-provided memory")

	// ErrDestroyed is returned when using a destroyed resource.
	ErrDestroyed = errors.New("swr: resource destroyed")

	// ErrInvalidSize is returned for empty or oversized resources.
	ErrInvalidSize = errors.New("swr: invalid resource size")

	// ErrUnsupportedFormat is returned for pixel formats swr cannot store or clear.
	ErrUnsupportedFormat = errors.New("swr: unsupported format")

	// ErrFormatMismatch is returned when copying between different formats.
	ErrFormatMismatch = errors.New("swr: format mismatch")

	// ErrOutOfMemory is returned when backing memory cannot be provisioned.
	ErrOutOfMemory = backing.ErrOutOfMemory
)
