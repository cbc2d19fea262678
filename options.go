package swr

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Context defaults.
const (
	// DefaultMaxDrawsInFlight is the default draw context ring capacity.
	DefaultMaxDrawsInFlight = 160

	// DefaultSpinCount is how many idle passes a worker spins before parking.
	DefaultSpinCount = 5000

	// DefaultWaitInterval is the periodic wake used while waiting on fences.
	DefaultWaitInterval = time.Millisecond

	// MinWorkers is the smallest worker count picked automatically.
	MinWorkers = 2

	// MaxWorkers is the largest worker count accepted.
	MaxWorkers = 40
)

// WorkerThreadsEnv overrides the automatic worker count when set to a
// positive integer.
const WorkerThreadsEnv = "SWR_WORKER_THREADS"

// ContextOption configures a Context during creation.
// Use functional options to customize Context behavior.
//
// Example:
//
//	// Defaults: 160 draws in flight, one worker per spare CPU
//	ctx, err := swr.NewContext()
//
//	// Deterministic debugging: everything runs on the submitting goroutine
//	ctx, err := swr.NewContext(swr.WithSingleThreaded())
type ContextOption func(*contextOptions)

// contextOptions holds optional configuration for Context creation.
type contextOptions struct {
	maxDraws       int
	workers        int
	singleThreaded bool
	numaNodes      int
	spinCount      int
	waitInterval   time.Duration
	memoryBudget   uint64
}

// defaultOptions returns the default context options.
func defaultOptions() contextOptions {
	return contextOptions{
		maxDraws:     DefaultMaxDrawsInFlight,
		workers:      0, // resolved in resolveWorkers
		numaNodes:    0, // detected by the backing store
		spinCount:    DefaultSpinCount,
		waitInterval: DefaultWaitInterval,
	}
}

// WithMaxDrawsInFlight sets the draw context ring capacity. It is also the
// number of allocations every aliasable resource keeps. Values below 1 are
// raised to 1.
//
// Example:
//
//	ctx, err := swr.NewContext(swr.WithMaxDrawsInFlight(4))
func WithMaxDrawsInFlight(n int) ContextOption {
	return func(o *contextOptions) {
		o.maxDraws = max(n, 1)
	}
}

// WithWorkers sets the number of backend worker goroutines, capped at
// MaxWorkers. Zero selects the automatic count, which honors
// SWR_WORKER_THREADS.
func WithWorkers(n int) ContextOption {
	return func(o *contextOptions) {
		o.workers = n
	}
}

// WithSingleThreaded runs all frontend and backend work inline on the
// goroutine that queues each draw. Every draw is finished as soon as Queue
// returns.
func WithSingleThreaded() ContextOption {
	return func(o *contextOptions) {
		o.singleThreaded = true
	}
}

// WithNUMANodes sets how many NUMA nodes resource memory is spread over.
// One disables NUMA binding. Zero detects the node count.
func WithNUMANodes(n int) ContextOption {
	return func(o *contextOptions) {
		o.numaNodes = n
	}
}

// WithSpinCount sets how many idle passes a worker makes before parking.
func WithSpinCount(n int) ContextOption {
	return func(o *contextOptions) {
		o.spinCount = max(n, 0)
	}
}

// WithWaitInterval sets the periodic wake used by fence waits and
// backpressure. Non-positive values keep the default.
func WithWaitInterval(d time.Duration) ContextOption {
	return func(o *contextOptions) {
		if d > 0 {
			o.waitInterval = d
		}
	}
}

// WithMemoryBudget caps the bytes the context may hold for resources.
// Allocations beyond the budget fail with ErrOutOfMemory. Zero is unlimited.
func WithMemoryBudget(bytes uint64) ContextOption {
	return func(o *contextOptions) {
		o.memoryBudget = bytes
	}
}

// resolveWorkers picks the worker count: explicit option, then the
// environment, then one per spare CPU with a floor of MinWorkers.
func (o *contextOptions) resolveWorkers() int {
	if o.singleThreaded {
		return 0
	}
	if o.workers > 0 {
		return min(o.workers, MaxWorkers)
	}
	if v := os.Getenv(WorkerThreadsEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil && n > 0 {
			return min(n, MaxWorkers)
		}
		Logger().Warn("swr: ignoring invalid worker count",
			slog.String("env", WorkerThreadsEnv),
			slog.String("value", v))
	}
	n := runtime.GOMAXPROCS(0) - 1
	return min(max(n, MinWorkers), MaxWorkers)
}
