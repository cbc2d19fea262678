// Package backing provisions raw memory for resource allocations.
//
// A Store hands out aligned byte slices. With a single NUMA node every
// allocation comes from the Go heap. With several nodes on Linux the memory
// is mapped anonymously and bound to the requested node; on other platforms,
// or when mapping is not possible, the heap is used instead.
//
// Thread safety: Store is safe for concurrent use.
package backing

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"
	"golang.org/x/exp/constraints"
)

// Backing store errors.
var (
	// ErrOutOfMemory is returned when memory cannot be provisioned or the
	// allocation would exceed the configured budget.
	ErrOutOfMemory = errors.New("backing: out of memory")

	// ErrInvalidSize is returned for zero or negative allocation sizes.
	ErrInvalidSize = errors.New("backing: invalid allocation size")

	// ErrInvalidAlignment is returned when alignment is not a power of two.
	ErrInvalidAlignment = errors.New("backing: alignment must be a power of two")

	// ErrUnknownAllocation is returned when freeing memory the store does not own.
	ErrUnknownAllocation = errors.New("backing: unknown allocation")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("backing: store closed")
)

// DefaultAlignment is the alignment used when callers pass zero.
// One cache line keeps separately owned allocations from sharing lines.
const DefaultAlignment = 64

// AlignUp rounds v up to the next multiple of align, which must be a power of two.
func AlignUp[T constraints.Integer](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}

// Config configures a Store.
type Config struct {
	// Nodes is the number of NUMA nodes to spread allocations over.
	// Zero means detect from the system.
	Nodes int

	// BudgetBytes caps the total live bytes. Zero means unlimited.
	BudgetBytes uint64
}

// Stats describes the memory held by a Store.
type Stats struct {
	// Nodes is the number of NUMA nodes in use.
	Nodes int

	// LiveBytes is the number of bytes currently allocated.
	LiveBytes uint64

	// PeakBytes is the highest LiveBytes observed.
	PeakBytes uint64

	// BudgetBytes is the configured budget, zero when unlimited.
	BudgetBytes uint64

	// Allocations is the number of live allocations.
	Allocations int

	// TotalAllocations counts every successful Allocate call.
	TotalAllocations uint64

	// NodeBound counts live allocations bound to a NUMA node.
	NodeBound int
}

// String returns a human-readable summary.
func (s Stats) String() string {
	budget := "unlimited"
	if s.BudgetBytes > 0 {
		budget = humanize.IBytes(s.BudgetBytes)
	}
	return fmt.Sprintf("Backing[%s live, %s peak, budget %s, %d allocations (%d node-bound), %d total, %d nodes]",
		humanize.IBytes(s.LiveBytes),
		humanize.IBytes(s.PeakBytes),
		budget,
		s.Allocations,
		s.NodeBound,
		s.TotalAllocations,
		s.Nodes)
}

// allocation records one live block.
type allocation struct {
	raw    []byte // heap slice or mapping that owns the memory
	size   uint64
	node   int
	mapped bool
}

// Store provisions aligned memory, optionally bound to NUMA nodes.
type Store struct {
	mu     sync.Mutex
	nodes  int
	budget uint64
	live   map[uintptr]allocation
	used   uint64
	peak   uint64
	total  uint64
	bound  int
	closed bool
}

// New creates a Store. Zero Config fields select defaults.
func New(cfg Config) *Store {
	nodes := cfg.Nodes
	if nodes <= 0 {
		nodes = DetectNodes()
	}
	if nodes < 1 {
		nodes = 1
	}
	slogger().Debug("backing: store created",
		slog.Int("nodes", nodes),
		slog.String("budget", humanize.IBytes(cfg.BudgetBytes)))
	return &Store{
		nodes:  nodes,
		budget: cfg.BudgetBytes,
		live:   make(map[uintptr]allocation),
	}
}

// Nodes returns the number of NUMA nodes the store spreads allocations over.
func (s *Store) Nodes() int {
	return s.nodes
}

// Allocate returns size bytes aligned to align, placed on the given NUMA node
// when the store manages more than one node. A zero align selects
// DefaultAlignment. Node values out of range are reduced modulo the node count.
//
// The returned memory is zeroed.
func (s *Store) Allocate(size, align, node int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if align == 0 {
		align = DefaultAlignment
	}
	if align < 0 || align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAlignment, align)
	}
	if node < 0 {
		node = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	//nolint:gosec // G115: size checked positive above
	want := uint64(size)
	if s.budget > 0 && s.used+want > s.budget {
		return nil, fmt.Errorf("%w: %s requested, %s of %s in use",
			ErrOutOfMemory,
			humanize.IBytes(want),
			humanize.IBytes(s.used),
			humanize.IBytes(s.budget))
	}

	var a allocation
	var mem []byte
	if s.nodes > 1 {
		node %= s.nodes
		raw, err := mapOnNode(size, align, node)
		switch {
		case err == nil:
			a = allocation{raw: raw, size: want, node: node, mapped: true}
			mem = raw[:size:size]
		case errors.Is(err, ErrOutOfMemory):
			return nil, err
		default:
			slogger().Warn("backing: NUMA mapping unavailable, using heap",
				slog.Int("node", node),
				slog.String("error", err.Error()))
		}
	}
	if mem == nil {
		raw := make([]byte, size+align-1)
		base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
		off := int(AlignUp(base, uintptr(align)) - base) //nolint:gosec // G115: off < align
		a = allocation{raw: raw, size: want, node: 0}
		mem = raw[off : off+size : off+size]
	}

	s.live[uintptr(unsafe.Pointer(unsafe.SliceData(mem)))] = a
	s.used += want
	s.total++
	if s.used > s.peak {
		s.peak = s.used
	}
	if a.mapped {
		s.bound++
	}
	return mem, nil
}

// Deallocate releases memory previously returned by Allocate.
// Passing a nil or empty slice is a no-op.
func (s *Store) Deallocate(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	key := uintptr(unsafe.Pointer(unsafe.SliceData(mem)))

	s.mu.Lock()
	a, ok := s.live[key]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownAllocation
	}
	delete(s.live, key)
	s.used -= a.size
	if a.mapped {
		s.bound--
	}
	s.mu.Unlock()

	if a.mapped {
		return unmap(a.raw)
	}
	return nil
}

// Stats returns current usage statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Nodes:            s.nodes,
		LiveBytes:        s.used,
		PeakBytes:        s.peak,
		BudgetBytes:      s.budget,
		Allocations:      len(s.live),
		TotalAllocations: s.total,
		NodeBound:        s.bound,
	}
}

// Close releases every live allocation. Memory handed out earlier must not
// be used afterwards. Close is safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	live := s.live
	s.live = make(map[uintptr]allocation)
	s.used = 0
	s.bound = 0
	s.mu.Unlock()

	if len(live) > 0 {
		slogger().Debug("backing: releasing live allocations on close", slog.Int("count", len(live)))
	}

	var errs []error
	for _, a := range live {
		if a.mapped {
			if err := unmap(a.raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
