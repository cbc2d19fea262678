package swr

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// Allocation is one memory-backed copy of a resource's contents together
// with the newest draws that read and wrote it.
type Allocation struct {
	readDep  DrawID
	writeDep DrawID
	data     []byte
}

// Data returns the backing memory, nil until first provisioned.
func (a *Allocation) Data() []byte {
	return a.data
}

// ReadDep returns the newest draw that read this allocation, 0 if none.
func (a *Allocation) ReadDep() DrawID {
	return a.readDep
}

// WriteDep returns the newest draw that wrote this allocation, 0 if none.
func (a *Allocation) WriteDep() DrawID {
	return a.writeDep
}

// lastUse returns the newest draw touching the allocation.
func (a *Allocation) lastUse() DrawID {
	return max(a.readDep, a.writeDep)
}

// LockFlags select how Lock treats an allocation still used by draws.
type LockFlags int

const (
	// LockNone waits for every draw using the current allocation.
	LockNone LockFlags = iota

	// LockNoOverwrite returns the current allocation immediately. The caller
	// promises not to touch bytes in-flight draws use.
	LockNoOverwrite

	// LockDiscard renames to a free allocation when the current one is in
	// use, so the caller can write without waiting. Previous contents are
	// not carried over.
	LockDiscard
)

// Resource is a GPU-style object whose memory in-flight draws may share:
// a ring of allocations, one per draw context slot, with a cursor selecting
// the current one. Resources over caller memory have a single allocation
// and never alias.
//
// Resource methods belong to the frontend goroutine.
type Resource struct {
	c     *Context
	label string

	allocs  []Allocation
	current int

	size         int
	align        int
	node         int
	userProvided bool
	destroyed    bool
}

// CreateResource creates a resource of size bytes. With userMemory nil the
// context owns the memory, provisioned lazily per allocation, preferably on
// NUMA node numaNode (negative picks one). Otherwise the resource wraps
// userMemory, which must hold at least size bytes; size zero uses its length.
func (c *Context) CreateResource(size, numaNode int, userMemory []byte) (*Resource, error) {
	return c.newResource("", size, numaNode, userMemory)
}

func (c *Context) newResource(label string, size, numaNode int, userMemory []byte) (*Resource, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if userMemory != nil && size == 0 {
		size = len(userMemory)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSize, size)
	}
	if userMemory != nil && len(userMemory) < size {
		return nil, fmt.Errorf("%w: %d bytes requested over %d bytes of caller memory",
			ErrInvalidSize, size, len(userMemory))
	}
	if numaNode < 0 {
		numaNode = c.nodeHint()
	}

	r := &Resource{
		c:     c,
		label: label,
		size:  size,
		align: defaultResourceAlign,
		node:  numaNode,
	}
	if userMemory != nil {
		r.userProvided = true
		r.allocs = []Allocation{{data: userMemory[:size:size]}}
	} else {
		r.allocs = make([]Allocation, c.MaxDrawsInFlight())
	}
	return r, nil
}

// defaultResourceAlign matches the store's cache line alignment.
const defaultResourceAlign = 64

// Label returns the debug label.
func (r *Resource) Label() string {
	return r.label
}

// Size returns the size of each allocation in bytes.
func (r *Resource) Size() int {
	return r.size
}

// UserProvided reports whether the resource wraps caller memory.
func (r *Resource) UserProvided() bool {
	return r.userProvided
}

// Aliases returns the number of allocations in the ring.
func (r *Resource) Aliases() int {
	return len(r.allocs)
}

// CurrentAlias returns the ring index of the current allocation.
func (r *Resource) CurrentAlias() int {
	return r.current
}

// cur returns the allocation at the cursor without provisioning.
func (r *Resource) cur() *Allocation {
	return &r.allocs[r.current]
}

// CurrentAllocation returns the current allocation, provisioning its memory
// on first access. It records no dependencies.
func (r *Resource) CurrentAllocation() (*Allocation, error) {
	if r.destroyed {
		return nil, ErrDestroyed
	}
	a := r.cur()
	if a.data == nil {
		mem, err := r.c.store.Allocate(r.size, r.align, r.node)
		if err != nil {
			return nil, fmt.Errorf("swr: provisioning %q alias %d (%s): %w",
				r.label, r.current, humanize.IBytes(uint64(r.size)), err) //nolint:gosec // G115: size > 0
		}
		a.data = mem
	}
	return a, nil
}

// NextAllocation selects an allocation for new contents. It takes the first
// allocation in ring order that no unretired draw uses. When every one is in
// use it selects allocation 0 and blocks until its draws retire.
//
// Resources over caller memory return ErrUserProvided. If allocation 0 is
// used by a draw that has not been queued the wait cannot finish and
// ErrNotQueued is returned.
func (r *Resource) NextAllocation() (*Allocation, error) {
	if r.destroyed {
		return nil, ErrDestroyed
	}
	if r.userProvided {
		return nil, ErrUserProvided
	}

	retired := r.c.UpdateLastRetiredID()
	for i := range r.allocs {
		if r.allocs[i].lastUse() <= retired {
			r.current = i
			return r.CurrentAllocation()
		}
	}

	r.current = 0
	target := r.allocs[0].lastUse()
	Logger().Debug("swr: all aliases in use, waiting",
		slog.String("resource", r.label),
		slog.Int("aliases", len(r.allocs)),
		slog.Uint64("waitFor", uint64(target)))
	if err := r.c.WaitForDependencies(target); err != nil {
		return nil, err
	}
	return r.CurrentAllocation()
}

// AddReadDependency records reader as the newest reader of the current
// allocation and returns dep, raised to the allocation's last writer unless
// tileable is set.
func (r *Resource) AddReadDependency(dep, reader DrawID, tileable bool) DrawID {
	a := r.cur()
	a.readDep = max(a.readDep, reader)
	if !tileable {
		dep = max(dep, a.writeDep)
	}
	return dep
}

// AddWriteDependency returns dep raised to the current allocation's last
// reader and records writer as its newest writer.
func (r *Resource) AddWriteDependency(dep, writer DrawID) DrawID {
	a := r.cur()
	dep = max(dep, a.readDep)
	a.writeDep = max(a.writeDep, writer)
	return dep
}

// InUse reports whether a draw that may still run touched the current
// allocation. It uses the last computed retired watermark.
func (r *Resource) InUse() bool {
	return r.cur().lastUse() > r.c.LastRetiredID()
}

// WaitForDependencies blocks until every draw using the current allocation,
// or with all set every allocation, has retired.
func (r *Resource) WaitForDependencies(all bool) error {
	target := r.cur().lastUse()
	if all {
		for i := range r.allocs {
			target = max(target, r.allocs[i].lastUse())
		}
	}
	if target == 0 {
		return nil
	}
	return r.c.WaitForDependencies(target)
}

// Lock returns memory the caller may access on the frontend, handling
// in-flight draws according to flags.
func (r *Resource) Lock(flags LockFlags) ([]byte, error) {
	if r.destroyed {
		return nil, ErrDestroyed
	}
	switch flags {
	case LockNone:
		if err := r.WaitForDependencies(false); err != nil {
			return nil, err
		}
	case LockNoOverwrite:
	case LockDiscard:
		if r.userProvided {
			return nil, ErrUserProvided
		}
		r.c.UpdateLastRetiredID()
		if r.InUse() {
			a, err := r.NextAllocation()
			if err != nil {
				return nil, err
			}
			return a.data, nil
		}
	default:
		return nil, fmt.Errorf("swr: unknown lock flags %d", flags)
	}
	a, err := r.CurrentAllocation()
	if err != nil {
		return nil, err
	}
	return a.data, nil
}

// Destroy waits until no draw uses the resource and releases its memory.
// Context-owned resources wait for every allocation; resources over caller
// memory wait for their single allocation and leave the memory alone.
func (r *Resource) Destroy() error {
	if r.destroyed {
		return ErrDestroyed
	}
	if err := r.WaitForDependencies(!r.userProvided); err != nil {
		return err
	}
	r.destroyed = true
	if r.userProvided || r.c.closed.Load() {
		// Closing the context already released context-owned memory.
		for i := range r.allocs {
			r.allocs[i].data = nil
		}
		return nil
	}

	var errs []error
	for i := range r.allocs {
		if a := &r.allocs[i]; a.data != nil {
			if err := r.c.store.Deallocate(a.data); err != nil {
				errs = append(errs, err)
			}
			a.data = nil
		}
	}
	return errors.Join(errs...)
}
