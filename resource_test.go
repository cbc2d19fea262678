package swr

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

func testBufferDesc(size uint64) gputypes.BufferDescriptor {
	return gputypes.BufferDescriptor{
		Label: "test",
		Size:  size,
		Usage: gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
	}
}

// =============================================================================
// Creation
// =============================================================================

func TestCreateResource(t *testing.T) {
	c := newTestContext(t, WithSingleThreaded(), WithMaxDrawsInFlight(6))

	r, err := c.CreateResource(256, -1, nil)
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	if r.UserProvided() {
		t.Error("UserProvided() = true, want false")
	}
	if got := r.Aliases(); got != 6 {
		t.Errorf("Aliases() = %d, want 6", got)
	}
	if got := r.Size(); got != 256 {
		t.Errorf("Size() = %d, want 256", got)
	}
	if got := c.Stats().Memory.LiveBytes; got != 0 {
		t.Errorf("LiveBytes = %d before first access, want 0", got)
	}

	a, err := r.CurrentAllocation()
	if err != nil {
		t.Fatalf("CurrentAllocation() error = %v", err)
	}
	if len(a.Data()) != 256 {
		t.Errorf("len(Data()) = %d, want 256", len(a.Data()))
	}
	if got := c.Stats().Memory.LiveBytes; got < 256 {
		t.Errorf("LiveBytes = %d after first access, want >= 256", got)
	}
}

func TestCreateResourceInvalid(t *testing.T) {
	c := newTestContext(t, WithSingleThreaded())

	tests := []struct {
		name string
		size int
		mem  []byte
	}{
		{"zero size", 0, nil},
		{"negative size", -4, nil},
		{"memory too small", 64, make([]byte, 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.CreateResource(tt.size, -1, tt.mem); !errors.Is(err, ErrInvalidSize) {
				t.Errorf("CreateResource() error = %v, want ErrInvalidSize", err)
			}
		})
	}
}

func TestCreateResourceUserMemory(t *testing.T) {
	c := newTestContext(t, WithSingleThreaded())

	mem := make([]byte, 128)
	r, err := c.CreateResource(0, -1, mem)
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	if !r.UserProvided() {
		t.Error("UserProvided() = false, want true")
	}
	if got := r.Aliases(); got != 1 {
		t.Errorf("Aliases() = %d, want 1", got)
	}
	if got := r.Size(); got != 128 {
		t.Errorf("Size() = %d, want 128", got)
	}

	a, err := r.CurrentAllocation()
	if err != nil {
		t.Fatalf("CurrentAllocation() error = %v", err)
	}
	a.Data()[0] = 7
	if mem[0] != 7 {
		t.Error("allocation does not share caller memory")
	}
	if _, err := r.NextAllocation(); !errors.Is(err, ErrUserProvided) {
		t.Errorf("NextAllocation() error = %v, want ErrUserProvided", err)
	}
}

// =============================================================================
// Dependency tracking
// =============================================================================

func TestAddDependencies(t *testing.T) {
	c := newTestContext(t, WithSingleThreaded())
	r, err := c.CreateResource(64, -1, nil)
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}

	// Write by draw 3: nothing read yet.
	if got := r.AddWriteDependency(0, 3); got != 0 {
		t.Errorf("AddWriteDependency(0, 3) = %d, want 0", got)
	}
	// Non-tileable read by draw 5 inherits the writer.
	if got := r.AddReadDependency(0, 5, false); got != 3 {
		t.Errorf("AddReadDependency(0, 5, false) = %d, want 3", got)
	}
	// Tileable read by draw 6 does not.
	if got := r.AddReadDependency(0, 6, true); got != 0 {
		t.Errorf("AddReadDependency(0, 6, true) = %d, want 0", got)
	}
	// An incoming dependency is never lowered.
	if got := r.AddReadDependency(9, 7, false); got != 9 {
		t.Errorf("AddReadDependency(9, 7, false) = %d, want 9", got)
	}
	// Write by draw 8 waits for the newest reader.
	if got := r.AddWriteDependency(0, 8); got != 7 {
		t.Errorf("AddWriteDependency(0, 8) = %d, want 7", got)
	}

	a := r.cur()
	if a.ReadDep() != 7 {
		t.Errorf("ReadDep() = %d, want 7", a.ReadDep())
	}
	if a.WriteDep() != 8 {
		t.Errorf("WriteDep() = %d, want 8", a.WriteDep())
	}

	// Recording an older draw never moves the fences back.
	r.AddWriteDependency(0, 2)
	r.AddReadDependency(0, 1, true)
	if a.ReadDep() != 7 || a.WriteDep() != 8 {
		t.Errorf("deps = (%d, %d) after older draws, want (7, 8)", a.ReadDep(), a.WriteDep())
	}
	if a.Data() != nil {
		t.Error("dependency tracking provisioned memory")
	}
}

func TestHazardFolds(t *testing.T) {
	c := newTestContext(t, WithSingleThreaded())

	newWith := func(readDep, writeDep DrawID) *Resource {
		r, err := c.CreateResource(16, -1, nil)
		if err != nil {
			t.Fatalf("CreateResource() error = %v", err)
		}
		r.cur().readDep, r.cur().writeDep = readDep, writeDep
		return r
	}

	// Read after write.
	r := newWith(0, 5)
	if got := r.AddReadDependency(0, 7, false); got != 5 {
		t.Errorf("AddReadDependency(0, 7, false) = %d, want 5", got)
	}
	if got := r.cur().ReadDep(); got != 7 {
		t.Errorf("ReadDep() = %d, want 7", got)
	}
	r = newWith(0, 5)
	if got := r.AddReadDependency(2, 7, true); got != 2 {
		t.Errorf("AddReadDependency(2, 7, true) = %d, want 2", got)
	}

	// Write after read.
	r = newWith(6, 0)
	if got := r.AddWriteDependency(0, 9); got != 6 {
		t.Errorf("AddWriteDependency(0, 9) = %d, want 6", got)
	}
	if got := r.cur().WriteDep(); got != 9 {
		t.Errorf("WriteDep() = %d, want 9", got)
	}
}

// =============================================================================
// Aliasing
// =============================================================================

func TestNextAllocationPicksFreeAlias(t *testing.T) {
	c := newTestContext(t, WithMaxDrawsInFlight(3), WithWorkers(2))

	release := make(chan struct{})
	defer close(release)

	buf, err := c.CreateBuffer(testBufferDesc(64))
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}

	for want := range 3 {
		if _, err := buf.NextAllocation(); err != nil {
			t.Fatalf("NextAllocation() error = %v", err)
		}
		if got := buf.CurrentAlias(); got != want {
			t.Fatalf("CurrentAlias() = %d, want %d", got, want)
		}
		d, err := c.SubmitDraw()
		if err != nil {
			t.Fatalf("SubmitDraw() error = %v", err)
		}
		d.Write(buf)
		if want == 0 {
			if err := d.Bin(0, 0, blockUntil(release)); err != nil {
				t.Fatalf("Bin() error = %v", err)
			}
		}
		if err := d.Queue(); err != nil {
			t.Fatalf("Queue() error = %v", err)
		}
	}

	// Every alias is used by a draw that cannot retire before draw 1.
	var (
		alias int
		nerr  error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, nerr = buf.NextAllocation()
		alias = buf.CurrentAlias()
	}()

	assertBlocked(t, done, "NextAllocation")
	release <- struct{}{}
	waitDone(t, done, "NextAllocation")

	if nerr != nil {
		t.Fatalf("NextAllocation() error = %v", nerr)
	}
	if alias != 0 {
		t.Errorf("CurrentAlias() = %d, want 0", alias)
	}
	if got := c.LastRetiredID(); got < 1 {
		t.Errorf("LastRetiredID() = %d, want >= 1", got)
	}
}

func TestNextAllocationReusesRetired(t *testing.T) {
	c := newTestContext(t, WithSingleThreaded(), WithMaxDrawsInFlight(4))

	buf, err := c.CreateBuffer(testBufferDesc(32))
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	for range 8 {
		if _, err := buf.NextAllocation(); err != nil {
			t.Fatalf("NextAllocation() error = %v", err)
		}
		if got := buf.CurrentAlias(); got != 0 {
			t.Fatalf("CurrentAlias() = %d, want 0 when nothing is in flight", got)
		}
		d, err := c.SubmitDraw()
		if err != nil {
			t.Fatalf("SubmitDraw() error = %v", err)
		}
		d.Write(buf)
		if err := d.Queue(); err != nil {
			t.Fatalf("Queue() error = %v", err)
		}
	}
}

func TestNextAllocationNotQueued(t *testing.T) {
	c := newTestContext(t, WithMaxDrawsInFlight(1), WithWorkers(2))

	buf, err := c.CreateBuffer(testBufferDesc(32))
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	d, err := c.SubmitDraw()
	if err != nil {
		t.Fatalf("SubmitDraw() error = %v", err)
	}
	d.Write(buf)

	if _, err := buf.NextAllocation(); !errors.Is(err, ErrNotQueued) {
		t.Errorf("NextAllocation() error = %v, want ErrNotQueued", err)
	}
	if err := d.Queue(); err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
}

// =============================================================================
// Lock
// =============================================================================

func TestLock(t *testing.T) {
	c := newTestContext(t, WithMaxDrawsInFlight(4), WithWorkers(2))

	buf, err := c.CreateBuffer(testBufferDesc(64))
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	release := make(chan struct{})
	d, err := c.SubmitDraw()
	if err != nil {
		t.Fatalf("SubmitDraw() error = %v", err)
	}
	d.Read(buf, false)
	if err := d.Bin(0, 0, blockUntil(release)); err != nil {
		t.Fatalf("Bin() error = %v", err)
	}
	if err := d.Queue(); err != nil {
		t.Fatalf("Queue() error = %v", err)
	}
	c.UpdateLastRetiredID()
	if !buf.InUse() {
		t.Fatal("InUse() = false while a draw reads the buffer")
	}

	// NoOverwrite returns the in-use allocation without waiting.
	if _, err := buf.Lock(LockNoOverwrite); err != nil {
		t.Fatalf("Lock(LockNoOverwrite) error = %v", err)
	}
	if got := buf.CurrentAlias(); got != 0 {
		t.Errorf("CurrentAlias() after NoOverwrite = %d, want 0", got)
	}

	// Discard renames instead of waiting.
	mem, err := buf.Lock(LockDiscard)
	if err != nil {
		t.Fatalf("Lock(LockDiscard) error = %v", err)
	}
	if got := buf.CurrentAlias(); got == 0 {
		t.Error("CurrentAlias() after Discard = 0, want a renamed alias")
	}
	if len(mem) != 64 {
		t.Errorf("len(Lock()) = %d, want 64", len(mem))
	}

	// LockNone on the old alias waits for the reader.
	buf.current = 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := buf.Lock(LockNone); err != nil {
			t.Errorf("Lock(LockNone) error = %v", err)
		}
	}()
	assertBlocked(t, done, "Lock(LockNone)")
	close(release)
	waitDone(t, done, "Lock(LockNone)")

	if buf.InUse() {
		t.Error("InUse() = true after Lock(LockNone) returned")
	}
}

func TestLockUserProvided(t *testing.T) {
	c := newTestContext(t, WithSingleThreaded())

	buf, err := c.CreateBufferFromMemory("user", make([]byte, 16), gputypes.BufferUsageUniform)
	if err != nil {
		t.Fatalf("CreateBufferFromMemory() error = %v", err)
	}
	if _, err := buf.Lock(LockDiscard); !errors.Is(err, ErrUserProvided) {
		t.Errorf("Lock(LockDiscard) error = %v, want ErrUserProvided", err)
	}
	mem, err := buf.Lock(LockNone)
	if err != nil {
		t.Fatalf("Lock(LockNone) error = %v", err)
	}
	if len(mem) != 16 {
		t.Errorf("len(Lock()) = %d, want 16", len(mem))
	}
	if _, err := buf.Lock(LockFlags(99)); err == nil {
		t.Error("Lock(99) error = nil, want error")
	}
}

// =============================================================================
// Destroy
// =============================================================================

func TestResourceDestroy(t *testing.T) {
	c := newTestContext(t, WithMaxDrawsInFlight(4), WithWorkers(2))

	buf, err := c.CreateBuffer(testBufferDesc(128))
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	for range 3 {
		if _, err := buf.Lock(LockDiscard); err != nil {
			t.Fatalf("Lock(LockDiscard) error = %v", err)
		}
		d, err := c.SubmitDraw()
		if err != nil {
			t.Fatalf("SubmitDraw() error = %v", err)
		}
		d.Read(buf, false)
		if err := d.Bin(0, 0, func(int, int) {}); err != nil {
			t.Fatalf("Bin() error = %v", err)
		}
		if err := d.Queue(); err != nil {
			t.Fatalf("Queue() error = %v", err)
		}
	}

	if err := buf.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if got := c.UpdateLastRetiredID(); got < 3 {
		t.Errorf("UpdateLastRetiredID() = %d after Destroy, want >= 3", got)
	}
	if got := c.Stats().Memory.LiveBytes; got != 0 {
		t.Errorf("LiveBytes = %d after Destroy, want 0", got)
	}
	if err := buf.Destroy(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("second Destroy() error = %v, want ErrDestroyed", err)
	}
	if _, err := buf.CurrentAllocation(); !errors.Is(err, ErrDestroyed) {
		t.Errorf("CurrentAllocation() after Destroy error = %v, want ErrDestroyed", err)
	}
	if _, err := buf.Lock(LockNone); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Lock() after Destroy error = %v, want ErrDestroyed", err)
	}
}

func TestResourceDestroyAfterClose(t *testing.T) {
	c, err := NewContext(WithSingleThreaded(), WithNUMANodes(1))
	if err != nil {
		t.Fatalf("NewContext() error = %v", err)
	}
	r, err := c.CreateResource(64, -1, nil)
	if err != nil {
		t.Fatalf("CreateResource() error = %v", err)
	}
	if _, err := r.CurrentAllocation(); err != nil {
		t.Fatalf("CurrentAllocation() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := r.Destroy(); err != nil {
		t.Errorf("Destroy() after Close error = %v, want nil", err)
	}
}

// =============================================================================
// Buffer
// =============================================================================

func TestCreateBuffer(t *testing.T) {
	c := newTestContext(t, WithSingleThreaded(), WithMaxDrawsInFlight(2))

	desc := testBufferDesc(100)
	desc.MappedAtCreation = true
	buf, err := c.CreateBuffer(desc)
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if got := buf.Descriptor(); got.Size != 100 || got.Label != "test" {
		t.Errorf("Descriptor() = %+v, want size 100 label test", got)
	}
	if got := buf.Usage(); got != desc.Usage {
		t.Errorf("Usage() = %v, want %v", got, desc.Usage)
	}
	if got := c.Stats().Memory.Allocations; got != 1 {
		t.Errorf("Allocations = %d after MappedAtCreation, want 1", got)
	}

	if _, err := c.CreateBuffer(testBufferDesc(0)); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("CreateBuffer(size 0) error = %v, want ErrInvalidSize", err)
	}
	if _, err := c.CreateBuffer(testBufferDesc(1 << 40)); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("CreateBuffer(1 TiB) error = %v, want ErrInvalidSize", err)
	}
	if _, err := c.CreateBufferFromMemory("empty", nil, 0); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("CreateBufferFromMemory(nil) error = %v, want ErrInvalidSize", err)
	}
}

func TestCreateBufferOverBudget(t *testing.T) {
	c := newTestContext(t, WithSingleThreaded(), WithMemoryBudget(1024))

	buf, err := c.CreateBuffer(testBufferDesc(4096))
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if _, err := buf.CurrentAllocation(); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("CurrentAllocation() error = %v, want ErrOutOfMemory", err)
	}
}
