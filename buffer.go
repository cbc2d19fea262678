package swr

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Buffer is a linear resource (vertex, index, uniform or storage data).
type Buffer struct {
	*Resource
	desc gputypes.BufferDescriptor
}

// CreateBuffer creates a context-owned buffer. With MappedAtCreation set the
// first allocation is provisioned immediately.
func (c *Context) CreateBuffer(desc gputypes.BufferDescriptor) (*Buffer, error) {
	if desc.Size == 0 || desc.Size > uint64(maxResourceBytes) {
		return nil, fmt.Errorf("%w: buffer %q of %d bytes", ErrInvalidSize, desc.Label, desc.Size)
	}
	r, err := c.newResource(desc.Label, int(desc.Size), -1, nil) //nolint:gosec // G115: bounded above
	if err != nil {
		return nil, err
	}
	b := &Buffer{Resource: r, desc: desc}
	if desc.MappedAtCreation {
		if _, err := r.CurrentAllocation(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// CreateBufferFromMemory wraps caller memory as a buffer. The buffer has a
// single allocation; the caller keeps ownership of mem.
func (c *Context) CreateBufferFromMemory(label string, mem []byte, usage gputypes.BufferUsage) (*Buffer, error) {
	if len(mem) == 0 {
		return nil, fmt.Errorf("%w: buffer %q over empty memory", ErrInvalidSize, label)
	}
	r, err := c.newResource(label, len(mem), 0, mem)
	if err != nil {
		return nil, err
	}
	return &Buffer{
		Resource: r,
		desc: gputypes.BufferDescriptor{
			Label: label,
			Size:  uint64(len(mem)),
			Usage: usage,
		},
	}, nil
}

// Descriptor returns the descriptor the buffer was created with.
func (b *Buffer) Descriptor() gputypes.BufferDescriptor {
	return b.desc
}

// Usage returns the buffer usage flags.
func (b *Buffer) Usage() gputypes.BufferUsage {
	return b.desc.Usage
}

// maxResourceBytes caps a single allocation so sizes fit int everywhere.
const maxResourceBytes = 1<<31 - 1
