//go:build linux

package backing

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mpolBind is MPOL_BIND from <numaif.h>.
const mpolBind = 2

// maxNodeBits is the width of the node mask passed to mbind.
const maxNodeBits = 64

var nodeDirPattern = regexp.MustCompile(`^node[0-9]+$`)

var errAlignTooLarge = errors.New("backing: alignment exceeds page size")

// DetectNodes returns the number of NUMA nodes the kernel reports,
// or 1 when the information is unavailable.
func DetectNodes() int {
	entries, err := os.ReadDir("/sys/devices/system/node")
	if err != nil {
		return 1
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && nodeDirPattern.MatchString(e.Name()) {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// mapOnNode maps size bytes of anonymous memory and binds it to node.
// A failed bind keeps the mapping; the kernel then places pages freely.
func mapOnNode(size, align, node int) ([]byte, error) {
	if align > os.Getpagesize() {
		return nil, errAlignTooLarge
	}
	if node >= maxNodeBits-1 {
		return nil, fmt.Errorf("backing: node %d outside mbind mask", node)
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return nil, fmt.Errorf("%w: mmap %d bytes: %v", ErrOutOfMemory, size, err)
		}
		return nil, fmt.Errorf("backing: mmap: %w", err)
	}

	mask := uint64(1) << uint(node) //nolint:gosec // G115: node bounded above
	_, _, errno := unix.Syscall6(unix.SYS_MBIND,
		uintptr(unsafe.Pointer(unsafe.SliceData(mem))),
		uintptr(len(mem)),
		mpolBind,
		uintptr(unsafe.Pointer(&mask)),
		maxNodeBits,
		0)
	if errno != 0 {
		slogger().Warn("backing: mbind failed, memory left unbound",
			"node", node,
			"error", errno.Error())
	}
	return mem, nil
}

// unmap releases a mapping created by mapOnNode.
func unmap(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("backing: munmap: %w", err)
	}
	return nil
}
