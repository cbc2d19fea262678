//go:build !linux

package backing

import "errors"

var errNoNUMA = errors.New("backing: NUMA binding not supported on this platform")

// DetectNodes returns 1; node topology is only read on Linux.
func DetectNodes() int { return 1 }

func mapOnNode(size, align, node int) ([]byte, error) {
	return nil, errNoNUMA
}

func unmap(mem []byte) error { return nil }
