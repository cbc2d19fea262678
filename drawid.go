package swr

import "strconv"

// DrawID identifies one submitted draw. Ids start at 1 and increase by one
// per draw; 0 means "never" in dependency fields. 64 bits do not wrap within
// a session.
type DrawID uint64

// String returns the decimal id.
func (id DrawID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
