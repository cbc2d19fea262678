// Package parallel provides the macro tile binning and worker infrastructure
// used by the swr backend.
//
// The render area is divided into 128x128 pixel macro tiles. The frontend
// bins work for a draw into the tiles it covers; backend workers claim whole
// tiles and run their queued work in order. Key pieces:
//
//   - Tile: one macro tile's work queue with claim and completion flags
//   - TileManager: the bins of a single draw plus produced/consumed counts
//   - TileSet: a bitmap of macro tiles, used per worker to keep per-tile order
//   - TilePool: reuse of Tile bins via sync.Pool
//   - Workers: goroutine lifecycle for the backend loops
//
// Thread safety: TileManager.Enqueue is called by one frontend at a time.
// Claim, Run and MarkComplete are safe for concurrent use by workers once
// binning is published.
package parallel

import (
	"errors"
	"sync/atomic"
)

// Macro tile size constants.
const (
	// MacroTileWidth is the width of a macro tile in pixels.
	MacroTileWidth = 128

	// MacroTileHeight is the height of a macro tile in pixels.
	MacroTileHeight = 128

	// MaxTilesX is the number of macro tile columns addressable by a draw.
	MaxTilesX = 128

	// MaxTilesY is the number of macro tile rows addressable by a draw.
	MaxTilesY = 128
)

// ErrTileOutOfRange is returned when binning outside the macro tile grid.
var ErrTileOutOfRange = errors.New("parallel: macro tile out of range")

// Work is one binned unit of backend work for the macro tile at (x, y).
type Work func(x, y int)

// TileID packs macro tile coordinates into a single key.
func TileID(x, y int) uint32 {
	return uint32(x)<<16 | uint32(y) //nolint:gosec // coordinates bounded by MaxTilesX/MaxTilesY
}

// TileCoords unpacks a key created by TileID.
func TileCoords(id uint32) (x, y int) {
	return int(id >> 16), int(id & 0xFFFF)
}

// Tile is the work bin of one macro tile within one draw.
type Tile struct {
	// X is the macro tile column index (0-based).
	X int

	// Y is the macro tile row index (0-based).
	Y int

	// work holds the queued items in binning order.
	work []Work

	claimed atomic.Bool
	done    atomic.Bool
}

// Reset clears the tile for reuse.
func (t *Tile) Reset() {
	clear(t.work)
	t.work = t.work[:0]
	t.X, t.Y = 0, 0
	t.claimed.Store(false)
	t.done.Store(false)
}

// Len returns the number of queued work items.
func (t *Tile) Len() int {
	return len(t.work)
}

// Claim tries to take ownership of the tile. Only one caller succeeds.
func (t *Tile) Claim() bool {
	return t.claimed.CompareAndSwap(false, true)
}

// Complete reports whether every queued item has run.
func (t *Tile) Complete() bool {
	return t.done.Load()
}

// Run executes the queued work in order and marks the tile complete.
// The caller must hold the claim.
func (t *Tile) Run() {
	for _, w := range t.work {
		w(t.X, t.Y)
	}
	t.done.Store(true)
}
