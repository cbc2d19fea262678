package parallel

import (
	"fmt"
	"sync/atomic"
)

// TileManager holds the binned work of one draw, keyed by macro tile.
//
// Tiles are created lazily the first time work is binned into them and
// listed in Used in first-binned order. Produced counts every queued item;
// Consumed counts items whose tile has completed. A draw's backend work is
// finished when the two match.
type TileManager struct {
	pool  *TilePool
	tiles map[uint32]*Tile
	used  []uint32

	produced atomic.Int64
	consumed atomic.Int64
}

// NewTileManager creates an empty manager drawing bins from pool.
// A nil pool allocates a private one.
func NewTileManager(pool *TilePool) *TileManager {
	if pool == nil {
		pool = NewTilePool()
	}
	return &TileManager{
		pool:  pool,
		tiles: make(map[uint32]*Tile),
	}
}

// Enqueue bins w into the macro tile at (x, y).
func (m *TileManager) Enqueue(x, y int, w Work) error {
	if x < 0 || x >= MaxTilesX || y < 0 || y >= MaxTilesY {
		return fmt.Errorf("%w: (%d, %d)", ErrTileOutOfRange, x, y)
	}
	if w == nil {
		return nil
	}
	id := TileID(x, y)
	t, ok := m.tiles[id]
	if !ok {
		t = m.pool.Get(x, y)
		m.tiles[id] = t
		m.used = append(m.used, id)
	}
	t.work = append(t.work, w)
	m.produced.Add(1)
	return nil
}

// EnqueueRect bins w into every macro tile intersecting the pixel rectangle.
// Coordinates are clamped to the addressable grid.
func (m *TileManager) EnqueueRect(x, y, w, h int, work Work) error {
	if w <= 0 || h <= 0 {
		return nil
	}
	x1 := max(x, 0)
	y1 := max(y, 0)
	x2 := min(x+w, MaxTilesX*MacroTileWidth)
	y2 := min(y+h, MaxTilesY*MacroTileHeight)
	if x1 >= x2 || y1 >= y2 {
		return nil
	}

	tx1 := x1 / MacroTileWidth
	ty1 := y1 / MacroTileHeight
	tx2 := (x2 - 1) / MacroTileWidth
	ty2 := (y2 - 1) / MacroTileHeight

	for ty := ty1; ty <= ty2; ty++ {
		for tx := tx1; tx <= tx2; tx++ {
			if err := m.Enqueue(tx, ty, work); err != nil {
				return err
			}
		}
	}
	return nil
}

// Used returns the ids of tiles holding work, in first-binned order.
// The slice must not be modified.
func (m *TileManager) Used() []uint32 {
	return m.used
}

// Tile returns the bin for id, or nil if nothing was binned there.
func (m *TileManager) Tile(id uint32) *Tile {
	return m.tiles[id]
}

// MarkComplete accounts for the finished tile id and reports whether all
// binned work of the draw has now completed.
func (m *TileManager) MarkComplete(id uint32) bool {
	t := m.tiles[id]
	if t == nil {
		return m.IsWorkComplete()
	}
	consumed := m.consumed.Add(int64(t.Len()))
	return consumed == m.produced.Load()
}

// IsWorkComplete reports whether every binned item has run.
// A draw with no binned work is complete.
func (m *TileManager) IsWorkComplete() bool {
	return m.consumed.Load() == m.produced.Load()
}

// Produced returns the number of binned work items.
func (m *TileManager) Produced() int64 {
	return m.produced.Load()
}

// Discard drops all binned work. The draw becomes complete with nothing run.
func (m *TileManager) Discard() {
	m.release()
}

// Reset prepares the manager for a new draw, returning bins to the pool.
func (m *TileManager) Reset() {
	m.release()
}

func (m *TileManager) release() {
	for _, id := range m.used {
		m.pool.Put(m.tiles[id])
	}
	clear(m.tiles)
	m.used = m.used[:0]
	m.produced.Store(0)
	m.consumed.Store(0)
}
