package parallel

import "sync"

// TilePool provides reuse of Tile bins via sync.Pool.
//
// Draw contexts are recycled continuously, so their bins are too. A tile
// returned to the pool keeps its work slice capacity.
//
// Thread safety: TilePool is safe for concurrent use.
type TilePool struct {
	pool sync.Pool
}

// NewTilePool creates a new tile pool.
func NewTilePool() *TilePool {
	p := &TilePool{}
	p.pool.New = func() any {
		return &Tile{work: make([]Work, 0, 4)}
	}
	return p
}

// Get returns an empty tile positioned at (x, y).
func (p *TilePool) Get(x, y int) *Tile {
	t := p.pool.Get().(*Tile)
	t.X = x
	t.Y = y
	return t
}

// Put returns a tile to the pool. If tile is nil, this is a no-op.
func (p *TilePool) Put(t *Tile) {
	if t == nil {
		return
	}
	t.Reset()
	p.pool.Put(t)
}
