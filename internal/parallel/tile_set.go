package parallel

import "math/bits"

// tileSetWords is the bitmap size covering the whole macro tile grid.
const tileSetWords = (MaxTilesX*MaxTilesY + 63) / 64

// TileSet is a bitmap over the macro tile grid.
//
// Each backend worker keeps one to remember which tiles it has seen
// completed in earlier draws of its current pass. Bit index = y*MaxTilesX + x.
// Word index = bit index / 64.
//
// Thread safety: TileSet is owned by a single worker and is NOT safe for
// concurrent use.
type TileSet struct {
	words [tileSetWords]uint64

	// touched lists word indices that may be non-zero, so Clear stays cheap.
	// It can hold duplicates.
	touched []int
}

// NewTileSet creates an empty set.
func NewTileSet() *TileSet {
	return &TileSet{touched: make([]int, 0, 16)}
}

func tileBit(id uint32) (word int, mask uint64, ok bool) {
	x, y := TileCoords(id)
	if x >= MaxTilesX || y >= MaxTilesY {
		return 0, 0, false
	}
	idx := y*MaxTilesX + x
	return idx / 64, 1 << (idx & 63), true
}

// Add marks the tile.
func (s *TileSet) Add(id uint32) {
	w, m, ok := tileBit(id)
	if !ok {
		return
	}
	if s.words[w] == 0 {
		s.touched = append(s.touched, w)
	}
	s.words[w] |= m
}

// Remove clears the tile.
func (s *TileSet) Remove(id uint32) {
	if w, m, ok := tileBit(id); ok {
		s.words[w] &^= m
	}
}

// Has reports whether the tile is marked.
func (s *TileSet) Has(id uint32) bool {
	w, m, ok := tileBit(id)
	return ok && s.words[w]&m != 0
}

// Len returns the number of marked tiles.
func (s *TileSet) Len() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Clear unmarks every tile.
func (s *TileSet) Clear() {
	for _, w := range s.touched {
		s.words[w] = 0
	}
	s.touched = s.touched[:0]
}
