package parallel

import "testing"

func TestTileSet_AddRemoveHas(t *testing.T) {
	s := NewTileSet()
	a, b := TileID(0, 0), TileID(127, 127)

	if s.Has(a) {
		t.Error("Has() = true on empty set")
	}
	s.Add(a)
	s.Add(b)
	if !s.Has(a) || !s.Has(b) {
		t.Error("Has() = false after Add")
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}

	s.Remove(a)
	if s.Has(a) {
		t.Error("Has() = true after Remove")
	}
	s.Add(a)
	s.Add(a)
	if s.Len() != 2 {
		t.Errorf("Len() after re-add = %d, want 2", s.Len())
	}

	s.Clear()
	if s.Len() != 0 || s.Has(b) {
		t.Errorf("after Clear Len() = %d", s.Len())
	}
}

func TestTileSet_OutOfRangeIgnored(t *testing.T) {
	s := NewTileSet()
	id := TileID(MaxTilesX, 0)
	s.Add(id)
	if s.Has(id) || s.Len() != 0 {
		t.Error("out-of-range tile was added")
	}
	s.Remove(id)
}
