package swr

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/swr/internal/backing"
)

// SubtextureInfo describes where one mip level of one plane lives in a
// texture's memory.
type SubtextureInfo struct {
	Mip   int
	Plane int

	// Width and Height are the texel dimensions of the level.
	Width  int
	Height int

	// PhysicalWidth and PhysicalHeight include one guard texel and are
	// rounded up to a multiple of 8 for filtered sampling.
	PhysicalWidth  int
	PhysicalHeight int

	// Pitch is the row stride in bytes.
	Pitch int

	// Offset is the byte offset of the level within the texture block.
	Offset int

	// Size is the byte size of the level.
	Size int
}

// Texture is a mipmapped, possibly layered image. All levels share one
// backing block; each level and plane is exposed as its own single
// allocation Resource. Textures take part in hazard tracking but never
// alias, so rewriting a texture in use waits for its readers.
type Texture struct {
	c    *Context
	desc gputypes.TextureDescriptor

	bpp    int
	mips   int
	planes int

	block []byte
	info  []SubtextureInfo
	subs  []*Resource

	destroyed bool
}

// textureRowAlign is the texel alignment of physical texture rows.
const textureRowAlign = 8

// CreateTexture creates a texture. A zero MipLevelCount selects the full
// chain down to 1x1; larger counts are clamped to it. Each array layer (or
// depth slice) becomes a plane.
func (c *Context) CreateTexture(desc gputypes.TextureDescriptor) (*Texture, error) {
	w, h := int(desc.Size.Width), int(desc.Size.Height)
	if w <= 0 || h <= 0 || max(w, h) > maxResourceBytes/textureRowAlign {
		return nil, fmt.Errorf("%w: texture %q %dx%d", ErrInvalidSize, desc.Label, w, h)
	}
	bpp, ok := bytesPerPixel(desc.Format)
	if !ok {
		return nil, fmt.Errorf("%w: texture %q format %s", ErrUnsupportedFormat, desc.Label, desc.Format)
	}

	chain := bits.Len(uint(max(w, h)))
	mips := chain
	if desc.MipLevelCount > 0 {
		mips = min(int(desc.MipLevelCount), chain)
	}
	layers := max(desc.Size.DepthOrArrayLayers, 1)

	// Every plane has the same mip chain. Size it once, checking each
	// product against the limit before it can overflow.
	levels := make([]SubtextureInfo, mips)
	planeBytes := 0
	mw, mh := w, h
	for mip := range mips {
		pw := backing.AlignUp(mw+1, textureRowAlign)
		ph := backing.AlignUp(mh+1, textureRowAlign)
		if pw > maxResourceBytes/bpp/ph {
			return nil, fmt.Errorf("%w: texture %q mip %d is %dx%d", ErrInvalidSize, desc.Label, mip, mw, mh)
		}
		size := pw * ph * bpp
		levels[mip] = SubtextureInfo{
			Mip:            mip,
			Width:          mw,
			Height:         mh,
			PhysicalWidth:  pw,
			PhysicalHeight: ph,
			Pitch:          pw * bpp,
			Offset:         planeBytes,
			Size:           size,
		}
		if size > maxResourceBytes-defaultResourceAlign-planeBytes {
			return nil, fmt.Errorf("%w: texture %q mip chain needs over %d bytes", ErrInvalidSize, desc.Label, maxResourceBytes)
		}
		planeBytes += backing.AlignUp(size, defaultResourceAlign)
		mw = max(mw/2, 1)
		mh = max(mh/2, 1)
	}
	if uint64(layers) > uint64(maxResourceBytes/planeBytes) {
		return nil, fmt.Errorf("%w: texture %q has %d planes of %d bytes", ErrInvalidSize, desc.Label, layers, planeBytes)
	}
	planes := int(layers)
	total := planes * planeBytes

	t := &Texture{
		c:      c,
		desc:   desc,
		bpp:    bpp,
		mips:   mips,
		planes: planes,
		info:   make([]SubtextureInfo, mips*planes),
	}
	for plane := range planes {
		for mip, si := range levels {
			si.Plane = plane
			si.Offset += plane * planeBytes
			t.info[t.index(mip, plane)] = si
		}
	}

	node := c.nodeHint()
	block, err := c.store.Allocate(total, defaultResourceAlign, node)
	if err != nil {
		return nil, fmt.Errorf("swr: texture %q: %w", desc.Label, err)
	}
	t.block = block

	t.subs = make([]*Resource, len(t.info))
	for i, si := range t.info {
		label := fmt.Sprintf("%s mip %d plane %d", desc.Label, si.Mip, si.Plane)
		r, err := c.newResource(label, si.Size, node, block[si.Offset:si.Offset+si.Size])
		if err != nil {
			_ = c.store.Deallocate(block)
			return nil, err
		}
		t.subs[i] = r
	}
	return t, nil
}

// index maps (mip, plane) to the subresource index.
func (t *Texture) index(mip, plane int) int {
	return mip + plane*t.mips
}

// Descriptor returns the descriptor the texture was created with.
func (t *Texture) Descriptor() gputypes.TextureDescriptor { return t.desc }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// MipLevels returns the number of mip levels per plane.
func (t *Texture) MipLevels() int { return t.mips }

// Planes returns the number of planes (array layers or depth slices).
func (t *Texture) Planes() int { return t.planes }

// Subresource returns the resource tracking one mip level of one plane.
func (t *Texture) Subresource(mip, plane int) (*Resource, error) {
	if mip < 0 || mip >= t.mips || plane < 0 || plane >= t.planes {
		return nil, fmt.Errorf("swr: texture %q has no mip %d plane %d", t.desc.Label, mip, plane)
	}
	return t.subs[t.index(mip, plane)], nil
}

// SubtextureInfo returns the layout of one mip level of one plane.
func (t *Texture) SubtextureInfo(mip, plane int) (SubtextureInfo, error) {
	if mip < 0 || mip >= t.mips || plane < 0 || plane >= t.planes {
		return SubtextureInfo{}, fmt.Errorf("swr: texture %q has no mip %d plane %d", t.desc.Label, mip, plane)
	}
	return t.info[t.index(mip, plane)], nil
}

// AddReadDependency records reader on every subresource and returns dep
// raised to their writers unless tileable.
func (t *Texture) AddReadDependency(dep, reader DrawID, tileable bool) DrawID {
	for _, r := range t.subs {
		dep = r.AddReadDependency(dep, reader, tileable)
	}
	return dep
}

// AddWriteDependency records writer on every subresource and returns dep
// raised to their readers. Use Subresource for per-level tracking.
func (t *Texture) AddWriteDependency(dep, writer DrawID) DrawID {
	for _, r := range t.subs {
		dep = r.AddWriteDependency(dep, writer)
	}
	return dep
}

// InUse reports whether any subresource is in use.
func (t *Texture) InUse() bool {
	for _, r := range t.subs {
		if r.InUse() {
			return true
		}
	}
	return false
}

// WaitForDependencies blocks until no draw uses any subresource.
func (t *Texture) WaitForDependencies() error {
	for _, r := range t.subs {
		if err := r.WaitForDependencies(false); err != nil {
			return err
		}
	}
	return nil
}

// Destroy waits for every subresource to retire and releases the block.
func (t *Texture) Destroy() error {
	if t.destroyed {
		return ErrDestroyed
	}
	if err := t.WaitForDependencies(); err != nil {
		return err
	}
	t.destroyed = true

	var errs []error
	for _, r := range t.subs {
		if err := r.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	if !t.c.closed.Load() {
		if err := t.c.store.Deallocate(t.block); err != nil {
			errs = append(errs, err)
		}
	}
	t.block = nil
	return errors.Join(errs...)
}
