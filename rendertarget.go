package swr

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/swr/internal/backing"
	"github.com/gogpu/swr/internal/parallel"
)

// Render target size limits.
const (
	// MaxRenderTargetWidth is the widest render target the macro tile grid covers.
	MaxRenderTargetWidth = parallel.MaxTilesX * parallel.MacroTileWidth

	// MaxRenderTargetHeight is the tallest render target the macro tile grid covers.
	MaxRenderTargetHeight = parallel.MaxTilesY * parallel.MacroTileHeight
)

// RenderTarget is a 2D color or depth surface stored in macro tile aligned
// rows. Width and height are padded up to whole macro tiles, so tile work
// never needs edge checks for memory safety.
type RenderTarget struct {
	*Resource

	format        gputypes.TextureFormat
	width, height int
	alignedWidth  int
	alignedHeight int
	bpp           int
	pitch         int
}

// CreateRenderTarget creates a context-owned render target.
func (c *Context) CreateRenderTarget(width, height int, format gputypes.TextureFormat) (*RenderTarget, error) {
	rt, err := newRenderTargetLayout(width, height, format)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("rt %dx%d %s", width, height, format)
	if rt.Resource, err = c.newResource(label, rt.pitch*rt.alignedHeight, -1, nil); err != nil {
		return nil, err
	}
	return rt, nil
}

// CreateRenderTargetFromMemory wraps caller memory laid out like
// RenderTarget.Pitch rows of macro tile aligned height. The render target
// has a single allocation.
func (c *Context) CreateRenderTargetFromMemory(width, height int, format gputypes.TextureFormat, mem []byte) (*RenderTarget, error) {
	rt, err := newRenderTargetLayout(width, height, format)
	if err != nil {
		return nil, err
	}
	label := fmt.Sprintf("rt %dx%d %s (user)", width, height, format)
	if rt.Resource, err = c.newResource(label, rt.pitch*rt.alignedHeight, 0, mem); err != nil {
		return nil, err
	}
	return rt, nil
}

// RenderTargetSize returns the bytes a caller must supply to
// CreateRenderTargetFromMemory.
func RenderTargetSize(width, height int, format gputypes.TextureFormat) (int, error) {
	rt, err := newRenderTargetLayout(width, height, format)
	if err != nil {
		return 0, err
	}
	return rt.pitch * rt.alignedHeight, nil
}

func newRenderTargetLayout(width, height int, format gputypes.TextureFormat) (*RenderTarget, error) {
	if width <= 0 || height <= 0 || width > MaxRenderTargetWidth || height > MaxRenderTargetHeight {
		return nil, fmt.Errorf("%w: render target %dx%d", ErrInvalidSize, width, height)
	}
	bpp, ok := bytesPerPixel(format)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	aw := backing.AlignUp(width, parallel.MacroTileWidth)
	ah := backing.AlignUp(height, parallel.MacroTileHeight)
	return &RenderTarget{
		format:        format,
		width:         width,
		height:        height,
		alignedWidth:  aw,
		alignedHeight: ah,
		bpp:           bpp,
		pitch:         aw * bpp,
	}, nil
}

// Width returns the visible width in pixels.
func (rt *RenderTarget) Width() int { return rt.width }

// Height returns the visible height in pixels.
func (rt *RenderTarget) Height() int { return rt.height }

// Format returns the pixel format.
func (rt *RenderTarget) Format() gputypes.TextureFormat { return rt.format }

// BytesPerPixel returns the size of one pixel.
func (rt *RenderTarget) BytesPerPixel() int { return rt.bpp }

// Pitch returns the row stride in bytes.
func (rt *RenderTarget) Pitch() int { return rt.pitch }

// TilesX returns the number of macro tile columns.
func (rt *RenderTarget) TilesX() int { return rt.alignedWidth / parallel.MacroTileWidth }

// TilesY returns the number of macro tile rows.
func (rt *RenderTarget) TilesY() int { return rt.alignedHeight / parallel.MacroTileHeight }

// Bounds returns the visible pixel rectangle.
func (rt *RenderTarget) Bounds() image.Rectangle {
	return image.Rect(0, 0, rt.width, rt.height)
}

// FixedBounds returns the visible rectangle in 26.6 fixed point, the
// coordinate space rasterizer setup works in.
func (rt *RenderTarget) FixedBounds() fixed.Rectangle26_6 {
	return fixed.R(0, 0, rt.width, rt.height)
}

// TileRect returns the visible pixels of macro tile (x, y). The rectangle is
// empty for tiles outside the render target.
func (rt *RenderTarget) TileRect(x, y int) image.Rectangle {
	r := image.Rect(
		x*parallel.MacroTileWidth,
		y*parallel.MacroTileHeight,
		(x+1)*parallel.MacroTileWidth,
		(y+1)*parallel.MacroTileHeight)
	return r.Intersect(rt.Bounds())
}

// PixelOffset returns the byte offset of pixel (px, py) in an allocation.
// Returns -1 if the pixel is outside the render target.
func (rt *RenderTarget) PixelOffset(px, py int) int {
	if px < 0 || px >= rt.width || py < 0 || py >= rt.height {
		return -1
	}
	return py*rt.pitch + px*rt.bpp
}
