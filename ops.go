package swr

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/gogpu/gputypes"
	"honnef.co/go/safeish"

	"github.com/gogpu/swr/internal/parallel"
)

// ClearRenderTarget fills every pixel of rt with clr as a draw of its own
// and returns its id. When rt is still used by earlier draws the clear
// renames it to a free allocation instead of waiting for them.
func (c *Context) ClearRenderTarget(rt *RenderTarget, clr gputypes.Color) (DrawID, error) {
	pattern, err := clearPattern(rt.format, clr)
	if err != nil {
		return 0, err
	}

	c.UpdateLastRetiredID()
	var alloc *Allocation
	if rt.InUse() && !rt.UserProvided() {
		alloc, err = rt.NextAllocation()
	} else {
		alloc, err = rt.CurrentAllocation()
	}
	if err != nil {
		return 0, err
	}

	d, err := c.SubmitDraw()
	if err != nil {
		return 0, err
	}
	d.Write(rt)
	data, pitch, bpp := alloc.Data(), rt.pitch, rt.bpp
	if err := d.BinRect(0, 0, rt.alignedWidth, rt.alignedHeight, func(x, y int) {
		clearTile(data, pitch, bpp, x, y, pattern)
	}); err != nil {
		d.abandon()
		return 0, err
	}
	if err := d.Queue(); err != nil {
		return 0, err
	}
	return d.ID(), nil
}

// CopyRenderTarget copies the pixels of rt inside sr to dst, whose rows are
// dstPitch bytes apart, placing sr.Min at dp. sr is clipped to rt. The copy
// waits to finish since dst is caller memory. It reads rt per tile, so only
// the tiles sr covers are binned and each runs behind earlier writers of
// that tile rather than behind them as a whole.
func (c *Context) CopyRenderTarget(rt *RenderTarget, sr image.Rectangle, dst []byte, dstPitch int, dp image.Point) error {
	sr = sr.Intersect(rt.Bounds())
	if sr.Empty() {
		return nil
	}
	if dp.X < 0 || dp.Y < 0 {
		return fmt.Errorf("%w: destination point %v", ErrInvalidSize, dp)
	}
	bpp := rt.bpp
	rowBytes := (dp.X + sr.Dx()) * bpp
	if dstPitch < rowBytes {
		return fmt.Errorf("%w: destination pitch %d below row size %d", ErrInvalidSize, dstPitch, rowBytes)
	}
	if need := dstPitch*(dp.Y+sr.Dy()-1) + rowBytes; len(dst) < need {
		return fmt.Errorf("%w: destination holds %d bytes, need %d", ErrInvalidSize, len(dst), need)
	}
	alloc, err := rt.CurrentAllocation()
	if err != nil {
		return err
	}

	d, err := c.SubmitDraw()
	if err != nil {
		return err
	}
	d.Read(rt, true)
	src, pitch := alloc.Data(), rt.pitch
	if err := d.BinRect(sr.Min.X, sr.Min.Y, sr.Dx(), sr.Dy(), func(x, y int) {
		copyRect(dst, dstPitch, src, pitch, bpp, rt.TileRect(x, y).Intersect(sr), dp.Sub(sr.Min))
	}); err != nil {
		d.abandon()
		return err
	}
	if err := d.Queue(); err != nil {
		return err
	}
	return c.WaitForDependencies(d.ID())
}

// CopyToTexture copies the pixels of rt inside sr into mip 0 of plane 0 of
// tex with sr.Min landing on dp, and returns the draw id. The rectangle is
// clipped to both surfaces; formats must match.
func (c *Context) CopyToTexture(rt *RenderTarget, sr image.Rectangle, tex *Texture, dp image.Point) (DrawID, error) {
	if rt.format != tex.Format() {
		return 0, fmt.Errorf("%w: render target %s, texture %s", ErrFormatMismatch, rt.format, tex.Format())
	}
	sub, err := tex.Subresource(0, 0)
	if err != nil {
		return 0, err
	}
	info := tex.info[tex.index(0, 0)]

	sr = sr.Intersect(rt.Bounds())
	delta := dp.Sub(sr.Min)
	dr := sr.Add(delta).Intersect(image.Rect(0, 0, info.Width, info.Height))
	sr = dr.Sub(delta)
	if sr.Empty() {
		return 0, fmt.Errorf("%w: copy rectangle outside the surfaces", ErrInvalidSize)
	}

	alloc, err := rt.CurrentAllocation()
	if err != nil {
		return 0, err
	}
	dstAlloc, err := sub.CurrentAllocation()
	if err != nil {
		return 0, err
	}

	d, err := c.SubmitDraw()
	if err != nil {
		return 0, err
	}
	d.Read(rt, true)
	d.Write(sub)

	src, dst := alloc.Data(), dstAlloc.Data()
	pitch, bpp := rt.pitch, rt.bpp
	if err := d.BinRect(sr.Min.X, sr.Min.Y, sr.Dx(), sr.Dy(), func(x, y int) {
		copyRect(dst, info.Pitch, src, pitch, bpp, rt.TileRect(x, y).Intersect(sr), delta)
	}); err != nil {
		d.abandon()
		return 0, err
	}
	if err := d.Queue(); err != nil {
		return 0, err
	}
	return d.ID(), nil
}

// copyRect copies r of src to r+delta of dst.
func copyRect(dst []byte, dstPitch int, src []byte, srcPitch, bpp int, r image.Rectangle, delta image.Point) {
	n := r.Dx() * bpp
	for row := r.Min.Y; row < r.Max.Y; row++ {
		so := row*srcPitch + r.Min.X*bpp
		do := (row+delta.Y)*dstPitch + (r.Min.X+delta.X)*bpp
		copy(dst[do:do+n], src[so:so+n])
	}
}

// clearTile fills macro tile (tx, ty) of data with pattern.
func clearTile(data []byte, pitch, bpp, tx, ty int, pattern []byte) {
	rowBytes := parallel.MacroTileWidth * bpp
	x0 := tx * rowBytes
	y0 := ty * parallel.MacroTileHeight

	first := data[y0*pitch+x0 : y0*pitch+x0+rowBytes]
	if bpp == 4 {
		v := binary.NativeEndian.Uint32(pattern)
		row := safeish.SliceCast[[]uint32](first)
		for i := range row {
			row[i] = v
		}
	} else {
		n := copy(first, pattern)
		for n < len(first) {
			n += copy(first[n:], first[:n])
		}
	}

	// Copy first row to all other rows
	for y := 1; y < parallel.MacroTileHeight; y++ {
		off := (y0+y)*pitch + x0
		copy(data[off:off+rowBytes], first)
	}
}

// clearPattern encodes clr as one pixel of format.
func clearPattern(format gputypes.TextureFormat, clr gputypes.Color) ([]byte, error) {
	switch format {
	case gputypes.TextureFormatRGBA8Unorm:
		return []byte{unorm8(clr.R), unorm8(clr.G), unorm8(clr.B), unorm8(clr.A)}, nil
	case gputypes.TextureFormatRGBA8UnormSrgb:
		return []byte{unorm8(srgbEncode(clr.R)), unorm8(srgbEncode(clr.G)), unorm8(srgbEncode(clr.B)), unorm8(clr.A)}, nil
	case gputypes.TextureFormatBGRA8Unorm:
		return []byte{unorm8(clr.B), unorm8(clr.G), unorm8(clr.R), unorm8(clr.A)}, nil
	case gputypes.TextureFormatBGRA8UnormSrgb:
		return []byte{unorm8(srgbEncode(clr.B)), unorm8(srgbEncode(clr.G)), unorm8(srgbEncode(clr.R)), unorm8(clr.A)}, nil
	case gputypes.TextureFormatR8Unorm:
		return []byte{unorm8(clr.R)}, nil
	case gputypes.TextureFormatRG8Unorm:
		return []byte{unorm8(clr.R), unorm8(clr.G)}, nil
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatDepth32Float:
		return floatBytes(clr.R), nil
	case gputypes.TextureFormatRG32Float:
		return floatBytes(clr.R, clr.G), nil
	case gputypes.TextureFormatRGBA32Float:
		return floatBytes(clr.R, clr.G, clr.B, clr.A), nil
	case gputypes.TextureFormatDepth24PlusStencil8:
		// Depth in the low 24 bits, stencil cleared to zero.
		d := uint32(math.Round(clamp01(clr.R) * 0xFFFFFF))
		return safeish.SliceCast[[]byte]([]uint32{d}), nil
	}
	return nil, fmt.Errorf("%w: cannot clear %s", ErrUnsupportedFormat, format)
}

func floatBytes(vs ...float64) []byte {
	fs := make([]float32, len(vs))
	for i, v := range vs {
		fs[i] = float32(v)
	}
	return safeish.SliceCast[[]byte](fs)
}

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}

func unorm8(v float64) uint8 {
	return uint8(clamp01(v)*255 + 0.5)
}

func srgbEncode(v float64) float64 {
	v = clamp01(v)
	if v <= 0.0031308 {
		return v * 12.92
	}
	return 1.055*math.Pow(v, 1/2.4) - 0.055
}
