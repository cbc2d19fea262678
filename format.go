package swr

import "github.com/gogpu/gputypes"

// bytesPerPixel returns the storage size of one texel for formats swr can
// hold in render targets and textures.
func bytesPerPixel(f gputypes.TextureFormat) (int, bool) {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1, true
	case gputypes.TextureFormatRG8Unorm:
		return 2, true
	case gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA8UnormSrgb,
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatBGRA8UnormSrgb,
		gputypes.TextureFormatR32Float,
		gputypes.TextureFormatDepth32Float,
		gputypes.TextureFormatDepth24PlusStencil8:
		return 4, true
	case gputypes.TextureFormatRG32Float,
		gputypes.TextureFormatRGBA16Float:
		return 8, true
	case gputypes.TextureFormatRGBA32Float:
		return 16, true
	}
	return 0, false
}
