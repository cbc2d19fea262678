// Command swrstress pushes draws through a small draw ring and reports the
// context's fence and memory statistics.
//
// Each frame renames the render target with a clear, updates a constant
// buffer with LockDiscard and bins a band that scrolls down at subpixel
// steps through a frontend func. The last frame is copied out and saved as
// PNG.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/swr"
)

func main() {
	var (
		width    = flag.Int("width", 800, "render target width")
		height   = flag.Int("height", 600, "render target height")
		frames   = flag.Int("frames", 500, "frames to render")
		inFlight = flag.Int("inflight", 8, "max draws in flight")
		workers  = flag.Int("workers", 0, "backend workers (0 = auto)")
		single   = flag.Bool("single", false, "run all work on the main goroutine")
		verbose  = flag.Bool("v", false, "debug logging")
		output   = flag.String("output", "", "save the last frame as PNG")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	swr.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(*width, *height, *frames, *inFlight, *workers, *single, *output); err != nil {
		slog.Error("swrstress failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(width, height, frames, inFlight, workers int, single bool, output string) error {
	opts := []swr.ContextOption{swr.WithMaxDrawsInFlight(inFlight), swr.WithWorkers(workers)}
	if single {
		opts = append(opts, swr.WithSingleThreaded())
	}
	ctx, err := swr.NewContext(opts...)
	if err != nil {
		return err
	}
	defer ctx.Close()

	rt, err := ctx.CreateRenderTarget(width, height, gputypes.TextureFormatRGBA8Unorm)
	if err != nil {
		return err
	}
	consts, err := ctx.CreateBuffer(gputypes.BufferDescriptor{
		Label: "frame constants",
		Size:  16,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	for f := range frames {
		t := float64(f) / float64(max(frames-1, 1))
		if _, err := ctx.ClearRenderTarget(rt, gputypes.Color{R: 0.1, G: 0.2 + 0.3*t, B: 0.4, A: 1}); err != nil {
			return fmt.Errorf("frame %d clear: %w", f, err)
		}

		mem, err := consts.Lock(swr.LockDiscard)
		if err != nil {
			return fmt.Errorf("frame %d constants: %w", f, err)
		}
		mem[0] = uint8(f)

		if err := drawBand(ctx, rt, consts, mem, scrollBand(rt.FixedBounds(), f, frames)); err != nil {
			return fmt.Errorf("frame %d bands: %w", f, err)
		}
	}

	img := image.NewRGBA(rt.Bounds())
	if err := ctx.CopyRenderTarget(rt, rt.Bounds(), img.Pix, img.Stride, image.Point{}); err != nil {
		return err
	}
	elapsed := time.Since(start)

	stats := ctx.Stats()
	fmt.Printf("%d frames in %v (%.0f draws/s)\n", frames, elapsed.Round(time.Millisecond),
		float64(stats.NextDrawID-1)/elapsed.Seconds())
	fmt.Println(stats)

	if output == "" {
		return nil
	}
	file, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// scrollBand returns a quarter-height strip of bounds moved down by frame.
func scrollBand(bounds fixed.Rectangle26_6, frame, frames int) fixed.Rectangle26_6 {
	dy := bounds.Max.Y - bounds.Min.Y
	h := dy / 4
	travel := int64(dy - h)
	top := bounds.Min.Y + fixed.Int26_6(travel*int64(frame)/int64(max(frames-1, 1)))
	band := bounds
	band.Min.Y, band.Max.Y = top, top+h
	return band
}

// drawBand shades the pixels band touches, using the frame constant.
func drawBand(ctx *swr.Context, rt *swr.RenderTarget, consts *swr.Buffer, constMem []byte, band fixed.Rectangle26_6) error {
	alloc, err := rt.CurrentAllocation()
	if err != nil {
		return err
	}
	d, err := ctx.SubmitDraw()
	if err != nil {
		return err
	}
	d.Read(consts, false)
	d.Write(rt)

	data, pitch, bpp := alloc.Data(), rt.Pitch(), rt.BytesPerPixel()
	shade := constMem[0]
	area := image.Rect(band.Min.X.Floor(), band.Min.Y.Floor(), band.Max.X.Ceil(), band.Max.Y.Ceil())
	if err := d.SetFrontend(func(b *swr.Binner) error {
		return b.BinFixed(band, func(x, y int) {
			r := rt.TileRect(x, y).Intersect(area)
			for py := r.Min.Y; py < r.Max.Y; py++ {
				for px := r.Min.X; px < r.Max.X; px++ {
					off := py*pitch + px*bpp
					data[off] = shade
					data[off+3] = 255
				}
			}
		})
	}); err != nil {
		return err
	}
	return d.Queue()
}
