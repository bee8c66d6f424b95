// Package compositor paints backgrounds into monitor regions of the
// shared segment and gates the first paint behind the configure barrier.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"math"
	"os"

	"github.com/nfnt/resize"

	"github.com/1broseidon/wlpaper/internal/config"
	"github.com/1broseidon/wlpaper/internal/layout"
	"github.com/1broseidon/wlpaper/internal/output"

	// Registered decoders. The config may name any of these formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedMode marks a scaling mode the painter does not know.
// Config validation rejects these at load time; hitting this at paint
// time means a Preference was constructed by hand.
var ErrUnsupportedMode = errors.New("unsupported scaling mode")

// Painter composites source images into monitor regions. Decode and file
// errors are non-fatal: the affected monitor falls back to a solid black
// fill so one bad path never aborts a pass.
type Painter struct {
	log *slog.Logger
}

func NewPainter(logger *slog.Logger) *Painter {
	return &Painter{log: logger}
}

// Target pairs a monitor with its region and resolved preference for one
// compositing pass.
type Target struct {
	Monitor *output.Monitor
	Region  layout.Region
	Pref    config.Preference
}

// PaintAll paints every target in order and audits the write cursor: the
// bytes written for a monitor must land exactly on the end of its region.
// A mismatch means the row length formula and the region table have
// diverged; it is surfaced loudly but does not stop the pass.
func (p *Painter) PaintAll(targets []Target, dst []byte) {
	for _, t := range targets {
		n := p.Paint(t.Monitor, t.Region, t.Pref, dst)
		if n != t.Region.Length {
			p.log.Warn("buffer position mismatch",
				"output", t.Monitor.Name,
				"real", t.Region.Offset+n,
				"expected", t.Region.Offset+t.Region.Length)
		}
	}
}

// Paint writes one monitor's pixels into dst starting at the region
// offset and returns the number of bytes written. Output is packed BGR,
// row-major, no stride padding.
func (p *Painter) Paint(mon *output.Monitor, region layout.Region, pref config.Preference, dst []byte) int {
	if region.Offset+region.Length > len(dst) {
		p.log.Warn("region exceeds segment, skipping paint",
			"output", mon.Name, "offset", region.Offset, "length", region.Length, "segment", len(dst))
		return 0
	}
	target := dst[region.Offset : region.Offset+region.Length]

	if pref.Background == "" {
		p.log.Warn("no background image configured, defaulting to black", "output", mon.Name)
		return fillBlack(target, mon.PixelCount)
	}

	src, err := loadImage(pref.Background)
	if err != nil {
		p.log.Warn("background unavailable, defaulting to black",
			"output", mon.Name, "background", pref.Background, "error", err)
		return fillBlack(target, mon.PixelCount)
	}

	frame, err := applyMode(src, pref.Mode, mon.Width, mon.Height)
	if err != nil {
		p.log.Warn("cannot apply mode, defaulting to black",
			"output", mon.Name, "mode", pref.Mode, "error", err)
		return fillBlack(target, mon.PixelCount)
	}

	p.log.Debug("writing background image",
		"output", mon.Name, "background", pref.Background, "mode", pref.Mode)
	return writeBGR(target, frame, mon.Width, mon.Height)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// applyMode produces a frame of exactly tw x th pixels. Any transparent
// or uncovered area is flattened against black, since the output buffer
// has no alpha channel.
func applyMode(src image.Image, mode config.Mode, tw, th int) (*image.RGBA, error) {
	switch mode {
	case config.ModeFill, "":
		src = coverScale(src, tw, th)
	case config.ModeFit:
		src = containScale(src, tw, th)
	case config.ModeStretch:
		src = resize.Resize(uint(tw), uint(th), src, resize.Lanczos3)
	case config.ModeCenter:
		// No scaling: centered, overflow cropped, underflow padded.
	default:
		return nil, fmt.Errorf("%q: %w", mode, ErrUnsupportedMode)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)

	sb := src.Bounds()
	dx := (tw - sb.Dx()) / 2
	dy := (th - sb.Dy()) / 2
	dr := image.Rect(dx, dy, dx+sb.Dx(), dy+sb.Dy())
	draw.Draw(canvas, dr, src, sb.Min, draw.Over)
	return canvas, nil
}

// coverScale scales src with Lanczos so it covers at least tw x th while
// preserving aspect ratio; the centered draw afterwards crops overflow.
func coverScale(src image.Image, tw, th int) image.Image {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == 0 || sh == 0 {
		return src
	}
	scale := math.Max(float64(tw)/float64(sw), float64(th)/float64(sh))
	rw := int(math.Ceil(float64(sw) * scale))
	rh := int(math.Ceil(float64(sh) * scale))
	if rw < tw {
		rw = tw
	}
	if rh < th {
		rh = th
	}
	return resize.Resize(uint(rw), uint(rh), src, resize.Lanczos3)
}

// containScale scales src with Lanczos so it fits entirely within
// tw x th while preserving aspect ratio; the centered draw afterwards
// leaves black borders on the short axis.
func containScale(src image.Image, tw, th int) image.Image {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if sw == 0 || sh == 0 {
		return src
	}
	scale := math.Min(float64(tw)/float64(sw), float64(th)/float64(sh))
	rw := int(math.Round(float64(sw) * scale))
	rh := int(math.Round(float64(sh) * scale))
	if rw > tw {
		rw = tw
	}
	if rh > th {
		rh = th
	}
	if rw < 1 {
		rw = 1
	}
	if rh < 1 {
		rh = 1
	}
	return resize.Resize(uint(rw), uint(rh), src, resize.Lanczos3)
}

// writeBGR packs a frame into dst as blue, green, red bytes per pixel.
func writeBGR(dst []byte, frame *image.RGBA, w, h int) int {
	n := 0
	for y := 0; y < h; y++ {
		row := frame.Pix[y*frame.Stride:]
		for x := 0; x < w; x++ {
			if n+3 > len(dst) {
				return n
			}
			dst[n] = row[x*4+2]
			dst[n+1] = row[x*4+1]
			dst[n+2] = row[x*4]
			n += 3
		}
	}
	return n
}

// fillBlack writes the 3-byte value (0,0,0) once per pixel. It reports
// pixels*3 even when clamped by dst so the cursor audit sees the
// divergence.
func fillBlack(dst []byte, pixels int) int {
	n := pixels * 3
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = 0
	}
	return pixels * 3
}
