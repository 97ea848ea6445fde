// Package imaging shrinks user-supplied images before they are uploaded.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxBytes = 1 << 20
	DefaultMaxEdge  = 1920
	DefaultQuality  = 85

	minQuality     = 40
	qualityStep    = 10
	maxShrinkSteps = 6
)

// Options bounds the output of Compress. Zero fields take the defaults.
type Options struct {
	MaxBytes int
	MaxEdge  int
	Quality  int
}

func DefaultOptions() Options {
	return Options{
		MaxBytes: DefaultMaxBytes,
		MaxEdge:  DefaultMaxEdge,
		Quality:  DefaultQuality,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.MaxEdge <= 0 {
		o.MaxEdge = DefaultMaxEdge
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}

// Result is the encoded output. Reencoded is false when the input was
// already within bounds and Data is the caller's original slice.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	Reencoded   bool
}

// Compress returns data unchanged when it already fits opts, otherwise a JPEG
// whose longest edge is at most MaxEdge. Quality is lowered first, then the
// dimensions, until the output fits MaxBytes. If no step fits, the smallest
// encoding produced is returned.
func Compress(data []byte, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image config failed: %w", err)
	}
	if len(data) <= opts.MaxBytes && longestEdge(cfg.Width, cfg.Height) <= opts.MaxEdge {
		return &Result{
			Data:        data,
			ContentType: "image/" + format,
			Width:       cfg.Width,
			Height:      cfg.Height,
		}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image failed: %w", err)
	}

	w, h := Fit(src.Bounds().Dx(), src.Bounds().Dy(), opts.MaxEdge)
	var best *Result
	for step := 0; step < maxShrinkSteps; step++ {
		canvas := Scale(src, w, h)
		for q := opts.Quality; q >= minQuality; q -= qualityStep {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: q}); err != nil {
				return nil, fmt.Errorf("encode jpeg failed: %w", err)
			}
			if best == nil || buf.Len() < len(best.Data) {
				best = &Result{
					Data:        buf.Bytes(),
					ContentType: "image/jpeg",
					Width:       w,
					Height:      h,
					Reencoded:   true,
				}
			}
			if buf.Len() <= opts.MaxBytes {
				return best, nil
			}
		}
		if w <= 1 && h <= 1 {
			break
		}
		w, h = max(w*3/4, 1), max(h*3/4, 1)
	}
	return best, nil
}

// Fit scales (w, h) so that the longest edge is at most maxEdge, keeping the
// aspect ratio. Dimensions already within bounds are returned as is.
func Fit(w, h, maxEdge int) (int, int) {
	longest := longestEdge(w, h)
	if longest <= maxEdge || longest == 0 {
		return w, h
	}
	nw := max((w*maxEdge+longest/2)/longest, 1)
	nh := max((h*maxEdge+longest/2)/longest, 1)
	return nw, nh
}

// Scale draws src onto a white w×h canvas. JPEG has no alpha channel, so
// transparent regions come out white instead of black.
func Scale(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

func longestEdge(w, h int) int {
	if w > h {
		return w
	}
	return h
}
