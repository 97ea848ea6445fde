package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// photo builds a gradient with per-pixel noise, which compresses about as
// badly as a phone-camera frame does.
func photo(w, h, noise int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := uint8(rng.Intn(noise))
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x*255/w) ^ n,
				G: uint8(y*255/h) ^ n,
				B: uint8((x+y)*255/(w+h)) ^ n,
				A: 255,
			})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}))
	return buf.Bytes()
}

func TestCompress_LargePhotoFitsBounds(t *testing.T) {
	if testing.Short() {
		t.Skip("encodes a 12MP image")
	}
	input := encodePNG(t, photo(4000, 3000, 48, 1))
	require.Greater(t, len(input), 5<<20, "fixture should exceed 5MB")

	out, err := Compress(input, DefaultOptions())
	require.NoError(t, err)

	assert.True(t, out.Reencoded)
	assert.Equal(t, "image/jpeg", out.ContentType)
	assert.LessOrEqual(t, len(out.Data), DefaultMaxBytes)
	assert.LessOrEqual(t, max(out.Width, out.Height), DefaultMaxEdge)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, out.Width, cfg.Width)
	assert.Equal(t, out.Height, cfg.Height)
	// aspect ratio survives every shrink step
	assert.InDelta(t, 4.0/3.0, float64(cfg.Width)/float64(cfg.Height), 0.01)
}

func TestCompress_SmallImagePassesThrough(t *testing.T) {
	input := encodeJPEG(t, photo(640, 480, 8, 2), 90)
	require.Less(t, len(input), DefaultMaxBytes)

	out, err := Compress(input, DefaultOptions())
	require.NoError(t, err)

	assert.False(t, out.Reencoded)
	assert.Equal(t, input, out.Data)
	assert.Equal(t, "image/jpeg", out.ContentType)
	assert.Equal(t, 640, out.Width)
	assert.Equal(t, 480, out.Height)
}

func TestCompress_OversizedEdgeIsResizedEvenWhenSmall(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3000, 100))
	for x := 0; x < 3000; x++ {
		for y := 0; y < 100; y++ {
			img.SetRGBA(x, y, color.RGBA{R: 10, G: 200, B: 90, A: 255})
		}
	}
	input := encodePNG(t, img)
	require.Less(t, len(input), DefaultMaxBytes)

	out, err := Compress(input, DefaultOptions())
	require.NoError(t, err)

	assert.True(t, out.Reencoded)
	assert.Equal(t, 1920, out.Width)
	assert.Equal(t, 64, out.Height)
}

func TestCompress_TightByteBudgetShrinksDimensions(t *testing.T) {
	input := encodePNG(t, photo(800, 600, 8, 3))
	require.Greater(t, len(input), 40<<10)

	out, err := Compress(input, Options{MaxBytes: 40 << 10, MaxEdge: 800})
	require.NoError(t, err)

	assert.True(t, out.Reencoded)
	assert.LessOrEqual(t, len(out.Data), 40<<10)
	assert.LessOrEqual(t, out.Width, 800)
}

func TestCompress_TransparentPixelsBecomeWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2400, 10))
	input := encodePNG(t, img)

	out, err := Compress(input, DefaultOptions())
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out.Data))
	require.NoError(t, err)
	r, g, b, _ := decoded.At(5, 5).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, g>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestCompress_RejectsNonImage(t *testing.T) {
	_, err := Compress([]byte("definitely not an image"), DefaultOptions())
	assert.Error(t, err)
}

func TestFit(t *testing.T) {
	tests := []struct {
		name         string
		w, h, edge   int
		wantW, wantH int
	}{
		{name: "landscape", w: 4000, h: 3000, edge: 1920, wantW: 1920, wantH: 1440},
		{name: "portrait", w: 3000, h: 4000, edge: 1920, wantW: 1440, wantH: 1920},
		{name: "within bounds", w: 800, h: 600, edge: 1920, wantW: 800, wantH: 600},
		{name: "sliver keeps one pixel", w: 10000, h: 1, edge: 100, wantW: 100, wantH: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := Fit(tt.w, tt.h, tt.edge)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}
