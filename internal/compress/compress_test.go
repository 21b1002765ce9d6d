package compress

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/jobs"
)

func noisyImage(w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(x), B: uint8(y), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func TestTransformResizesToMaxDimension(t *testing.T) {
	c := New(zerolog.Nop())
	input := encodeJPEG(t, noisyImage(400, 200), 95)

	out, err := c.Transform(context.Background(), input, jobs.Options{TargetSizeBytes: 1 << 20, MaxDimension: 100})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if format != "jpeg" || cfg.Width != 100 || cfg.Height != 50 {
		t.Fatalf("got %s %dx%d, want jpeg 100x50", format, cfg.Width, cfg.Height)
	}
}

func TestTransformShrinksOverBudgetJPEG(t *testing.T) {
	c := New(zerolog.Nop())
	input := encodeJPEG(t, noisyImage(300, 300), 100)
	target := int64(len(input) / 4)

	out, err := c.Transform(context.Background(), input, jobs.Options{TargetSizeBytes: target, MaxDimension: 1920})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(out) >= len(input) {
		t.Fatalf("output %d bytes, input %d bytes", len(out), len(input))
	}
}

func TestTransformKeepsPNGFormat(t *testing.T) {
	c := New(zerolog.Nop())
	input := encodePNG(t, noisyImage(64, 32))

	out, err := c.Transform(context.Background(), input, jobs.Options{TargetSizeBytes: 1 << 20, MaxDimension: 16})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if format != "png" || cfg.Width != 16 || cfg.Height != 8 {
		t.Fatalf("got %s %dx%d, want png 16x8", format, cfg.Width, cfg.Height)
	}
}

func TestTransformReturnsCopyWhenAlreadySmall(t *testing.T) {
	c := New(zerolog.Nop())
	input := encodeJPEG(t, noisyImage(20, 20), 80)

	out, err := c.Transform(context.Background(), input, jobs.Options{TargetSizeBytes: 1 << 20, MaxDimension: 1920})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !bytes.Equal(out, input) {
		t.Fatal("expected unchanged bytes")
	}
	out[0] ^= 0xff
	if bytes.Equal(out, input) {
		t.Fatal("output must not alias the input")
	}
}

func TestTransformRejectsNonImage(t *testing.T) {
	c := New(zerolog.Nop())
	_, err := c.Transform(context.Background(), []byte("not an image"), jobs.Options{TargetSizeBytes: 10})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Transform error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestTransformRejectsOversizedPixelCount(t *testing.T) {
	c := New(zerolog.Nop())
	input := encodePNG(t, image.NewGray(image.Rect(0, 0, 300, 200)))

	_, err := c.Transform(context.Background(), input, jobs.Options{TargetSizeBytes: 1, MaxDimension: 100, MaxPixels: 59999})
	if !errors.Is(err, ErrTooManyPixels) {
		t.Fatalf("Transform error = %v, want ErrTooManyPixels", err)
	}

	if _, err := c.Transform(context.Background(), input, jobs.Options{TargetSizeBytes: 1, MaxDimension: 100, MaxPixels: 60000}); err != nil {
		t.Fatalf("Transform at the limit: %v", err)
	}
}

func TestTransformHonoursCancellation(t *testing.T) {
	c := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Transform(ctx, encodePNG(t, noisyImage(4, 4)), jobs.Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Transform error = %v, want context.Canceled", err)
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, maxDim int
		wantW, wantH int
	}{
		{4000, 3000, 1920, 1920, 1440},
		{3000, 4000, 1920, 1440, 1920},
		{800, 600, 1920, 800, 600},
		{5000, 1, 100, 100, 1},
		{100, 100, 0, 100, 100},
	}
	for _, tt := range tests {
		w, h := fit(tt.w, tt.h, tt.maxDim)
		if w != tt.wantW || h != tt.wantH {
			t.Fatalf("fit(%d,%d,%d) = %d,%d want %d,%d", tt.w, tt.h, tt.maxDim, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestEstimateQualityClamps(t *testing.T) {
	if q := estimateQuality(0, 100); q != defaultQuality {
		t.Fatalf("quality = %d, want default", q)
	}
	if q := estimateQuality(1, 1_000_000); q != minQuality {
		t.Fatalf("quality = %d, want %d", q, minQuality)
	}
	if q := estimateQuality(10<<20, 100); q != maxQuality {
		t.Fatalf("quality = %d, want %d", q, maxQuality)
	}
}
