// Package compress は目標サイズと最大辺に合わせて画像を再エンコードします。
package compress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/jobs"
)

const (
	defaultQuality = 85
	minQuality     = 30
	maxQuality     = 92
)

var (
	// ErrUnsupportedFormat は画像として読み込めない入力に対して返ります。
	ErrUnsupportedFormat = errors.New("対応していない画像形式です")
	// ErrTooManyPixels はデコード前に画素数が上限を超えていると判明した場合に返ります。
	ErrTooManyPixels = errors.New("画像の画素数が上限を超えています")
)

// Compressor は jobs.Transformer の実装です。1回の呼び出しでエンコードは1度だけ行います。
type Compressor struct {
	logger zerolog.Logger
}

// New は Compressor を作成します。
func New(logger zerolog.Logger) *Compressor {
	return &Compressor{logger: logger.With().Str("component", "compress").Logger()}
}

// Transform は input を縮小・再エンコードした新しいバッファを返します。input は変更しません。
// 既に目標サイズと最大辺に収まっている場合は入力の複製をそのまま返します。
func (c *Compressor) Transform(ctx context.Context, input []byte, opts jobs.Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); opts.MaxPixels > 0 && pixels > opts.MaxPixels {
		return nil, fmt.Errorf("%w (%dx%d, limit %d)", ErrTooManyPixels, cfg.Width, cfg.Height, opts.MaxPixels)
	}

	width, height := fit(cfg.Width, cfg.Height, opts.MaxDimension)
	resized := width != cfg.Width || height != cfg.Height
	if !resized && withinBudget(len(input), opts.TargetSizeBytes) {
		return append([]byte(nil), input...), nil
	}

	src, _, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("画像の読み込みに失敗しました: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img := src
	if resized {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("PNGの書き出しに失敗しました: %w", err)
		}
	default:
		quality := estimateQuality(opts.TargetSizeBytes, width*height)
		if format != "jpeg" {
			img = flatten(img)
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("JPEGの書き出しに失敗しました: %w", err)
		}
	}

	// 縮小していないのに大きくなった場合は元のまま返す
	if !resized && buf.Len() >= len(input) {
		return append([]byte(nil), input...), nil
	}

	c.logger.Debug().
		Str("format", format).
		Int("width", width).
		Int("height", height).
		Int("inputBytes", len(input)).
		Int("outputBytes", buf.Len()).
		Msg("image compressed")
	return buf.Bytes(), nil
}

// fit は長辺が maxDim 以下になるよう縦横比を保った寸法を返します。
func fit(width, height, maxDim int) (int, int) {
	if maxDim <= 0 || (width <= maxDim && height <= maxDim) {
		return width, height
	}
	if width >= height {
		h := height * maxDim / width
		if h < 1 {
			h = 1
		}
		return maxDim, h
	}
	w := width * maxDim / height
	if w < 1 {
		w = 1
	}
	return w, maxDim
}

func withinBudget(size int, target int64) bool {
	return target <= 0 || int64(size) <= target
}

// estimateQuality は1ピクセルあたりに使えるビット数から JPEG 品質を見積もります。
func estimateQuality(target int64, pixels int) int {
	if target <= 0 || pixels <= 0 {
		return defaultQuality
	}
	bpp := float64(target) * 8 / float64(pixels)
	q := int(25 + bpp*25)
	switch {
	case q < minQuality:
		return minQuality
	case q > maxQuality:
		return maxQuality
	default:
		return q
	}
}

// flatten は透過部分を白で塗りつぶします。JPEG は透過を持てません。
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
