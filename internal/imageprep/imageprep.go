// Package imageprep shrinks images before they are sent to the identification model.
package imageprep

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"anime-identifier-go/internal/apperr"
	"anime-identifier-go/internal/types"
)

const (
	qualityStep  = 10
	qualityFloor = 10
)

type Options struct {
	MaxDimension int // longest side in pixels; 0 keeps the original size
	Quality      int // starting JPEG quality, 1-100
	MaxBytes     int // 0 disables the size target
}

type Preparer struct {
	opts Options
}

func New(opts Options) *Preparer {
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = jpeg.DefaultQuality
	}
	return &Preparer{opts: opts}
}

// Prepare decodes blob, downscales it to fit MaxDimension and re-encodes it as
// JPEG. Quality is lowered in steps until the output fits MaxBytes or the floor
// is reached. The input blob is left untouched.
func (p *Preparer) Prepare(blob types.ImageBlob) (types.ImageBlob, error) {
	if blob.IsEmpty() {
		return types.ImageBlob{}, apperr.Newf(apperr.KindInvalidInput, "imageprep.prepare", "empty image")
	}
	img, _, err := image.Decode(blob.Reader())
	if err != nil {
		return types.ImageBlob{}, apperr.New(apperr.KindInvalidInput, "imageprep.prepare", fmt.Errorf("decode image: %w", err))
	}
	img = fit(img, p.opts.MaxDimension)
	data, _, err := encode(img, p.opts.Quality, p.opts.MaxBytes)
	if err != nil {
		return types.ImageBlob{}, apperr.New(apperr.KindInvalidInput, "imageprep.prepare", err)
	}
	return types.NewImageBlob(data, "jpeg"), nil
}

// fit scales img so its longest side is at most maxDim, keeping the aspect ratio.
func fit(img image.Image, maxDim int) image.Image {
	if maxDim <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return img
	}
	if w >= h {
		return resize.Resize(uint(maxDim), 0, img, resize.Lanczos3)
	}
	return resize.Resize(0, uint(maxDim), img, resize.Lanczos3)
}

func encode(img image.Image, quality, maxBytes int) ([]byte, int, error) {
	flat := flatten(img)
	var buf bytes.Buffer
	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
			return nil, quality, fmt.Errorf("encode jpeg: %w", err)
		}
		if maxBytes <= 0 || buf.Len() <= maxBytes || quality <= qualityFloor {
			return buf.Bytes(), quality, nil
		}
		quality -= qualityStep
		if quality < qualityFloor {
			quality = qualityFloor
		}
	}
}

// flatten composites transparent pixels onto white; JPEG has no alpha channel.
func flatten(img image.Image) image.Image {
	if _, ok := img.(*image.YCbCr); ok {
		return img
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(out, b, img, b.Min, draw.Over)
	return out
}
