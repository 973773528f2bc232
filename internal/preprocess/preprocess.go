// Package preprocess normalizes scanned page images before text recognition.
package preprocess

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // registered for decode
	"math"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/draw"

	"github.com/mediascope/mediascope/internal/archive"
)

// Enhancement factors applied before recognition. Tuned for faded newsprint
// scans: lift contrast and sharpness, nudge brightness.
const (
	contrastFactor   = 1.3
	sharpnessFactor  = 1.2
	brightnessFactor = 1.1

	jpegQuality = 90
)

// Normalizer corrects orientation and visual quality of raw page images.
type Normalizer struct {
	maxWidth int
}

// Config tunes the normalizer.
type Config struct {
	// MaxWidth scales down very large scans; zero disables scaling.
	MaxWidth int
}

// New constructs a Normalizer.
func New(cfg Config) *Normalizer {
	return &Normalizer{maxWidth: cfg.MaxWidth}
}

// Normalize decodes the raw bytes, applies orientation correction from EXIF
// metadata when present, enhances contrast/sharpness/brightness and returns
// the normalized JPEG next to the untouched original. Undecodable input
// fails with archive.ErrInputFormat and no side effects.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (archive.NormalizedImage, error) {
	if err := ctx.Err(); err != nil {
		return archive.NormalizedImage{}, fmt.Errorf("normalize: %w", err)
	}
	if len(raw) == 0 {
		return archive.NormalizedImage{}, fmt.Errorf("empty image: %w", archive.ErrInputFormat)
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return archive.NormalizedImage{}, fmt.Errorf("decode image: %w: %v", archive.ErrInputFormat, err)
	}

	img := applyOrientation(src, orientationOf(raw))
	rgba := toRGBA(img)
	if n.maxWidth > 0 && rgba.Bounds().Dx() > n.maxWidth {
		rgba = scaleToWidth(rgba, n.maxWidth)
	}

	adjustContrastBrightness(rgba, contrastFactor, brightnessFactor)
	rgba = sharpen(rgba, sharpnessFactor)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return archive.NormalizedImage{}, fmt.Errorf("encode normalized image: %w", err)
	}

	return archive.NormalizedImage{
		Original:    raw,
		Normalized:  buf.Bytes(),
		ContentType: "image/jpeg",
	}, nil
}

// orientationOf reads the EXIF orientation tag, defaulting to 1 (upright)
// when the metadata is absent or unreadable.
func orientationOf(raw []byte) int {
	meta, err := exif.Decode(bytes.NewReader(raw))
	if err != nil {
		return 1
	}
	tag, err := meta.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

func applyOrientation(src image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return flipH(src)
	case 3:
		return rotate180(src)
	case 4:
		return flipV(src)
	case 5:
		return flipH(rotate90(src))
	case 6:
		return rotate90(src)
	case 7:
		return flipH(rotate270(src))
	case 8:
		return rotate270(src)
	default:
		return src
	}
}

func toRGBA(src image.Image) *image.RGBA {
	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
	return dst
}

func scaleToWidth(src *image.RGBA, width int) *image.RGBA {
	b := src.Bounds()
	height := b.Dy() * width / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

func rotate90(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.Y-1-y, x-b.Min.X, src.At(x, y))
		}
	}
	return dst
}

func rotate180(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.X-1-x, b.Max.Y-1-y, src.At(x, y))
		}
	}
	return dst
}

func rotate270(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(y-b.Min.Y, b.Max.X-1-x, src.At(x, y))
		}
	}
	return dst
}

func flipH(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(b.Max.X-1-x, y-b.Min.Y, src.At(x, y))
		}
	}
	return dst
}

func flipV(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			dst.Set(x-b.Min.X, b.Max.Y-1-y, src.At(x, y))
		}
	}
	return dst
}

// adjustContrastBrightness scales each channel around the midpoint for
// contrast, then multiplies for brightness, in place.
func adjustContrastBrightness(img *image.RGBA, contrast, brightness float64) {
	for i := 0; i < len(img.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			v := float64(img.Pix[i+c])
			v = (v-128)*contrast + 128
			v *= brightness
			img.Pix[i+c] = clampByte(v)
		}
	}
}

// sharpen applies an unsharp mask: dst = src + amount*(src - blur(src)).
func sharpen(img *image.RGBA, factor float64) *image.RGBA {
	amount := factor - 1
	if amount <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(b)
	copy(dst.Pix, img.Pix)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			for c := 0; c < 3; c++ {
				idx := y*img.Stride + x*4 + c
				blur := (float64(img.Pix[idx-img.Stride]) +
					float64(img.Pix[idx+img.Stride]) +
					float64(img.Pix[idx-4]) +
					float64(img.Pix[idx+4]) +
					float64(img.Pix[idx])) / 5
				v := float64(img.Pix[idx]) + amount*(float64(img.Pix[idx])-blur)
				dst.Pix[idx] = clampByte(v)
			}
		}
	}
	return dst
}

func clampByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
