package preprocess

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mediascope/mediascope/internal/archive"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func grayPage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 180, B: 170, A: 255})
		}
	}
	return img
}

func TestNormalizeProducesJPEG(t *testing.T) {
	t.Parallel()

	raw := encodePNG(t, grayPage(120, 160))
	out, err := New(Config{}).Normalize(context.Background(), raw)
	require.NoError(t, err)

	require.Equal(t, raw, out.Original)
	require.Equal(t, "image/jpeg", out.ContentType)

	decoded, err := jpeg.Decode(bytes.NewReader(out.Normalized))
	require.NoError(t, err)
	require.Equal(t, 120, decoded.Bounds().Dx())
	require.Equal(t, 160, decoded.Bounds().Dy())
}

func TestNormalizeScalesOversizedScans(t *testing.T) {
	t.Parallel()

	raw := encodePNG(t, grayPage(400, 200))
	out, err := New(Config{MaxWidth: 100}).Normalize(context.Background(), raw)
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(out.Normalized))
	require.NoError(t, err)
	require.Equal(t, 100, decoded.Bounds().Dx())
	require.Equal(t, 50, decoded.Bounds().Dy())
}

func TestNormalizeRejectsUndecodableInput(t *testing.T) {
	t.Parallel()

	n := New(Config{})
	_, err := n.Normalize(context.Background(), []byte("not an image"))
	require.ErrorIs(t, err, archive.ErrInputFormat)

	_, err = n.Normalize(context.Background(), nil)
	require.ErrorIs(t, err, archive.ErrInputFormat)
}

func TestNormalizeHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Normalize(ctx, encodePNG(t, grayPage(10, 10)))
	require.ErrorIs(t, err, context.Canceled)
}
