package leafdx

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	pureGreen = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	pureBlack = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	pureWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// bandedImage paints the first rows rows with top and the rest with bottom.
func bandedImage(w, h, rows int, top, bottom color.Color) *image.RGBA {
	img := solidImage(w, h, bottom)
	for y := 0; y < rows; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, top)
		}
	}
	return img
}

func mustRaster(t *testing.T, img image.Image) *Raster {
	t.Helper()
	r, err := FromImage(img)
	require.NoError(t, err)
	return r
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
