package leafdx

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gocv.io/x/gocv"

	"github.com/turtacn/LeafSight/pkg/errors"
)

// ---------------------------------------------------------------------------
// Raster
// ---------------------------------------------------------------------------

// Raster is a decoded leaf image held as interleaved 8-bit RGB together with
// its HSV conversion (hue 0-179, saturation and value 0-255). A Raster is
// never modified after construction.
type Raster struct {
	width  int
	height int
	rgb    []byte
	hsv    []byte
}

// Width returns the raster width in pixels.
func (r *Raster) Width() int { return r.width }

// Height returns the raster height in pixels.
func (r *Raster) Height() int { return r.height }

// Pixels returns the number of pixels.
func (r *Raster) Pixels() int { return r.width * r.height }

// RGB returns a copy of the interleaved RGB buffer.
func (r *Raster) RGB() []byte {
	out := make([]byte, len(r.rgb))
	copy(out, r.rgb)
	return out
}

// HSV returns a copy of the interleaved HSV buffer.
func (r *Raster) HSV() []byte {
	out := make([]byte, len(r.hsv))
	copy(out, r.hsv)
	return out
}

// At returns the RGB triple at (x, y).
func (r *Raster) At(x, y int) (uint8, uint8, uint8) {
	i := (y*r.width + x) * 3
	return r.rgb[i], r.rgb[i+1], r.rgb[i+2]
}

// rgbMat wraps the RGB buffer in a CV_8UC3 Mat. The Mat shares memory with
// the raster and must be closed by the caller.
func (r *Raster) rgbMat() (gocv.Mat, error) {
	return gocv.NewMatFromBytes(r.height, r.width, gocv.MatTypeCV8UC3, r.rgb)
}

// ---------------------------------------------------------------------------
// Load options
// ---------------------------------------------------------------------------

type loadOptions struct {
	normalizeSize int
}

// LoadOption customises raster loading.
type LoadOption func(*loadOptions)

// WithNormalizeSize resizes the decoded image to n×n with a Lanczos filter.
// Values <= 0 keep the native resolution.
func WithNormalizeSize(n int) LoadOption {
	return func(o *loadOptions) { o.normalizeSize = n }
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load decodes an image stream into a Raster. PNG, JPEG, GIF, BMP, TIFF and
// WebP are accepted; EXIF orientation is applied.
func Load(r io.Reader, opts ...LoadOption) (*Raster, error) {
	if r == nil {
		return nil, errors.New(errors.ErrCodeImageDecode, "image stream is nil").WithDetail("stage=decode")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeImageDecode, "failed to read image").WithDetail("stage=decode")
	}
	if len(data) == 0 {
		return nil, errors.New(errors.ErrCodeImageDecode, "image is empty").WithDetail("stage=decode")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeImageDecode, "unrecognised or corrupt image").WithDetail("stage=decode")
	}
	return FromImage(img, opts...)
}

// LoadFile opens path and decodes it with Load.
func LoadFile(path string, opts ...LoadOption) (*Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeImageDecode, "failed to open image").
			WithDetail(fmt.Sprintf("stage=decode path=%s", path))
	}
	defer f.Close()
	return Load(f, opts...)
}

// FromImage converts an already decoded image into a Raster. Alpha is
// dropped without premultiplication.
func FromImage(img image.Image, opts ...LoadOption) (*Raster, error) {
	if img == nil {
		return nil, errors.New(errors.ErrCodeImageDecode, "image is nil").WithDetail("stage=decode")
	}
	o := loadOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.Newf(errors.ErrCodeAnalysisFailed, "image has zero area (%dx%d)", b.Dx(), b.Dy()).
			WithDetail("stage=decode")
	}
	if o.normalizeSize > 0 && (b.Dx() != o.normalizeSize || b.Dy() != o.normalizeSize) {
		img = imaging.Resize(img, o.normalizeSize, o.normalizeSize, imaging.Lanczos)
		b = img.Bounds()
	}

	w, h := b.Dx(), b.Dy()
	rgb := make([]byte, w*h*3)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			rgb[i], rgb[i+1], rgb[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return newRaster(w, h, rgb)
}

// FromRGB builds a Raster from an interleaved RGB buffer of w*h*3 bytes.
func FromRGB(w, h int, rgb []byte) (*Raster, error) {
	if w <= 0 || h <= 0 {
		return nil, errors.Newf(errors.ErrCodeAnalysisFailed, "image has zero area (%dx%d)", w, h).
			WithDetail("stage=decode")
	}
	if len(rgb) != w*h*3 {
		return nil, errors.Newf(errors.ErrCodeImageDecode, "rgb buffer has %d bytes, want %d", len(rgb), w*h*3).
			WithDetail("stage=decode")
	}
	buf := make([]byte, len(rgb))
	copy(buf, rgb)
	return newRaster(w, h, buf)
}

func newRaster(w, h int, rgb []byte) (*Raster, error) {
	r := &Raster{width: w, height: h, rgb: rgb}

	src, err := r.rgbMat()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeAnalysisFailed, "failed to wrap raster").WithDetail("stage=hsv")
	}
	defer src.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(src, &hsv, gocv.ColorRGBToHSV)
	if hsv.Empty() {
		return nil, errors.New(errors.ErrCodeAnalysisFailed, "hsv conversion produced no data").WithDetail("stage=hsv")
	}
	r.hsv = hsv.ToBytes()
	if len(r.hsv) != len(rgb) {
		return nil, errors.Newf(errors.ErrCodeAnalysisFailed, "hsv buffer has %d bytes, want %d", len(r.hsv), len(rgb)).
			WithDetail("stage=hsv")
	}
	return r, nil
}
