package leafdx

import (
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// DefaultSpotThreshold is the grey level below which a pixel counts as lesion.
const DefaultSpotThreshold = 100

// Extractor derives a FeatureSet from a Raster. It holds no per-call state
// and is safe for concurrent use.
type Extractor struct {
	spotThreshold float64
}

// NewExtractor returns an Extractor using spotThreshold for lesion
// segmentation. Values outside (0,255) fall back to DefaultSpotThreshold.
func NewExtractor(spotThreshold float64) *Extractor {
	if spotThreshold <= 0 || spotThreshold >= 255 {
		spotThreshold = DefaultSpotThreshold
	}
	return &Extractor{spotThreshold: spotThreshold}
}

// Extract runs the colour, HSV, texture and lesion analyses over r. Any
// failure yields an AnalysisFailed error naming the stage; partial results
// are never returned.
func (e *Extractor) Extract(r *Raster) (*diagnosis.FeatureSet, error) {
	if r == nil || r.Pixels() == 0 {
		return nil, errors.New(errors.ErrCodeAnalysisFailed, "raster is empty").WithDetail("stage=colors")
	}

	// Step 1: RGB colour statistics.
	colors, err := analyzeColors(r)
	if err != nil {
		return nil, err
	}

	// Step 2: hue-class percentages.
	hsv, err := analyzeHSV(r)
	if err != nil {
		return nil, err
	}

	// Step 3: luminance and gradient texture.
	texture, err := analyzeTexture(r)
	if err != nil {
		return nil, err
	}

	// Step 4: dark lesion segmentation.
	spots, err := detectSpots(r, e.spotThreshold)
	if err != nil {
		return nil, err
	}

	return &diagnosis.FeatureSet{
		Colors:      colors,
		HSV:         hsv,
		Texture:     texture,
		Spots:       spots,
		HealthScore: healthScore(colors, hsv),
	}, nil
}

// ---------------------------------------------------------------------------
// Colour analysis
// ---------------------------------------------------------------------------

func analyzeColors(r *Raster) (diagnosis.ColorProfile, error) {
	n := r.Pixels()
	reds := make([]float64, n)
	greens := make([]float64, n)
	blues := make([]float64, n)

	var yellow, brown, dark, green, white int
	for i := 0; i < n; i++ {
		rv := float64(r.rgb[i*3]) / 255
		gv := float64(r.rgb[i*3+1]) / 255
		bv := float64(r.rgb[i*3+2]) / 255
		reds[i], greens[i], blues[i] = rv, gv, bv

		if rv > 0.5 && gv > 0.5 && bv < 0.4 {
			yellow++
		}
		if rv > 0.35 && gv > 0.15 && gv < 0.35 && bv < 0.2 {
			brown++
		}
		if rv < 0.25 && gv < 0.25 && bv < 0.25 {
			dark++
		}
		if gv > 0.35 && gv > rv && gv > bv {
			green++
		}
		if rv > 0.75 && gv > 0.75 && bv > 0.75 {
			white++
		}
	}

	p := diagnosis.ColorProfile{
		Red:         round(stat.Mean(reds, nil), 3),
		Green:       round(stat.Mean(greens, nil), 3),
		Blue:        round(stat.Mean(blues, nil), 3),
		YellowRatio: round(percent(yellow, n), 2),
		BrownRatio:  round(percent(brown, n), 2),
		DarkRatio:   round(percent(dark, n), 2),
		GreenRatio:  round(percent(green, n), 2),
		WhiteRatio:  round(percent(white, n), 2),
	}
	if !finite(p.Red, p.Green, p.Blue) {
		return diagnosis.ColorProfile{}, errors.New(errors.ErrCodeAnalysisFailed, "colour means are not finite").
			WithDetail("stage=colors")
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// HSV analysis
// ---------------------------------------------------------------------------

func analyzeHSV(r *Raster) (diagnosis.HSVProfile, error) {
	n := r.Pixels()
	if len(r.hsv) != n*3 {
		return diagnosis.HSVProfile{}, errors.New(errors.ErrCodeAnalysisFailed, "hsv buffer does not match raster").
			WithDetail("stage=hsv")
	}
	sats := make([]float64, n)
	vals := make([]float64, n)

	var green, yellow, brown, grey, white, dark int
	for i := 0; i < n; i++ {
		h := int(r.hsv[i*3])
		s := int(r.hsv[i*3+1])
		v := int(r.hsv[i*3+2])
		sats[i], vals[i] = float64(s), float64(v)

		if h >= 35 && h <= 85 && s > 30 && v > 40 {
			green++
		}
		if h >= 15 && h < 35 && s > 40 && v > 80 {
			yellow++
		}
		if h >= 8 && h < 25 && s > 40 && v > 30 && v < 160 {
			brown++
		}
		if s < 30 && v > 50 && v < 200 {
			grey++
		}
		if s < 25 && v > 200 {
			white++
		}
		if v < 50 {
			dark++
		}
	}

	return diagnosis.HSVProfile{
		GreenPct:      round(percent(green, n), 2),
		YellowPct:     round(percent(yellow, n), 2),
		BrownPct:      round(percent(brown, n), 2),
		GreyPct:       round(percent(grey, n), 2),
		WhitePct:      round(percent(white, n), 2),
		DarkPct:       round(percent(dark, n), 2),
		AvgSaturation: round(stat.Mean(sats, nil), 2),
		AvgValue:      round(stat.Mean(vals, nil), 2),
	}, nil
}

// ---------------------------------------------------------------------------
// Texture analysis
// ---------------------------------------------------------------------------

func analyzeTexture(r *Raster) (diagnosis.TextureMetrics, error) {
	w, h := r.Width(), r.Height()
	lum := make([]float64, w*h)

	gray := gocv.NewMatWithSize(h, w, gocv.MatTypeCV64F)
	defer gray.Close()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			v := (float64(r.rgb[i*3]) + float64(r.rgb[i*3+1]) + float64(r.rgb[i*3+2])) / 3 / 255
			lum[i] = v
			gray.SetDoubleAt(y, x, v)
		}
	}

	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	gocv.Sobel(gray, &gx, gocv.MatTypeCV64F, 1, 0, 3, 1, 0, gocv.BorderReflect)
	gocv.Sobel(gray, &gy, gocv.MatTypeCV64F, 0, 1, 3, 1, 0, gocv.BorderReflect)

	dx, err := gx.DataPtrFloat64()
	if err != nil {
		return diagnosis.TextureMetrics{}, errors.Wrap(err, errors.ErrCodeAnalysisFailed, "sobel x gradient unavailable").
			WithDetail("stage=texture")
	}
	dy, err := gy.DataPtrFloat64()
	if err != nil {
		return diagnosis.TextureMetrics{}, errors.Wrap(err, errors.ErrCodeAnalysisFailed, "sobel y gradient unavailable").
			WithDetail("stage=texture")
	}
	if len(dx) != len(lum) || len(dy) != len(lum) {
		return diagnosis.TextureMetrics{}, errors.New(errors.ErrCodeAnalysisFailed, "gradient size mismatch").
			WithDetail("stage=texture")
	}

	mag := make([]float64, len(lum))
	for i := range mag {
		mag[i] = math.Hypot(dx[i], dy[i])
	}

	roughness := popStdDev(lum)
	edgeMean, edgeStd := stat.PopMeanStdDev(mag, nil)
	if !finite(roughness, edgeMean, edgeStd) {
		return diagnosis.TextureMetrics{}, errors.New(errors.ErrCodeAnalysisFailed, "texture statistics are not finite").
			WithDetail("stage=texture")
	}

	return diagnosis.TextureMetrics{
		Roughness:    round(roughness, 3),
		EdgeDensity:  round(edgeMean, 3),
		Uniformity:   round(math.Max(0, 1-edgeStd), 3),
		TextureScore: round((roughness+edgeMean*10)/11, 3),
	}, nil
}

// ---------------------------------------------------------------------------
// Health score
// ---------------------------------------------------------------------------

// healthScore starts from green vitality and subtracts discoloration and
// necrosis penalties.
func healthScore(c diagnosis.ColorProfile, h diagnosis.HSVProfile) float64 {
	health := math.Min(100, h.GreenPct*1.5)
	health -= (c.YellowRatio + c.BrownRatio) * 1.5
	health -= c.DarkRatio * 2
	return clamp(round(health, 2), 0, 100)
}

// ---------------------------------------------------------------------------
// Numeric helpers
// ---------------------------------------------------------------------------

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func percent(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total) * 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func popStdDev(x []float64) float64 {
	_, std := stat.PopMeanStdDev(x, nil)
	return std
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
