package leafdx

import (
	"gocv.io/x/gocv"

	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// detectSpots segments dark regions with an inverted binary threshold and
// measures the external contours.
func detectSpots(r *Raster, threshold float64) (diagnosis.SpotDetection, error) {
	src, err := r.rgbMat()
	if err != nil {
		return diagnosis.SpotDetection{}, errors.Wrap(err, errors.ErrCodeAnalysisFailed, "failed to wrap raster").
			WithDetail("stage=spots")
	}
	defer src.Close()

	// Step 1: grey conversion.
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorRGBToGray)
	if gray.Empty() {
		return diagnosis.SpotDetection{}, errors.New(errors.ErrCodeAnalysisFailed, "grey conversion produced no data").
			WithDetail("stage=spots")
	}

	// Step 2: pixels darker than threshold become foreground.
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(gray, &mask, float32(threshold), 255, gocv.ThresholdBinaryInv)

	// Step 3: external contours only; holes inside a lesion are not lesions.
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	count := contours.Size()
	var total float64
	for i := 0; i < count; i++ {
		total += gocv.ContourArea(contours.At(i))
	}

	var coverage, avg float64
	if count > 0 {
		coverage = total / float64(r.Pixels()) * 100
		avg = total / float64(count)
	}

	return diagnosis.SpotDetection{
		SpotCount:          count,
		CoveragePercentage: round(coverage, 2),
		AvgSpotSize:        round(avg, 1),
		Severity:           diagnosis.SeverityForCoverage(coverage),
	}, nil
}
