package leafdx

import (
	"fmt"

	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// Texts attached to healthy verdicts.
const (
	HealthySymptoms       = "No significant disease symptoms detected"
	HealthyTreatment      = "Continue regular maintenance and monitoring"
	HealthyPrevention     = "Maintain good watering schedule and proper ventilation"
	HealthyRecommendation = "Plant is in good condition. Maintain current care practices."
)

// Recommendation returns the narrative advice for a diseased verdict, keyed
// on lesion severity.
func Recommendation(fs *diagnosis.FeatureSet) string {
	coverage := fs.Spots.CoveragePercentage
	switch fs.Spots.Severity {
	case diagnosis.SeverityHigh:
		return fmt.Sprintf("URGENT: This plant requires immediate intervention. %.1f%% of leaf area is affected. "+
			"Isolate the plant and begin treatment immediately.", coverage)
	case diagnosis.SeverityMedium:
		return fmt.Sprintf("Monitor closely and apply protective treatments. Current coverage: %.1f%%. "+
			"Plant health at %.1f%%.", coverage, fs.HealthScore)
	default:
		return fmt.Sprintf("Early detection. Apply preventative measures. Current coverage: %.1f%%. "+
			"Monitor for expansion.", coverage)
	}
}

// ActionItems returns the ordered checklist for a verdict.
func ActionItems(fs *diagnosis.FeatureSet, healthy bool) []string {
	if healthy {
		return []string{
			"Continue regular watering schedule",
			"Monitor for any disease signs",
			"Maintain proper spacing between plants",
			"Weekly visual inspection",
		}
	}
	items := []string{
		"Isolate affected plant from others",
		"Remove heavily affected leaves",
		"Apply recommended fungicide or pesticide",
		"Improve air circulation",
	}
	if fs.Spots.CoveragePercentage > 30 {
		items = append(items,
			"Consider pruning affected branches",
			"Increase monitoring to daily",
		)
	}
	return append(items,
		"Water at base, avoid wetting leaves",
		"Disinfect tools used on the plant",
		"Monitor for 2 weeks after treatment",
	)
}
