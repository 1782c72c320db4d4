// Package diagnosis defines the wire types shared by the inference engine, the
// HTTP API, the worker and the Go SDK.
package diagnosis

import (
	"time"
)

// Severity is the lesion-coverage tier of a leaf image.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// SeverityForCoverage maps a lesion coverage percentage to its tier.
func SeverityForCoverage(coverage float64) Severity {
	switch {
	case coverage > 30:
		return SeverityHigh
	case coverage > 10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ColorProfile holds RGB-space statistics.  Means are fractions in [0,1],
// ratios are percentages of pixels in [0,100].
type ColorProfile struct {
	Red         float64 `json:"red"`
	Green       float64 `json:"green"`
	Blue        float64 `json:"blue"`
	YellowRatio float64 `json:"yellow_spots_ratio"`
	BrownRatio  float64 `json:"brown_spots_ratio"`
	DarkRatio   float64 `json:"dark_spots_ratio"`
	GreenRatio  float64 `json:"green_ratio"`
	WhiteRatio  float64 `json:"white_ratio"`
}

// HSVProfile holds hue-class percentages and mean saturation/value (0-255).
type HSVProfile struct {
	GreenPct      float64 `json:"green_pct"`
	YellowPct     float64 `json:"yellow_pct"`
	BrownPct      float64 `json:"brown_pct"`
	GreyPct       float64 `json:"grey_pct"`
	WhitePct      float64 `json:"white_pct"`
	DarkPct       float64 `json:"dark_pct"`
	AvgSaturation float64 `json:"avg_saturation"`
	AvgValue      float64 `json:"avg_value"`
}

// TextureMetrics holds luminance and gradient statistics.
type TextureMetrics struct {
	Roughness    float64 `json:"roughness"`
	EdgeDensity  float64 `json:"edge_density"`
	Uniformity   float64 `json:"uniformity"`
	TextureScore float64 `json:"texture_score"`
}

// SpotDetection summarises the dark lesion regions found on the leaf.
type SpotDetection struct {
	SpotCount          int      `json:"spot_count"`
	CoveragePercentage float64  `json:"coverage_percentage"`
	AvgSpotSize        float64  `json:"avg_spot_size"`
	Severity           Severity `json:"severity"`
}

// FeatureSet is the full descriptor bundle extracted from one leaf image.
type FeatureSet struct {
	Colors      ColorProfile   `json:"color_profile"`
	HSV         HSVProfile     `json:"hsv_analysis"`
	Texture     TextureMetrics `json:"texture_metrics"`
	Spots       SpotDetection  `json:"spot_detection"`
	HealthScore float64        `json:"health_score"`
}

// DiseaseMatch is one scored candidate label.
type DiseaseMatch struct {
	Disease          string   `json:"disease"`
	RawScore         float64  `json:"raw_score"`
	Confidence       float64  `json:"confidence"`
	MatchingFeatures []string `json:"matching_features"`
	HealthImpact     string   `json:"health_impact"`
}

// DetailedAnalysis is the explainability block attached to every Result.
type DetailedAnalysis struct {
	ImageAnalysis  FeatureSet     `json:"image_analysis"`
	DiseaseMatches []DiseaseMatch `json:"disease_matches"`
	SeverityLevel  Severity       `json:"severity_level"`
	Recommendation string         `json:"recommendation"`
	ActionItems    []string       `json:"action_items"`
}

// Result is the diagnosis returned for one image.
type Result struct {
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence"`
	Crop       string  `json:"crop,omitempty"`
	// Healthy is set for healthy verdicts, including the low-signal fallback.
	Healthy bool `json:"healthy"`
	// Fallback is set when no candidate cleared the fallback floor.
	Fallback   bool             `json:"fallback"`
	Symptoms   string           `json:"symptoms"`
	Treatment  string           `json:"treatment"`
	Prevention string           `json:"prevention"`
	Detailed   DetailedAnalysis `json:"detailed_analysis"`
}

// TopMatch returns the highest ranked candidate, if any.
func (r *Result) TopMatch() (DiseaseMatch, bool) {
	if r == nil || len(r.Detailed.DiseaseMatches) == 0 {
		return DiseaseMatch{}, false
	}
	return r.Detailed.DiseaseMatches[0], true
}

// Record is a persisted diagnosis.
type Record struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	Crop        string    `json:"crop,omitempty"`
	ImageSHA256 string    `json:"image_sha256"`
	ImageKey    string    `json:"image_key,omitempty"`
	Cached      bool      `json:"cached"`
	Result      Result    `json:"result"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListFilter narrows history queries.
type ListFilter struct {
	Crop    string
	Disease string
	Limit   int
}

// CropInfo describes one entry of the crop catalog.
type CropInfo struct {
	Crop         string   `json:"crop"`
	Labels       []string `json:"labels"`
	HealthyLabel string   `json:"healthy_label"`
}

// TierSummary is one weighted conjunction of a profile rule.
type TierSummary struct {
	Weight float64  `json:"weight"`
	When   []string `json:"when"`
}

// RuleSummary lists the tiers of a rule in evaluation order.
type RuleSummary struct {
	Tiers []TierSummary `json:"tiers"`
}

// ProfileSummary is the human-readable form of a disease profile.
type ProfileSummary struct {
	Label   string        `json:"label"`
	Crop    string        `json:"crop,omitempty"`
	Healthy bool          `json:"healthy"`
	Rules   []RuleSummary `json:"rules"`
}

// Contribution is a satisfied tier of a profile for one image.
type Contribution struct {
	Rule      int     `json:"rule"`
	Tier      int     `json:"tier"`
	Weight    float64 `json:"weight"`
	Condition string  `json:"condition"`
}

// Explanation audits the score of one label against one image.
type Explanation struct {
	Label         string         `json:"label"`
	Score         float64        `json:"score"`
	Contributions []Contribution `json:"contributions"`
	Features      FeatureSet     `json:"features"`
}
