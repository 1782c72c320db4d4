package leafdx

import (
	"fmt"
	"sort"

	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// Ranking defaults.
const (
	DefaultInclusionFloor = 0.15
	DefaultFallbackFloor  = 0.20
	DefaultTopK           = 5
)

// RankerConfig tunes match inclusion and the healthy fallback.
type RankerConfig struct {
	InclusionFloor float64
	FallbackFloor  float64
	TopK           int
}

// DefaultRankerConfig returns the historical ranking parameters.
func DefaultRankerConfig() RankerConfig {
	return RankerConfig{
		InclusionFloor: DefaultInclusionFloor,
		FallbackFloor:  DefaultFallbackFloor,
		TopK:           DefaultTopK,
	}
}

// Ranker scores candidates against a bank and decides the verdict.
type Ranker struct {
	bank *Bank
	cfg  RankerConfig
}

// NewRanker returns a Ranker over bank. Non-positive TopK means DefaultTopK.
func NewRanker(bank *Bank, cfg RankerConfig) *Ranker {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Ranker{bank: bank, cfg: cfg}
}

// Rank scores every candidate, drops those under the inclusion floor and
// returns at most TopK matches ordered by descending raw score. Ties keep
// candidate order.
func (rk *Ranker) Rank(fs *diagnosis.FeatureSet, candidates []string) []diagnosis.DiseaseMatch {
	if fs == nil {
		return nil
	}
	features := describeFeatures(fs)
	impact := fmt.Sprintf("%.1f%% green vitality", fs.HSV.GreenPct)

	matches := make([]diagnosis.DiseaseMatch, 0, len(candidates))
	for _, label := range candidates {
		raw, ok := rk.bank.Score(label, fs)
		if !ok {
			continue
		}
		raw = round(raw, 3)
		if raw < rk.cfg.InclusionFloor {
			continue
		}
		mf := make([]string, len(features))
		copy(mf, features)
		matches = append(matches, diagnosis.DiseaseMatch{
			Disease:          label,
			RawScore:         raw,
			Confidence:       DisplayConfidence(raw),
			MatchingFeatures: mf,
			HealthImpact:     impact,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].RawScore > matches[j].RawScore })
	if len(matches) > rk.cfg.TopK {
		matches = matches[:rk.cfg.TopK]
	}
	return matches
}

// Verdict is the ranking decision before treatment and guidance are attached.
type Verdict struct {
	Label      string
	Confidence float64
	Healthy    bool
	Fallback   bool
}

// Decide picks the verdict for ranked matches. When nothing clears the
// fallback floor, or the best match is a healthy profile, the crop's healthy
// label is reported with a confidence derived from green coverage.
func (rk *Ranker) Decide(fs *diagnosis.FeatureSet, crop string, matches []diagnosis.DiseaseMatch) Verdict {
	greenConfidence := 0.0
	if fs != nil {
		greenConfidence = clamp(round(fs.HSV.GreenPct/100, 3), 0, 1)
	}

	if len(matches) == 0 || matches[0].RawScore < rk.cfg.FallbackFloor {
		return Verdict{
			Label:      HealthyLabel(rk.bank, crop),
			Confidence: greenConfidence,
			Healthy:    true,
			Fallback:   true,
		}
	}

	top := matches[0]
	if rk.bank.IsHealthy(top.Disease) {
		return Verdict{Label: top.Disease, Confidence: greenConfidence, Healthy: true}
	}
	return Verdict{Label: top.Disease, Confidence: top.Confidence}
}

// DisplayConfidence maps a raw score in [0,1] onto [0.50,0.99].
func DisplayConfidence(raw float64) float64 {
	return round(0.50+clamp(raw, 0, 1)*0.49, 3)
}

// describeFeatures lists the human-readable observations behind a match.
func describeFeatures(fs *diagnosis.FeatureSet) []string {
	h, s := fs.HSV, fs.Spots
	var out []string
	if h.GreenPct > 40 {
		out = append(out, fmt.Sprintf("Strong green presence (%.1f%%)", h.GreenPct))
	}
	if h.YellowPct > 4 {
		out = append(out, fmt.Sprintf("Yellow discoloration (%.1f%%)", h.YellowPct))
	}
	if h.BrownPct > 4 {
		out = append(out, fmt.Sprintf("Brown lesion areas (%.1f%%)", h.BrownPct))
	}
	if h.DarkPct > 5 {
		out = append(out, fmt.Sprintf("Dark necrotic regions (%.1f%%)", h.DarkPct))
	}
	if h.GreyPct > 4 {
		out = append(out, fmt.Sprintf("Grey / bleached tissue (%.1f%%)", h.GreyPct))
	}
	if h.WhitePct > 4 {
		out = append(out, fmt.Sprintf("White powdery / mold areas (%.1f%%)", h.WhitePct))
	}
	if s.CoveragePercentage > 8 {
		out = append(out, fmt.Sprintf("Significant spot coverage (%.1f%%)", s.CoveragePercentage))
	}
	if s.SpotCount > 20 {
		out = append(out, fmt.Sprintf("Multiple lesion spots (%d)", s.SpotCount))
	}
	if len(out) == 0 {
		out = []string{"Visual features analysed"}
	}
	return out
}
