package leafdx

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Feature names a scalar read from a FeatureSet.
type Feature string

const (
	FeatGreenPct    Feature = "hsv.green_pct"
	FeatYellowPct   Feature = "hsv.yellow_pct"
	FeatBrownPct    Feature = "hsv.brown_pct"
	FeatGreyPct     Feature = "hsv.grey_pct"
	FeatWhitePct    Feature = "hsv.white_pct"
	FeatDarkPct     Feature = "hsv.dark_pct"
	FeatRed         Feature = "colors.red"
	FeatDarkRatio   Feature = "colors.dark_ratio"
	FeatWhiteRatio  Feature = "colors.white_ratio"
	FeatCoverage    Feature = "spots.coverage"
	FeatSpotCount   Feature = "spots.count"
	FeatAvgSpotSize Feature = "spots.avg_size"
	FeatEdgeDensity Feature = "texture.edge_density"
	FeatRoughness   Feature = "texture.roughness"
	FeatUniformity  Feature = "texture.uniformity"
)

var featureReaders = map[Feature]func(*diagnosis.FeatureSet) float64{
	FeatGreenPct:    func(fs *diagnosis.FeatureSet) float64 { return fs.HSV.GreenPct },
	FeatYellowPct:   func(fs *diagnosis.FeatureSet) float64 { return fs.HSV.YellowPct },
	FeatBrownPct:    func(fs *diagnosis.FeatureSet) float64 { return fs.HSV.BrownPct },
	FeatGreyPct:     func(fs *diagnosis.FeatureSet) float64 { return fs.HSV.GreyPct },
	FeatWhitePct:    func(fs *diagnosis.FeatureSet) float64 { return fs.HSV.WhitePct },
	FeatDarkPct:     func(fs *diagnosis.FeatureSet) float64 { return fs.HSV.DarkPct },
	FeatRed:         func(fs *diagnosis.FeatureSet) float64 { return fs.Colors.Red },
	FeatDarkRatio:   func(fs *diagnosis.FeatureSet) float64 { return fs.Colors.DarkRatio },
	FeatWhiteRatio:  func(fs *diagnosis.FeatureSet) float64 { return fs.Colors.WhiteRatio },
	FeatCoverage:    func(fs *diagnosis.FeatureSet) float64 { return fs.Spots.CoveragePercentage },
	FeatSpotCount:   func(fs *diagnosis.FeatureSet) float64 { return float64(fs.Spots.SpotCount) },
	FeatAvgSpotSize: func(fs *diagnosis.FeatureSet) float64 { return fs.Spots.AvgSpotSize },
	FeatEdgeDensity: func(fs *diagnosis.FeatureSet) float64 { return fs.Texture.EdgeDensity },
	FeatRoughness:   func(fs *diagnosis.FeatureSet) float64 { return fs.Texture.Roughness },
	FeatUniformity:  func(fs *diagnosis.FeatureSet) float64 { return fs.Texture.Uniformity },
}

// Signal is the sum of one or more features.
type Signal []Feature

func (s Signal) value(fs *diagnosis.FeatureSet) float64 {
	var v float64
	for _, f := range s {
		v += featureReaders[f](fs)
	}
	return v
}

func (s Signal) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = string(f)
	}
	return strings.Join(parts, "+")
}

// ---------------------------------------------------------------------------
// Conditions, tiers and rules
// ---------------------------------------------------------------------------

// Op is a comparison applied to a signal.
type Op int

const (
	// Above holds when signal > Threshold.
	Above Op = iota
	// Below holds when signal < Threshold.
	Below
	// Between holds when Threshold < signal < Upper.
	Between
)

// Condition compares a signal against fixed bounds. All comparisons are strict.
type Condition struct {
	Signal    Signal
	Op        Op
	Threshold float64
	Upper     float64
}

// Holds reports whether the condition is satisfied by fs.
func (c Condition) Holds(fs *diagnosis.FeatureSet) bool {
	v := c.Signal.value(fs)
	switch c.Op {
	case Above:
		return v > c.Threshold
	case Below:
		return v < c.Threshold
	case Between:
		return v > c.Threshold && v < c.Upper
	default:
		return false
	}
}

func (c Condition) String() string {
	switch c.Op {
	case Above:
		return fmt.Sprintf("%s > %g", c.Signal, c.Threshold)
	case Below:
		return fmt.Sprintf("%s < %g", c.Signal, c.Threshold)
	case Between:
		return fmt.Sprintf("%g < %s < %g", c.Threshold, c.Signal, c.Upper)
	default:
		return "invalid"
	}
}

// Tier is a conjunction of conditions worth Weight when all hold.
type Tier struct {
	When   []Condition
	Weight float64
}

func (t Tier) holds(fs *diagnosis.FeatureSet) bool {
	for _, c := range t.When {
		if !c.Holds(fs) {
			return false
		}
	}
	return true
}

// Rule is an ordered list of tiers; the first satisfied tier contributes.
type Rule struct {
	Tiers []Tier
}

// evaluate returns the index of the first satisfied tier, or -1.
func (r Rule) evaluate(fs *diagnosis.FeatureSet) int {
	for i, t := range r.Tiers {
		if t.holds(fs) {
			return i
		}
	}
	return -1
}

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

// Profile is the heuristic signature of one disease (or healthy) label.
type Profile struct {
	Label   string
	Crop    string
	Healthy bool
	Rules   []Rule
}

// Score sums the contribution of every rule and clamps to [0,1].
func (p Profile) Score(fs *diagnosis.FeatureSet) float64 {
	var s float64
	for _, r := range p.Rules {
		if i := r.evaluate(fs); i >= 0 {
			s += r.Tiers[i].Weight
		}
	}
	return clamp(s, 0, 1)
}

// Contribution describes one satisfied tier.
type Contribution struct {
	Rule      int
	Tier      int
	Weight    float64
	Condition string
}

// Explain lists the tiers that contributed to the score of fs.
func (p Profile) Explain(fs *diagnosis.FeatureSet) []Contribution {
	var out []Contribution
	for ri, r := range p.Rules {
		ti := r.evaluate(fs)
		if ti < 0 {
			continue
		}
		t := r.Tiers[ti]
		conds := make([]string, len(t.When))
		for i, c := range t.When {
			conds[i] = c.String()
		}
		out = append(out, Contribution{
			Rule:      ri,
			Tier:      ti,
			Weight:    t.Weight,
			Condition: strings.Join(conds, " && "),
		})
	}
	return out
}

// Summary renders the profile for display.
func (p Profile) Summary() diagnosis.ProfileSummary {
	out := diagnosis.ProfileSummary{
		Label:   p.Label,
		Crop:    p.Crop,
		Healthy: p.Healthy,
		Rules:   make([]diagnosis.RuleSummary, len(p.Rules)),
	}
	for ri, r := range p.Rules {
		tiers := make([]diagnosis.TierSummary, len(r.Tiers))
		for ti, t := range r.Tiers {
			when := make([]string, len(t.When))
			for i, c := range t.When {
				when[i] = c.String()
			}
			tiers[ti] = diagnosis.TierSummary{Weight: t.Weight, When: when}
		}
		out.Rules[ri] = diagnosis.RuleSummary{Tiers: tiers}
	}
	return out
}

func (p Profile) validate() error {
	if strings.TrimSpace(p.Label) == "" {
		return errors.New(errors.ErrCodeBadRequest, "profile label is empty")
	}
	if len(p.Rules) == 0 {
		return errors.Newf(errors.ErrCodeBadRequest, "profile %s has no rules", p.Label)
	}
	for ri, r := range p.Rules {
		if len(r.Tiers) == 0 {
			return errors.Newf(errors.ErrCodeBadRequest, "profile %s rule %d has no tiers", p.Label, ri)
		}
		for ti, t := range r.Tiers {
			if math.IsNaN(t.Weight) || math.IsInf(t.Weight, 0) {
				return errors.Newf(errors.ErrCodeBadRequest, "profile %s rule %d tier %d has invalid weight", p.Label, ri, ti)
			}
			if len(t.When) == 0 {
				return errors.Newf(errors.ErrCodeBadRequest, "profile %s rule %d tier %d has no conditions", p.Label, ri, ti)
			}
			for _, c := range t.When {
				if len(c.Signal) == 0 {
					return errors.Newf(errors.ErrCodeBadRequest, "profile %s has a condition without signal", p.Label)
				}
				for _, f := range c.Signal {
					if _, ok := featureReaders[f]; !ok {
						return errors.Newf(errors.ErrCodeBadRequest, "profile %s references unknown feature %q", p.Label, f)
					}
				}
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Bank
// ---------------------------------------------------------------------------

// Bank is an immutable, ordered set of profiles keyed by label.
type Bank struct {
	order    []string
	profiles map[string]Profile
	healthy  map[string]string
}

// NewBank validates profiles and indexes them in registration order.
func NewBank(profiles ...Profile) (*Bank, error) {
	b := &Bank{
		order:    make([]string, 0, len(profiles)),
		profiles: make(map[string]Profile, len(profiles)),
		healthy:  make(map[string]string),
	}
	for _, p := range profiles {
		if err := p.validate(); err != nil {
			return nil, err
		}
		if _, dup := b.profiles[p.Label]; dup {
			return nil, errors.Newf(errors.ErrCodeBadRequest, "duplicate profile label %s", p.Label)
		}
		b.order = append(b.order, p.Label)
		b.profiles[p.Label] = p
		crop := strings.ToLower(p.Crop)
		if p.Healthy && crop != "" {
			if _, ok := b.healthy[crop]; !ok {
				b.healthy[crop] = p.Label
			}
		}
	}
	return b, nil
}

var (
	defaultBankOnce sync.Once
	defaultBank     *Bank
)

// DefaultBank returns the process-wide bank built from the built-in table.
func DefaultBank() *Bank {
	defaultBankOnce.Do(func() {
		b, err := NewBank(builtinProfiles()...)
		if err != nil {
			panic(fmt.Sprintf("leafdx: built-in profile table is invalid: %v", err))
		}
		defaultBank = b
	})
	return defaultBank
}

// Len returns the number of profiles.
func (b *Bank) Len() int { return len(b.order) }

// Labels returns all labels in registration order.
func (b *Bank) Labels() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Has reports whether label is registered.
func (b *Bank) Has(label string) bool {
	_, ok := b.profiles[label]
	return ok
}

// Profile returns the profile registered under label.
func (b *Bank) Profile(label string) (Profile, bool) {
	p, ok := b.profiles[label]
	return p, ok
}

// Score evaluates the profile registered under label.
func (b *Bank) Score(label string, fs *diagnosis.FeatureSet) (float64, bool) {
	p, ok := b.profiles[label]
	if !ok || fs == nil {
		return 0, false
	}
	return p.Score(fs), true
}

// HealthyLabel returns the healthy profile registered for crop, if any.
func (b *Bank) HealthyLabel(crop string) (string, bool) {
	l, ok := b.healthy[strings.ToLower(strings.TrimSpace(crop))]
	return l, ok
}

// IsHealthy reports whether label is a registered healthy profile.
func (b *Bank) IsHealthy(label string) bool {
	p, ok := b.profiles[label]
	return ok && p.Healthy
}

// Crops returns the crops that own at least one profile, sorted.
func (b *Bank) Crops() []string {
	seen := make(map[string]struct{})
	for _, p := range b.profiles {
		if p.Crop != "" {
			seen[strings.ToLower(p.Crop)] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
