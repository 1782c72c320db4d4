package leafdx

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

func TestDefaultBank_Contents(t *testing.T) {
	b := DefaultBank()
	require.Same(t, b, DefaultBank())
	assert.Equal(t, 39, b.Len())

	labels := b.Labels()
	assert.Equal(t, "Tomato_healthy", labels[0])
	assert.Equal(t, "Orange_haunglongbing", labels[len(labels)-1])

	perCrop := map[string]int{}
	for _, l := range labels {
		p, ok := b.Profile(l)
		require.True(t, ok)
		perCrop[p.Crop]++
		assert.Equal(t, strings.HasSuffix(l, "_healthy"), p.Healthy, l)
	}
	assert.Equal(t, 10, perCrop["tomato"])
	assert.Equal(t, 3, perCrop["potato"])
	assert.Equal(t, 4, perCrop["apple"])
	assert.Equal(t, 4, perCrop["grape"])
	assert.Equal(t, 4, perCrop["corn"])
}

func TestDefaultBank_EveryLabelInCatalogIsRegistered(t *testing.T) {
	b := DefaultBank()
	c := DefaultCatalog()
	for _, crop := range c.Crops() {
		for _, l := range c.Labels(crop) {
			assert.True(t, b.Has(l), "%s/%s", crop, l)
		}
	}
}

func TestBank_HealthyLabel(t *testing.T) {
	b := DefaultBank()

	l, ok := b.HealthyLabel("Pepper")
	assert.True(t, ok)
	assert.Equal(t, "Pepper_bell_healthy", l)

	_, ok = b.HealthyLabel("squash")
	assert.False(t, ok)
}

func TestNewBank_Validation(t *testing.T) {
	valid := Profile{Label: "X_healthy", Crop: "x", Healthy: true, Rules: []Rule{one(above(FeatGreenPct, 10), 0.5)}}

	cases := []struct {
		name     string
		profiles []Profile
	}{
		{"empty label", []Profile{{Label: " ", Rules: valid.Rules}}},
		{"duplicate", []Profile{valid, valid}},
		{"no rules", []Profile{{Label: "A"}}},
		{"empty tier list", []Profile{{Label: "A", Rules: []Rule{{}}}}},
		{"nan weight", []Profile{{Label: "A", Rules: []Rule{one(above(FeatGreenPct, 1), math.NaN())}}}},
		{"unknown feature", []Profile{{Label: "A", Rules: []Rule{one(above(Feature("hsv.purple"), 1), 0.1)}}}},
		{"no conditions", []Profile{{Label: "A", Rules: []Rule{rule(tier(0.1))}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := NewBank(tc.profiles...)
			assert.Nil(t, b)
			assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
		})
	}

	b, err := NewBank(valid)
	require.NoError(t, err)
	assert.Equal(t, []string{"X_healthy"}, b.Labels())
	assert.Equal(t, []string{"x"}, b.Crops())
}

func TestProfile_FirstSatisfiedTierWins(t *testing.T) {
	p, _ := DefaultBank().Profile("Tomato_healthy")

	fs := &diagnosis.FeatureSet{HSV: diagnosis.HSVProfile{GreenPct: 50, YellowPct: 10, BrownPct: 10}, Colors: diagnosis.ColorProfile{DarkRatio: 5}}
	fs.Spots.CoveragePercentage = 7
	// green tier 1 (0.35) + coverage tier 2 (0.10)
	assert.InDelta(t, 0.45, p.Score(fs), 1e-9)

	explained := p.Explain(fs)
	require.Len(t, explained, 2)
	assert.Equal(t, 0, explained[0].Tier)
	assert.Equal(t, 0.35, explained[0].Weight)
	assert.Equal(t, "hsv.green_pct > 40", explained[0].Condition)
	assert.Equal(t, 1, explained[1].Tier)
	assert.Equal(t, "spots.coverage < 10", explained[1].Condition)
}

func TestProfile_LeafMoldDarkPenalty(t *testing.T) {
	p, _ := DefaultBank().Profile("Tomato_leaf_mold")

	base := &diagnosis.FeatureSet{HSV: diagnosis.HSVProfile{YellowPct: 9, GreenPct: 30, DarkPct: 10}}
	dark := &diagnosis.FeatureSet{HSV: diagnosis.HSVProfile{YellowPct: 9, GreenPct: 30, DarkPct: 20}}

	// yellow 0.30 + green band 0.10 + coverage 0.10
	assert.InDelta(t, 0.50, p.Score(base), 1e-9)
	// the dark<8 reward is already absent, the penalty subtracts 0.15
	assert.InDelta(t, 0.35, p.Score(dark), 1e-9)
}

func TestProfile_PowderyMildewSumsWhiteSignals(t *testing.T) {
	p, _ := DefaultBank().Profile("Squash_powdery_mildew")

	fs := &diagnosis.FeatureSet{
		HSV:    diagnosis.HSVProfile{WhitePct: 6},
		Colors: diagnosis.ColorProfile{WhiteRatio: 6},
	}
	assert.InDelta(t, 0.35, p.Score(fs), 1e-9)

	fs.Colors.WhiteRatio = 0
	assert.InDelta(t, 0.18, p.Score(fs), 1e-9)
}

func TestProfile_ScoreClamped(t *testing.T) {
	p := Profile{Label: "A", Rules: []Rule{
		one(above(FeatGreenPct, 0), 0.8),
		one(above(FeatGreenPct, 0), 0.8),
	}}
	neg := Profile{Label: "B", Rules: []Rule{one(above(FeatGreenPct, 0), -0.5)}}
	fs := &diagnosis.FeatureSet{HSV: diagnosis.HSVProfile{GreenPct: 1}}

	assert.Equal(t, 1.0, p.Score(fs))
	assert.Equal(t, 0.0, neg.Score(fs))
}

func TestBank_ScoreUnknownLabel(t *testing.T) {
	_, ok := DefaultBank().Score("Nope", &diagnosis.FeatureSet{})
	assert.False(t, ok)
	_, ok = DefaultBank().Score("Tomato_healthy", nil)
	assert.False(t, ok)
}

func TestCondition_String(t *testing.T) {
	assert.Equal(t, "20 < hsv.green_pct < 55", between(FeatGreenPct, 20, 55).String())
	assert.Equal(t, "hsv.white_pct+colors.white_ratio > 8", Condition{Signal: whiteSignal, Op: Above, Threshold: 8}.String())
}
