package leafdx

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCandidates_KnownCrop(t *testing.T) {
	got := DefaultCatalog().Candidates(DefaultBank(), "  Potato ")
	assert.Equal(t, []string{"Potato_early_blight", "Potato_late_blight", "Potato_healthy"}, got)
}

func TestCandidates_UnknownOrEmptyCropYieldsAll(t *testing.T) {
	b := DefaultBank()
	for _, crop := range []string{"", "   ", "banana"} {
		assert.Equal(t, b.Labels(), DefaultCatalog().Candidates(b, crop), "crop=%q", crop)
	}
}

func TestCandidates_DropsUnregisteredLabels(t *testing.T) {
	c := NewCropCatalog(map[string][]string{"Tomato": {"Tomato_healthy", "Tomato_ghost_disease"}})
	assert.Equal(t, []string{"Tomato_healthy"}, c.Candidates(DefaultBank(), "tomato"))
}

func TestCatalog_CropsAndLabels(t *testing.T) {
	c := DefaultCatalog()
	crops := c.Crops()
	assert.Len(t, crops, 14)
	assert.Equal(t, "apple", crops[0])
	assert.True(t, c.Known("GRAPE"))
	assert.False(t, c.Known("banana"))

	labels := c.Labels("tomato")
	assert.Len(t, labels, 10)
	for _, l := range labels {
		assert.True(t, strings.HasPrefix(l, "Tomato_"))
	}
	labels[0] = "mutated"
	assert.Equal(t, "Tomato_bacterial_spot", c.Labels("tomato")[0])
}

func TestHealthyLabel(t *testing.T) {
	b := DefaultBank()
	cases := map[string]string{
		"":        "Tomato_healthy",
		"tomato":  "Tomato_healthy",
		"Pepper":  "Pepper_bell_healthy",
		"squash":  "Squash_healthy",
		" mango ": "Mango_healthy",
	}
	for crop, want := range cases {
		assert.Equal(t, want, HealthyLabel(b, crop), "crop=%q", crop)
	}
	assert.Equal(t, "Pepper_healthy", HealthyLabel(nil, "pepper"))
}

func TestHealthyLabel_MultibyteCrop(t *testing.T) {
	b := DefaultBank()
	for crop, want := range map[string]string{
		"Ñame":   "Ñame_healthy",
		"çilek":  "Çilek_healthy",
		"épinard": "Épinard_healthy",
		"\xffx":  "\uFFFDx_healthy",
	} {
		got := HealthyLabel(b, crop)
		assert.True(t, utf8.ValidString(got), "crop=%q", crop)
		assert.Equal(t, want, got, "crop=%q", crop)
	}
	assert.Len(t, DefaultCatalog().Candidates(b, "Ñame"), len(b.Labels()))
}
