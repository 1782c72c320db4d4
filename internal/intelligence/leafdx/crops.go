package leafdx

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultCrop names the crop assumed when a request carries none.
const DefaultCrop = "tomato"

// CropCatalog maps a lower-cased crop name to the labels that can occur on it.
type CropCatalog struct {
	crops map[string][]string
}

// NewCropCatalog copies m into a new catalog. Keys are normalised with
// NormalizeCrop.
func NewCropCatalog(m map[string][]string) *CropCatalog {
	c := &CropCatalog{crops: make(map[string][]string, len(m))}
	for k, labels := range m {
		cp := make([]string, len(labels))
		copy(cp, labels)
		c.crops[NormalizeCrop(k)] = cp
	}
	return c
}

var defaultCatalog = NewCropCatalog(map[string][]string{
	"tomato": {
		"Tomato_bacterial_spot", "Tomato_early_blight", "Tomato_late_blight",
		"Tomato_leaf_mold", "Tomato_septoria_leaf_spot", "Tomato_spider_mites",
		"Tomato_target_spot", "Tomato_tomato_mosaic_virus",
		"Tomato_yellow_leaf_curl_virus", "Tomato_healthy",
	},
	"potato":     {"Potato_early_blight", "Potato_late_blight", "Potato_healthy"},
	"apple":      {"Apple_scab", "Apple_black_rot", "Apple_cedar_apple_rust", "Apple_healthy"},
	"grape":      {"Grape_black_rot", "Grape_esca", "Grape_leaf_blight", "Grape_healthy"},
	"corn":       {"Corn_cercospora_leaf_spot", "Corn_common_rust", "Corn_northern_leaf_blight", "Corn_healthy"},
	"cherry":     {"Cherry_powdery_mildew", "Cherry_healthy"},
	"peach":      {"Peach_bacterial_spot", "Peach_healthy"},
	"pepper":     {"Pepper_pepper_bell_bacterial_spot", "Pepper_bell_healthy"},
	"strawberry": {"Strawberry_leaf_scorch", "Strawberry_healthy"},
	"soybean":    {"Soybean_frogeye_leaf_spot", "Soybean_healthy"},
	"squash":     {"Squash_powdery_mildew"},
	"orange":     {"Orange_haunglongbing"},
	"blueberry":  {"Blueberry_healthy"},
	"raspberry":  {"Raspberry_healthy"},
})

// DefaultCatalog returns the built-in crop catalog.
func DefaultCatalog() *CropCatalog { return defaultCatalog }

// NormalizeCrop trims and lower-cases a crop name.
func NormalizeCrop(crop string) string {
	return strings.ToLower(strings.TrimSpace(crop))
}

// Known reports whether crop is in the catalog.
func (c *CropCatalog) Known(crop string) bool {
	_, ok := c.crops[NormalizeCrop(crop)]
	return ok
}

// Crops returns the catalog keys, sorted.
func (c *CropCatalog) Crops() []string {
	out := make([]string, 0, len(c.crops))
	for k := range c.crops {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Labels returns the labels listed for crop.
func (c *CropCatalog) Labels(crop string) []string {
	labels := c.crops[NormalizeCrop(crop)]
	out := make([]string, len(labels))
	copy(out, labels)
	return out
}

// Candidates returns the labels to score for crop. A known crop yields its
// list restricted to labels present in bank; an empty or unknown crop yields
// every bank label in registration order.
func (c *CropCatalog) Candidates(bank *Bank, crop string) []string {
	labels, ok := c.crops[NormalizeCrop(crop)]
	if !ok {
		return bank.Labels()
	}
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if bank.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

// HealthyLabel names the healthy verdict for crop: the healthy label the
// bank registers for it, else "<Crop>_healthy". An empty crop means
// DefaultCrop.
func HealthyLabel(bank *Bank, crop string) string {
	crop = NormalizeCrop(crop)
	if crop == "" {
		crop = DefaultCrop
	}
	if bank != nil {
		if l, ok := bank.HealthyLabel(crop); ok {
			return l
		}
	}
	crop = strings.ToValidUTF8(crop, string(utf8.RuneError))
	r, size := utf8.DecodeRuneInString(crop)
	return string(unicode.ToUpper(r)) + crop[size:] + "_healthy"
}
