// Package leafdx implements the leaf disease inference engine: raster
// loading, feature extraction, heuristic profile scoring, crop filtering,
// ranking with a healthy fallback, and treatment lookup.
//
// The engine is deterministic and holds only immutable shared state (profile
// bank, crop catalog, treatment table), so one Engine serves any number of
// concurrent callers.
package leafdx

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config carries the tunable engine thresholds.
type Config struct {
	SpotThreshold  float64 `mapstructure:"spot_threshold" yaml:"spot_threshold" json:"spot_threshold"`
	InclusionFloor float64 `mapstructure:"inclusion_floor" yaml:"inclusion_floor" json:"inclusion_floor"`
	FallbackFloor  float64 `mapstructure:"fallback_floor" yaml:"fallback_floor" json:"fallback_floor"`
	TopK           int     `mapstructure:"top_k" yaml:"top_k" json:"top_k"`
	// NormalizeSize resizes inputs to n×n before analysis; 0 keeps the
	// native resolution.
	NormalizeSize int `mapstructure:"normalize_size" yaml:"normalize_size" json:"normalize_size"`
}

// DefaultConfig returns the historical engine parameters.
func DefaultConfig() Config {
	return Config{
		SpotThreshold:  DefaultSpotThreshold,
		InclusionFloor: DefaultInclusionFloor,
		FallbackFloor:  DefaultFallbackFloor,
		TopK:           DefaultTopK,
	}
}

// Recorder receives engine telemetry.
type Recorder interface {
	ObserveDiagnosis(crop, label string, healthy, fallback bool, d time.Duration)
	ObserveTreatmentMiss(label string)
	ObserveFailure(stage string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDiagnosis(string, string, bool, bool, time.Duration) {}
func (nopRecorder) ObserveTreatmentMiss(string)                                {}
func (nopRecorder) ObserveFailure(string)                                      {}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine runs the full diagnosis pipeline.
type Engine struct {
	cfg        Config
	extractor  *Extractor
	bank       *Bank
	catalog    *CropCatalog
	ranker     *Ranker
	treatments *TreatmentTable
	recorder   Recorder
	logger     logging.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithBank replaces the built-in profile bank.
func WithBank(b *Bank) Option { return func(e *Engine) { e.bank = b } }

// WithCatalog replaces the built-in crop catalog.
func WithCatalog(c *CropCatalog) Option { return func(e *Engine) { e.catalog = c } }

// WithTreatments replaces the embedded treatment table.
func WithTreatments(t *TreatmentTable) Option { return func(e *Engine) { e.treatments = t } }

// WithRecorder attaches a telemetry sink.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) Option { return func(e *Engine) { e.logger = l } }

// NewEngine builds an Engine from cfg. Zero-valued thresholds take their
// defaults.
func NewEngine(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.SpotThreshold == 0 {
		cfg.SpotThreshold = def.SpotThreshold
	}
	if cfg.InclusionFloor == 0 {
		cfg.InclusionFloor = def.InclusionFloor
	}
	if cfg.FallbackFloor == 0 {
		cfg.FallbackFloor = def.FallbackFloor
	}
	if cfg.TopK == 0 {
		cfg.TopK = def.TopK
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.bank == nil {
		e.bank = DefaultBank()
	}
	if e.catalog == nil {
		e.catalog = DefaultCatalog()
	}
	if e.treatments == nil {
		e.treatments = DefaultTreatments()
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.logger == nil {
		e.logger = logging.NewNopLogger()
	}
	e.extractor = NewExtractor(cfg.SpotThreshold)
	e.ranker = NewRanker(e.bank, RankerConfig{
		InclusionFloor: cfg.InclusionFloor,
		FallbackFloor:  cfg.FallbackFloor,
		TopK:           cfg.TopK,
	})
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Bank returns the profile bank in use.
func (e *Engine) Bank() *Bank { return e.bank }

// Catalog returns the crop catalog in use.
func (e *Engine) Catalog() *CropCatalog { return e.catalog }

// Load decodes r honouring the configured normalize size.
func (e *Engine) Load(r io.Reader) (*Raster, error) {
	var opts []LoadOption
	if e.cfg.NormalizeSize > 0 {
		opts = append(opts, WithNormalizeSize(e.cfg.NormalizeSize))
	}
	raster, err := Load(r, opts...)
	if err != nil {
		e.recorder.ObserveFailure("decode")
		return nil, err
	}
	return raster, nil
}

// Extract computes the feature set of raster.
func (e *Engine) Extract(raster *Raster) (*diagnosis.FeatureSet, error) {
	fs, err := e.extractor.Extract(raster)
	if err != nil {
		e.recorder.ObserveFailure(stageOf(err))
		return nil, err
	}
	return fs, nil
}

// Diagnose decodes an image stream and diagnoses it for crop.
func (e *Engine) Diagnose(ctx context.Context, img io.Reader, crop string) (*diagnosis.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTimeout, "diagnosis cancelled")
	}
	raster, err := e.Load(img)
	if err != nil {
		return nil, err
	}
	return e.DiagnoseRaster(ctx, raster, crop)
}

// DiagnoseRaster diagnoses an already decoded raster.
func (e *Engine) DiagnoseRaster(ctx context.Context, raster *Raster, crop string) (*diagnosis.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTimeout, "diagnosis cancelled")
	}
	start := time.Now()
	fs, err := e.Extract(raster)
	if err != nil {
		return nil, err
	}
	res := e.DiagnoseFeatures(fs, crop)
	e.recorder.ObserveDiagnosis(res.Crop, res.Disease, res.Healthy, res.Fallback, time.Since(start))
	return res, nil
}

// DiagnoseFeatures ranks fs against the candidates for crop and assembles
// the result. It never fails.
func (e *Engine) DiagnoseFeatures(fs *diagnosis.FeatureSet, crop string) *diagnosis.Result {
	if fs == nil {
		fs = &diagnosis.FeatureSet{}
	}
	crop = NormalizeCrop(crop)
	candidates := e.catalog.Candidates(e.bank, crop)
	matches := e.ranker.Rank(fs, candidates)
	v := e.ranker.Decide(fs, crop, matches)

	res := &diagnosis.Result{
		Disease:    v.Label,
		Confidence: v.Confidence,
		Crop:       crop,
		Healthy:    v.Healthy,
		Fallback:   v.Fallback,
		Detailed: diagnosis.DetailedAnalysis{
			ImageAnalysis:  *fs,
			DiseaseMatches: matches,
			SeverityLevel:  fs.Spots.Severity,
		},
	}
	if res.Detailed.DiseaseMatches == nil {
		res.Detailed.DiseaseMatches = []diagnosis.DiseaseMatch{}
	}

	if v.Healthy {
		res.Symptoms = HealthySymptoms
		res.Treatment = HealthyTreatment
		res.Prevention = HealthyPrevention
		res.Detailed.Recommendation = HealthyRecommendation
	} else {
		tr, kind := e.treatments.Resolve(v.Label, v.Confidence)
		if kind == MatchGeneric {
			e.recorder.ObserveTreatmentMiss(v.Label)
			e.logger.Warn("no treatment entry for label", logging.String("disease", v.Label))
		}
		res.Symptoms = tr.Symptoms
		res.Treatment = tr.Treatment
		res.Prevention = tr.Prevention
		res.Detailed.Recommendation = Recommendation(fs)
	}
	res.Detailed.ActionItems = ActionItems(fs, v.Healthy)

	top := make([]string, 0, 3)
	for i := 0; i < len(matches) && i < 3; i++ {
		top = append(top, matches[i].Disease)
	}
	e.logger.Info("leaf diagnosed",
		logging.String("disease", res.Disease),
		logging.Float64("confidence", res.Confidence),
		logging.String("crop", crop),
		logging.Bool("fallback", res.Fallback),
		logging.Strings("top3", top),
	)
	return res
}

// CropInfos describes the catalog entries together with their healthy labels.
func (e *Engine) CropInfos() []diagnosis.CropInfo {
	crops := e.catalog.Crops()
	out := make([]diagnosis.CropInfo, 0, len(crops))
	for _, c := range crops {
		out = append(out, diagnosis.CropInfo{
			Crop:         c,
			Labels:       e.catalog.Candidates(e.bank, c),
			HealthyLabel: HealthyLabel(e.bank, c),
		})
	}
	return out
}

// Profiles summarises the candidate profiles for crop in ranking order.
func (e *Engine) Profiles(crop string) []diagnosis.ProfileSummary {
	labels := e.catalog.Candidates(e.bank, crop)
	out := make([]diagnosis.ProfileSummary, 0, len(labels))
	for _, l := range labels {
		if p, ok := e.bank.Profile(l); ok {
			out = append(out, p.Summary())
		}
	}
	return out
}

// Explain scores label against the decoded image and lists the tiers that
// fired.  An unregistered label is a DiagnosisNotFound error.
func (e *Engine) Explain(img io.Reader, label string) (*diagnosis.Explanation, error) {
	p, ok := e.bank.Profile(label)
	if !ok {
		return nil, errors.New(errors.ErrCodeDiagnosisNotFound, "unknown profile label").WithDetail("label=" + label)
	}
	raster, err := e.Load(img)
	if err != nil {
		return nil, err
	}
	fs, err := e.Extract(raster)
	if err != nil {
		return nil, err
	}
	contribs := p.Explain(fs)
	out := &diagnosis.Explanation{
		Label:         label,
		Score:         round(p.Score(fs), 3),
		Contributions: make([]diagnosis.Contribution, 0, len(contribs)),
		Features:      *fs,
	}
	for _, c := range contribs {
		out.Contributions = append(out.Contributions, diagnosis.Contribution{
			Rule: c.Rule, Tier: c.Tier, Weight: c.Weight, Condition: c.Condition,
		})
	}
	return out, nil
}

// stageOf extracts the "stage=" detail of an engine error.
func stageOf(err error) string {
	var ae *errors.AppError
	if errors.As(err, &ae) {
		if rest, ok := strings.CutPrefix(ae.Detail, "stage="); ok {
			stage, _, _ := strings.Cut(rest, " ")
			return stage
		}
	}
	return "unknown"
}
