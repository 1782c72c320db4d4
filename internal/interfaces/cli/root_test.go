package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LeafSight/internal/config"
	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/pkg/client"
	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockEngine struct{ mock.Mock }

func (m *mockEngine) Diagnose(ctx context.Context, img io.Reader, crop string) (*diagnosis.Result, error) {
	args := m.Called(ctx, img, crop)
	if r := args.Get(0); r != nil {
		return r.(*diagnosis.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEngine) Explain(img io.Reader, label string) (*diagnosis.Explanation, error) {
	args := m.Called(img, label)
	if r := args.Get(0); r != nil {
		return r.(*diagnosis.Explanation), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockEngine) CropInfos() []diagnosis.CropInfo {
	return m.Called().Get(0).([]diagnosis.CropInfo)
}

func (m *mockEngine) Profiles(crop string) []diagnosis.ProfileSummary {
	return m.Called(crop).Get(0).([]diagnosis.ProfileSummary)
}

type mockAPI struct{ mock.Mock }

func (m *mockAPI) Diagnose(ctx context.Context, filename string, img io.Reader, crop string) (*diagnosis.Record, error) {
	args := m.Called(ctx, filename, img, crop)
	if r := args.Get(0); r != nil {
		return r.(*diagnosis.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) GetDiagnosis(ctx context.Context, id string) (*diagnosis.Record, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*diagnosis.Record), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAPI) ListDiagnoses(ctx context.Context, opts client.ListOptions) ([]*diagnosis.Record, error) {
	args := m.Called(ctx, opts)
	return args.Get(0).([]*diagnosis.Record), args.Error(1)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func lateBlight() *diagnosis.Result {
	return &diagnosis.Result{
		Disease:    "Tomato_Late_blight",
		Confidence: 0.82,
		Crop:       "tomato",
		Symptoms:   "Dark water-soaked lesions",
		Treatment:  "Apply copper fungicide",
		Prevention: "Avoid overhead watering",
		Detailed: diagnosis.DetailedAnalysis{
			SeverityLevel: diagnosis.SeverityMedium,
			DiseaseMatches: []diagnosis.DiseaseMatch{
				{Disease: "Tomato_Late_blight", RawScore: 0.65, Confidence: 0.82, MatchingFeatures: []string{"Brown lesion areas"}},
				{Disease: "Tomato_Early_blight", RawScore: 0.4, Confidence: 0.696},
			},
			Recommendation: "Treat promptly.",
			ActionItems:    []string{"Remove affected leaves"},
		},
	}
}

func writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leaf.png")
	require.NoError(t, os.WriteFile(path, []byte("png-bytes"), 0o600))
	return path
}

func run(t *testing.T, deps Dependencies, args ...string) (string, error) {
	t.Helper()
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	cmd := NewRootCommand(deps)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// ---------------------------------------------------------------------------
// Root
// ---------------------------------------------------------------------------

func TestNewRootCommand_Structure(t *testing.T) {
	cmd := NewRootCommand(Dependencies{})
	assert.Equal(t, "leafsight", cmd.Use)
	assert.NotEmpty(t, cmd.Short)
	assert.NotEmpty(t, cmd.Long)
	assert.NotEmpty(t, cmd.Version)

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"diagnose", "explain", "crops", "profiles", "history", "version"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestNewRootCommand_GlobalFlags(t *testing.T) {
	cmd := NewRootCommand(Dependencies{})
	pf := cmd.PersistentFlags()

	for flag, def := range map[string]string{
		"config":    "",
		"server":    "",
		"log-level": "warn",
		"output":    "text",
		"timeout":   "30s",
	} {
		f := pf.Lookup(flag)
		require.NotNil(t, f, flag)
		assert.Equal(t, def, f.DefValue, flag)
	}
	assert.Equal(t, "o", pf.Lookup("output").Shorthand)
}

func TestVersionCmd_Output(t *testing.T) {
	orig := Version
	Version = "1.2.3"
	defer func() { Version = orig }()

	// version must not need a loadable configuration.
	cmd := NewRootCommand(Dependencies{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--config", "/does/not/exist.yaml"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "leafsight 1.2.3")
}

func TestExecute_UnknownSubcommand(t *testing.T) {
	_, err := run(t, Dependencies{Engine: &mockEngine{}}, "unknownsubcommand")
	assert.Error(t, err)
}

func TestPersistentPreRun_BadConfigPath(t *testing.T) {
	cmd := NewRootCommand(Dependencies{Logger: logging.NewNopLogger()})
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"crops", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfigFileNotFound)
}

func TestGetCLIContext_Missing(t *testing.T) {
	cmd := NewRootCommand(Dependencies{})
	cmd.SetContext(context.Background())
	_, err := GetCLIContext(cmd)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestCLIContext_WithTimeout(t *testing.T) {
	c := &CLIContext{Timeout: time.Minute}
	ctx, cancel := c.withTimeout(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	assert.True(t, ok)

	c.Timeout = 0
	ctx2, cancel2 := c.withTimeout(context.Background())
	defer cancel2()
	_, ok = ctx2.Deadline()
	assert.False(t, ok)
}

func TestInitClient_DefaultsToLocalServer(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Host: "0.0.0.0", Port: 5000}}
	c, err := initClient(cfg, &RootOptions{Timeout: time.Second}, logging.NewNopLogger())
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = initClient(cfg, &RootOptions{ServerAddr: "ftp://x"}, logging.NewNopLogger())
	assert.ErrorIs(t, err, client.ErrInvalidConfig)
}

// ---------------------------------------------------------------------------
// diagnose / explain
// ---------------------------------------------------------------------------

func TestDiagnose_LocalText(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Diagnose", mock.Anything, mock.Anything, "tomato").Return(lateBlight(), nil)

	out, err := run(t, Dependencies{Engine: engine}, "diagnose", writeImage(t), "--crop", "tomato")
	require.NoError(t, err)
	assert.Contains(t, out, "Diagnosis:   Tomato_Late_blight (disease detected)")
	assert.Contains(t, out, "Confidence:  82.0%")
	assert.Contains(t, out, "Severity:    Medium")
	assert.Contains(t, out, "2. Tomato_Early_blight")
	assert.Contains(t, out, "  - Remove affected leaves")
	engine.AssertExpectations(t)
}

func TestDiagnose_JSONFlag(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Diagnose", mock.Anything, mock.Anything, "").Return(lateBlight(), nil)

	out, err := run(t, Dependencies{Engine: engine}, "diagnose", writeImage(t), "--json")
	require.NoError(t, err)

	var res diagnosis.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "Tomato_Late_blight", res.Disease)
	assert.Len(t, res.Detailed.DiseaseMatches, 2)
}

func TestDiagnose_TableOutput(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Diagnose", mock.Anything, mock.Anything, "").Return(lateBlight(), nil)

	out, err := run(t, Dependencies{Engine: engine}, "diagnose", writeImage(t), "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "0.650")
	assert.Contains(t, out, "Brown lesion areas")
}

func TestDiagnose_Remote(t *testing.T) {
	api := &mockAPI{}
	rec := &diagnosis.Record{ID: "rec-1", Result: *lateBlight()}
	api.On("Diagnose", mock.Anything, mock.Anything, mock.Anything, "tomato").Return(rec, nil)

	out, err := run(t, Dependencies{Engine: &mockEngine{}, API: api}, "diagnose", writeImage(t), "--remote", "--crop", "tomato", "--json")
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "rec-1", body["id"])
	assert.Equal(t, "Tomato_Late_blight", body["disease"])
	api.AssertExpectations(t)
}

func TestDiagnose_Errors(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Diagnose", mock.Anything, mock.Anything, "").
		Return(nil, errors.New(errors.ErrCodeImageDecode, "image could not be decoded"))

	_, err := run(t, Dependencies{Engine: engine}, "diagnose", writeImage(t))
	assert.True(t, errors.IsCode(err, errors.ErrCodeImageDecode))

	_, err = run(t, Dependencies{Engine: engine}, "diagnose", filepath.Join(t.TempDir(), "missing.png"))
	assert.ErrorContains(t, err, "failed to open image")

	_, err = run(t, Dependencies{Engine: engine}, "diagnose")
	assert.Error(t, err)
}

func TestExplain(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Explain", mock.Anything, "Tomato_healthy").Return(&diagnosis.Explanation{
		Label: "Tomato_healthy",
		Score: 0.7,
		Contributions: []diagnosis.Contribution{
			{Rule: 0, Tier: 0, Weight: 0.4, Condition: "green_pct > 60"},
		},
	}, nil)
	engine.On("Explain", mock.Anything, "Banana_rot").
		Return(nil, errors.New(errors.ErrCodeDiagnosisNotFound, "unknown profile label"))

	out, err := run(t, Dependencies{Engine: engine}, "explain", "Tomato_healthy", writeImage(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Tomato_healthy: score 0.700")
	assert.Contains(t, out, "rule 0 tier 0  +0.40  green_pct > 60")

	_, err = run(t, Dependencies{Engine: engine}, "explain", "Banana_rot", writeImage(t))
	assert.ErrorContains(t, err, `unknown profile "Banana_rot"`)
}

// ---------------------------------------------------------------------------
// crops / profiles / history
// ---------------------------------------------------------------------------

func TestCrops(t *testing.T) {
	engine := &mockEngine{}
	engine.On("CropInfos").Return([]diagnosis.CropInfo{
		{Crop: "pepper", HealthyLabel: "Pepper_bell_healthy", Labels: []string{"Pepper_bell_Bacterial_spot", "Pepper_bell_healthy"}},
	})

	out, err := run(t, Dependencies{Engine: engine}, "crops")
	require.NoError(t, err)
	assert.Contains(t, out, "pepper (healthy: Pepper_bell_healthy)")
	assert.Contains(t, out, "  Pepper_bell_Bacterial_spot")

	out, err = run(t, Dependencies{Engine: engine}, "crops", "-o", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "CROP")
	assert.Contains(t, out, "pepper  Pepper_bell_healthy  2")
}

func TestProfiles_PassesCrop(t *testing.T) {
	engine := &mockEngine{}
	engine.On("Profiles", "potato").Return([]diagnosis.ProfileSummary{
		{Label: "Potato_healthy", Crop: "potato", Healthy: true, Rules: []diagnosis.RuleSummary{
			{Tiers: []diagnosis.TierSummary{{Weight: 0.5, When: []string{"green_pct > 50", "brown_pct < 3"}}}},
		}},
	})

	out, err := run(t, Dependencies{Engine: engine}, "profiles", "--crop", "potato")
	require.NoError(t, err)
	assert.Contains(t, out, "Potato_healthy [potato, healthy]")
	assert.Contains(t, out, "green_pct > 50 AND brown_pct < 3")
	engine.AssertExpectations(t)
}

func TestHistory_List(t *testing.T) {
	api := &mockAPI{}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api.On("ListDiagnoses", mock.Anything, client.ListOptions{Crop: "tomato", Limit: 5}).Return([]*diagnosis.Record{
		{ID: "rec-1", Crop: "tomato", CreatedAt: created, Result: diagnosis.Result{Disease: "Tomato_healthy", Confidence: 0.9}},
	}, nil)

	out, err := run(t, Dependencies{Engine: &mockEngine{}, API: api}, "history", "--crop", "tomato", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "2026-03-01T12:00:00Z  rec-1")
	assert.Contains(t, out, "Tomato_healthy (90.0%)")
	api.AssertExpectations(t)
}

func TestHistory_EmptyAndShow(t *testing.T) {
	api := &mockAPI{}
	api.On("ListDiagnoses", mock.Anything, client.ListOptions{Limit: 20}).Return([]*diagnosis.Record{}, nil)
	api.On("GetDiagnosis", mock.Anything, "rec-9").Return(&diagnosis.Record{ID: "rec-9", Result: *lateBlight()}, nil)

	out, err := run(t, Dependencies{Engine: &mockEngine{}, API: api}, "history")
	require.NoError(t, err)
	assert.Equal(t, "no diagnoses recorded\n", out)

	out, err = run(t, Dependencies{Engine: &mockEngine{}, API: api}, "history", "rec-9")
	require.NoError(t, err)
	assert.Contains(t, out, "ID:          rec-9")

	_, err = run(t, Dependencies{Engine: &mockEngine{}, API: api}, "history", "--limit=-1")
	assert.ErrorContains(t, err, "--limit")
}

// ---------------------------------------------------------------------------
// Output helpers
// ---------------------------------------------------------------------------

func TestFormatTable(t *testing.T) {
	out := FormatTable([]string{"A", "LONG"}, [][]string{{"xyz", "1"}, {"q"}})
	assert.Equal(t, "A    LONG\n---  ----\nxyz  1\nq    \n", out)
	assert.Empty(t, FormatTable(nil, nil))
}

func TestPrintResult_WithoutContextFallsBackToJSON(t *testing.T) {
	cmd := NewRootCommand(Dependencies{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	require.NoError(t, PrintResult(cmd, map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n":1}`, out.String())
}
