package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/LeafSight/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LeafSight/pkg/errors"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

type diagnoseOptions struct {
	crop   string
	json   bool
	remote bool
}

func newDiagnoseCmd() *cobra.Command {
	opts := &diagnoseOptions{}
	cmd := &cobra.Command{
		Use:   "diagnose <image>",
		Short: "Diagnose a leaf image",
		Long: "Diagnose a leaf photograph with the embedded engine, or upload it to the\n" +
			"API server with --remote so the result is stored in the diagnosis history.",
		Example: "  leafsight diagnose leaf.jpg --crop tomato\n  leafsight diagnose leaf.png --remote --json",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnose(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.crop, "crop", "", "crop type restricting the candidate diseases")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the full result as JSON")
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "diagnose on the API server instead of locally")
	return cmd
}

func runDiagnose(cmd *cobra.Command, path string, opts *diagnoseOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	ctx, cancel := cliCtx.withTimeout(cmd.Context())
	defer cancel()

	var view *resultView
	if opts.remote {
		api, err := cliCtx.requireAPI()
		if err != nil {
			return err
		}
		rec, err := api.Diagnose(ctx, path, f, opts.crop)
		if err != nil {
			return err
		}
		view = &resultView{Result: &rec.Result, ID: rec.ID}
	} else {
		res, err := cliCtx.Engine.Diagnose(ctx, f, opts.crop)
		if err != nil {
			return err
		}
		view = &resultView{Result: res}
	}

	cliCtx.Logger.Debug("diagnosis finished",
		logging.String("image", path),
		logging.String("disease", view.Result.Disease),
		logging.Bool("remote", opts.remote),
	)
	if opts.json {
		return printJSON(cmd, view)
	}
	return PrintResult(cmd, view)
}

func newExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "explain <label> <image>",
		Short:   "Show which profile rules fire for an image",
		Example: "  leafsight explain Tomato_Late_blight leaf.jpg",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("failed to open image: %w", err)
			}
			defer f.Close()

			exp, err := cliCtx.Engine.Explain(f, args[0])
			if err != nil {
				if errors.IsCode(err, errors.ErrCodeDiagnosisNotFound) {
					return fmt.Errorf("unknown profile %q; run 'leafsight profiles' to list labels", args[0])
				}
				return err
			}
			return PrintResult(cmd, explanationView{exp})
		},
	}
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

// resultView renders a diagnosis result.
type resultView struct {
	Result *diagnosis.Result
	ID     string
}

func (v *resultView) JSONValue() interface{} {
	if v.ID == "" {
		return v.Result
	}
	return struct {
		ID string `json:"id"`
		*diagnosis.Result
	}{v.ID, v.Result}
}

func (v *resultView) String() string {
	r := v.Result
	var sb strings.Builder
	if v.ID != "" {
		fmt.Fprintf(&sb, "ID:          %s\n", v.ID)
	}
	status := "disease detected"
	switch {
	case r.Fallback:
		status = "healthy (low disease signal)"
	case r.Healthy:
		status = "healthy"
	}
	fmt.Fprintf(&sb, "Diagnosis:   %s (%s)\n", r.Disease, status)
	fmt.Fprintf(&sb, "Confidence:  %.1f%%\n", r.Confidence*100)
	fmt.Fprintf(&sb, "Severity:    %s\n", r.Detailed.SeverityLevel)
	fmt.Fprintf(&sb, "Symptoms:    %s\n", r.Symptoms)
	fmt.Fprintf(&sb, "Treatment:   %s\n", r.Treatment)
	fmt.Fprintf(&sb, "Prevention:  %s\n", r.Prevention)
	if len(r.Detailed.DiseaseMatches) > 0 {
		sb.WriteString("\nCandidates:\n")
		for i, m := range r.Detailed.DiseaseMatches {
			fmt.Fprintf(&sb, "  %d. %-40s %.3f\n", i+1, m.Disease, m.Confidence)
		}
	}
	if r.Detailed.Recommendation != "" {
		fmt.Fprintf(&sb, "\n%s\n", r.Detailed.Recommendation)
	}
	for _, item := range r.Detailed.ActionItems {
		fmt.Fprintf(&sb, "  - %s\n", item)
	}
	return sb.String()
}

func (v *resultView) TableHeaders() []string {
	return []string{"RANK", "DISEASE", "CONFIDENCE", "RAW", "FEATURES"}
}

func (v *resultView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Result.Detailed.DiseaseMatches))
	for i, m := range v.Result.Detailed.DiseaseMatches {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			m.Disease,
			strconv.FormatFloat(m.Confidence, 'f', 3, 64),
			strconv.FormatFloat(m.RawScore, 'f', 3, 64),
			strings.Join(m.MatchingFeatures, "; "),
		})
	}
	return rows
}

// explanationView renders a profile audit.
type explanationView struct {
	*diagnosis.Explanation
}

func (v explanationView) JSONValue() interface{} { return v.Explanation }

func (v explanationView) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: score %.3f\n", v.Label, v.Score)
	if len(v.Contributions) == 0 {
		sb.WriteString("  no rule fired\n")
	}
	for _, c := range v.Contributions {
		fmt.Fprintf(&sb, "  rule %d tier %d  %+.2f  %s\n", c.Rule, c.Tier, c.Weight, c.Condition)
	}
	f := v.Features
	fmt.Fprintf(&sb, "features: green %.2f%%  yellow %.2f%%  brown %.2f%%  dark %.2f%%  spots %d (%.2f%% coverage)\n",
		f.HSV.GreenPct, f.HSV.YellowPct, f.HSV.BrownPct, f.HSV.DarkPct, f.Spots.SpotCount, f.Spots.CoveragePercentage)
	return sb.String()
}

func (v explanationView) TableHeaders() []string {
	return []string{"RULE", "TIER", "WEIGHT", "CONDITION"}
}

func (v explanationView) TableRows() [][]string {
	rows := make([][]string, 0, len(v.Contributions))
	for _, c := range v.Contributions {
		rows = append(rows, []string{
			strconv.Itoa(c.Rule),
			strconv.Itoa(c.Tier),
			strconv.FormatFloat(c.Weight, 'f', 2, 64),
			c.Condition,
		})
	}
	return rows
}
