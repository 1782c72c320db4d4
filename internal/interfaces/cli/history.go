package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/LeafSight/pkg/client"
	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

func newHistoryCmd() *cobra.Command {
	var opts client.ListOptions
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Query stored diagnoses on the API server",
		Long:  "List recent diagnoses, newest first, or show one diagnosis by id.",
		Example: "  leafsight history --crop tomato --limit 5\n" +
			"  leafsight history 9d1b2c3a-4e5f-4a6b-8c7d-0e1f2a3b4c5d --output json",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			api, err := cliCtx.requireAPI()
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.withTimeout(cmd.Context())
			defer cancel()

			if len(args) == 1 {
				rec, err := api.GetDiagnosis(ctx, args[0])
				if err != nil {
					return err
				}
				return PrintResult(cmd, &resultView{Result: &rec.Result, ID: rec.ID})
			}

			if opts.Limit < 0 {
				return fmt.Errorf("--limit must be positive, got %d", opts.Limit)
			}
			items, err := api.ListDiagnoses(ctx, opts)
			if err != nil {
				return err
			}
			return PrintResult(cmd, historyView(items))
		},
	}
	cmd.Flags().StringVar(&opts.Crop, "crop", "", "only diagnoses for this crop")
	cmd.Flags().StringVar(&opts.Disease, "disease", "", "only diagnoses with this label")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of diagnoses")
	return cmd
}

type historyView []*diagnosis.Record

func (v historyView) JSONValue() interface{} { return []*diagnosis.Record(v) }

func (v historyView) String() string {
	if len(v) == 0 {
		return "no diagnoses recorded\n"
	}
	var sb strings.Builder
	for _, rec := range v {
		fmt.Fprintf(&sb, "%s  %s  %-8s %s (%.1f%%)\n",
			rec.CreatedAt.Format(time.RFC3339), rec.ID, rec.Crop, rec.Result.Disease, rec.Result.Confidence*100)
	}
	return sb.String()
}

func (v historyView) TableHeaders() []string {
	return []string{"ID", "CREATED", "CROP", "DISEASE", "CONFIDENCE"}
}

func (v historyView) TableRows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, rec := range v {
		rows = append(rows, []string{
			rec.ID,
			rec.CreatedAt.Format(time.RFC3339),
			rec.Crop,
			rec.Result.Disease,
			strconv.FormatFloat(rec.Result.Confidence, 'f', 3, 64),
		})
	}
	return rows
}
