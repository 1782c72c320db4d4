package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/LeafSight/pkg/types/diagnosis"
)

func newCropsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crops",
		Short: "List the supported crops and their candidate diseases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return PrintResult(cmd, cropsView(cliCtx.Engine.CropInfos()))
		},
	}
}

func newProfilesCmd() *cobra.Command {
	var crop string
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List disease profiles and their scoring rules",
		Long:  "List disease profiles in ranking order.  Without --crop every registered\nprofile is shown.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return PrintResult(cmd, profilesView(cliCtx.Engine.Profiles(crop)))
		},
	}
	cmd.Flags().StringVar(&crop, "crop", "", "only show the candidates of this crop")
	return cmd
}

type cropsView []diagnosis.CropInfo

func (v cropsView) JSONValue() interface{} { return []diagnosis.CropInfo(v) }

func (v cropsView) String() string {
	var sb strings.Builder
	for _, c := range v {
		fmt.Fprintf(&sb, "%s (healthy: %s)\n", c.Crop, c.HealthyLabel)
		for _, l := range c.Labels {
			fmt.Fprintf(&sb, "  %s\n", l)
		}
	}
	return sb.String()
}

func (v cropsView) TableHeaders() []string { return []string{"CROP", "HEALTHY LABEL", "PROFILES"} }

func (v cropsView) TableRows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, c := range v {
		rows = append(rows, []string{c.Crop, c.HealthyLabel, strconv.Itoa(len(c.Labels))})
	}
	return rows
}

type profilesView []diagnosis.ProfileSummary

func (v profilesView) JSONValue() interface{} { return []diagnosis.ProfileSummary(v) }

func (v profilesView) String() string {
	var sb strings.Builder
	for _, p := range v {
		kind := "disease"
		if p.Healthy {
			kind = "healthy"
		}
		fmt.Fprintf(&sb, "%s [%s, %s]\n", p.Label, p.Crop, kind)
		for i, r := range p.Rules {
			for _, t := range r.Tiers {
				fmt.Fprintf(&sb, "  rule %d  %+.2f  %s\n", i, t.Weight, strings.Join(t.When, " AND "))
			}
		}
	}
	return sb.String()
}

func (v profilesView) TableHeaders() []string { return []string{"LABEL", "CROP", "HEALTHY", "RULES"} }

func (v profilesView) TableRows() [][]string {
	rows := make([][]string, 0, len(v))
	for _, p := range v {
		rows = append(rows, []string{p.Label, p.Crop, strconv.FormatBool(p.Healthy), strconv.Itoa(len(p.Rules))})
	}
	return rows
}
