package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/climateandtech/carbonara-sub000/internal/prereq"
)

var checkJSON bool

type checkReport struct {
	ToolID string        `json:"toolId"`
	Report prereq.Report `json:"report"`
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output JSON report")
}

var checkCmd = &cobra.Command{
	Use:   "check [tool]...",
	Short: "Check tool prerequisites (runtimes, browsers)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		selected, err := selectTools(a.engine.Catalog(), args)
		if err != nil {
			return err
		}
		var reps []checkReport
		missing := 0
		for _, t := range selected {
			st, err := a.engine.EffectiveStatus(cmd.Context(), t.ID)
			if err != nil {
				return err
			}
			if len(t.Prerequisites) == 0 {
				continue
			}
			reps = append(reps, checkReport{ToolID: t.ID, Report: st.Prerequisites})
			missing += len(st.Prerequisites.Missing)
		}

		if checkJSON {
			if err := writeJSON(cmd.OutOrStdout(), reps); err != nil {
				return err
			}
		} else {
			out := cmd.OutOrStdout()
			for _, r := range reps {
				for _, s := range r.Report.Checked {
					if s.Available {
						fmt.Fprintf(out, "OK   %s  %s %s\n", r.ToolID, s.Name, s.Path)
						continue
					}
					fmt.Fprintf(out, "MISS %s  %s  %s\n", r.ToolID, s.Name, s.Detail)
					if s.Instructions != "" {
						fmt.Fprintf(out, "     %s\n", s.Instructions)
					}
				}
			}
			fmt.Fprintf(out, "\nSummary: %d tool(s) with prerequisites, %d missing\n", len(reps), missing)
		}
		if missing > 0 {
			return fmt.Errorf("check failed: %d prerequisite(s) missing", missing)
		}
		return nil
	},
}
