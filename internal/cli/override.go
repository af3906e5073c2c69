package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/climateandtech/carbonara-sub000/internal/engine"
)

var (
	reportSuccess  bool
	reportExitCode int
	reportError    string
)

func init() {
	rootCmd.AddCommand(markCmd, setCommandCmd, resetCmd, reportCmd)
	reportCmd.Flags().BoolVar(&reportSuccess, "success", false, "the run succeeded")
	reportCmd.Flags().IntVar(&reportExitCode, "exit-code", 0, "exit code of the run")
	reportCmd.Flags().StringVar(&reportError, "error", "", "error output of the run")
}

var markCmd = &cobra.Command{
	Use:   "mark <tool>",
	Short: "Trust a tool as installed even when probes cannot find it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		t, err := resolveTool(a.engine.Catalog(), args[0])
		if err != nil {
			return err
		}
		if err := a.engine.MarkInstalled(t.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s marked installed\n", t.ID)
		return nil
	},
}

var setCommandCmd = &cobra.Command{
	Use:   "set-command <tool> [command...]",
	Short: "Run a tool through a custom command; no command clears it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		t, err := resolveTool(a.engine.Catalog(), args[0])
		if err != nil {
			return err
		}
		line := strings.Join(args[1:], " ")
		if err := a.engine.SetCustomCommand(t.ID, line); err != nil {
			return err
		}
		if strings.TrimSpace(line) == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s custom command cleared\n", t.ID)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s runs as: %s\n", t.ID, line)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <tool>",
	Short: "Forget every stored override of a tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		id := args[0]
		if t, err := resolveTool(a.engine.Catalog(), id); err == nil {
			id = t.ID
		}
		if err := a.engine.Reset(id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s reset\n", id)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <tool>",
	Short: "Record the outcome of a real tool run",
	Long:  "Feeds the result of running a tool back into its stored state. A run that fails because the program is missing withdraws a manual install mark.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		t, err := resolveTool(a.engine.Catalog(), args[0])
		if err != nil {
			return err
		}
		o := engine.ExecutionOutcome{Success: reportSuccess, ExitCode: reportExitCode, Error: reportError}
		if !o.Success && o.ExitCode == 0 && o.Error == "" {
			return fmt.Errorf("report: pass --success or describe the failure with --exit-code/--error")
		}
		if err := a.engine.OnExecutionResult(cmd.Context(), t.ID, o); err != nil {
			return err
		}
		ov := a.store.Get(t.ID)
		switch {
		case ov.DetectionFailed:
			fmt.Fprintf(cmd.OutOrStdout(), "%s was not found at run time; it is no longer trusted as installed\n", t.ID)
		case o.Success:
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s run recorded\n", t.ID)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%s failure recorded\n", t.ID)
		}
		return nil
	},
}
