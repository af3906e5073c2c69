package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/spf13/cobra"

	"github.com/climateandtech/carbonara-sub000/internal/engine"
	"github.com/climateandtech/carbonara-sub000/internal/prereq"
)

var (
	installYes   bool
	installPlain bool
)

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().BoolVarP(&installYes, "yes", "y", false, "clear caches and retry without asking when a browser download conflicts")
	installCmd.Flags().BoolVar(&installPlain, "plain", false, "no spinner or prompts")
}

var installCmd = &cobra.Command{
	Use:   "install [tool|all]...",
	Short: "Install tools and their prerequisites",
	Long:  "Installs the named tools (all when none are named). Tools that are already usable are skipped.",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		selected, err := selectTools(a.engine.Catalog(), args)
		if err != nil {
			return err
		}
		if len(selected) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no tools selected")
			return nil
		}
		out := cmd.OutOrStdout()
		failed := 0
		for i, t := range selected {
			fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(selected), t.DisplayName())
			st, err := a.engine.EffectiveStatus(cmd.Context(), t.ID)
			if err != nil {
				return err
			}
			if st.Usable && len(st.PrerequisitesMissing) == 0 {
				fmt.Fprintf(out, "  • skipped: already usable %s\n", st.Live.Version)
				continue
			}

			var res engine.InstallOutcome
			run := func(ctx context.Context) error {
				var err error
				res, err = a.engine.Install(ctx, t.ID)
				return err
			}
			if err := withSpinner(cmd.Context(), "installing "+t.DisplayName()+"…", run); err != nil {
				return err
			}
			if !res.Result.Success {
				failed++
				fmt.Fprintf(out, "  × %s\n", res.Result.Message)
				if res.Result.Instructions != "" {
					fmt.Fprintf(out, "    install manually: %s\n", res.Result.Instructions)
				}
				continue
			}
			fmt.Fprintf(out, "  ✓ %s\n", res.Result.Message)
			for _, p := range res.Prerequisites {
				if !reportPrereq(cmd.Context(), out, a.engine, t.ID, p) {
					failed++
				}
			}
		}
		if failed > 0 {
			return fmt.Errorf("install: %d step(s) failed", failed)
		}
		return nil
	},
}

// reportPrereq prints a prerequisite outcome and offers the clear-cache
// retry when the failure calls for it. It reports whether the prerequisite
// ended up installed.
func reportPrereq(ctx context.Context, out io.Writer, eng *engine.Engine, id string, p engine.PrereqOutcome) bool {
	if p.Installed {
		fmt.Fprintf(out, "  ✓ prerequisite %s\n", p.Name)
		return true
	}
	fmt.Fprintf(out, "  × prerequisite %s: %s\n", p.Name, p.Error)
	if p.Remediation != prereq.RemedyClearCacheAndRetry {
		if p.Suggestion != "" {
			fmt.Fprintf(out, "    try: %s\n", p.Suggestion)
		}
		return false
	}
	retry := installYes
	if !retry && !installPlain {
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Clear the npm and browser caches and retry %s?", p.Name)).
			Affirmative("Retry").
			Negative("Skip").
			Value(&retry).
			Run()
		if err != nil && !errors.Is(err, huh.ErrUserAborted) {
			return false
		}
	}
	if !retry {
		if p.Suggestion != "" {
			fmt.Fprintf(out, "    try: %s\n", p.Suggestion)
		}
		return false
	}
	var again engine.PrereqOutcome
	err := withSpinner(ctx, "clearing caches and retrying "+p.Name+"…", func(ctx context.Context) error {
		var err error
		again, err = eng.InstallPrerequisite(ctx, id, p.Name, true)
		return err
	})
	if err != nil {
		fmt.Fprintf(out, "  × prerequisite %s: %v\n", p.Name, err)
		return false
	}
	if again.Remediation == prereq.RemedyClearCacheAndRetry {
		again.Remediation = prereq.RemedyManual
	}
	return reportPrereq(ctx, out, eng, id, again)
}

func withSpinner(ctx context.Context, title string, fn func(context.Context) error) error {
	if installPlain {
		return fn(ctx)
	}
	var err error
	if serr := spinner.New().Title(title).Context(ctx).Action(func() { err = fn(ctx) }).Run(); serr != nil {
		return serr
	}
	return err
}
