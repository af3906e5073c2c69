package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/climateandtech/carbonara-sub000/internal/engine"
	"github.com/climateandtech/carbonara-sub000/internal/install"
	"github.com/climateandtech/carbonara-sub000/internal/registry"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(infoCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status <tool>",
	Short: "Detect one tool and print its effective status",
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
		st, err := a.engine.EffectiveStatus(cmd.Context(), t.ID)
		if err != nil {
			return err
		}
		if statusJSON {
			return writeJSON(cmd.OutOrStdout(), st)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\n", st.Name, st.ToolID)
		fmt.Fprintf(out, "  usable:    %v\n", st.Usable)
		fmt.Fprintf(out, "  detection: %s\n", st.Live.Result)
		if st.Live.Version != "" {
			fmt.Fprintf(out, "  version:   %s\n", st.Live.Version)
		}
		if st.Live.Resolved != "" {
			fmt.Fprintf(out, "  resolved:  %s\n", st.Live.Resolved)
		}
		for _, p := range st.Live.Probes {
			fmt.Fprintf(out, "  probe:     %s → %s\n", p.Probe, p.Result)
		}
		if n := notes(st); n != "" {
			fmt.Fprintf(out, "  notes:     %s\n", n)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <tool>",
	Short: "Describe a registry tool",
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
		st, err := a.engine.EffectiveStatus(cmd.Context(), t.ID)
		if err != nil {
			return err
		}
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
		if err != nil {
			return err
		}
		md, err := r.Render(toolMarkdown(t, st))
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	},
}

func toolMarkdown(t registry.Tool, st engine.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.DisplayName())
	if t.Description != "" {
		b.WriteString(t.Description + "\n\n")
	}
	fmt.Fprintf(&b, "- **id:** `%s`\n", t.ID)
	fmt.Fprintf(&b, "- **usable:** %v\n", st.Usable)
	if t.Command != "" {
		fmt.Fprintf(&b, "- **command:** `%s`\n", t.Command)
	}
	fmt.Fprintf(&b, "- **installation:** %s\n", t.Installation.Kind)
	if len(t.Installation.Packages) > 0 {
		fmt.Fprintf(&b, "- **packages:** %s\n", strings.Join(t.Installation.Packages, ", "))
	}
	if len(t.Detection.Probes) > 0 {
		b.WriteString("\n## Detection\n\n")
		for _, p := range t.Detection.Probes {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
	}
	if len(t.Prerequisites) > 0 {
		b.WriteString("\n## Prerequisites\n\n")
		for _, p := range t.Prerequisites {
			fmt.Fprintf(&b, "- **%s** (%s)", p.Name, p.Type)
			if p.SetupInstructions != "" {
				b.WriteString(": " + p.SetupInstructions)
			}
			b.WriteString("\n")
		}
	}
	if !t.Builtin() {
		fmt.Fprintf(&b, "\n## Manual installation\n\n%s\n", install.Instructions(t))
	}
	return b.String()
}
