package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/climateandtech/carbonara-sub000/internal/engine"
	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/runner"
	"github.com/climateandtech/carbonara-sub000/internal/tools"
)

var (
	lsJSON     bool
	lsOutdated bool
)

const notesWidth = 48

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4d9375"))
	badStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#cb7676"))
	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

func init() {
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolVar(&lsJSON, "json", false, "print statuses as JSON")
	lsCmd.Flags().BoolVar(&lsOutdated, "outdated", false, "look up the latest npm release of installed npm tools")
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registry tools and whether they are usable",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		sts, err := a.engine.Refresh(cmd.Context())
		if err != nil {
			return err
		}
		if lsJSON {
			return writeJSON(cmd.OutOrStdout(), sts)
		}
		var latest map[string]string
		if lsOutdated {
			latest = latestVersions(cmd.Context(), a.runner, a.engine.Catalog(), sts)
		}
		renderStatuses(cmd.OutOrStdout(), sts, latest)
		return nil
	},
}

func renderStatuses(w io.Writer, sts []engine.Status, latest map[string]string) {
	if len(sts) == 0 {
		fmt.Fprintln(w, "registry is empty")
		return
	}
	rows := make([][]string, 0, len(sts))
	for _, st := range sts {
		usable := badStyle.Render("no")
		if st.Usable {
			usable = okStyle.Render("yes")
		}
		ver := st.Live.Version
		if l := latest[st.ToolID]; l != "" && ver != "" && tools.VersionLess(ver, l) {
			ver = fmt.Sprintf("%s → %s", ver, l)
		}
		rows = append(rows, []string{st.ToolID, st.Name, usable, string(st.Live.Result), ver, runewidth.Truncate(notes(st), notesWidth, "…")})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style { return cellStyle }).
		Headers("ID", "NAME", "USABLE", "DETECTION", "VERSION", "NOTES").
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

// notes summarizes why a tool is or is not usable.
func notes(st engine.Status) string {
	var parts []string
	o := st.Override
	switch {
	case o.DetectionFailed:
		parts = append(parts, "not found when last run")
	case o.CustomExecutionCommand != "":
		parts = append(parts, "custom: "+o.CustomExecutionCommand)
	case o.MarkedInstalled && !st.Live.Present():
		parts = append(parts, "marked installed")
	}
	if st.Kind == registry.KindBuiltin {
		parts = append(parts, "built in")
	}
	if len(st.Live.MissingPackages) > 0 {
		parts = append(parts, "missing "+strings.Join(st.Live.MissingPackages, ", "))
	}
	if len(st.PrerequisitesMissing) > 0 {
		parts = append(parts, "needs "+strings.Join(st.PrerequisitesMissing, ", "))
	}
	if o.LastError != nil && !o.DetectionFailed {
		parts = append(parts, "last error: "+o.LastError.Message)
	}
	return strings.Join(parts, "; ")
}

func latestVersions(ctx context.Context, r runner.Runner, cat *registry.Catalog, sts []engine.Status) map[string]string {
	out := map[string]string{}
	for _, st := range sts {
		t, err := cat.Get(st.ToolID)
		if err != nil || t.Installation.Kind != registry.InstallNPM || st.Live.Version == "" || len(t.Installation.Packages) == 0 {
			continue
		}
		lctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		v, err := tools.NpmLatestVersion(lctx, r, registry.StripVersion(t.Installation.Packages[0]))
		cancel()
		if err == nil {
			out[st.ToolID] = v
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
