package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/climateandtech/carbonara-sub000/internal/registry"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect and validate the tool registry",
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.AddCommand(registryListCmd, registrySchemaCmd, registryValidateCmd)
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the active registry source and its tool ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		cat := a.engine.Catalog()
		out := cmd.OutOrStdout()
		src := cat.Source
		if src == "" {
			src = "(none)"
		}
		fmt.Fprintf(out, "source: %s\n", src)
		for _, t := range cat.Tools {
			fmt.Fprintf(out, "- %s: %s [%s]\n", t.ID, t.DisplayName(), t.Installation.Kind)
		}
		for _, p := range cat.Problems {
			fmt.Fprintf(out, "! %s\n", p.String())
		}
		return nil
	},
}

var registrySchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON Schema of tools.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := registry.MarshalSchema(registry.ManifestSchema())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	},
}

var registryValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Parse a manifest and report rejected entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		cat, err := registry.Parse(args[0], b)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range cat.Problems {
			fmt.Fprintf(out, "ERR  %s\n", p.String())
		}
		fmt.Fprintf(out, "%d tool(s) accepted, %d rejected\n", cat.Len(), len(cat.Problems))
		if len(cat.Problems) > 0 {
			return fmt.Errorf("validate failed: %d entr(ies) rejected", len(cat.Problems))
		}
		return nil
	},
}
