package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/climateandtech/carbonara-sub000/internal/config"
	"github.com/climateandtech/carbonara-sub000/internal/system"
)

var (
	flagProject  string
	flagLogLevel string
	flagSettings string
)

var rootCmd = &cobra.Command{
	Use:   "carbonara-tools",
	Short: "carbonara-tools – detect and install assessment tools",
	Long:  "carbonara-tools reads the tool registry, detects which tools are usable in a project and installs the missing ones.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		level := s.LogLevel
		if flagLogLevel != "" {
			level = flagLogLevel
		}
		return system.SetLevel(level)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "p", "", "project directory (default: git root of the working directory)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagSettings, "settings", "", "settings file (default: user config dir)")
}

// Execute runs the CLI. Ctrl+C cancels the command context, which kills any
// running probe or installer.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

func loadSettings() (config.Settings, error) {
	path := flagSettings
	if path == "" {
		p, err := config.SettingsPath()
		if err != nil {
			system.Logger.Debug("no settings path", "err", err)
		}
		path = p
	}
	return config.LoadSettings(path)
}
