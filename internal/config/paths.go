package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/climateandtech/carbonara-sub000/internal/system"
)

// ProjectConfigFile is the project-scoped, human-readable config file that
// also carries the per-tool override state.
const ProjectConfigFile = "carbonara.config.json"

// projectDir is the project-local directory holding the tool manifest.
const projectDir = ".carbonara"

// Dir returns the carbonara config directory under the user config base.
// On Linux, this typically resolves to $XDG_CONFIG_HOME/carbonara; on macOS
// to ~/Library/Application Support/carbonara; and on Windows to %AppData%/carbonara.
// Falls back to HOME when UserConfigDir is unavailable.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil || strings.TrimSpace(base) == "" {
		if home, herr := os.UserHomeDir(); herr == nil {
			base = home
		} else {
			return "", errors.New("cannot determine config directory")
		}
	}
	return filepath.Join(base, "carbonara"), nil
}

// SettingsPath returns the user settings file path.
func SettingsPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// StateFile returns the override config path for a project.
func StateFile(project string) string {
	return filepath.Join(project, ProjectConfigFile)
}

// ProjectManifests lists project-local manifest candidates in lookup order.
func ProjectManifests(project string) []string {
	base := filepath.Join(project, projectDir)
	return []string{
		filepath.Join(base, "tools.json"),
		filepath.Join(base, "tools.yaml"),
		filepath.Join(base, "tools.yml"),
	}
}

// ProjectRoot picks the project directory: an explicit path wins, then the
// git top-level of the working directory, then the working directory itself.
func ProjectRoot(ctx context.Context, explicit string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		if abs, err := filepath.Abs(s); err == nil {
			return abs
		}
		return s
	}
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	if root, err := system.GitRoot(ctx, cwd); err == nil && strings.TrimSpace(root) != "" {
		return root
	}
	return cwd
}
