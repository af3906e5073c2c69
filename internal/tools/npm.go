package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/climateandtech/carbonara-sub000/internal/runner"
)

// ErrPackageNotInstalled is returned when npm does not list the package.
var ErrPackageNotInstalled = errors.New("package not installed")

// NpmInstalledVersion asks npm for the installed version of pkg in dir, or
// in the global prefix when global is set.
func NpmInstalledVersion(ctx context.Context, r runner.Runner, dir, pkg string, global bool) (string, error) {
	args := []string{"ls", "--depth=0", "--json"}
	if global {
		args = append(args, "-g")
	}
	args = append(args, pkg)
	res, err := r.Run(ctx, runner.Command{Name: "npm", Args: args, Dir: dir})
	// npm ls exits 1 on an incomplete tree but still prints the JSON
	if err != nil && strings.TrimSpace(res.Stdout) == "" {
		return "", err
	}
	var data struct {
		Dependencies map[string]struct {
			Version string `json:"version"`
			Missing bool   `json:"missing"`
		} `json:"dependencies"`
	}
	if jerr := json.Unmarshal([]byte(res.Stdout), &data); jerr != nil {
		return "", fmt.Errorf("npm ls %s: %w", pkg, jerr)
	}
	if d, ok := data.Dependencies[pkg]; ok && !d.Missing && d.Version != "" {
		return d.Version, nil
	}
	return "", fmt.Errorf("%w: %s", ErrPackageNotInstalled, pkg)
}

// NpmLatestVersion queries the npm registry for the latest published version.
func NpmLatestVersion(ctx context.Context, r runner.Runner, pkg string) (string, error) {
	res, err := r.Run(ctx, runner.Command{Name: "npm", Args: []string{"view", pkg, "version", "--json"}})
	if err != nil && res.Stdout == "" {
		return "", err
	}
	s := strings.TrimSpace(res.Stdout)
	// npm may return a bare JSON string like "1.2.3" or plain 1.2.3
	var v string
	if json.Unmarshal([]byte(s), &v) == nil && v != "" {
		return v, nil
	}
	return strings.Split(s, "\n")[0], nil
}

// NpmCacheDir returns npm's cache directory, honoring npm_config_cache.
func NpmCacheDir(ctx context.Context, r runner.Runner) (string, error) {
	if v := strings.TrimSpace(os.Getenv("npm_config_cache")); v != "" {
		return v, nil
	}
	res, err := r.Run(ctx, runner.Command{Name: "npm", Args: []string{"config", "get", "cache"}})
	if err != nil {
		return "", err
	}
	dir := strings.TrimSpace(res.Stdout)
	if dir == "" || dir == "undefined" {
		return "", errors.New("npm did not report a cache directory")
	}
	return dir, nil
}
