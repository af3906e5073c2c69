package runner

import (
	"os"
	"strings"
)

// ResolveDir returns the first existing directory from: the requested dir,
// the process working directory, the user's home and the system temp dir.
// Spawning in a directory that does not exist fails with a misleading
// "no such file" error, so callers never pass one through.
func ResolveDir(requested string) string {
	candidates := []string{strings.TrimSpace(requested)}
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, wd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, home)
	}
	candidates = append(candidates, os.TempDir())
	for _, dir := range candidates {
		if dir == "" {
			continue
		}
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir
		}
	}
	return os.TempDir()
}
