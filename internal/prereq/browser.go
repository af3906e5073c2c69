package prereq

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/climateandtech/carbonara-sub000/internal/tools"
)

// browserFolders are the Puppeteer cache folders holding usable browsers.
var browserFolders = []string{"chrome", "chrome-headless-shell"}

type cachedBuild struct {
	browser string
	version string
	dir     string
}

// findCachedBrowser scans the Puppeteer cache for an installed browser. An
// exact match of pinned is tried first, then builds from newest to oldest.
// Only builds whose platform executable exists count.
func findCachedBrowser(cacheDir, pinned, goos string) (string, error) {
	var builds []cachedBuild
	for _, b := range browserFolders {
		entries, err := os.ReadDir(filepath.Join(cacheDir, b))
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if !ent.IsDir() {
				continue
			}
			// <platform>-<version>, e.g. linux-131.0.6778.85 or mac_arm-131.0.6778.85
			_, ver, ok := strings.Cut(ent.Name(), "-")
			if !ok || ver == "" {
				continue
			}
			builds = append(builds, cachedBuild{browser: b, version: ver, dir: filepath.Join(cacheDir, b, ent.Name())})
		}
	}
	if len(builds) == 0 {
		return "", fmt.Errorf("no browser builds in %s", cacheDir)
	}

	sort.SliceStable(builds, func(i, j int) bool {
		pi, pj := pinned != "" && builds[i].version == pinned, pinned != "" && builds[j].version == pinned
		if pi != pj {
			return pi
		}
		return tools.CompareVersions(builds[i].version, builds[j].version) > 0
	})
	for _, b := range builds {
		for _, exe := range browserExecutables(b.browser, b.dir, goos) {
			if isFile(exe) {
				return exe, nil
			}
		}
	}
	return "", fmt.Errorf("browser builds in %s have no %s executable", cacheDir, goos)
}

// browserExecutables lists where a cached build keeps its executable.
func browserExecutables(browser, dir, goos string) []string {
	if browser == "chrome-headless-shell" {
		switch goos {
		case "darwin":
			return []string{
				filepath.Join(dir, "chrome-headless-shell-mac-arm64", "chrome-headless-shell"),
				filepath.Join(dir, "chrome-headless-shell-mac-x64", "chrome-headless-shell"),
			}
		case "windows":
			return []string{
				filepath.Join(dir, "chrome-headless-shell-win64", "chrome-headless-shell.exe"),
				filepath.Join(dir, "chrome-headless-shell-win32", "chrome-headless-shell.exe"),
			}
		default:
			return []string{filepath.Join(dir, "chrome-headless-shell-linux64", "chrome-headless-shell")}
		}
	}
	switch goos {
	case "darwin":
		const app = "Google Chrome for Testing.app"
		inner := filepath.Join("Contents", "MacOS", "Google Chrome for Testing")
		return []string{
			filepath.Join(dir, "chrome-mac-arm64", app, inner),
			filepath.Join(dir, "chrome-mac-x64", app, inner),
		}
	case "windows":
		return []string{
			filepath.Join(dir, "chrome-win64", "chrome.exe"),
			filepath.Join(dir, "chrome-win32", "chrome.exe"),
		}
	default:
		return []string{filepath.Join(dir, "chrome-linux64", "chrome")}
	}
}
