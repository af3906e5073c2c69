package registry

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	clog "github.com/charmbracelet/log"

	"github.com/climateandtech/carbonara-sub000/internal/config"
)

// CompanionBinary is the name of the companion CLI looked up on PATH.
const CompanionBinary = "carbonara"

// companionManifests are manifest locations relative to the directory of the
// resolved companion CLI binary.
var companionManifests = []string{
	"tools.json",
	filepath.Join("registry", "tools.json"),
	filepath.Join("..", "registry", "tools.json"),
	filepath.Join("..", "dist", "registry", "tools.json"),
	filepath.Join("..", "..", "registry", "tools.json"),
}

// Loader resolves the active registry. The first source that yields a
// parseable manifest wins; sources are never merged.
//  1. EnvPath (CARBONARA_TOOLS_REGISTRY)
//  2. the project's .carbonara/tools.{json,yaml,yml}
//  3. Bundled, the manifest compiled into the binary
//  4. a manifest next to the companion CLI (CLIPath, else PATH lookup)
type Loader struct {
	EnvPath    string
	ProjectDir string
	Bundled    []byte
	CLIPath    string
	Logger     *clog.Logger

	// lookPath is replaced in tests.
	lookPath func(string) (string, error)
}

// NewLoader builds a loader from settings with the bundled manifest attached.
func NewLoader(project string, s config.Settings, logger *clog.Logger) *Loader {
	return &Loader{
		EnvPath:    s.RegistryPath,
		ProjectDir: project,
		Bundled:    BundledManifest(),
		CLIPath:    s.CLIPath,
		Logger:     logger,
	}
}

type source struct {
	name string
	read func() (string, []byte, error)
}

// Load returns the catalog from the highest priority usable source. When no
// source has a usable manifest the catalog is empty and err is nil.
func (l *Loader) Load() (*Catalog, error) {
	for _, src := range l.sources() {
		name, data, err := src.read()
		if err != nil {
			if !errors.Is(err, ErrNoManifest) {
				l.logger().Warn("registry source unreadable", "source", src.name, "err", err)
			}
			continue
		}
		cat, err := Parse(name, data)
		if err != nil {
			l.logger().Warn("registry manifest rejected", "source", src.name, "err", err)
			continue
		}
		for _, p := range cat.Problems {
			l.logger().Warn("registry entry rejected", "source", name, "problem", p.String())
		}
		l.logger().Debug("registry loaded", "source", src.name, "path", name, "tools", cat.Len())
		return cat, nil
	}
	l.logger().Info("no tool registry found, using empty catalog")
	return newCatalog("", nil, nil), nil
}

func (l *Loader) sources() []source {
	return []source{
		{name: "env", read: func() (string, []byte, error) {
			if strings.TrimSpace(l.EnvPath) == "" {
				return "", nil, ErrNoManifest
			}
			b, err := os.ReadFile(l.EnvPath)
			return l.EnvPath, b, err
		}},
		{name: "project", read: func() (string, []byte, error) {
			if strings.TrimSpace(l.ProjectDir) == "" {
				return "", nil, ErrNoManifest
			}
			return firstExisting(config.ProjectManifests(l.ProjectDir))
		}},
		{name: "bundled", read: func() (string, []byte, error) {
			if len(l.Bundled) == 0 {
				return "", nil, ErrNoManifest
			}
			return "bundled:tools.json", l.Bundled, nil
		}},
		{name: "companion", read: func() (string, []byte, error) {
			dir, err := l.companionDir()
			if err != nil {
				return "", nil, ErrNoManifest
			}
			candidates := make([]string, 0, len(companionManifests))
			for _, rel := range companionManifests {
				candidates = append(candidates, filepath.Join(dir, rel))
			}
			return firstExisting(candidates)
		}},
	}
}

// companionDir resolves the directory of the companion CLI, following
// symlinks so package-manager shims lead to the installed package.
func (l *Loader) companionDir() (string, error) {
	p := strings.TrimSpace(l.CLIPath)
	if p == "" {
		look := l.lookPath
		if look == nil {
			look = exec.LookPath
		}
		found, err := look(CompanionBinary)
		if err != nil {
			return "", err
		}
		p = found
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	fi, err := os.Stat(p)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return p, nil
	}
	return filepath.Dir(p), nil
}

func (l *Loader) logger() *clog.Logger {
	if l.Logger == nil {
		return clog.Default()
	}
	return l.Logger
}

func readManifest(path string) (string, []byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("%s: %w", path, ErrNoManifest)
		}
		return "", nil, err
	}
	return path, b, nil
}

// firstExisting reads the first candidate that exists.
func firstExisting(paths []string) (string, []byte, error) {
	for _, p := range paths {
		name, b, err := readManifest(p)
		if errors.Is(err, ErrNoManifest) {
			continue
		}
		return name, b, err
	}
	return "", nil, ErrNoManifest
}
