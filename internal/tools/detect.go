package tools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"

	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/runner"
)

// defaultVenv is where pip tools are looked for inside a project.
const defaultVenv = ".venv"

// Detector computes live install status for registry tools.
type Detector struct {
	Runner       runner.Runner
	ProjectDir   string
	ProbeTimeout time.Duration
	// TestMode makes every external tool that is not a project-local npm
	// install report as not installed.
	TestMode bool
	Logger   *clog.Logger

	now func() time.Time
}

// NewDetector creates a Detector.
func NewDetector(r runner.Runner, project string, probeTimeout time.Duration, logger *clog.Logger) *Detector {
	return &Detector{Runner: r, ProjectDir: project, ProbeTimeout: probeTimeout, Logger: logger}
}

// Detect runs the detection pipeline for one tool. It never fails; every
// problem is folded into the returned classification.
func (d *Detector) Detect(ctx context.Context, t registry.Tool) LiveStatus {
	st := LiveStatus{ToolID: t.ID, CheckedAt: d.clock()}
	log := d.logger().With("tool", t.ID)

	if t.Builtin() {
		st.Result = AllPassed
		st.Reason = "built-in"
		return st
	}
	if d.TestMode && !t.LocalNPM() {
		st.Result = CommandNotFound
		st.Reason = "test mode"
		return st
	}

	if t.LocalNPM() {
		if missing := d.missingPackages(ctx, t.RequiredPackages()); len(missing) > 0 {
			st.Result = PackageAbsent
			st.MissingPackages = missing
			st.Reason = "missing npm packages: " + strings.Join(missing, ", ")
			log.Debug("package pre-check failed", "missing", missing)
			return st
		}
	}

	if ok := d.detectVenv(ctx, t, &st); ok {
		return st
	}

	probes := t.Detection.Probes
	if len(probes) == 0 {
		st.Result = AmbiguousFailure
		st.Reason = "no detection probes declared"
		return st
	}

	st.Result = AllPassed
	for _, probe := range probes {
		cmd := runner.Shell(probe)
		cmd.Dir = d.ProjectDir
		cmd.Timeout = d.ProbeTimeout
		res, err := d.Runner.Run(ctx, cmd)
		o := Classify(t, probe, res, err)
		st.Probes = append(st.Probes, o)
		st.Result = Worse(st.Result, o.Result)
		if err == nil && st.Version == "" && !isListingProbe(probe) {
			st.Version = ParseVersion(res.Output())
		}
		log.Debug("probe", "probe", probe, "result", o.Result, "exit", o.ExitCode)
	}
	return st
}

// missingPackages checks node_modules first and asks npm only for packages
// without a directory there.
func (d *Detector) missingPackages(ctx context.Context, pkgs []string) []string {
	var missing []string
	for _, pkg := range pkgs {
		if d.ProjectDir != "" {
			if fi, err := os.Stat(filepath.Join(d.ProjectDir, "node_modules", filepath.FromSlash(pkg))); err == nil && fi.IsDir() {
				continue
			}
		}
		pctx, cancel := d.probeContext(ctx)
		_, err := NpmInstalledVersion(pctx, d.Runner, d.ProjectDir, pkg, false)
		cancel()
		if err != nil {
			missing = append(missing, pkg)
		}
	}
	return missing
}

// detectVenv probes a project virtualenv. When the tool's executable exists
// there, or the venv interpreter can run it as a module, the declared probes
// run against that form and decide the result. Otherwise it reports false and
// detection continues with the global probes.
func (d *Detector) detectVenv(ctx context.Context, t registry.Tool, st *LiveStatus) bool {
	venv := t.Detection.Venv
	if venv == "" && t.Installation.Kind == registry.InstallPip {
		venv = defaultVenv
	}
	if venv == "" || d.ProjectDir == "" {
		return false
	}
	root := venv
	if !filepath.IsAbs(root) {
		root = filepath.Join(d.ProjectDir, venv)
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		return false
	}

	exe := t.Detection.Executable
	if exe == "" {
		exe = firstWord(t.Command)
	}
	if exe == "" && len(t.Detection.Probes) > 0 {
		exe = firstWord(t.Detection.Probes[0])
	}
	if exe == "" {
		return false
	}

	resolved := venvBinary(root, exe)
	module := ""
	if _, err := os.Stat(resolved); err != nil {
		python := venvBinary(root, "python")
		if _, err := os.Stat(python); err != nil {
			return false
		}
		module = t.Detection.Module
		if module == "" {
			module = exe
		}
		resolved = shellWord(python) + " -m " + module
	} else {
		resolved = shellWord(resolved)
	}

	var outcomes []ProbeOutcome
	result, version := AllPassed, ""
	for _, probe := range venvProbes(t, exe, resolved, root) {
		res, err := d.run(ctx, runner.Shell(probe))
		if module != "" && err != nil && strings.Contains(res.Output(), "No module named") {
			d.logger().Debug("module not in venv", "tool", t.ID, "module", module)
			st.Probes = append(st.Probes, outcomes...)
			return false
		}
		o := Classify(t, probe, res, err)
		outcomes = append(outcomes, o)
		result = Worse(result, o.Result)
		if err == nil && version == "" && !isListingProbe(probe) {
			version = ParseVersion(res.Output())
		}
	}
	st.Probes = append(st.Probes, outcomes...)
	st.Result = result
	st.Resolved = resolved
	st.Version = version
	return true
}

// venvProbes rewrites the declared probes to run inside the venv: the tool's
// executable becomes resolved and pip becomes the venv's pip. A tool without
// probes is checked with "<resolved> --version".
func venvProbes(t registry.Tool, exe, resolved, root string) []string {
	if len(t.Detection.Probes) == 0 {
		return []string{resolved + " --version"}
	}
	out := make([]string, 0, len(t.Detection.Probes))
	for _, probe := range t.Detection.Probes {
		head, rest, _ := strings.Cut(strings.TrimSpace(probe), " ")
		switch head {
		case exe:
			head = resolved
		case "pip", "pip3":
			if pip := venvBinary(root, head); isFile(pip) {
				head = shellWord(pip)
			}
		}
		if rest != "" {
			head += " " + rest
		}
		out = append(out, head)
	}
	return out
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// shellWord quotes s for the probe shell when it contains whitespace or quotes.
func shellWord(s string) string {
	if !strings.ContainsAny(s, " \t\"'") {
		return s
	}
	if runtime.GOOS == "windows" {
		return "& '" + strings.ReplaceAll(s, "'", "''") + "'"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (d *Detector) run(ctx context.Context, c runner.Command) (runner.Result, error) {
	c.Dir = d.ProjectDir
	c.Timeout = d.ProbeTimeout
	return d.Runner.Run(ctx, c)
}

func (d *Detector) probeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.ProbeTimeout > 0 {
		return context.WithTimeout(ctx, d.ProbeTimeout)
	}
	return context.WithCancel(ctx)
}

func (d *Detector) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

func (d *Detector) logger() *clog.Logger {
	if d.Logger == nil {
		return clog.Default()
	}
	return d.Logger
}

func venvBinary(root, name string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(root, "Scripts", name+".exe")
	}
	return filepath.Join(root, "bin", name)
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
