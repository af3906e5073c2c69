// Package prereq checks and installs what a tool needs at run time beyond
// the tool itself: generic commands and headless browser runtimes.
package prereq

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"

	"github.com/climateandtech/carbonara-sub000/internal/lock"
	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/runner"
	"github.com/climateandtech/carbonara-sub000/internal/tools"
)

// Status is the outcome of checking one prerequisite.
type Status struct {
	Name      string              `json:"name"`
	Type      registry.PrereqType `json:"type"`
	Available bool                `json:"available"`
	Detail    string              `json:"detail,omitempty"`
	// Path is the browser executable that satisfied the check.
	Path         string `json:"path,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Report aggregates every prerequisite of a tool.
type Report struct {
	AllAvailable bool     `json:"allAvailable"`
	Checked      []Status `json:"checked,omitempty"`
	Missing      []Status `json:"missing,omitempty"`
}

// Evaluator checks and installs prerequisites.
type Evaluator struct {
	Runner         runner.Runner
	ProjectDir     string
	CheckTimeout   time.Duration
	InstallTimeout time.Duration
	// PuppeteerVersion pins a browser build when the prerequisite has none.
	PuppeteerVersion string
	// CacheDir overrides the Puppeteer browser cache location.
	CacheDir string
	// Locks serializes use of the shared npx cache. It should be shared with
	// every other component touching that cache.
	Locks  *lock.Set
	Logger *clog.Logger

	ownLocks lock.Set
	goos     string
}

// New creates an Evaluator with its own lock set.
func New(r runner.Runner, project string, checkTimeout, installTimeout time.Duration, logger *clog.Logger) *Evaluator {
	return &Evaluator{
		Runner:         r,
		ProjectDir:     project,
		CheckTimeout:   checkTimeout,
		InstallTimeout: installTimeout,
		Logger:         logger,
	}
}

// CheckAll evaluates every prerequisite of tool. Failures are reported as
// missing, never returned as errors.
func (e *Evaluator) CheckAll(ctx context.Context, tool registry.Tool) Report {
	rep := Report{AllAvailable: true}
	for _, p := range tool.Prerequisites {
		st := e.Check(ctx, p)
		rep.Checked = append(rep.Checked, st)
		if !st.Available {
			rep.AllAvailable = false
			rep.Missing = append(rep.Missing, st)
		}
	}
	return rep
}

// Check evaluates one prerequisite.
func (e *Evaluator) Check(ctx context.Context, p registry.Prerequisite) Status {
	st := Status{Name: p.Name, Type: p.Type, Instructions: p.SetupInstructions}
	switch p.Type {
	case registry.PrereqPlaywright:
		st.Path, st.Detail = e.checkPlaywright(ctx, p)
	case registry.PrereqPuppeteer:
		st.Path, st.Detail = e.checkPuppeteer(ctx, p)
	default:
		st.Available, st.Detail = e.checkGeneric(ctx, p)
		return st
	}
	st.Available = st.Path != ""
	return st
}

func (e *Evaluator) checkGeneric(ctx context.Context, p registry.Prerequisite) (bool, string) {
	if strings.TrimSpace(p.CheckCommand) == "" {
		return false, "no check command"
	}
	res, err := e.run(ctx, runner.Command{Shell: p.CheckCommand, Timeout: e.CheckTimeout})
	if err != nil {
		return false, err.Error()
	}
	if p.ExpectedOutput != "" && !strings.Contains(res.Output(), p.ExpectedOutput) {
		return false, "output does not contain " + p.ExpectedOutput
	}
	return true, ""
}

const playwrightPathScript = "console.log(require('playwright').chromium.executablePath())"

func (e *Evaluator) checkPlaywright(ctx context.Context, p registry.Prerequisite) (string, string) {
	if p.CheckCommand != "" {
		if ok, detail := e.checkGeneric(ctx, p); !ok {
			return "", detail
		}
	}
	res, err := e.run(ctx, runner.Command{Name: "node", Args: []string{"-e", playwrightPathScript}, Timeout: e.CheckTimeout})
	if err != nil {
		return "", "playwright is not resolvable: " + err.Error()
	}
	path := lastLine(res.Stdout)
	if path == "" {
		return "", "playwright reported no browser path"
	}
	if !isFile(path) {
		return "", "browser executable missing at " + path
	}
	return path, ""
}

// pluginDir returns the installed directory of the plugin bundling Puppeteer.
func (e *Evaluator) pluginDir(p registry.Prerequisite) string {
	if p.Plugin == "" || e.ProjectDir == "" {
		return ""
	}
	dir := filepath.Join(e.ProjectDir, "node_modules", filepath.FromSlash(p.Plugin))
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return dir
	}
	return ""
}

func (e *Evaluator) checkPuppeteer(ctx context.Context, p registry.Prerequisite) (string, string) {
	if dir := e.pluginDir(p); dir != "" {
		res, err := e.run(ctx, runner.Command{
			Name:    "npx",
			Args:    []string{"--no-install", "puppeteer", "browsers", "install", "chrome", "--dry-run"},
			Dir:     dir,
			Timeout: e.CheckTimeout,
		})
		if err == nil {
			if path := existingPathIn(res.Output()); path != "" {
				return path, ""
			}
		}
		e.logger().Debug("plugin puppeteer gave no browser path, scanning cache", "plugin", p.Plugin)
	}

	version := p.Version
	if version == "" {
		version = e.PuppeteerVersion
	}
	path, err := findCachedBrowser(e.cacheDir(), version, e.platform())
	if err != nil {
		return "", err.Error()
	}
	return path, ""
}

// Install runs the automatic installer for p.
func (e *Evaluator) Install(ctx context.Context, p registry.Prerequisite) error {
	switch p.Type {
	case registry.PrereqPlaywright:
		return e.installPlaywright(ctx, p)
	case registry.PrereqPuppeteer:
		return e.installPuppeteer(ctx, p, false)
	default:
		if p.InstallCommand == "" {
			return &InstallError{Prerequisite: p.Name, Suggestion: p.SetupInstructions, Remediation: RemedyManual, Err: ErrNoInstaller}
		}
		res, err := e.run(ctx, runner.Command{Shell: p.InstallCommand, Timeout: e.InstallTimeout})
		if err != nil {
			return &InstallError{Prerequisite: p.Name, Suggestion: p.InstallCommand, Remediation: RemedyManual, Output: res.Output(), Err: err}
		}
		return nil
	}
}

// ClearCacheAndRetry wipes the partial browser downloads and the npx cache,
// then installs again. It is the follow-up to RemedyClearCacheAndRetry.
func (e *Evaluator) ClearCacheAndRetry(ctx context.Context, p registry.Prerequisite) error {
	if p.Type != registry.PrereqPuppeteer {
		return e.Install(ctx, p)
	}
	for _, b := range browserFolders {
		dir := filepath.Join(e.cacheDir(), b)
		if err := os.RemoveAll(dir); err != nil {
			e.logger().Warn("could not clear browser cache", "dir", dir, "err", err)
		}
	}
	return e.installPuppeteer(ctx, p, true)
}

func (e *Evaluator) installPlaywright(ctx context.Context, p registry.Prerequisite) error {
	cmd := p.InstallCommand
	if cmd == "" {
		cmd = "npx playwright install chromium"
	}
	res, err := e.run(ctx, runner.Command{Shell: cmd, Timeout: e.InstallTimeout})
	if err != nil {
		return &InstallError{Prerequisite: p.Name, Suggestion: cmd, Remediation: RemedyManual, Output: res.Output(), Err: err}
	}
	return nil
}

func (e *Evaluator) installPuppeteer(ctx context.Context, p registry.Prerequisite, retry bool) error {
	locks := e.Locks
	if locks == nil {
		locks = &e.ownLocks
	}
	release, err := locks.Acquire(ctx, lock.NpxCache)
	if err != nil {
		return err
	}
	defer release()

	if err := e.clearNpxCache(ctx); err != nil {
		e.logger().Warn("could not clear npx cache", "err", err)
	}

	c := runner.Command{Shell: p.InstallCommand, Timeout: e.InstallTimeout}
	if dir := e.pluginDir(p); dir != "" {
		c = runner.Command{Name: "npx", Args: []string{"puppeteer", "browsers", "install", "chrome"}, Dir: dir, Timeout: e.InstallTimeout}
	} else if c.Shell == "" {
		c.Shell = "npx puppeteer browsers install chrome"
	}
	res, err := e.run(ctx, c)
	if err == nil {
		return nil
	}
	ierr := &InstallError{Prerequisite: p.Name, Suggestion: c.Line(), Remediation: RemedyManual, Output: res.Output(), Err: err}
	if !retry && isCacheConflict(res.Output()) {
		ierr.Remediation = RemedyClearCacheAndRetry
	}
	return ierr
}

// clearNpxCache removes <npm cache>/_npx.
func (e *Evaluator) clearNpxCache(ctx context.Context) error {
	dir, err := tools.NpmCacheDir(ctx, e.Runner)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(dir, "_npx"))
}

var conflictMarkers = []string{"ENOTEMPTY", "EEXIST", "file already exists", "directory not empty"}

func isCacheConflict(out string) bool {
	for _, m := range conflictMarkers {
		if strings.Contains(out, m) {
			return true
		}
	}
	return false
}

func (e *Evaluator) run(ctx context.Context, c runner.Command) (runner.Result, error) {
	if c.Dir == "" {
		c.Dir = e.ProjectDir
	}
	return e.Runner.Run(ctx, c)
}

func (e *Evaluator) cacheDir() string {
	if e.CacheDir != "" {
		return e.CacheDir
	}
	if v := strings.TrimSpace(os.Getenv("PUPPETEER_CACHE_DIR")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "puppeteer")
	}
	return filepath.Join(home, ".cache", "puppeteer")
}

func (e *Evaluator) platform() string {
	if e.goos != "" {
		return e.goos
	}
	return runtime.GOOS
}

func (e *Evaluator) logger() *clog.Logger {
	if e.Logger == nil {
		return clog.Default()
	}
	return e.Logger
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// existingPathIn returns the first absolute path in out that is a file.
func existingPathIn(out string) string {
	for _, f := range strings.Fields(out) {
		f = strings.Trim(f, `"'(),`)
		if filepath.IsAbs(f) && isFile(f) {
			return f
		}
	}
	return ""
}
