// Package install runs tool installations one at a time and records their
// outcome in the override store.
package install

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"

	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/runner"
)

// Recorder is the part of the override store the installer writes to.
type Recorder interface {
	MarkInstalled(id string) error
	RecordError(id, msg string) error
}

// Result is the outcome of one installation.
type Result struct {
	ToolID       string `json:"toolId"`
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	Instructions string `json:"instructions,omitempty"`
	Command      string `json:"command,omitempty"`
	Output       string `json:"output,omitempty"`
	Err          error  `json:"-"`
}

// Installer runs at most one installation at a time.
type Installer struct {
	Runner     runner.Runner
	Store      Recorder
	ProjectDir string
	Timeout    time.Duration
	Logger     *clog.Logger

	queue chan struct{}
}

// New returns an Installer.
func New(r runner.Runner, store Recorder, project string, timeout time.Duration, logger *clog.Logger) *Installer {
	return &Installer{Runner: r, Store: store, ProjectDir: project, Timeout: timeout, Logger: logger, queue: make(chan struct{}, 1)}
}

// Install installs tool. Failures are reported in the Result; the error is
// non-nil only when ctx ended before the installation could start.
func (i *Installer) Install(ctx context.Context, tool registry.Tool) (Result, error) {
	res := Result{ToolID: tool.ID}
	log := i.logger().With("tool", tool.ID)

	if tool.Builtin() {
		res.Success = true
		res.Message = tool.DisplayName() + " is built in"
		return res, nil
	}

	cmd, ok := i.command(tool)
	if !ok {
		res.Message = "automatic installation is not available for " + tool.DisplayName()
		res.Instructions = Instructions(tool)
		res.Err = ErrUnsupported
		return res, nil
	}

	if i.queue == nil {
		i.queue = make(chan struct{}, 1)
	}
	select {
	case i.queue <- struct{}{}:
	case <-ctx.Done():
		return res, ctx.Err()
	}
	defer func() { <-i.queue }()

	res.Command = cmd.Line()
	log.Info("installing", "cmd", res.Command)
	out, err := i.Runner.Run(ctx, cmd)
	res.Output = out.Output()

	if err := i.judge(&res, out, err); err != nil {
		res.Err = err
		res.Instructions = Instructions(tool)
		if res.Message == "" {
			res.Message = err.Error()
		}
		log.Warn("install failed", "err", err)
		if serr := i.Store.RecordError(tool.ID, res.Message); serr != nil {
			log.Error("could not record install error", "err", serr)
		}
		return res, nil
	}

	res.Success = true
	if res.Message == "" {
		res.Message = tool.DisplayName() + " installed successfully"
	}
	log.Info("installed")
	if serr := i.Store.MarkInstalled(tool.ID); serr != nil {
		log.Error("could not persist install state", "err", serr)
	}
	return res, nil
}

// judge decides success. A trailing JSON status line wins; otherwise the
// process must print a known success phrase. A non-zero exit is accepted only
// when that phrase is present, since wrapped CLIs exit 1 on warnings.
func (i *Installer) judge(res *Result, out runner.Result, runErr error) error {
	if s, ok := parseStatusLine(out.Stdout); ok {
		res.Message = s.Message
		if s.Status == statusFailed {
			if runErr != nil {
				return fmt.Errorf("%w: %w", ErrFailed, runErr)
			}
			return ErrFailed
		}
		return nil
	}
	if runErr != nil {
		if warnedButInstalled(runErr, res.Output) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrFailed, runErr)
	}
	if !confirmsSuccess(res.Output) {
		return fmt.Errorf("%w: %w", ErrFailed, ErrNotConfirmed)
	}
	return nil
}

// warnedButInstalled reports whether a failed run still printed a success
// phrase. Timeouts, cancellation and missing programs never qualify.
func warnedButInstalled(runErr error, out string) bool {
	var pe *runner.ProcessError
	if !errors.As(runErr, &pe) || pe.Class != runner.ClassNonZeroExit || pe.MissingExecutable() {
		return false
	}
	return confirmsSuccess(out)
}

// command builds the installation command, one invocation covering every
// package. ok is false for kinds that cannot be installed automatically.
func (i *Installer) command(tool registry.Tool) (runner.Command, bool) {
	inst := tool.Installation
	c := runner.Command{Dir: i.ProjectDir, Timeout: i.Timeout}
	if inst.Kind != registry.InstallNPM && inst.Kind != registry.InstallPip {
		return c, false
	}
	if inst.Command != "" {
		c.Shell = inst.Command
		return c, true
	}
	if len(inst.Packages) == 0 {
		return c, false
	}
	switch inst.Kind {
	case registry.InstallNPM:
		c.Name = "npm"
		c.Args = []string{"install"}
		if inst.Global {
			c.Args = append(c.Args, "-g")
		}
		c.Args = append(c.Args, "--no-fund", "--no-audit")
		c.Args = append(c.Args, inst.Packages...)
	case registry.InstallPip:
		c.Name = i.python(tool)
		c.Args = append([]string{"-m", "pip", "install"}, inst.Packages...)
	}
	return c, true
}

// python prefers the project virtualenv interpreter.
func (i *Installer) python(tool registry.Tool) string {
	venv := tool.Detection.Venv
	if venv == "" {
		venv = ".venv"
	}
	if i.ProjectDir != "" && !filepath.IsAbs(venv) {
		venv = filepath.Join(i.ProjectDir, venv)
	}
	bin := filepath.Join(venv, "bin", "python")
	if runtime.GOOS == "windows" {
		bin = filepath.Join(venv, "Scripts", "python.exe")
	}
	if _, err := os.Stat(bin); err == nil {
		return bin
	}
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// Instructions returns what a user should do to install tool by hand.
func Instructions(tool registry.Tool) string {
	inst := tool.Installation
	if inst.Instructions != "" {
		return inst.Instructions
	}
	pkgs := strings.Join(inst.Packages, " ")
	switch {
	case inst.Command != "":
		return "Run: " + inst.Command
	case inst.Kind == registry.InstallNPM && pkgs != "" && inst.Global:
		return "npm install -g " + pkgs
	case inst.Kind == registry.InstallNPM && pkgs != "":
		return "npm install " + pkgs
	case inst.Kind == registry.InstallPip && pkgs != "":
		return "python3 -m pip install " + pkgs
	}
	return "Install " + tool.DisplayName() + " manually and make sure it is on your PATH."
}

func (i *Installer) logger() *clog.Logger {
	if i.Logger == nil {
		return clog.Default()
	}
	return i.Logger
}

// IsUnsupported reports whether r was skipped because the kind has no installer.
func (r Result) IsUnsupported() bool { return errors.Is(r.Err, ErrUnsupported) }
