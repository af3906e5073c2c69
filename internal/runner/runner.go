// Package runner executes subprocesses for probes, installers and
// prerequisite checks. Every invocation gets a working directory that exists,
// an optional timeout that kills the whole process group, and separate
// stdout/stderr capture.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	clog "github.com/charmbracelet/log"
)

// defaultMaxOutput caps each captured stream.
const defaultMaxOutput = 1 << 20

// Command describes one subprocess invocation.
// When Shell is set the line is handed to the platform shell and Name/Args
// are ignored.
type Command struct {
	Name    string
	Args    []string
	Shell   string
	Dir     string
	Timeout time.Duration
	Env     []string
}

// Shell builds a Command that runs line through the platform shell.
func Shell(line string) Command {
	return Command{Shell: line}
}

// Line renders the command the way a user would type it.
func (c Command) Line() string {
	if c.Shell != "" {
		return c.Shell
	}
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the captured outcome of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Output returns stdout followed by stderr. Several wrapped tools print
// status text on stderr, so callers inspecting output should use this.
func (r Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	if strings.HasSuffix(r.Stdout, "\n") {
		return r.Stdout + r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner runs commands. On a non-zero exit, timeout or start failure it
// returns the partial Result together with a *ProcessError.
type Runner interface {
	Run(ctx context.Context, c Command) (Result, error)
}

// Exec is the os/exec backed Runner.
type Exec struct {
	// Timeout applies when a Command carries none. Zero means no limit.
	Timeout time.Duration
	// MaxOutput caps each captured stream in bytes. Zero means 1 MiB.
	MaxOutput int
	Logger    *clog.Logger
}

// NewExec creates an executor with the given default timeout.
func NewExec(timeout time.Duration, logger *clog.Logger) *Exec {
	return &Exec{Timeout: timeout, Logger: logger}
}

// Run implements Runner.
func (e *Exec) Run(ctx context.Context, c Command) (Result, error) {
	if strings.TrimSpace(c.Name) == "" && strings.TrimSpace(c.Shell) == "" {
		return Result{}, ErrEmptyCommand
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = e.Timeout
	}
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	name, args := c.Name, c.Args
	if c.Shell != "" {
		name, args = shellArgv(c.Shell)
	}
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = ResolveDir(c.Dir)
	// Avoid opening pager, colors or interactive prompts
	cmd.Env = append(os.Environ(), "NO_COLOR=1", "CI=1")
	cmd.Env = append(cmd.Env, c.Env...)
	configureProcess(cmd)
	cmd.WaitDelay = 2 * time.Second

	limit := e.MaxOutput
	if limit <= 0 {
		limit = defaultMaxOutput
	}
	stdout := &limitedBuffer{limit: limit}
	stderr := &limitedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		e.debug(c, cmd.Dir, res)
		return res, nil
	}

	perr := &ProcessError{
		Command: c.Line(),
		Stdout:  res.Stdout,
		Stderr:  res.Stderr,
		Err:     err,
	}
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		perr.Class = ClassCanceled
		perr.ExitCode = -1
		perr.Err = ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		perr.Class = ClassTimeout
		perr.ExitCode = -1
		perr.Err = ErrTimeout
	case errors.As(err, &exitErr):
		perr.ExitCode = exitErr.ExitCode()
		perr.Class = Classify(perr.ExitCode, res.Stderr)
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist):
		perr.ExitCode = ExitNotFound
		perr.Class = ClassNotFound
		perr.startNotFound = true
	default:
		perr.ExitCode = -1
		perr.Class = ClassStartFailed
	}
	res.ExitCode = perr.ExitCode
	e.debug(c, cmd.Dir, res)
	return res, perr
}

func (e *Exec) debug(c Command, dir string, res Result) {
	if e.Logger == nil {
		return
	}
	e.Logger.Debug("exec", "cmd", c.Line(), "dir", dir, "exit", res.ExitCode, "took", res.Duration.Round(time.Millisecond))
}

func shellArgv(line string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", line}
	}
	return "sh", []string{"-c", line}
}

type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		_, _ = l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string {
	return l.buf.String()
}

// Interface guard.
var _ Runner = (*Exec)(nil)
