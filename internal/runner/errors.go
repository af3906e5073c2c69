package runner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyCommand is returned when neither a program nor a shell line is given.
	ErrEmptyCommand = errors.New("runner: empty command")

	// ErrTimeout is wrapped by ProcessError when the timeout killed the process.
	ErrTimeout = errors.New("runner: command timed out")
)

// Exit codes shells use for a missing program.
const (
	ExitNotFound        = 127
	exitNotFoundWindows = 9009
)

// Class is the classification attached to a failed invocation.
type Class string

// Class values.
const (
	ClassNotFound    Class = "command_not_found"
	ClassTimeout     Class = "command_timeout"
	ClassCanceled    Class = "canceled"
	ClassNonZeroExit Class = "non_zero_exit"
	ClassStartFailed Class = "start_failed"
)

// ProcessError describes a command that exited non-zero, timed out, was
// canceled or could not be started.
type ProcessError struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	Class    Class
	Err      error

	startNotFound bool
}

func (e *ProcessError) Error() string {
	switch e.Class {
	case ClassTimeout:
		return fmt.Sprintf("%s: timed out", e.Command)
	case ClassCanceled:
		return fmt.Sprintf("%s: canceled", e.Command)
	case ClassNotFound:
		return fmt.Sprintf("%s: command not found", e.Command)
	}
	msg := firstLine(e.Stderr)
	if msg == "" {
		msg = firstLine(e.Stdout)
	}
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: exit %d: %s", e.Command, e.ExitCode, msg)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Output returns stdout followed by stderr.
func (e *ProcessError) Output() string {
	return Result{Stdout: e.Stdout, Stderr: e.Stderr}.Output()
}

// MissingExecutable reports whether the program itself is absent, judged by
// the OS lookup or the shell's not-found exit code rather than by output text.
func (e *ProcessError) MissingExecutable() bool {
	return e.startNotFound || e.ExitCode == ExitNotFound || e.ExitCode == exitNotFoundWindows
}

// Classify maps an exit code and stderr text to a Class.
func Classify(exitCode int, stderr string) Class {
	if exitCode == ExitNotFound || exitCode == exitNotFoundWindows {
		return ClassNotFound
	}
	if LooksNotFound(stderr) {
		return ClassNotFound
	}
	return ClassNonZeroExit
}

var notFoundPhrases = []string{
	"command not found",
	": not found",
	"not recognized as an internal or external command",
	"is not recognized as the name of a cmdlet",
	"executable file not found",
}

// LooksNotFound reports whether text reads like a shell or OS "no such program" message.
func LooksNotFound(text string) bool {
	s := strings.ToLower(text)
	for _, p := range notFoundPhrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	// node: "spawn semgrep ENOENT"
	return strings.Contains(s, "spawn ") && strings.Contains(s, "enoent")
}

// IsNotFound reports whether err is, or wraps, a not-found ProcessError, or
// otherwise carries not-found text.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Class == ClassNotFound
	}
	return LooksNotFound(err.Error())
}

// IsTimeout reports whether err is a timeout ProcessError.
func IsTimeout(err error) bool {
	var pe *ProcessError
	return errors.As(err, &pe) && pe.Class == ClassTimeout
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
