//go:build !windows

package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdoutAndStderr(t *testing.T) {
	r := NewExec(5*time.Second, nil)
	res, err := r.Run(context.Background(), Shell("echo out; echo err 1>&2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Fatalf("stderr = %q", res.Stderr)
	}
	if got := res.Output(); !strings.Contains(got, "out") || !strings.Contains(got, "err") {
		t.Fatalf("combined output missing a stream: %q", got)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	r := NewExec(5*time.Second, nil)
	res, err := r.Run(context.Background(), Shell("echo boom 1>&2; exit 3"))
	var pe *ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProcessError, got %v", err)
	}
	if pe.ExitCode != 3 || res.ExitCode != 3 {
		t.Fatalf("exit code = %d/%d, want 3", pe.ExitCode, res.ExitCode)
	}
	if pe.Class != ClassNonZeroExit {
		t.Fatalf("class = %s", pe.Class)
	}
	if !strings.Contains(pe.Error(), "boom") {
		t.Fatalf("error should carry stderr: %q", pe.Error())
	}
}

func TestRunMissingProgramInShell(t *testing.T) {
	r := NewExec(5*time.Second, nil)
	_, err := r.Run(context.Background(), Shell("definitely-not-a-real-program-xyz --version"))
	var pe *ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProcessError, got %v", err)
	}
	if pe.Class != ClassNotFound || !pe.MissingExecutable() {
		t.Fatalf("class = %s exit = %d", pe.Class, pe.ExitCode)
	}
	if !IsNotFound(err) {
		t.Fatalf("IsNotFound should be true")
	}
}

func TestRunMissingProgramDirect(t *testing.T) {
	r := NewExec(5*time.Second, nil)
	_, err := r.Run(context.Background(), Command{Name: "definitely-not-a-real-program-xyz"})
	var pe *ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProcessError, got %v", err)
	}
	if !pe.MissingExecutable() || pe.ExitCode != ExitNotFound {
		t.Fatalf("expected lookup failure, got exit %d class %s", pe.ExitCode, pe.Class)
	}
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	r := NewExec(0, nil)
	start := time.Now()
	_, err := r.Run(context.Background(), Command{Shell: "sleep 5; echo late", Timeout: 200 * time.Millisecond})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("timeout should wrap ErrTimeout")
	}
	if time.Since(start) > 4*time.Second {
		t.Fatalf("timeout did not stop the shell child")
	}
}

func TestRunCanceled(t *testing.T) {
	r := NewExec(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := r.Run(ctx, Shell("sleep 5"))
	var pe *ProcessError
	if !errors.As(err, &pe) || pe.Class != ClassCanceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	r := NewExec(0, nil)
	if _, err := r.Run(context.Background(), Command{}); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
}

func TestRunFallsBackWhenDirMissing(t *testing.T) {
	r := NewExec(5*time.Second, nil)
	missing := filepath.Join(t.TempDir(), "gone")
	res, err := r.Run(context.Background(), Command{Shell: "pwd", Dir: missing})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(res.Stdout) == missing {
		t.Fatalf("ran in a directory that does not exist")
	}
}

func TestResolveDir(t *testing.T) {
	dir := t.TempDir()
	if got := ResolveDir(dir); got != dir {
		t.Fatalf("ResolveDir(existing) = %q", got)
	}
	wd, _ := os.Getwd()
	if got := ResolveDir(filepath.Join(dir, "nope")); got != wd {
		t.Fatalf("ResolveDir(missing) = %q, want cwd %q", got, wd)
	}
	if got := ResolveDir(""); got != wd {
		t.Fatalf("ResolveDir(\"\") = %q, want cwd", got)
	}
}

func TestOutputTruncated(t *testing.T) {
	r := &Exec{MaxOutput: 4}
	res, err := r.Run(context.Background(), Shell("printf 0123456789"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Stdout != "0123" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestLooksNotFound(t *testing.T) {
	cases := map[string]bool{
		"zsh: command not found: semgrep":                             true,
		"sh: 1: foo: not found":                                       true,
		"'foo' is not recognized as an internal or external command,": true,
		"Error: spawn foo ENOENT":                                     true,
		"npm ERR! code E404":                                          false,
		"Traceback (most recent call last):":                          false,
		"ENOENT: no such file or directory, open 'report.json'":       false,
		"":                                                            false,
	}
	for in, want := range cases {
		if got := LooksNotFound(in); got != want {
			t.Errorf("LooksNotFound(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCommandLine(t *testing.T) {
	if got := (Command{Name: "npm", Args: []string{"ls", "-g"}}).Line(); got != "npm ls -g" {
		t.Fatalf("Line() = %q", got)
	}
	if got := Shell("semgrep --version").Line(); got != "semgrep --version" {
		t.Fatalf("Line() = %q", got)
	}
}
