package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/climateandtech/carbonara-sub000/internal/runner"
)

// Response scripts the outcome of one command line.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Timeout  bool
	// Delay blocks the call, honoring context cancellation.
	Delay time.Duration
	// Do runs before the response is returned, e.g. to create files an
	// installer would have written.
	Do func()
}

// FakeRunner is a scripted runner.Runner. Commands are matched by their
// rendered line; unknown commands behave like a missing program.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]Response
	prefixes  map[string]Response
	calls     []runner.Command
}

// NewFakeRunner returns an empty script.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: map[string]Response{}, prefixes: map[string]Response{}}
}

// On scripts the response for an exact command line.
func (f *FakeRunner) On(line string, r Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[line] = r
	return f
}

// OnPrefix scripts the response for every command line starting with prefix.
func (f *FakeRunner) OnPrefix(prefix string, r Response) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixes[prefix] = r
	return f
}

// OK scripts a successful command with stdout.
func (f *FakeRunner) OK(line, stdout string) *FakeRunner {
	return f.On(line, Response{Stdout: stdout})
}

// Run implements runner.Runner.
func (f *FakeRunner) Run(ctx context.Context, c runner.Command) (runner.Result, error) {
	line := c.Line()
	f.mu.Lock()
	f.calls = append(f.calls, c)
	r, ok := f.responses[line]
	if !ok {
		best := ""
		for p, pr := range f.prefixes {
			if strings.HasPrefix(line, p) && len(p) > len(best) {
				best, r, ok = p, pr, true
			}
		}
	}
	f.mu.Unlock()

	if !ok {
		name := strings.Fields(line + " x")[0]
		r = Response{ExitCode: runner.ExitNotFound, Stderr: "sh: " + name + ": command not found"}
	}
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return runner.Result{ExitCode: -1}, &runner.ProcessError{Command: line, ExitCode: -1, Class: runner.ClassCanceled, Err: err}
	}
	if r.Do != nil {
		r.Do()
	}
	res := runner.Result{Stdout: r.Stdout, Stderr: r.Stderr, ExitCode: r.ExitCode}
	if r.Timeout {
		res.ExitCode = -1
		return res, &runner.ProcessError{Command: line, ExitCode: -1, Stdout: r.Stdout, Stderr: r.Stderr, Class: runner.ClassTimeout, Err: runner.ErrTimeout}
	}
	if r.ExitCode != 0 {
		return res, &runner.ProcessError{
			Command:  line,
			ExitCode: r.ExitCode,
			Stdout:   r.Stdout,
			Stderr:   r.Stderr,
			Class:    runner.Classify(r.ExitCode, r.Stderr),
		}
	}
	return res, nil
}

// Calls returns every command run so far.
func (f *FakeRunner) Calls() []runner.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Command(nil), f.calls...)
}

// Lines returns the rendered line of every command run so far.
func (f *FakeRunner) Lines() []string {
	calls := f.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Line())
	}
	return out
}

// Count returns how many times line was run.
func (f *FakeRunner) Count(line string) int {
	n := 0
	for _, l := range f.Lines() {
		if l == line {
			n++
		}
	}
	return n
}

var _ runner.Runner = (*FakeRunner)(nil)
