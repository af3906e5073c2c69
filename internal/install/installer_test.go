package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/runner"
	"github.com/climateandtech/carbonara-sub000/internal/state"
	"github.com/climateandtech/carbonara-sub000/internal/system"
	tu "github.com/climateandtech/carbonara-sub000/internal/testutil"
)

func newInstaller(t *testing.T, r runner.Runner) (*Installer, *state.Store, string) {
	t.Helper()
	project := t.TempDir()
	st := state.New(filepath.Join(project, "carbonara.config.json"), system.Discard())
	return New(r, st, project, time.Minute, system.Discard()), st, project
}

func npmTool(id string, global bool, pkgs ...string) registry.Tool {
	return registry.Tool{
		ID:           id,
		Name:         strings.ToUpper(id),
		Kind:         registry.KindExternal,
		Installation: registry.Installation{Kind: registry.InstallNPM, Global: global, Packages: pkgs},
	}
}

func TestInstall_NpmSuccessMarksInstalled(t *testing.T) {
	f := tu.NewFakeRunner().OK("npm install -g --no-fund --no-audit bar-cli", "added 3 packages in 2s")
	inst, st, project := newInstaller(t, f)
	res, err := inst.Install(context.Background(), npmTool("bar", true, "bar-cli"))
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success: %+v", res)
	}
	if !st.Get("bar").MarkedInstalled {
		t.Fatalf("successful install should mark the tool installed")
	}
	if calls := f.Calls(); len(calls) != 1 || calls[0].Dir != project {
		t.Fatalf("install should run once in the project: %+v", calls)
	}
}

func TestInstall_OneInvocationForAllPackages(t *testing.T) {
	f := tu.NewFakeRunner().OK("npm install --no-fund --no-audit @grnsft/if @grnsft/if-plugins", "added 120 packages")
	inst, _, _ := newInstaller(t, f)
	res, _ := inst.Install(context.Background(), npmTool("if", false, "@grnsft/if", "@grnsft/if-plugins"))
	if !res.Success || len(f.Calls()) != 1 {
		t.Fatalf("res = %+v calls = %v", res, f.Lines())
	}
}

func TestInstall_FailureRecordsErrorWithInstructions(t *testing.T) {
	f := tu.NewFakeRunner().On("npm install -g --no-fund --no-audit bar-cli", tu.Response{ExitCode: 1, Stderr: "npm ERR! code EACCES"})
	inst, st, _ := newInstaller(t, f)
	res, err := inst.Install(context.Background(), npmTool("bar", true, "bar-cli"))
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if res.Success || !errors.Is(res.Err, ErrFailed) {
		t.Fatalf("expected failure: %+v", res)
	}
	if res.Instructions != "npm install -g bar-cli" {
		t.Fatalf("instructions = %q", res.Instructions)
	}
	o := st.Get("bar")
	if o.MarkedInstalled || o.LastError == nil {
		t.Fatalf("override = %+v", o)
	}
}

func TestInstall_ExitZeroWithoutPhraseIsNotSuccess(t *testing.T) {
	tool := npmTool("x", true, "x")
	tool.Installation.Command = "carbonara tools install x"
	f := tu.NewFakeRunner().OK("carbonara tools install x", "done?")
	inst, _, _ := newInstaller(t, f)
	res, _ := inst.Install(context.Background(), tool)
	if res.Success || !errors.Is(res.Err, ErrNotConfirmed) {
		t.Fatalf("res = %+v", res)
	}
}

func TestInstall_NonZeroExitWithSuccessPhrase(t *testing.T) {
	tool := npmTool("x", true, "x")
	tool.Installation.Command = "carbonara tools install x"
	f := tu.NewFakeRunner().On("carbonara tools install x", tu.Response{
		ExitCode: 1,
		Stdout:   "✔ x installed successfully",
		Stderr:   "npm WARN deprecated foo@1",
	})
	inst, st, _ := newInstaller(t, f)
	res, err := inst.Install(context.Background(), tool)
	if err != nil || !res.Success {
		t.Fatalf("warnings with a success phrase should install: %+v %v", res, err)
	}
	if !st.Get("x").MarkedInstalled {
		t.Fatalf("x should be marked installed")
	}
}

func TestInstall_NonZeroExitWithoutPhraseFails(t *testing.T) {
	tool := npmTool("x", true, "x")
	tool.Installation.Command = "carbonara tools install x"
	cases := map[string]tu.Response{
		"plain failure": {ExitCode: 1, Stderr: "npm ERR! 404 x"},
		"missing":       {ExitCode: 127, Stdout: "installed successfully", Stderr: "sh: carbonara: command not found"},
		"timeout":       {Timeout: true, Stdout: "x installed successfully"},
	}
	for name, r := range cases {
		f := tu.NewFakeRunner().On("carbonara tools install x", r)
		inst, st, _ := newInstaller(t, f)
		res, _ := inst.Install(context.Background(), tool)
		if res.Success || !errors.Is(res.Err, ErrFailed) {
			t.Fatalf("%s: res = %+v", name, res)
		}
		if st.Get("x").MarkedInstalled {
			t.Fatalf("%s: must not mark installed", name)
		}
	}
}

func TestInstall_CompanionPhrases(t *testing.T) {
	tool := npmTool("x", true, "x")
	tool.Installation.Command = "carbonara tools install x"
	for _, out := range []string{"✔ X installed successfully", "X is already installed"} {
		f := tu.NewFakeRunner().OK("carbonara tools install x", out)
		inst, _, _ := newInstaller(t, f)
		if res, _ := inst.Install(context.Background(), tool); !res.Success {
			t.Fatalf("%q should count as success: %+v", out, res)
		}
	}
}

func TestInstall_JSONStatusLineIsAuthoritative(t *testing.T) {
	tool := npmTool("x", true, "x")
	tool.Installation.Command = "carbonara tools install x"

	f := tu.NewFakeRunner().OK("carbonara tools install x", "installed successfully\n{\"status\":\"failed\",\"message\":\"checksum mismatch\"}\n")
	inst, _, _ := newInstaller(t, f)
	res, _ := inst.Install(context.Background(), tool)
	if res.Success || res.Message != "checksum mismatch" {
		t.Fatalf("failed status line must win over phrases: %+v", res)
	}

	f = tu.NewFakeRunner().On("carbonara tools install x", tu.Response{ExitCode: 1, Stdout: "{\"status\":\"already_installed\"}"})
	inst, _, _ = newInstaller(t, f)
	if res, _ := inst.Install(context.Background(), tool); !res.Success {
		t.Fatalf("already_installed status should succeed: %+v", res)
	}
}

func TestInstall_PipUsesVenvInterpreter(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("venv layout differs on windows")
	}
	f := tu.NewFakeRunner()
	inst, _, project := newInstaller(t, f)
	py := filepath.Join(project, ".venv", "bin", "python")
	if err := os.MkdirAll(filepath.Dir(py), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(py, nil, 0o755); err != nil {
		t.Fatal(err)
	}
	f.OK(py+" -m pip install semgrep", "Successfully installed semgrep-1.50.0")
	tool := registry.Tool{ID: "semgrep", Kind: registry.KindExternal, Installation: registry.Installation{Kind: registry.InstallPip, Packages: []string{"semgrep"}}}
	if res, _ := inst.Install(context.Background(), tool); !res.Success {
		t.Fatalf("res = %+v", res)
	}
}

func TestInstall_UnsupportedKinds(t *testing.T) {
	f := tu.NewFakeRunner()
	inst, st, _ := newInstaller(t, f)
	tool := registry.Tool{ID: "gf", Name: "GreenFrame", Kind: registry.KindExternal, Installation: registry.Installation{Kind: registry.InstallBinary, Instructions: "curl https://example.invalid/install.sh | bash"}}
	res, err := inst.Install(context.Background(), tool)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !res.IsUnsupported() || res.Instructions != tool.Installation.Instructions {
		t.Fatalf("res = %+v", res)
	}
	if len(f.Calls()) != 0 || !st.Get("gf").IsZero() {
		t.Fatalf("unsupported kinds must not execute or touch state")
	}
}

func TestInstall_Builtin(t *testing.T) {
	inst, _, _ := newInstaller(t, tu.NewFakeRunner())
	res, _ := inst.Install(context.Background(), registry.Tool{ID: "b", Kind: registry.KindBuiltin})
	if !res.Success {
		t.Fatalf("builtin install is a no-op success")
	}
}

type countingRunner struct {
	inFlight, peak int32
}

func (c *countingRunner) Run(ctx context.Context, cmd runner.Command) (runner.Result, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	for {
		p := atomic.LoadInt32(&c.peak)
		if n <= p || atomic.CompareAndSwapInt32(&c.peak, p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	atomic.AddInt32(&c.inFlight, -1)
	return runner.Result{Stdout: "added 1 package"}, nil
}

func TestInstall_Serialized(t *testing.T) {
	cr := &countingRunner{}
	inst, _, _ := newInstaller(t, cr)
	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if res, err := inst.Install(context.Background(), npmTool(id, true, id)); err != nil || !res.Success {
				t.Errorf("install %s: %+v %v", id, res, err)
			}
		}(id)
	}
	wg.Wait()
	if cr.peak != 1 {
		t.Fatalf("installs overlapped: peak %d", cr.peak)
	}
}

func TestInstall_CanceledWhileQueued(t *testing.T) {
	inst, _, _ := newInstaller(t, tu.NewFakeRunner())
	inst.queue <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := inst.Install(ctx, npmTool("a", true, "a")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestInstructions(t *testing.T) {
	if got := Instructions(npmTool("a", false, "a", "b")); got != "npm install a b" {
		t.Fatalf("got %q", got)
	}
	pip := registry.Tool{ID: "s", Installation: registry.Installation{Kind: registry.InstallPip, Packages: []string{"semgrep"}}}
	if got := Instructions(pip); got != "python3 -m pip install semgrep" {
		t.Fatalf("got %q", got)
	}
	none := registry.Tool{ID: "n", Name: "Nothing", Installation: registry.Installation{Kind: registry.InstallNone}}
	if got := Instructions(none); !strings.Contains(got, "Nothing") {
		t.Fatalf("got %q", got)
	}
}
