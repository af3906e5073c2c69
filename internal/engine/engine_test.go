package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/climateandtech/carbonara-sub000/internal/install"
	"github.com/climateandtech/carbonara-sub000/internal/lock"
	"github.com/climateandtech/carbonara-sub000/internal/prereq"
	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/state"
	"github.com/climateandtech/carbonara-sub000/internal/system"
	tu "github.com/climateandtech/carbonara-sub000/internal/testutil"
	"github.com/climateandtech/carbonara-sub000/internal/tools"
)

const fixtureManifest = `{"tools": [
  {"id": "bar", "installation": {"type": "npm", "package": "bar-cli", "global": true},
   "detection": {"commands": ["bar --version"]}},
  {"id": "v", "installation": {"type": "npm", "package": "v-cli", "global": true},
   "detection": {"commands": ["v --version"]}},
  {"id": "foo", "installation": {"type": "npm", "package": "foo-pkg", "global": true},
   "detection": {"commands": ["foo --version", "npm list foo-pkg"]}},
  {"id": "assessment", "type": "built-in", "installation": {"type": "built-in"}},
  {"id": "lint", "installation": {"type": "pip", "package": "lint"},
   "detection": {"commands": ["lint --version"]},
   "prerequisites": [{"type": "generic", "name": "docker", "checkCommand": "docker info", "installCommand": "install-docker"}]}
]}`

type fixture struct {
	eng      *Engine
	run      *tu.FakeRunner
	store    *state.Store
	locks    *lock.Set
	project  string
	manifest string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	project := t.TempDir()
	manifest := filepath.Join(project, "tools.json")
	if err := os.WriteFile(manifest, []byte(fixtureManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	log := system.Discard()
	f := tu.NewFakeRunner()
	store := state.New(filepath.Join(project, "carbonara.config.json"), log)
	locks := &lock.Set{}
	eng, err := New(Options{
		Loader:        &registry.Loader{EnvPath: manifest, Logger: log},
		Detector:      tools.NewDetector(f, project, time.Second, log),
		Prerequisites: prereq.New(f, project, time.Second, time.Minute, log),
		Store:         store,
		Installer:     install.New(f, store, project, time.Minute, log),
		Locks:         locks,
		Concurrency:   2,
		Logger:        log,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{eng: eng, run: f, store: store, locks: locks, project: project, manifest: manifest}
}

func (fx *fixture) usable(t *testing.T, id string) bool {
	t.Helper()
	st, err := fx.eng.EffectiveStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("EffectiveStatus(%s): %v", id, err)
	}
	return st.Usable
}

func TestEvaluate(t *testing.T) {
	notFound := tools.LiveStatus{Result: tools.CommandNotFound}
	passed := tools.LiveStatus{Result: tools.AllPassed}
	ambiguous := tools.LiveStatus{Result: tools.AmbiguousFailure}
	timeout := tools.LiveStatus{Result: tools.CommandTimeout}
	cases := []struct {
		name string
		live tools.LiveStatus
		o    state.Override
		want bool
	}{
		{"not found, no override", notFound, state.Override{}, false},
		{"passed", passed, state.Override{}, true},
		{"ambiguous is soft pass", ambiguous, state.Override{}, true},
		{"timeout is a failure", timeout, state.Override{}, false},
		{"marked beats not found", notFound, state.Override{MarkedInstalled: true}, true},
		{"detection failed beats mark", notFound, state.Override{MarkedInstalled: true, DetectionFailed: true}, false},
		{"detection failed beats probes", passed, state.Override{DetectionFailed: true}, false},
		{"custom command", notFound, state.Override{CustomExecutionCommand: "docker run x"}, true},
	}
	for _, c := range cases {
		if got := Evaluate(c.live, c.o); got != c.want {
			t.Errorf("%s: Evaluate = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestEngine_ListingProbeCountsAsInstalled(t *testing.T) {
	fx := newFixture(t)
	fx.run.OK("foo --version", "foo 1.0.0").
		On("npm list foo-pkg", tu.Response{ExitCode: 1, Stdout: "└── foo-pkg@1.0.0"})
	st, err := fx.eng.EffectiveStatus(context.Background(), "foo")
	if err != nil {
		t.Fatal(err)
	}
	if st.Live.Result != tools.AllPassed || !st.Usable {
		t.Fatalf("status = %+v", st)
	}
}

func TestEngine_InstallMakesMissingToolUsable(t *testing.T) {
	fx := newFixture(t)
	fx.run.On("bar --version", tu.Response{ExitCode: 127, Stderr: "bar: command not found"})
	if fx.usable(t, "bar") {
		t.Fatalf("bar should not be usable before install")
	}

	fx.run.OK("npm install -g --no-fund --no-audit bar-cli", "added 1 package in 1s")
	out, err := fx.eng.Install(context.Background(), "bar")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !out.Result.Success || !out.Status.Usable {
		t.Fatalf("outcome = %+v", out)
	}
	// probes still fail (PATH not refreshed) but the install mark carries the tool
	if !fx.usable(t, "bar") {
		t.Fatalf("bar should be usable after a successful install")
	}
}

func TestEngine_InstallWaitsOnSharedToolLock(t *testing.T) {
	fx := newFixture(t)
	release, err := fx.locks.Acquire(context.Background(), "tool:bar")
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := fx.eng.Install(ctx, "bar"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected install to wait on the held lock, got %v", err)
	}
	if lines := fx.run.Lines(); len(lines) != 0 {
		t.Fatalf("nothing should run while the lock is held, ran %v", lines)
	}
}

func TestEngine_NotFoundRunWithdrawsTrust(t *testing.T) {
	fx := newFixture(t)
	fx.run.On("v --version", tu.Response{ExitCode: 127, Stderr: "v: command not found"})
	if err := fx.eng.MarkInstalled("v"); err != nil {
		t.Fatal(err)
	}
	if !fx.usable(t, "v") {
		t.Fatalf("marked tool should be usable")
	}

	if err := fx.eng.OnExecutionResult(context.Background(), "v", ExecutionOutcome{ExitCode: 1, Error: "command not found: v"}); err != nil {
		t.Fatal(err)
	}
	o := fx.store.Get("v")
	if !o.DetectionFailed || o.LastError == nil {
		t.Fatalf("override = %+v", o)
	}
	if fx.usable(t, "v") {
		t.Fatalf("v should not be usable after a not-found run")
	}

	// a later successful run restores it
	_ = fx.eng.OnExecutionResult(context.Background(), "v", ExecutionOutcome{Success: true})
	if !fx.usable(t, "v") {
		t.Fatalf("successful run should clear the failure")
	}
}

type sinkFunc func(id string, o ExecutionOutcome)

func (f sinkFunc) SaveRun(_ context.Context, id string, o ExecutionOutcome) error {
	f(id, o)
	return nil
}

func TestEngine_ResultsSavedOnlyAfterSuccess(t *testing.T) {
	fx := newFixture(t)
	var saved []string
	fx.eng.opts.Results = sinkFunc(func(id string, o ExecutionOutcome) { saved = append(saved, id) })

	_ = fx.eng.OnExecutionResult(context.Background(), "foo", ExecutionOutcome{ExitCode: 3, Error: "boom"})
	_ = fx.eng.OnExecutionResult(context.Background(), "bar", ExecutionOutcome{Success: true})
	if len(saved) != 1 || saved[0] != "bar" {
		t.Fatalf("saved = %v", saved)
	}
}

func TestEngine_UntrustedFailureOnlyRecordsError(t *testing.T) {
	fx := newFixture(t)
	_ = fx.eng.OnExecutionResult(context.Background(), "bar", ExecutionOutcome{ExitCode: 127, Error: "bar: command not found"})
	o := fx.store.Get("bar")
	if o.DetectionFailed || o.LastError == nil {
		t.Fatalf("override = %+v", o)
	}

	_ = fx.eng.MarkInstalled("bar")
	_ = fx.eng.OnExecutionResult(context.Background(), "bar", ExecutionOutcome{ExitCode: 2, Error: "invalid config"})
	if o := fx.store.Get("bar"); o.DetectionFailed || o.LastError.Message != "invalid config" {
		t.Fatalf("non not-found failure must keep trust: %+v", o)
	}
}

func TestEngine_CustomCommandAlwaysUsable(t *testing.T) {
	fx := newFixture(t)
	if err := fx.eng.SetCustomCommand("bar", "docker run bar"); err != nil {
		t.Fatal(err)
	}
	if !fx.usable(t, "bar") {
		t.Fatalf("custom command should make the tool usable")
	}
}

func TestEngine_InstallRemediatesPrerequisites(t *testing.T) {
	fx := newFixture(t)
	fx.run.OK("python3 -m pip install lint", "Successfully installed lint-1.0").
		OK("lint --version", "lint 1.0").
		On("install-docker", tu.Response{Stdout: "ok", Do: func() { fx.run.OK("docker info", "Server: Docker") }})

	out, err := fx.eng.Install(context.Background(), "lint")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Prerequisites) != 1 || !out.Prerequisites[0].Installed {
		t.Fatalf("prerequisites = %+v", out.Prerequisites)
	}
	if len(out.Status.PrerequisitesMissing) != 0 || !out.Status.Prerequisites.AllAvailable {
		t.Fatalf("status after remediation = %+v", out.Status)
	}
}

func TestEngine_MissingPrerequisiteDoesNotChangeUsable(t *testing.T) {
	fx := newFixture(t)
	fx.run.OK("lint --version", "lint 1.0")
	st, err := fx.eng.EffectiveStatus(context.Background(), "lint")
	if err != nil {
		t.Fatal(err)
	}
	if !st.Usable || len(st.PrerequisitesMissing) != 1 || st.PrerequisitesMissing[0] != "docker" {
		t.Fatalf("status = %+v", st)
	}
}

func TestEngine_RefreshAndEvents(t *testing.T) {
	fx := newFixture(t)
	fx.run.OK("foo --version", "1.0.0").OK("npm list foo-pkg", "foo-pkg@1.0.0")

	var mu sync.Mutex
	var kinds []EventKind
	unsub := fx.eng.Subscribe(func(ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})

	sts, err := fx.eng.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if len(sts) != 5 || sts[0].ToolID != "assessment" {
		t.Fatalf("statuses = %+v", sts)
	}
	usable := map[string]bool{}
	for _, s := range sts {
		usable[s.ToolID] = s.Usable
	}
	if !usable["assessment"] || !usable["foo"] || usable["bar"] || usable["v"] {
		t.Fatalf("usable = %v", usable)
	}
	snap, at := fx.eng.Snapshot()
	if len(snap) != 5 || at.IsZero() {
		t.Fatalf("snapshot = %d at %v", len(snap), at)
	}

	_ = fx.eng.MarkInstalled("bar")
	snap, _ = fx.eng.Snapshot()
	for _, s := range snap {
		if s.ToolID == "bar" && !s.Usable {
			t.Fatalf("snapshot should reflect the new override without probing")
		}
	}

	unsub()
	_ = fx.eng.Reset("bar")
	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 2 || kinds[0] != EventRefreshed || kinds[1] != EventOverridesChanged {
		t.Fatalf("events = %v", kinds)
	}

	if got := promtest.ToFloat64(fx.eng.metrics.probes.WithLabelValues("bar", string(tools.CommandNotFound))); got != 1 {
		t.Fatalf("probe metric = %v", got)
	}
}

func TestEngine_RefreshCanceled(t *testing.T) {
	fx := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fx.eng.Refresh(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if snap, _ := fx.eng.Snapshot(); len(snap) != 0 {
		t.Fatalf("canceled refresh must not publish a snapshot")
	}
}

func TestEngine_UnknownTool(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.eng.EffectiveStatus(context.Background(), "nope"); !errors.Is(err, registry.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if err := fx.eng.MarkInstalled("nope"); !errors.Is(err, registry.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if _, err := fx.eng.InstallPrerequisite(context.Background(), "lint", "java", false); !errors.Is(err, ErrUnknownPrerequisite) {
		t.Fatalf("expected ErrUnknownPrerequisite, got %v", err)
	}
}

func TestEngine_WatchReloadsRegistry(t *testing.T) {
	fx := newFixture(t)
	reloaded := make(chan struct{}, 4)
	fx.eng.Subscribe(func(ev Event) {
		if ev.Kind == EventRegistryChanged {
			reloaded <- struct{}{}
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fx.eng.Watch(ctx, WatchTargets{Manifests: []string{fx.manifest}}) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(fx.manifest, []byte(`{"tools":[{"id":"only","installation":{"type":"none"}}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatalf("registry was not reloaded")
	}
	if ids := fx.eng.Catalog().IDs(); len(ids) != 1 || ids[0] != "only" {
		t.Fatalf("ids = %v", ids)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Watch returned %v", err)
	}
}

func TestEngine_StartRefreshRejectsBadSchedule(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.eng.StartRefresh("every now and then"); err == nil {
		t.Fatalf("expected schedule error")
	}
	s, err := fx.eng.StartRefresh("@every 1h")
	if err != nil {
		t.Fatal(err)
	}
	s.Stop()
}
