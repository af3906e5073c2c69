package cli

import (
	"github.com/spf13/cobra"

	"github.com/climateandtech/carbonara-sub000/internal/config"
	"github.com/climateandtech/carbonara-sub000/internal/engine"
	"github.com/climateandtech/carbonara-sub000/internal/install"
	"github.com/climateandtech/carbonara-sub000/internal/lock"
	"github.com/climateandtech/carbonara-sub000/internal/prereq"
	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/runner"
	"github.com/climateandtech/carbonara-sub000/internal/state"
	"github.com/climateandtech/carbonara-sub000/internal/system"
	"github.com/climateandtech/carbonara-sub000/internal/tools"
)

// app is the wired engine for one command invocation.
type app struct {
	project  string
	settings config.Settings
	runner   runner.Runner
	loader   *registry.Loader
	store    *state.Store
	engine   *engine.Engine
}

func newApp(cmd *cobra.Command) (*app, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	log := system.Logger
	project := config.ProjectRoot(cmd.Context(), flagProject)

	r := runner.NewExec(s.ProbeTimeout, log)
	locks := &lock.Set{}
	det := tools.NewDetector(r, project, s.ProbeTimeout, log)
	det.TestMode = s.TestMode
	pe := prereq.New(r, project, s.ProbeTimeout, s.InstallTimeout, log)
	pe.PuppeteerVersion = s.PuppeteerVersion
	pe.Locks = locks
	store := state.New(config.StateFile(project), log)
	loader := registry.NewLoader(project, s, log)

	eng, err := engine.New(engine.Options{
		Loader:        loader,
		Detector:      det,
		Prerequisites: pe,
		Store:         store,
		Installer:     install.New(r, store, project, s.InstallTimeout, log),
		Locks:         locks,
		Concurrency:   s.Concurrency,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	return &app{project: project, settings: s, runner: r, loader: loader, store: store, engine: eng}, nil
}

// watchTargets lists every file whose change affects the engine.
func (a *app) watchTargets() engine.WatchTargets {
	t := engine.WatchTargets{StateFile: a.store.Path()}
	if a.loader.EnvPath != "" {
		t.Manifests = append(t.Manifests, a.loader.EnvPath)
	}
	t.Manifests = append(t.Manifests, config.ProjectManifests(a.project)...)
	return t
}
