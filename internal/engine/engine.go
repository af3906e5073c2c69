// Package engine reconciles live tool detection with the persisted override
// state and drives installs. One Engine owns all mutable state for a project.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/climateandtech/carbonara-sub000/internal/install"
	"github.com/climateandtech/carbonara-sub000/internal/lock"
	"github.com/climateandtech/carbonara-sub000/internal/prereq"
	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/state"
	"github.com/climateandtech/carbonara-sub000/internal/tools"
)

// CatalogLoader produces a registry snapshot.
type CatalogLoader interface {
	Load() (*registry.Catalog, error)
}

// Detector computes live status for one tool.
type Detector interface {
	Detect(ctx context.Context, t registry.Tool) tools.LiveStatus
}

// Prerequisites checks and installs tool prerequisites.
type Prerequisites interface {
	CheckAll(ctx context.Context, t registry.Tool) prereq.Report
	Install(ctx context.Context, p registry.Prerequisite) error
	ClearCacheAndRetry(ctx context.Context, p registry.Prerequisite) error
}

// Installer installs tools.
type Installer interface {
	Install(ctx context.Context, t registry.Tool) (install.Result, error)
}

// ResultsSink persists the results of successful tool runs.
type ResultsSink interface {
	SaveRun(ctx context.Context, id string, o ExecutionOutcome) error
}

// Options wires an Engine.
type Options struct {
	Loader        CatalogLoader
	Detector      Detector
	Prerequisites Prerequisites
	Store         *state.Store
	Installer     Installer
	// Results is optional.
	Results ResultsSink
	// Locks serializes per-tool actions. A private set is used when nil.
	Locks *lock.Set
	// Concurrency bounds parallel detection during Refresh.
	Concurrency int
	Logger      *clog.Logger
}

// Status is the effective status of one tool.
type Status struct {
	ToolID      string        `json:"toolId"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Kind        registry.Kind `json:"kind"`
	// Usable is the reconciled "can run now" answer.
	Usable               bool                 `json:"usable"`
	Live                 tools.LiveStatus     `json:"live"`
	Override             state.Override       `json:"override"`
	Prerequisites        prereq.Report        `json:"prerequisites"`
	PrerequisitesMissing []string             `json:"prerequisitesMissing,omitempty"`
	Installation         registry.InstallKind `json:"installation"`
}

// Evaluate is the reconciliation rule: a detection failure flagged after a
// real run always wins; otherwise live evidence, a previous successful
// install or a custom command make the tool usable.
func Evaluate(live tools.LiveStatus, o state.Override) bool {
	if o.DetectionFailed {
		return false
	}
	return live.Present() || o.MarkedInstalled || o.CustomExecutionCommand != ""
}

// Engine is the reconciliation orchestrator.
type Engine struct {
	opts    Options
	logger  *clog.Logger
	metrics *metrics

	mu       sync.RWMutex
	catalog  *registry.Catalog
	snapshot map[string]Status
	lastRun  time.Time

	toolLocks *lock.Set

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// New creates an Engine and loads the registry.
func New(opts Options) (*Engine, error) {
	if opts.Loader == nil || opts.Detector == nil || opts.Store == nil || opts.Installer == nil || opts.Prerequisites == nil {
		return nil, fmt.Errorf("engine: incomplete options")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = clog.Default()
	}
	if opts.Locks == nil {
		opts.Locks = &lock.Set{}
	}
	e := &Engine{
		opts:      opts,
		logger:    opts.Logger,
		metrics:   newMetrics(),
		snapshot:  map[string]Status{},
		toolLocks: opts.Locks,
		subs:      map[int]func(Event){},
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload rebuilds the tool catalog from the loader.
func (e *Engine) Reload() error {
	cat, err := e.opts.Loader.Load()
	if err != nil {
		return fmt.Errorf("engine: loading registry: %w", err)
	}
	e.mu.Lock()
	e.catalog = cat
	for id := range e.snapshot {
		if _, err := cat.Get(id); err != nil {
			delete(e.snapshot, id)
		}
	}
	e.mu.Unlock()
	e.metrics.catalogSize.Set(float64(cat.Len()))
	e.logger.Debug("registry reloaded", "source", cat.Source, "tools", cat.Len(), "problems", len(cat.Problems))
	e.notify(Event{Kind: EventRegistryChanged})
	return nil
}

// Catalog returns the current registry snapshot.
func (e *Engine) Catalog() *registry.Catalog {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.catalog
}

// Tool looks up a tool by id in the current catalog.
func (e *Engine) Tool(id string) (registry.Tool, error) {
	return e.Catalog().Get(id)
}

// EffectiveStatus detects the tool now and reconciles it with its override.
func (e *Engine) EffectiveStatus(ctx context.Context, id string) (Status, error) {
	t, err := e.Tool(id)
	if err != nil {
		return Status{}, err
	}
	st := e.evaluate(ctx, t)
	e.store(st)
	return st, nil
}

func (e *Engine) evaluate(ctx context.Context, t registry.Tool) Status {
	live := e.opts.Detector.Detect(ctx, t)
	e.metrics.observeProbe(t.ID, live)
	o := e.opts.Store.Get(t.ID)
	st := Status{
		ToolID:       t.ID,
		Name:         t.DisplayName(),
		Description:  t.Description,
		Kind:         t.Kind,
		Installation: t.Installation.Kind,
		Live:         live,
		Override:     o,
		Usable:       Evaluate(live, o),
	}
	if len(t.Prerequisites) > 0 {
		st.Prerequisites = e.opts.Prerequisites.CheckAll(ctx, t)
		for _, m := range st.Prerequisites.Missing {
			st.PrerequisitesMissing = append(st.PrerequisitesMissing, m.Name)
		}
	} else {
		st.Prerequisites = prereq.Report{AllAvailable: true}
	}
	return st
}

// Refresh detects every tool concurrently and replaces the snapshot. On
// cancellation in-flight probes are killed and the previous snapshot is kept.
func (e *Engine) Refresh(ctx context.Context) ([]Status, error) {
	start := time.Now()
	cat := e.Catalog()
	out := make([]Status, cat.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, t := range cat.Tools {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = e.evaluate(gctx, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := make(map[string]Status, len(out))
	usable := 0
	for _, st := range out {
		snap[st.ToolID] = st
		if st.Usable {
			usable++
		}
	}
	e.mu.Lock()
	e.snapshot = snap
	e.lastRun = time.Now()
	e.mu.Unlock()

	e.metrics.refreshDuration.Observe(time.Since(start).Seconds())
	e.metrics.usable.Set(float64(usable))
	e.logger.Debug("refresh complete", "tools", len(out), "usable", usable, "took", time.Since(start).Round(time.Millisecond))
	e.notify(Event{Kind: EventRefreshed})
	return sortStatuses(out), nil
}

// Snapshot returns the statuses computed by the last refresh, sorted by id,
// and when that refresh finished.
func (e *Engine) Snapshot() ([]Status, time.Time) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Status, 0, len(e.snapshot))
	for _, st := range e.snapshot {
		out = append(out, st)
	}
	return sortStatuses(out), e.lastRun
}

func sortStatuses(in []Status) []Status {
	sort.Slice(in, func(i, j int) bool { return in[i].ToolID < in[j].ToolID })
	return in
}
