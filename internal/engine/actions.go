package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/climateandtech/carbonara-sub000/internal/install"
	"github.com/climateandtech/carbonara-sub000/internal/prereq"
	"github.com/climateandtech/carbonara-sub000/internal/registry"
	"github.com/climateandtech/carbonara-sub000/internal/runner"
)

// ErrUnknownPrerequisite is returned when a tool declares no prerequisite by that name.
var ErrUnknownPrerequisite = errors.New("engine: unknown prerequisite")

// PrereqOutcome is the result of installing one prerequisite.
type PrereqOutcome struct {
	Name        string             `json:"name"`
	Installed   bool               `json:"installed"`
	Error       string             `json:"error,omitempty"`
	Suggestion  string             `json:"suggestion,omitempty"`
	Remediation prereq.Remediation `json:"remediation,omitempty"`
}

// InstallOutcome reports an installation and the status that followed it.
type InstallOutcome struct {
	Result        install.Result  `json:"result"`
	Prerequisites []PrereqOutcome `json:"prerequisites,omitempty"`
	Status        Status          `json:"status"`
}

// Install installs a tool, then any missing prerequisites, and recomputes
// its status. Operations on the same tool never overlap.
func (e *Engine) Install(ctx context.Context, id string) (InstallOutcome, error) {
	t, err := e.Tool(id)
	if err != nil {
		return InstallOutcome{}, err
	}
	release, err := e.toolLocks.Acquire(ctx, "tool:"+id)
	if err != nil {
		return InstallOutcome{}, err
	}
	defer release()

	res, err := e.opts.Installer.Install(ctx, t)
	if err != nil {
		return InstallOutcome{Result: res}, err
	}
	out := InstallOutcome{Result: res}
	e.metrics.installs.WithLabelValues(id, installLabel(res)).Inc()

	if res.Success && len(t.Prerequisites) > 0 {
		rep := e.opts.Prerequisites.CheckAll(ctx, t)
		for _, m := range rep.Missing {
			p, ok := findPrereq(t, m.Name)
			if !ok {
				continue
			}
			out.Prerequisites = append(out.Prerequisites, e.installPrereq(ctx, p, false))
		}
	}

	out.Status = e.evaluate(ctx, t)
	e.store(out.Status)
	e.notify(Event{Kind: EventStatusChanged, ToolID: id})
	return out, nil
}

// InstallPrerequisite installs one named prerequisite of a tool. With
// clearCache set the package manager and browser caches are wiped first.
func (e *Engine) InstallPrerequisite(ctx context.Context, id, name string, clearCache bool) (PrereqOutcome, error) {
	t, err := e.Tool(id)
	if err != nil {
		return PrereqOutcome{}, err
	}
	p, ok := findPrereq(t, name)
	if !ok {
		return PrereqOutcome{}, fmt.Errorf("%w: %s/%s", ErrUnknownPrerequisite, id, name)
	}
	release, err := e.toolLocks.Acquire(ctx, "tool:"+id)
	if err != nil {
		return PrereqOutcome{}, err
	}
	defer release()

	po := e.installPrereq(ctx, p, clearCache)
	e.store(e.evaluate(ctx, t))
	e.notify(Event{Kind: EventStatusChanged, ToolID: id})
	return po, nil
}

func (e *Engine) installPrereq(ctx context.Context, p registry.Prerequisite, clearCache bool) PrereqOutcome {
	po := PrereqOutcome{Name: p.Name}
	var err error
	if clearCache {
		err = e.opts.Prerequisites.ClearCacheAndRetry(ctx, p)
	} else {
		err = e.opts.Prerequisites.Install(ctx, p)
	}
	if err == nil {
		po.Installed = true
		return po
	}
	po.Error = err.Error()
	var ie *prereq.InstallError
	if errors.As(err, &ie) {
		po.Suggestion = ie.Suggestion
		po.Remediation = ie.Remediation
	}
	e.logger.Warn("prerequisite install failed", "prerequisite", p.Name, "err", err)
	return po
}

func findPrereq(t registry.Tool, name string) (registry.Prerequisite, bool) {
	for _, p := range t.Prerequisites {
		if p.Name == name {
			return p, true
		}
	}
	return registry.Prerequisite{}, false
}

func installLabel(r install.Result) string {
	switch {
	case r.Success:
		return "success"
	case r.IsUnsupported():
		return "unsupported"
	default:
		return "failure"
	}
}

// ExecutionOutcome describes a finished run of a tool.
type ExecutionOutcome struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exitCode,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NotFound reports whether the run failed because the tool's program is missing.
func (o ExecutionOutcome) NotFound() bool {
	if o.Success {
		return false
	}
	return o.ExitCode == runner.ExitNotFound || o.ExitCode == 9009 || runner.LooksNotFound(o.Error)
}

// OnExecutionResult feeds a real run back into the override state. A run
// that proves a trusted tool missing withdraws the trust; a successful run
// clears any recorded failure and is handed to the results sink. State write
// failures are logged only.
func (e *Engine) OnExecutionResult(ctx context.Context, id string, o ExecutionOutcome) error {
	if _, err := e.Tool(id); err != nil {
		return err
	}
	log := e.logger.With("tool", id)
	store := e.opts.Store
	var err error
	switch {
	case o.Success:
		e.metrics.executions.WithLabelValues(id, "success").Inc()
		err = store.ClearError(id)
		if e.opts.Results != nil {
			if serr := e.opts.Results.SaveRun(ctx, id, o); serr != nil {
				log.Error("could not save run results", "err", serr)
			}
		}
	case o.NotFound() && store.Get(id).MarkedInstalled:
		e.metrics.executions.WithLabelValues(id, "not_found").Inc()
		log.Warn("trusted tool not found at run time, withdrawing install mark", "err", o.Error)
		err = store.FlagDetectionFailed(id, failureText(o))
	default:
		e.metrics.executions.WithLabelValues(id, "failure").Inc()
		err = store.RecordError(id, failureText(o))
	}
	if err != nil {
		log.Error("could not update override state", "err", err)
	}
	e.refreshOverride(id)
	e.notify(Event{Kind: EventOverridesChanged, ToolID: id})
	return nil
}

func failureText(o ExecutionOutcome) string {
	if msg := strings.TrimSpace(o.Error); msg != "" {
		return msg
	}
	return fmt.Sprintf("exit code %d", o.ExitCode)
}

// MarkInstalled trusts a tool as installed regardless of probes.
func (e *Engine) MarkInstalled(id string) error {
	if _, err := e.Tool(id); err != nil {
		return err
	}
	return e.changeOverride(id, e.opts.Store.MarkInstalled)
}

// SetCustomCommand sets (or with "" clears) how a tool is run. A tool with a
// custom command is always usable.
func (e *Engine) SetCustomCommand(id, command string) error {
	if _, err := e.Tool(id); err != nil {
		return err
	}
	return e.changeOverride(id, func(id string) error { return e.opts.Store.SetCustomCommand(id, command) })
}

// Reset drops the stored override for id. Unknown ids are allowed so stale
// entries can be cleaned up.
func (e *Engine) Reset(id string) error {
	return e.changeOverride(id, e.opts.Store.Reset)
}

func (e *Engine) changeOverride(id string, fn func(string) error) error {
	if err := fn(id); err != nil {
		return err
	}
	e.refreshOverride(id)
	e.notify(Event{Kind: EventOverridesChanged, ToolID: id})
	return nil
}

// refreshOverride re-reads the override of a tool in the snapshot without
// probing again.
func (e *Engine) refreshOverride(id string) {
	o := e.opts.Store.Get(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.snapshot[id]
	if !ok {
		return
	}
	st.Override = o
	st.Usable = Evaluate(st.Live, o)
	e.snapshot[id] = st
}

func (e *Engine) store(st Status) {
	e.mu.Lock()
	e.snapshot[st.ToolID] = st
	e.mu.Unlock()
}
