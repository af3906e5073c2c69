package engine

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceDelay = 300 * time.Millisecond

// WatchTargets are the files whose changes the engine reacts to.
type WatchTargets struct {
	// Manifests trigger a registry reload.
	Manifests []string
	// StateFile triggers a re-read of overrides.
	StateFile string
}

type watchKind int

const (
	watchManifest watchKind = iota
	watchState
)

// Watch blocks until ctx is done, reloading the registry when a manifest
// changes and re-reading overrides when the state file changes. Missing
// directories are skipped.
func (e *Engine) Watch(ctx context.Context, targets WatchTargets) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	files := map[string]watchKind{}
	for _, m := range targets.Manifests {
		if m != "" {
			files[filepath.Clean(m)] = watchManifest
		}
	}
	if targets.StateFile != "" {
		files[filepath.Clean(targets.StateFile)] = watchState
	}
	dirs := map[string]bool{}
	for f := range files {
		dirs[filepath.Dir(f)] = true
	}
	watched := 0
	for d := range dirs {
		if err := w.Add(d); err != nil {
			e.logger.Debug("not watching", "dir", d, "err", err)
			continue
		}
		watched++
	}
	e.logger.Debug("watching for changes", "dirs", watched)

	var mu sync.Mutex
	timers := map[watchKind]*time.Timer{}
	schedule := func(k watchKind) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[k]; ok {
			t.Stop()
		}
		timers[k] = time.AfterFunc(debounceDelay, func() {
			mu.Lock()
			delete(timers, k)
			mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			e.handleChange(k)
		})
	}
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			if k, ok := files[filepath.Clean(ev.Name)]; ok {
				schedule(k)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.logger.Warn("watcher error", "err", err)
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func (e *Engine) handleChange(k watchKind) {
	switch k {
	case watchManifest:
		if err := e.Reload(); err != nil {
			e.logger.Error("registry reload failed", "err", err)
			return
		}
		e.logger.Info("registry reloaded after file change", "tools", e.Catalog().Len())
	case watchState:
		e.mu.RLock()
		ids := make([]string, 0, len(e.snapshot))
		for id := range e.snapshot {
			ids = append(ids, id)
		}
		e.mu.RUnlock()
		for _, id := range ids {
			e.refreshOverride(id)
		}
		e.notify(Event{Kind: EventOverridesChanged})
	}
}
