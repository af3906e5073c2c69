package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler refreshes the engine on a cron schedule. A tick that arrives
// while the previous refresh is still running is skipped.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
	lock   sync.Mutex
	cancel context.CancelFunc
}

// StartRefresh starts periodic refreshes. spec accepts standard five-field
// expressions and descriptors such as "@every 10m".
func (e *Engine) StartRefresh(spec string) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{engine: e, cron: cron.New(), cancel: cancel}
	_, err := s.cron.AddFunc(spec, func() {
		if !s.lock.TryLock() {
			e.logger.Warn("refresh still running, skipping tick")
			return
		}
		defer s.lock.Unlock()
		if _, err := e.Refresh(ctx); err != nil {
			e.logger.Error("scheduled refresh failed", "err", err)
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("engine: invalid refresh schedule %q: %w", spec, err)
	}
	s.cron.Start()
	e.logger.Debug("refresh scheduled", "schedule", spec)
	return s, nil
}

// Stop cancels an in-flight refresh and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
