package sync

import (
	"context"

	"github.com/robfig/cron/v3"

	appLog "kioskcal/internal/log"
)

// Scheduler drives periodic sync cycles. It owns its cron instance and has
// an explicit Start/Stop lifecycle; nothing global.
type Scheduler struct {
	engine   *Engine
	cronSpec string
	cron     *cron.Cron
}

// NewScheduler creates a scheduler running the engine on a cron schedule
// (standard five-field spec, e.g. "*/5 * * * *").
func NewScheduler(engine *Engine, cronSpec string) *Scheduler {
	return &Scheduler{
		engine:   engine,
		cronSpec: cronSpec,
		cron:     cron.New(),
	}
}

// Start registers the periodic job and kicks off one immediate sync so the
// cache is populated right after process start.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cronSpec, func() {
		s.runCycle(ctx)
	}); err != nil {
		return err
	}

	go s.runCycle(ctx)

	s.cron.Start()
	appLog.Info("scheduler started", "cron", s.cronSpec)
	return nil
}

// Stop halts the cron loop. In-flight cycles finish; per-source locking in
// the engine keeps overlapping replaces impossible regardless.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	appLog.Info("scheduler stopped")
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	results := s.engine.SyncAll(ctx)

	succeeded, failed, skipped := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Success:
			succeeded++
		case r.Skipped:
			skipped++
		default:
			failed++
		}
	}
	appLog.Info("sync cycle finished",
		"sources", len(results), "succeeded", succeeded, "failed", failed, "skipped", skipped)
}
