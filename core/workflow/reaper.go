package workflow

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"pipewise-ops/config"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

// Reaper periodically fails execution rows stuck in running with no callback.
// Without it a lost callback leaves the row running forever and blocks manual
// retries behind the duplicate-trigger guard.
type Reaper struct {
	cfg    config.ReaperConfig
	execs  store.WorkflowStore
	logger *utils.Logger
	cron   *cron.Cron
}

func NewReaper(cfg config.ReaperConfig, execs store.WorkflowStore, logger *utils.Logger) *Reaper {
	return &Reaper{cfg: cfg, execs: execs, logger: logger}
}

func (r *Reaper) StartWithContext(ctx context.Context) {
	if r == nil || !r.cfg.Enabled {
		return
	}
	if r.cron != nil {
		return
	}
	r.cron = cron.New()
	schedule := r.cfg.Schedule
	if schedule == "" {
		schedule = "@every 15m"
	}
	if _, err := r.cron.AddFunc(schedule, func() {
		if err := r.RunOnce(ctx, time.Now().UTC()); err != nil && r.logger != nil {
			r.logger.Errorf("workflow reaper: %v", err)
		}
	}); err != nil {
		if r.logger != nil {
			r.logger.Errorf("workflow reaper schedule %q: %v", schedule, err)
		}
		r.cron = nil
		return
	}
	r.cron.Start()
}

func (r *Reaper) StopWithContext(ctx context.Context) error {
	if r == nil || r.cron == nil {
		return nil
	}
	stopCtx := r.cron.Stop()
	r.cron = nil
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reaper) RunOnce(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-r.cfg.StuckAfter())
	stuck, err := r.execs.ListStuckRunning(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, exec := range stuck {
		duration := int64(now.Sub(exec.StartedAt).Seconds())
		if err := r.execs.MarkFailed(ctx, exec.ID, now, duration, "callback timeout", "", ""); err != nil {
			if r.logger != nil {
				r.logger.Errorf("workflow reaper execution=%d: %v", exec.ID, err)
			}
			continue
		}
		if r.logger != nil {
			r.logger.Printf("workflow reaper failed stuck execution=%d type=%s age=%s", exec.ID, exec.WorkflowType, now.Sub(exec.StartedAt))
		}
	}
	return nil
}
