package service

import (
	"context"
	"log"
	"time"
)

type batchRunner interface {
	RunMonthlyBatch(ctx context.Context) (BatchSummary, error)
}

type auditPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SchedulerConfig configures the monthly payout scheduler.
type SchedulerConfig struct {
	Payouts    batchRunner
	Audit      auditPruner
	Settings   SettingsProvider
	DayOfMonth int
	RunHour    int
	RunMinute  int
	Location   *time.Location
}

// Scheduler runs the payout batch once a month, then prunes the audit trail.
type Scheduler struct {
	payouts    batchRunner
	audit      auditPruner
	settings   SettingsProvider
	dayOfMonth int
	runHour    int
	runMinute  int
	location   *time.Location
	now        func() time.Time
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		payouts:    cfg.Payouts,
		audit:      cfg.Audit,
		settings:   cfg.Settings,
		dayOfMonth: clamp(cfg.DayOfMonth, 1, 28),
		runHour:    clamp(cfg.RunHour, 0, 23),
		runMinute:  clamp(cfg.RunMinute, 0, 59),
		location:   loc,
		now:        time.Now,
	}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil || s.payouts == nil {
		return
	}
	for {
		now := s.now().In(s.location)
		next := s.nextRun(now)
		log.Printf("[scheduler] next payout batch at %s", next.Format(time.RFC3339))
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one batch and the audit prune.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if _, err := s.payouts.RunMonthlyBatch(ctx); err != nil {
		log.Printf("[scheduler] payout batch failed: %v", err)
	}
	if s.audit == nil || s.settings == nil {
		return
	}
	retention := s.settings.Snapshot(ctx).AuditRetention
	if retention <= 0 {
		return
	}
	n, err := s.audit.PruneBefore(ctx, s.now().Add(-retention))
	if err != nil {
		log.Printf("[scheduler] audit prune failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[scheduler] pruned %d audit entries", n)
	}
}

func (s *Scheduler) nextRun(after time.Time) time.Time {
	after = after.In(s.location)
	target := time.Date(after.Year(), after.Month(), s.dayOfMonth, s.runHour, s.runMinute, 0, 0, s.location)
	if !target.After(after) {
		target = time.Date(after.Year(), after.Month()+1, s.dayOfMonth, s.runHour, s.runMinute, 0, 0, s.location)
	}
	return target
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
