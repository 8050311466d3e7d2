// Package scheduler turns site schedules into queued scan runs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// Config controls Scheduler behavior.
type Config struct {
	// TickInterval is the pause between scheduling passes.
	TickInterval time.Duration
	// Cooldown suppresses re-scheduling a site that was scheduled this
	// recently, even if it still reads as due.
	Cooldown time.Duration
	// BatchSize caps how many due sites one tick considers.
	BatchSize int
	// MaxAttempts is copied onto every job this scheduler enqueues.
	MaxAttempts int
}

// Scheduler periodically enqueues scan runs for due sites. Scheduling is a
// control loop with no single source of truth for "already handled", so
// each due site passes three independent guards before anything is written:
// the cooldown window, the latest run's status, and the active-job check.
// Any one of them failing open must not produce a duplicate run.
type Scheduler struct {
	sites  linkscan.SiteStore
	runs   linkscan.RunStore
	queue  linkscan.JobQueue
	clock  linkscan.Clock
	ids    linkscan.IDGenerator
	logger *zap.Logger
	cfg    Config
}

// New constructs a Scheduler.
func New(
	sites linkscan.SiteStore,
	runs linkscan.RunStore,
	queue linkscan.JobQueue,
	clock linkscan.Clock,
	ids linkscan.IDGenerator,
	logger *zap.Logger,
	cfg Config,
) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		sites:  sites,
		runs:   runs,
		queue:  queue,
		clock:  clock,
		ids:    ids,
		logger: logger,
		cfg:    cfg,
	}
}

// Run ticks until the context finishes.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick performs one scheduling pass.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.clock.Now()
	due, err := s.sites.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("list due sites failed", zap.Error(err))
		return
	}

	enqueued, skipped := 0, 0
	for _, site := range due {
		reason, err := s.skipReason(ctx, site, now)
		if err != nil {
			// Guard checks fail closed; an unreadable guard means no enqueue.
			s.logger.Error("schedule guard check failed",
				zap.String("site_id", site.ID.String()),
				zap.Error(err),
			)
			skipped++
			continue
		}
		if reason != "" {
			s.logger.Debug("site skipped",
				zap.String("site_id", site.ID.String()),
				zap.String("reason", reason),
			)
			skipped++
			continue
		}
		if err := s.enqueueScan(ctx, site, now); err != nil {
			s.logger.Error("enqueue scan failed",
				zap.String("site_id", site.ID.String()),
				zap.Error(err),
			)
			skipped++
			continue
		}
		enqueued++
	}

	// Every tick is observable; idle ticks log at debug to keep noise down.
	tickLog := s.logger.Info
	if len(due) == 0 {
		tickLog = s.logger.Debug
	}
	tickLog("scheduler tick",
		zap.Int("due", len(due)),
		zap.Int("enqueued", enqueued),
		zap.Int("skipped", skipped),
	)
}

// skipReason evaluates the idempotency guards for one due site. An empty
// reason means the site may be scheduled.
func (s *Scheduler) skipReason(ctx context.Context, site linkscan.Site, now time.Time) (string, error) {
	if site.LastScheduledAt != nil && now.Sub(*site.LastScheduledAt) < s.cfg.Cooldown {
		return "cooldown", nil
	}

	latest, err := s.runs.LatestRunForSite(ctx, site.ID)
	if err != nil {
		return "", fmt.Errorf("latest run: %w", err)
	}
	if latest != nil && !latest.Status.Terminal() {
		return "run active", nil
	}

	active, err := s.queue.ActiveJobForSite(ctx, site.ID)
	if err != nil {
		return "", fmt.Errorf("active job: %w", err)
	}
	if active != nil {
		return "job active", nil
	}
	return "", nil
}

func (s *Scheduler) enqueueScan(ctx context.Context, site linkscan.Site, now time.Time) error {
	run := linkscan.ScanRun{
		ID:       s.ids.NewID(),
		SiteID:   site.ID,
		Status:   linkscan.RunStatusQueued,
		StartURL: site.URL,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	job := linkscan.ScanJob{
		ID:          s.ids.NewID(),
		SiteID:      site.ID,
		RunID:       run.ID,
		Status:      linkscan.JobStatusQueued,
		MaxAttempts: s.cfg.MaxAttempts,
		RunAt:       now,
		CreatedAt:   now,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}

	if err := s.sites.MarkScheduled(ctx, site.ID, now, NextAfter(site, now)); err != nil {
		return fmt.Errorf("mark scheduled: %w", err)
	}

	s.logger.Info("scan enqueued",
		zap.String("site_id", site.ID.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("job_id", job.ID.String()),
	)
	return nil
}

// NextAfter computes the site's next scheduled time strictly after now.
// Unknown frequencies yield nil, which disables further automatic runs
// until site management writes a new value.
func NextAfter(site linkscan.Site, now time.Time) *time.Time {
	switch site.Frequency {
	case linkscan.FrequencyHourly:
		next := now.Add(time.Hour)
		return &next
	case linkscan.FrequencyDaily:
		hour, minute := parseTimeOfDay(site.TimeOfDay)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return &next
	case linkscan.FrequencyWeekly:
		hour, minute := parseTimeOfDay(site.TimeOfDay)
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		days := (int(site.DayOfWeek) - int(now.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, days)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return &next
	default:
		return nil
	}
}

func parseTimeOfDay(s string) (hour, minute int) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0
	}
	return t.Hour(), t.Minute()
}
