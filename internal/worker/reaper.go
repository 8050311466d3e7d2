package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// Reaper recovers jobs whose lease expired because their worker crashed or
// stalled. It is the only recovery path for lost work; it runs on its own
// timer, independent of the claim loop.
type Reaper struct {
	queue    linkscan.JobQueue
	runs     linkscan.RunStore
	clock    linkscan.Clock
	interval time.Duration
	logger   *zap.Logger
}

// NewReaper constructs a Reaper.
func NewReaper(
	queue linkscan.JobQueue,
	runs linkscan.RunStore,
	clock linkscan.Clock,
	interval time.Duration,
	logger *zap.Logger,
) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{queue: queue, runs: runs, clock: clock, interval: interval, logger: logger}
}

// Run ticks until the context finishes.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one reaper pass. Each expired lease consumes one attempt;
// recovered jobs bounce their run back to queued, exhausted ones fail it.
func (r *Reaper) Tick(ctx context.Context) {
	recovered, err := r.queue.RequeueExpired(ctx)
	if err != nil {
		r.logger.Error("requeue expired failed", zap.Error(err))
		return
	}
	for _, job := range recovered {
		logger := r.logger.With(
			zap.String("job_id", job.ID.String()),
			zap.Int("attempts", job.Attempts),
		)
		if job.RunID == uuid.Nil {
			logger.Warn("recovered job without run")
			continue
		}
		switch job.Status {
		case linkscan.JobStatusQueued:
			if err := r.runs.RequeueRun(ctx, job.RunID); err != nil {
				logger.Error("requeue run failed", zap.Error(err))
				continue
			}
			logger.Warn("lease expired, job requeued")
		case linkscan.JobStatusFailed:
			msg := "lease expired"
			if job.LastError != nil {
				msg = *job.LastError
			}
			if err := r.runs.FinishRun(ctx, job.RunID, linkscan.RunStatusFailed, &msg, r.clock.Now()); err != nil {
				logger.Error("finish run failed", zap.Error(err))
				continue
			}
			logger.Error("lease expired, attempts exhausted")
		default:
			logger.Warn("recovered job in unexpected state", zap.String("status", string(job.Status)))
		}
	}
	if len(recovered) > 0 {
		r.logger.Info("reaper pass recovered jobs", zap.Int("count", len(recovered)))
	}
}
