// Package worker implements the claim-process loop that drives scan runs,
// plus the reaper that recovers jobs from crashed workers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/crawl"
	"github.com/cbmoss/linksentry/internal/linkscan"
	"github.com/cbmoss/linksentry/internal/metrics"
	"github.com/cbmoss/linksentry/internal/progress"
)

// Config controls Worker behavior.
type Config struct {
	// PollInterval is the idle wait between empty claim attempts.
	PollInterval time.Duration
	// Lease is how long a claim holds before the reaper may reclaim it.
	Lease time.Duration
}

// Worker polls the job queue and executes one scan run per claimed job.
// Cross-worker coordination happens entirely through the atomic claim; two
// workers never share in-process state.
type Worker struct {
	id      string
	queue   linkscan.JobQueue
	runs    linkscan.RunStore
	engine  *crawl.Engine
	clock   linkscan.Clock
	emitter progress.Emitter
	logger  *zap.Logger
	cfg     Config
}

// New constructs a Worker.
func New(
	id string,
	queue linkscan.JobQueue,
	runs linkscan.RunStore,
	engine *crawl.Engine,
	clock linkscan.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
	cfg Config,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		id:      id,
		queue:   queue,
		runs:    runs,
		engine:  engine,
		clock:   clock,
		emitter: emitter,
		logger:  logger.With(zap.String("worker_id", id)),
		cfg:     cfg,
	}
}

// Run blocks, claiming and processing jobs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.Claim(ctx, w.id, w.cfg.Lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("claim failed", zap.Error(err))
			w.sleep(ctx)
			continue
		}
		if job == nil {
			w.sleep(ctx)
			continue
		}
		w.processJob(ctx, *job)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.cfg.PollInterval):
	}
}

func (w *Worker) processJob(ctx context.Context, job linkscan.ScanJob) {
	metrics.IncWorkersBusy()
	defer metrics.DecWorkersBusy()

	logger := w.logger.With(
		zap.String("job_id", job.ID.String()),
		zap.String("run_id", job.RunID.String()),
	)
	logger.Info("processing job", zap.Int("attempt", job.Attempts+1))

	run, err := w.runs.GetRun(ctx, job.RunID)
	if errors.Is(err, linkscan.ErrNotFound) {
		// A missing run can never succeed; retrying is pointless.
		w.failHard(ctx, job, "scan run not found")
		return
	}
	if err != nil {
		w.failJob(ctx, job, run, fmt.Errorf("load run: %w", err))
		return
	}

	if run.Status == linkscan.RunStatusCancelled {
		// Cancelled before the claim was processed: nothing to crawl, no
		// attempt consumed.
		w.finishCancelled(ctx, job, run, crawl.Summary{}, w.clock.Now())
		return
	}

	startedAt := w.clock.Now()
	if err := w.runs.MarkInProgress(ctx, run.ID, startedAt); err != nil {
		w.failJob(ctx, job, run, fmt.Errorf("mark run in progress: %w", err))
		return
	}

	sum, crawlErr := w.engine.Run(ctx, run)
	switch {
	case crawlErr == nil:
		w.finishSuccess(ctx, job, run, sum, startedAt)
	case errors.Is(crawlErr, crawl.ErrCancelled):
		w.finishCancelled(ctx, job, run, sum, startedAt)
	default:
		w.failJob(ctx, job, run, crawlErr)
	}
}

// finishSuccess completes the run, unless a cancellation arrived while the
// crawl was in flight: re-reads of the run and the job are the backstop
// that keeps a late cancel from being overwritten by completed.
func (w *Worker) finishSuccess(
	ctx context.Context,
	job linkscan.ScanJob,
	run linkscan.ScanRun,
	sum crawl.Summary,
	startedAt time.Time,
) {
	now := w.clock.Now()

	current, err := w.runs.GetRun(ctx, run.ID)
	if err == nil && current.Status == linkscan.RunStatusCancelled {
		w.finishCancelled(ctx, job, run, sum, startedAt)
		return
	}
	if latest, err := w.queue.GetJob(ctx, job.ID); err == nil && latest.Status == linkscan.JobStatusCancelled {
		w.finishCancelled(ctx, job, run, sum, startedAt)
		return
	}

	if err := w.runs.FinishRun(ctx, run.ID, linkscan.RunStatusCompleted, nil, now); err != nil {
		w.logger.Error("finish run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	if err := w.queue.Complete(ctx, job.ID); err != nil {
		w.logger.Error("complete job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	w.emit(progress.Event{
		RunID:   run.ID,
		SiteID:  run.SiteID,
		TS:      now,
		Stage:   progress.StageRunDone,
		Total:   sum.Total,
		Checked: sum.Checked,
		Broken:  sum.Broken,
		Dur:     now.Sub(startedAt),
	})
	metrics.ObserveJob(string(linkscan.JobStatusCompleted))
	w.logger.Info("run completed",
		zap.String("run_id", run.ID.String()),
		zap.Int("links", sum.Total),
		zap.Int("broken", sum.Broken),
	)
}

// finishCancelled records the cancelled terminal state. Cancellation is not
// an error: the job completes normally and no attempt is consumed.
func (w *Worker) finishCancelled(
	ctx context.Context,
	job linkscan.ScanJob,
	run linkscan.ScanRun,
	sum crawl.Summary,
	startedAt time.Time,
) {
	now := w.clock.Now()
	if err := w.runs.FinishRun(ctx, run.ID, linkscan.RunStatusCancelled, nil, now); err != nil {
		w.logger.Error("finish cancelled run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	if err := w.queue.Complete(ctx, job.ID); err != nil {
		w.logger.Error("complete job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	w.emit(progress.Event{
		RunID:   run.ID,
		SiteID:  run.SiteID,
		TS:      now,
		Stage:   progress.StageRunCancelled,
		Total:   sum.Total,
		Checked: sum.Checked,
		Broken:  sum.Broken,
		Dur:     now.Sub(startedAt),
	})
	metrics.ObserveJob(string(linkscan.JobStatusCancelled))
	w.logger.Info("run cancelled", zap.String("run_id", run.ID.String()))
}

// failJob consumes one attempt. With attempts remaining the run bounces
// back to queued for a future claim of the same run; once exhausted the run
// fails terminally and carries the error message.
func (w *Worker) failJob(ctx context.Context, job linkscan.ScanJob, run linkscan.ScanRun, cause error) {
	msg := cause.Error()
	retrying, err := w.queue.Fail(ctx, job.ID, msg)
	if err != nil {
		w.logger.Error("fail job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
		return
	}
	if retrying {
		if err := w.runs.RequeueRun(ctx, run.ID); err != nil {
			w.logger.Error("requeue run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
		}
		w.logger.Warn("job failed, will retry",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempt", job.Attempts+1),
			zap.String("error", msg),
		)
		return
	}

	now := w.clock.Now()
	if err := w.runs.FinishRun(ctx, run.ID, linkscan.RunStatusFailed, &msg, now); err != nil {
		w.logger.Error("finish failed run failed", zap.String("run_id", run.ID.String()), zap.Error(err))
	}
	w.emit(progress.Event{
		RunID:  run.ID,
		SiteID: run.SiteID,
		TS:     now,
		Stage:  progress.StageRunError,
		Note:   msg,
	})
	metrics.ObserveJob(string(linkscan.JobStatusFailed))
	w.logger.Error("job exhausted retries",
		zap.String("job_id", job.ID.String()),
		zap.String("error", msg),
	)
}

// failHard burns every remaining attempt: the failure mode is permanent, so
// bouncing the job back to queued would just waste claims.
func (w *Worker) failHard(ctx context.Context, job linkscan.ScanJob, msg string) {
	for {
		retrying, err := w.queue.Fail(ctx, job.ID, msg)
		if err != nil {
			w.logger.Error("fail job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
			return
		}
		if !retrying {
			break
		}
	}
	w.logger.Error("job failed permanently",
		zap.String("job_id", job.ID.String()),
		zap.String("error", msg),
	)
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(evt)
}
