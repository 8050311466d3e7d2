package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/diff"
	"github.com/cbmoss/linksentry/internal/linkscan"
)

func (s *Server) triggerScan(w http.ResponseWriter, r *http.Request) {
	siteID, ok := urlParamUUID(r, "site_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid site id")
		return
	}
	ctx := r.Context()

	site, err := s.sites.GetSite(ctx, siteID)
	if errors.Is(err, linkscan.ErrNotFound) {
		writeError(w, http.StatusNotFound, "site not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load site failed")
		return
	}

	// Same guards as the scheduler: one scan per site at a time.
	latest, err := s.runs.LatestRunForSite(ctx, siteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load latest run failed")
		return
	}
	if latest != nil && !latest.Status.Terminal() {
		writeError(w, http.StatusConflict, "a scan is already queued or running for this site")
		return
	}
	active, err := s.queue.ActiveJobForSite(ctx, siteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load active job failed")
		return
	}
	if active != nil {
		writeError(w, http.StatusConflict, "a scan job is already pending for this site")
		return
	}

	run := linkscan.ScanRun{
		ID:       s.ids.NewID(),
		SiteID:   siteID,
		Status:   linkscan.RunStatusQueued,
		StartURL: site.URL,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		writeError(w, http.StatusInternalServerError, "create run failed")
		return
	}
	job := linkscan.ScanJob{
		ID:          s.ids.NewID(),
		SiteID:      siteID,
		RunID:       run.ID,
		Status:      linkscan.JobStatusQueued,
		MaxAttempts: s.cfg.MaxAttempts,
		RunAt:       s.clock.Now(),
		CreatedAt:   s.clock.Now(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue job failed")
		return
	}

	s.logger.Info("scan triggered",
		zap.String("site_id", siteID.String()),
		zap.String("run_id", run.ID.String()),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID.String(),
		"job_id": job.ID.String(),
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	siteID, ok := urlParamUUID(r, "site_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid site id")
		return
	}

	var status *linkscan.RunStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := linkscan.RunStatus(raw)
		switch st {
		case linkscan.RunStatusQueued, linkscan.RunStatusInProgress,
			linkscan.RunStatusCompleted, linkscan.RunStatusFailed, linkscan.RunStatusCancelled:
			status = &st
		default:
			writeError(w, http.StatusBadRequest, "unknown run status")
			return
		}
	}

	limit, offset := pagination(r)
	runs, total, err := s.runs.ListRuns(r.Context(), siteID, status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(runs, total, limit, offset))
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := urlParamUUID(r, "run_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.runs.GetRun(r.Context(), runID)
	if errors.Is(err, linkscan.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load run failed")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// cancelRun flips the run to cancelled and cancels its pending job. A crawl
// already in flight notices the status between pages and stops.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := urlParamUUID(r, "run_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	ctx := r.Context()

	run, err := s.runs.GetRun(ctx, runID)
	if errors.Is(err, linkscan.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load run failed")
		return
	}
	if run.Status.Terminal() {
		writeError(w, http.StatusConflict, "run already finished")
		return
	}

	if err := s.runs.FinishRun(ctx, runID, linkscan.RunStatusCancelled, nil, s.clock.Now()); err != nil {
		writeError(w, http.StatusInternalServerError, "cancel run failed")
		return
	}
	if job, err := s.queue.ActiveJobForSite(ctx, run.SiteID); err == nil && job != nil && job.RunID == runID {
		if err := s.queue.Cancel(ctx, job.ID); err != nil {
			s.logger.Error("cancel job failed",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("run cancelled via api", zap.String("run_id", runID.String()))
	writeJSON(w, http.StatusOK, map[string]string{
		"run_id": runID.String(),
		"status": string(linkscan.RunStatusCancelled),
	})
}

// retryRun re-queues a terminal run with a fresh job. The run keeps its id;
// the new attempt drops the previous findings and crawls from scratch.
func (s *Server) retryRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := urlParamUUID(r, "run_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	ctx := r.Context()

	run, err := s.runs.GetRun(ctx, runID)
	if errors.Is(err, linkscan.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load run failed")
		return
	}
	if !run.Status.Terminal() {
		writeError(w, http.StatusConflict, "run has not finished")
		return
	}
	active, err := s.queue.ActiveJobForSite(ctx, run.SiteID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load active job failed")
		return
	}
	if active != nil {
		writeError(w, http.StatusConflict, "a scan job is already pending for this site")
		return
	}

	if err := s.runs.RequeueRun(ctx, runID); err != nil {
		writeError(w, http.StatusInternalServerError, "requeue run failed")
		return
	}
	job := linkscan.ScanJob{
		ID:          s.ids.NewID(),
		SiteID:      run.SiteID,
		RunID:       runID,
		Status:      linkscan.JobStatusQueued,
		MaxAttempts: s.cfg.MaxAttempts,
		RunAt:       s.clock.Now(),
		CreatedAt:   s.clock.Now(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue job failed")
		return
	}

	s.logger.Info("run retried", zap.String("run_id", runID.String()))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": runID.String(),
		"job_id": job.ID.String(),
	})
}

// diffRuns compares the active link sets of two runs. The ignored buckets
// stay out of the diff on both sides.
func (s *Server) diffRuns(w http.ResponseWriter, r *http.Request) {
	baseID, ok := urlParamUUID(r, "base_run_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid base run id")
		return
	}
	compareID, ok := urlParamUUID(r, "compare_run_id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid compare run id")
		return
	}
	ctx := r.Context()

	for _, id := range []uuid.UUID{baseID, compareID} {
		if _, err := s.runs.GetRun(ctx, id); errors.Is(err, linkscan.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		} else if err != nil {
			writeError(w, http.StatusInternalServerError, "load run failed")
			return
		}
	}

	baseline, err := s.links.AllLinks(ctx, baseID, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load baseline links failed")
		return
	}
	comparand, err := s.links.AllLinks(ctx, compareID, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load compare links failed")
		return
	}

	result := diff.Compute(baseline, comparand)
	if r.URL.Query().Get("view") == "issues" {
		writeJSON(w, http.StatusOK, map[string]any{
			"base_run_id":    baseID.String(),
			"compare_run_id": compareID.String(),
			"issues":         diff.Issues(result),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"base_run_id":    baseID.String(),
		"compare_run_id": compareID.String(),
		"diff":           result,
	})
}
