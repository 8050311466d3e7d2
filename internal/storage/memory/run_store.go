package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// CreateRun stores a new scan run.
func (s *Store) CreateRun(_ context.Context, run linkscan.ScanRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	if run.Status == "" {
		run.Status = linkscan.RunStatusQueued
	}
	run.UpdatedAt = s.clock.Now()
	s.runs[run.ID] = run
	return nil
}

// GetRun loads a run by ID.
func (s *Store) GetRun(_ context.Context, runID uuid.UUID) (linkscan.ScanRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return linkscan.ScanRun{}, linkscan.ErrNotFound
	}
	return run, nil
}

// LatestRunForSite returns the most recently created run for a site.
// UUIDv7 run IDs sort by creation time.
func (s *Store) LatestRunForSite(_ context.Context, siteID uuid.UUID) (*linkscan.ScanRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *linkscan.ScanRun
	for id, run := range s.runs {
		if run.SiteID != siteID {
			continue
		}
		if latest == nil || id.String() > latest.ID.String() {
			r := run
			latest = &r
		}
	}
	return latest, nil
}

// ListRuns pages a site's runs, newest first.
func (s *Store) ListRuns(
	_ context.Context,
	siteID uuid.UUID,
	status *linkscan.RunStatus,
	limit, offset int,
) ([]linkscan.ScanRun, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []linkscan.ScanRun
	for _, run := range s.runs {
		if run.SiteID != siteID {
			continue
		}
		if status != nil && run.Status != *status {
			continue
		}
		matches = append(matches, run)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ID.String() > matches[j].ID.String()
	})
	total := len(matches)
	return paginate(matches, limit, offset), total, nil
}

// MarkInProgress transitions a run to in_progress, clearing the error and
// finish markers so a retried run reads cleanly while it executes.
func (s *Store) MarkInProgress(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return linkscan.ErrNotFound
	}
	run.Status = linkscan.RunStatusInProgress
	run.StartedAt = pointerTime(startedAt)
	run.FinishedAt = nil
	run.ErrorMessage = nil
	run.UpdatedAt = s.clock.Now()
	s.runs[runID] = run
	return nil
}

// UpdateProgress writes absolute aggregate counters, keeping them monotone.
func (s *Store) UpdateProgress(_ context.Context, runID uuid.UUID, total, checked, broken int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return linkscan.ErrNotFound
	}
	run.TotalLinks = max(run.TotalLinks, total)
	run.CheckedLinks = max(run.CheckedLinks, checked)
	run.BrokenLinks = max(run.BrokenLinks, broken)
	run.UpdatedAt = s.clock.Now()
	s.runs[runID] = run
	return nil
}

// FinishRun sets a terminal status. Neither a completed nor a failed
// verdict overwrites a concurrent cancellation.
func (s *Store) FinishRun(
	_ context.Context,
	runID uuid.UUID,
	status linkscan.RunStatus,
	errMsg *string,
	finishedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return linkscan.ErrNotFound
	}
	if run.Status == linkscan.RunStatusCancelled && status != linkscan.RunStatusCancelled {
		if run.FinishedAt == nil {
			run.FinishedAt = pointerTime(finishedAt)
			run.UpdatedAt = s.clock.Now()
			s.runs[runID] = run
		}
		return nil
	}
	run.Status = status
	run.ErrorMessage = errMsg
	run.FinishedAt = pointerTime(finishedAt)
	run.UpdatedAt = s.clock.Now()
	s.runs[runID] = run
	return nil
}

// RequeueRun returns a run to queued after a retryable job failure.
func (s *Store) RequeueRun(_ context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return linkscan.ErrNotFound
	}
	run.Status = linkscan.RunStatusQueued
	run.FinishedAt = nil
	run.UpdatedAt = s.clock.Now()
	s.runs[runID] = run
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
