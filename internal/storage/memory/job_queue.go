package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// Enqueue stores a new job in queued status.
func (s *Store) Enqueue(_ context.Context, job linkscan.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = linkscan.JobStatusQueued
	}
	s.jobs[job.ID] = job
	s.jobSeq = append(s.jobSeq, job.ID)
	return nil
}

// Claim atomically hands the oldest runnable job to workerID. The whole
// select-and-update happens under one lock, so concurrent claimants can
// never take the same job.
func (s *Store) Claim(_ context.Context, workerID string, lease time.Duration) (*linkscan.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var candidates []linkscan.ScanJob
	for _, id := range s.jobSeq {
		job := s.jobs[id]
		if s.claimable(job, now) {
			candidates = append(candidates, job)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RunAt.Before(candidates[j].RunAt)
	})

	job := candidates[0]
	job.Status = linkscan.JobStatusClaimed
	job.WorkerID = pointerStr(workerID)
	job.LeaseExpiresAt = pointerTime(now.Add(lease))
	s.jobs[job.ID] = job
	claimed := job
	return &claimed, nil
}

func (s *Store) claimable(job linkscan.ScanJob, now time.Time) bool {
	switch job.Status {
	case linkscan.JobStatusQueued:
		return !job.RunAt.After(now)
	case linkscan.JobStatusClaimed:
		return job.LeaseExpiresAt != nil && job.LeaseExpiresAt.Before(now)
	default:
		return false
	}
}

// Complete marks the job completed; terminal jobs are left untouched.
func (s *Store) Complete(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return linkscan.ErrNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = linkscan.JobStatusCompleted
	job.WorkerID = nil
	job.LeaseExpiresAt = nil
	s.jobs[jobID] = job
	return nil
}

// Fail consumes one attempt. With attempts remaining the job returns to
// queued for a future claim; otherwise it is terminally failed.
func (s *Store) Fail(_ context.Context, jobID uuid.UUID, lastError string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, linkscan.ErrNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	job = failJob(job, lastError)
	s.jobs[jobID] = job
	return job.Status == linkscan.JobStatusQueued, nil
}

// failJob applies the shared retry-vs-exhaust rule used by Fail and the
// reaper.
func failJob(job linkscan.ScanJob, lastError string) linkscan.ScanJob {
	job.Attempts++
	job.LastError = pointerStr(lastError)
	job.WorkerID = nil
	job.LeaseExpiresAt = nil
	if job.Attempts < job.MaxAttempts {
		job.Status = linkscan.JobStatusQueued
	} else {
		job.Status = linkscan.JobStatusFailed
	}
	return job
}

// Cancel marks the job cancelled regardless of its current state.
func (s *Store) Cancel(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return linkscan.ErrNotFound
	}
	job.Status = linkscan.JobStatusCancelled
	job.WorkerID = nil
	job.LeaseExpiresAt = nil
	s.jobs[jobID] = job
	return nil
}

// RequeueExpired recovers claimed jobs whose lease has passed, consuming one
// attempt each.
func (s *Store) RequeueExpired(_ context.Context) ([]linkscan.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var recovered []linkscan.ScanJob
	for _, id := range s.jobSeq {
		job := s.jobs[id]
		if job.Status != linkscan.JobStatusClaimed {
			continue
		}
		if job.LeaseExpiresAt == nil || !job.LeaseExpiresAt.Before(now) {
			continue
		}
		job = failJob(job, "lease expired")
		s.jobs[id] = job
		recovered = append(recovered, job)
	}
	return recovered, nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(_ context.Context, jobID uuid.UUID) (linkscan.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return linkscan.ScanJob{}, linkscan.ErrNotFound
	}
	return job, nil
}

// ActiveJobForSite returns the site's newest non-terminal job, or nil.
func (s *Store) ActiveJobForSite(_ context.Context, siteID uuid.UUID) (*linkscan.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.jobSeq) - 1; i >= 0; i-- {
		job := s.jobs[s.jobSeq[i]]
		if job.SiteID == siteID && !job.Status.Terminal() {
			active := job
			return &active, nil
		}
	}
	return nil, nil
}
