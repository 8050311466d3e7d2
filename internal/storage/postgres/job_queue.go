package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

const jobColumns = `id, site_id, scan_run_id, status, attempts, max_attempts, worker_id, lease_expires_at, last_error, run_at, created_at`

// Enqueue inserts a new job in queued status.
func (s *Store) Enqueue(ctx context.Context, job linkscan.ScanJob) error {
	if job.Status == "" {
		job.Status = linkscan.JobStatusQueued
	}
	query := `
		INSERT INTO scan_jobs (id, site_id, scan_run_id, status, attempts, max_attempts, run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := s.db.Exec(ctx, query,
		job.ID, job.SiteID, nullUUID(job.RunID), job.Status,
		job.Attempts, job.MaxAttempts, job.RunAt, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Claim atomically hands the oldest runnable job to workerID. The subselect
// with FOR UPDATE SKIP LOCKED makes concurrent claims race-free: a single
// conditional update, never read-then-write.
func (s *Store) Claim(ctx context.Context, workerID string, lease time.Duration) (*linkscan.ScanJob, error) {
	now := s.clock.Now()
	query := `
		UPDATE scan_jobs
		SET status = 'claimed', worker_id = $1, lease_expires_at = $2
		WHERE id = (
			SELECT id FROM scan_jobs
			WHERE (status = 'queued' AND run_at <= $3)
			   OR (status = 'claimed' AND lease_expires_at < $3)
			ORDER BY run_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns + `;
	`
	row := s.db.QueryRow(ctx, query, workerID, now.Add(lease), now)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// Complete marks the job completed; terminal jobs are left untouched.
func (s *Store) Complete(ctx context.Context, jobID uuid.UUID) error {
	query := `
		UPDATE scan_jobs
		SET status = 'completed', worker_id = NULL, lease_expires_at = NULL
		WHERE id = $1 AND status IN ('queued', 'claimed');
	`
	tag, err := s.db.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.jobExists(ctx, jobID)
	}
	return nil
}

// Fail consumes one attempt, requeueing while attempts remain and terminally
// failing once exhausted. The retry-vs-exhaust decision happens inside the
// statement so a crash between read and write cannot split it.
func (s *Store) Fail(ctx context.Context, jobID uuid.UUID, lastError string) (bool, error) {
	query := `
		UPDATE scan_jobs
		SET attempts = attempts + 1,
		    last_error = $2,
		    worker_id = NULL,
		    lease_expires_at = NULL,
		    status = CASE WHEN attempts + 1 < max_attempts THEN 'queued' ELSE 'failed' END
		WHERE id = $1 AND status IN ('queued', 'claimed')
		RETURNING status;
	`
	var status linkscan.JobStatus
	if err := s.db.QueryRow(ctx, query, jobID, lastError).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, s.jobExists(ctx, jobID)
		}
		return false, fmt.Errorf("fail job: %w", err)
	}
	return status == linkscan.JobStatusQueued, nil
}

// Cancel marks the job cancelled regardless of its current state.
func (s *Store) Cancel(ctx context.Context, jobID uuid.UUID) error {
	query := `
		UPDATE scan_jobs
		SET status = 'cancelled', worker_id = NULL, lease_expires_at = NULL
		WHERE id = $1;
	`
	tag, err := s.db.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}
	return nil
}

// RequeueExpired recovers every claimed job whose lease has passed, applying
// the same retry-vs-exhaust rule as Fail, one attempt per job.
func (s *Store) RequeueExpired(ctx context.Context) ([]linkscan.ScanJob, error) {
	query := `
		UPDATE scan_jobs
		SET attempts = attempts + 1,
		    last_error = 'lease expired',
		    worker_id = NULL,
		    lease_expires_at = NULL,
		    status = CASE WHEN attempts + 1 < max_attempts THEN 'queued' ELSE 'failed' END
		WHERE status = 'claimed' AND lease_expires_at < $1
		RETURNING ` + jobColumns + `;
	`
	rows, err := s.db.Query(ctx, query, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("requeue expired: %w", err)
	}
	defer rows.Close()

	var recovered []linkscan.ScanJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recovered job: %w", err)
		}
		recovered = append(recovered, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recovered jobs: %w", err)
	}
	return recovered, nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID uuid.UUID) (linkscan.ScanJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scan_jobs WHERE id = $1;`
	job, err := scanJob(s.db.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return linkscan.ScanJob{}, linkscan.ErrNotFound
		}
		return linkscan.ScanJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ActiveJobForSite returns the site's newest non-terminal job, or nil.
func (s *Store) ActiveJobForSite(ctx context.Context, siteID uuid.UUID) (*linkscan.ScanJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM scan_jobs
		WHERE site_id = $1 AND status IN ('queued', 'claimed')
		ORDER BY created_at DESC
		LIMIT 1;
	`
	job, err := scanJob(s.db.QueryRow(ctx, query, siteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("active job for site: %w", err)
	}
	return &job, nil
}

func (s *Store) jobExists(ctx context.Context, jobID uuid.UUID) error {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM scan_jobs WHERE id = $1);`, jobID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return linkscan.ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (linkscan.ScanJob, error) {
	var (
		job   linkscan.ScanJob
		runID *uuid.UUID
	)
	err := row.Scan(
		&job.ID,
		&job.SiteID,
		&runID,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&job.WorkerID,
		&job.LeaseExpiresAt,
		&job.LastError,
		&job.RunAt,
		&job.CreatedAt,
	)
	if err != nil {
		return linkscan.ScanJob{}, err
	}
	if runID != nil {
		job.RunID = *runID
	}
	return job, nil
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
