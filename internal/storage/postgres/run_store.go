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

const runColumns = `id, site_id, status, start_url, started_at, finished_at, updated_at, total_links, checked_links, broken_links, error_message`

// CreateRun stores a new scan run.
func (s *Store) CreateRun(ctx context.Context, run linkscan.ScanRun) error {
	if run.Status == "" {
		run.Status = linkscan.RunStatusQueued
	}
	query := `
		INSERT INTO scan_runs (id, site_id, status, start_url, updated_at)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := s.db.Exec(ctx, query, run.ID, run.SiteID, run.Status, run.StartURL, s.clock.Now())
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (linkscan.ScanRun, error) {
	query := `SELECT ` + runColumns + ` FROM scan_runs WHERE id = $1;`
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return linkscan.ScanRun{}, linkscan.ErrNotFound
		}
		return linkscan.ScanRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// LatestRunForSite returns the most recently created run, or nil. UUIDv7
// primary keys sort by creation time.
func (s *Store) LatestRunForSite(ctx context.Context, siteID uuid.UUID) (*linkscan.ScanRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM scan_runs
		WHERE site_id = $1
		ORDER BY id DESC
		LIMIT 1;
	`
	run, err := scanRun(s.db.QueryRow(ctx, query, siteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest run for site: %w", err)
	}
	return &run, nil
}

// ListRuns pages a site's runs, newest first.
func (s *Store) ListRuns(
	ctx context.Context,
	siteID uuid.UUID,
	status *linkscan.RunStatus,
	limit, offset int,
) ([]linkscan.ScanRun, int, error) {
	var total int
	countQuery := `
		SELECT COUNT(*) FROM scan_runs
		WHERE site_id = $1 AND ($2::text IS NULL OR status = $2);
	`
	if err := s.db.QueryRow(ctx, countQuery, siteID, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	query := `
		SELECT ` + runColumns + `
		FROM scan_runs
		WHERE site_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4;
	`
	rows, err := s.db.Query(ctx, query, siteID, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []linkscan.ScanRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, total, nil
}

// MarkInProgress transitions a run to in_progress, clearing the markers of
// any previous attempt.
func (s *Store) MarkInProgress(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		UPDATE scan_runs
		SET status = 'in_progress', started_at = $2, finished_at = NULL, error_message = NULL, updated_at = $3
		WHERE id = $1;
	`
	tag, err := s.db.Exec(ctx, query, runID, startedAt, s.clock.Now())
	if err != nil {
		return fmt.Errorf("mark run in progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}
	return nil
}

// UpdateProgress writes absolute aggregate counters. GREATEST keeps them
// monotone even if updates land out of order.
func (s *Store) UpdateProgress(ctx context.Context, runID uuid.UUID, total, checked, broken int) error {
	query := `
		UPDATE scan_runs
		SET total_links = GREATEST(total_links, $2),
		    checked_links = GREATEST(checked_links, $3),
		    broken_links = GREATEST(broken_links, $4),
		    updated_at = $5
		WHERE id = $1;
	`
	tag, err := s.db.Exec(ctx, query, runID, total, checked, broken, s.clock.Now())
	if err != nil {
		return fmt.Errorf("update run progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}
	return nil
}

// FinishRun sets a terminal status. The update is conditional so neither a
// completed nor a failed verdict can overwrite a concurrent cancellation;
// the second statement backfills finished_at on a cancelled run that the
// crawl loop exited.
func (s *Store) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	status linkscan.RunStatus,
	errMsg *string,
	finishedAt time.Time,
) error {
	if !status.Terminal() {
		return fmt.Errorf("finish run: %q is not a terminal status", status)
	}
	query := `
		UPDATE scan_runs
		SET status = $2, error_message = $3, finished_at = $4, updated_at = $5
		WHERE id = $1 AND (status <> 'cancelled' OR $2 = 'cancelled');
	`
	tag, err := s.db.Exec(ctx, query, runID, status, errMsg, finishedAt, s.clock.Now())
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	backfill := `
		UPDATE scan_runs
		SET finished_at = COALESCE(finished_at, $2), updated_at = $3
		WHERE id = $1 AND status = 'cancelled';
	`
	tag, err = s.db.Exec(ctx, backfill, runID, finishedAt, s.clock.Now())
	if err != nil {
		return fmt.Errorf("finish cancelled run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}
	return nil
}

// RequeueRun returns a run to queued after a retryable job failure.
func (s *Store) RequeueRun(ctx context.Context, runID uuid.UUID) error {
	query := `
		UPDATE scan_runs
		SET status = 'queued', finished_at = NULL, updated_at = $2
		WHERE id = $1;
	`
	tag, err := s.db.Exec(ctx, query, runID, s.clock.Now())
	if err != nil {
		return fmt.Errorf("requeue run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (linkscan.ScanRun, error) {
	var run linkscan.ScanRun
	err := row.Scan(
		&run.ID,
		&run.SiteID,
		&run.Status,
		&run.StartURL,
		&run.StartedAt,
		&run.FinishedAt,
		&run.UpdatedAt,
		&run.TotalLinks,
		&run.CheckedLinks,
		&run.BrokenLinks,
		&run.ErrorMessage,
	)
	if err != nil {
		return linkscan.ScanRun{}, err
	}
	return run, nil
}
