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

const siteColumns = `id, url, schedule_enabled, frequency, time_of_day, day_of_week, next_scheduled_at, last_scheduled_at`

// GetSite loads a site by ID.
func (s *Store) GetSite(ctx context.Context, siteID uuid.UUID) (linkscan.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE id = $1;`
	site, err := scanSite(s.db.QueryRow(ctx, query, siteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return linkscan.Site{}, linkscan.ErrNotFound
		}
		return linkscan.Site{}, fmt.Errorf("get site: %w", err)
	}
	return site, nil
}

// UpsertSite writes a site row; sites are owned elsewhere, this exists for
// the CLI and tests.
func (s *Store) UpsertSite(ctx context.Context, site linkscan.Site) error {
	query := `
		INSERT INTO sites (id, url, schedule_enabled, frequency, time_of_day, day_of_week, next_scheduled_at, last_scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url,
			schedule_enabled = EXCLUDED.schedule_enabled,
			frequency = EXCLUDED.frequency,
			time_of_day = EXCLUDED.time_of_day,
			day_of_week = EXCLUDED.day_of_week,
			next_scheduled_at = EXCLUDED.next_scheduled_at,
			last_scheduled_at = EXCLUDED.last_scheduled_at;
	`
	_, err := s.db.Exec(ctx, query,
		site.ID, site.URL, site.ScheduleEnabled, site.Frequency,
		site.TimeOfDay, site.DayOfWeek, site.NextScheduledAt, site.LastScheduledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}
	return nil
}

// ListDue returns schedule-enabled sites whose next_scheduled_at has passed,
// soonest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]linkscan.Site, error) {
	query := `
		SELECT ` + siteColumns + `
		FROM sites
		WHERE schedule_enabled AND next_scheduled_at IS NOT NULL AND next_scheduled_at <= $1
		ORDER BY next_scheduled_at ASC
		LIMIT $2;
	`
	rows, err := s.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due sites: %w", err)
	}
	defer rows.Close()

	var sites []linkscan.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site row: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}

// MarkScheduled records a dispatch and advances the schedule pointer.
func (s *Store) MarkScheduled(ctx context.Context, siteID uuid.UUID, at time.Time, next *time.Time) error {
	query := `
		UPDATE sites SET last_scheduled_at = $2, next_scheduled_at = $3 WHERE id = $1;
	`
	tag, err := s.db.Exec(ctx, query, siteID, at, next)
	if err != nil {
		return fmt.Errorf("mark site scheduled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}
	return nil
}

func scanSite(row pgx.Row) (linkscan.Site, error) {
	var site linkscan.Site
	err := row.Scan(
		&site.ID,
		&site.URL,
		&site.ScheduleEnabled,
		&site.Frequency,
		&site.TimeOfDay,
		&site.DayOfWeek,
		&site.NextScheduledAt,
		&site.LastScheduledAt,
	)
	if err != nil {
		return linkscan.Site{}, err
	}
	return site, nil
}
