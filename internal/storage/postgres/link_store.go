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

const activeLinkColumns = `id, scan_run_id, link_url, classification, status_code, error_message, occurrence_count, first_seen_at, last_seen_at`
const ignoredLinkColumns = activeLinkColumns + `, ignored_source, ignored_by_rule_id, ignored_at`

func linkTable(ignoredBucket bool) string {
	if ignoredBucket {
		return "scan_ignored_links"
	}
	return "scan_links"
}

func occurrenceTable(ignoredBucket bool) string {
	if ignoredBucket {
		return "scan_ignored_occurrences"
	}
	return "scan_link_occurrences"
}

// FindLink looks up (run, url) across both buckets.
func (s *Store) FindLink(ctx context.Context, runID uuid.UUID, url string) (*linkscan.ScanLink, error) {
	active := `SELECT ` + activeLinkColumns + ` FROM scan_links WHERE scan_run_id = $1 AND link_url = $2;`
	link, err := scanActiveLink(s.db.QueryRow(ctx, active, runID, url))
	if err == nil {
		return &link, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("find active link: %w", err)
	}

	ignored := `SELECT ` + ignoredLinkColumns + ` FROM scan_ignored_links WHERE scan_run_id = $1 AND link_url = $2;`
	link, err = scanIgnoredLink(s.db.QueryRow(ctx, ignored, runID, url))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find ignored link: %w", err)
	}
	return &link, nil
}

// InsertLink records a first sighting plus its first occurrence in one
// transaction; the Ignored flag selects the bucket.
func (s *Store) InsertLink(ctx context.Context, link linkscan.ScanLink, sourcePage string) (linkscan.ScanLink, error) {
	if link.ID == uuid.Nil {
		link.ID = uuid.Must(uuid.NewV7())
	}
	if link.OccurrenceCount == 0 {
		link.OccurrenceCount = 1
	}
	if link.IgnoredSource == "" {
		link.IgnoredSource = linkscan.IgnoreSourceNone
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return linkscan.ScanLink{}, fmt.Errorf("begin insert link: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if link.Ignored {
		query := `
			INSERT INTO scan_ignored_links
				(id, scan_run_id, link_url, classification, status_code, error_message,
				 occurrence_count, first_seen_at, last_seen_at, ignored_source, ignored_by_rule_id, ignored_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
		`
		_, err = tx.Exec(ctx, query,
			link.ID, link.RunID, link.URL, link.State, link.StatusCode, link.ErrorMessage,
			link.OccurrenceCount, link.FirstSeenAt, link.LastSeenAt,
			link.IgnoredSource, link.IgnoredByRuleID, link.IgnoredAt,
		)
	} else {
		query := `
			INSERT INTO scan_links
				(id, scan_run_id, link_url, classification, status_code, error_message,
				 occurrence_count, first_seen_at, last_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
		`
		_, err = tx.Exec(ctx, query,
			link.ID, link.RunID, link.URL, link.State, link.StatusCode, link.ErrorMessage,
			link.OccurrenceCount, link.FirstSeenAt, link.LastSeenAt,
		)
	}
	if err != nil {
		return linkscan.ScanLink{}, fmt.Errorf("insert link: %w", err)
	}

	occQuery := fmt.Sprintf(
		`INSERT INTO %s (scan_link_id, source_page, created_at) VALUES ($1, $2, $3);`,
		occurrenceTable(link.Ignored),
	)
	if _, err := tx.Exec(ctx, occQuery, link.ID, sourcePage, link.FirstSeenAt); err != nil {
		return linkscan.ScanLink{}, fmt.Errorf("insert first occurrence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return linkscan.ScanLink{}, fmt.Errorf("commit insert link: %w", err)
	}
	return link, nil
}

// AddOccurrence appends a sighting, bumping occurrence_count and
// last_seen_at. Classification is never touched: first sighting wins.
func (s *Store) AddOccurrence(
	ctx context.Context,
	linkID uuid.UUID,
	ignoredBucket bool,
	sourcePage string,
	at time.Time,
) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin add occurrence: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	bump := fmt.Sprintf(
		`UPDATE %s SET occurrence_count = occurrence_count + 1, last_seen_at = $2 WHERE id = $1;`,
		linkTable(ignoredBucket),
	)
	tag, err := tx.Exec(ctx, bump, linkID, at)
	if err != nil {
		return fmt.Errorf("bump occurrence count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}

	insert := fmt.Sprintf(
		`INSERT INTO %s (scan_link_id, source_page, created_at) VALUES ($1, $2, $3);`,
		occurrenceTable(ignoredBucket),
	)
	if _, err := tx.Exec(ctx, insert, linkID, sourcePage, at); err != nil {
		return fmt.Errorf("insert occurrence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit add occurrence: %w", err)
	}
	return nil
}

// ListLinks pages one bucket of a run, ordered by first sighting.
func (s *Store) ListLinks(
	ctx context.Context,
	runID uuid.UUID,
	ignoredBucket bool,
	cls *linkscan.Classification,
	limit, offset int,
) ([]linkscan.ScanLink, int, error) {
	table := linkTable(ignoredBucket)

	var total int
	countQuery := fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE scan_run_id = $1 AND ($2::text IS NULL OR classification = $2);`,
		table,
	)
	if err := s.db.QueryRow(ctx, countQuery, runID, cls).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count links: %w", err)
	}

	columns := activeLinkColumns
	if ignoredBucket {
		columns = ignoredLinkColumns
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE scan_run_id = $1 AND ($2::text IS NULL OR classification = $2)
		ORDER BY first_seen_at, link_url
		LIMIT $3 OFFSET $4;
	`, columns, table)
	rows, err := s.db.Query(ctx, query, runID, cls, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	links, err := collectLinks(rows, ignoredBucket)
	if err != nil {
		return nil, 0, err
	}
	return links, total, nil
}

// ListOccurrences pages the sightings of one link in discovery order.
func (s *Store) ListOccurrences(
	ctx context.Context,
	linkID uuid.UUID,
	ignoredBucket bool,
	limit, offset int,
) ([]linkscan.LinkOccurrence, int, error) {
	table := occurrenceTable(ignoredBucket)

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE scan_link_id = $1;`, table)
	if err := s.db.QueryRow(ctx, countQuery, linkID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count occurrences: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, scan_link_id, source_page, created_at FROM %s
		WHERE scan_link_id = $1
		ORDER BY created_at
		LIMIT $2 OFFSET $3;
	`, table)
	rows, err := s.db.Query(ctx, query, linkID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var occ []linkscan.LinkOccurrence
	for rows.Next() {
		var o linkscan.LinkOccurrence
		if err := rows.Scan(&o.ID, &o.LinkID, &o.SourcePage, &o.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan occurrence row: %w", err)
		}
		occ = append(occ, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate occurrences: %w", err)
	}
	return occ, total, nil
}

// AllLinks returns a full bucket snapshot for reapply and the diff engine.
func (s *Store) AllLinks(ctx context.Context, runID uuid.UUID, ignoredBucket bool) ([]linkscan.ScanLink, error) {
	columns := activeLinkColumns
	if ignoredBucket {
		columns = ignoredLinkColumns
	}
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE scan_run_id = $1 ORDER BY first_seen_at, link_url;`,
		columns, linkTable(ignoredBucket),
	)
	rows, err := s.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("all links: %w", err)
	}
	defer rows.Close()
	return collectLinks(rows, ignoredBucket)
}

// MoveToIgnored moves an active link and its occurrences to the ignored
// bucket in one transaction.
func (s *Store) MoveToIgnored(
	ctx context.Context,
	linkID uuid.UUID,
	source linkscan.IgnoreSource,
	ruleID *uuid.UUID,
	at time.Time,
) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin move to ignored: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	copyLink := `
		INSERT INTO scan_ignored_links
			(id, scan_run_id, link_url, classification, status_code, error_message,
			 occurrence_count, first_seen_at, last_seen_at, ignored_source, ignored_by_rule_id, ignored_at)
		SELECT id, scan_run_id, link_url, classification, status_code, error_message,
		       occurrence_count, first_seen_at, last_seen_at, $2, $3, $4
		FROM scan_links WHERE id = $1;
	`
	tag, err := tx.Exec(ctx, copyLink, linkID, source, ruleID, at)
	if err != nil {
		return fmt.Errorf("copy link to ignored: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}

	copyOcc := `
		INSERT INTO scan_ignored_occurrences (scan_link_id, source_page, created_at)
		SELECT scan_link_id, source_page, created_at
		FROM scan_link_occurrences WHERE scan_link_id = $1;
	`
	if _, err := tx.Exec(ctx, copyOcc, linkID); err != nil {
		return fmt.Errorf("copy occurrences to ignored: %w", err)
	}

	// The ON DELETE CASCADE on scan_link_occurrences cleans up the originals.
	if _, err := tx.Exec(ctx, `DELETE FROM scan_links WHERE id = $1;`, linkID); err != nil {
		return fmt.Errorf("delete active link: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit move to ignored: %w", err)
	}
	return nil
}

// MoveToActive moves an ignored link back, clearing ignore metadata.
func (s *Store) MoveToActive(ctx context.Context, runID uuid.UUID, url string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin move to active: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	copyLink := `
		INSERT INTO scan_links
			(id, scan_run_id, link_url, classification, status_code, error_message,
			 occurrence_count, first_seen_at, last_seen_at)
		SELECT id, scan_run_id, link_url, classification, status_code, error_message,
		       occurrence_count, first_seen_at, last_seen_at
		FROM scan_ignored_links WHERE scan_run_id = $1 AND link_url = $2;
	`
	tag, err := tx.Exec(ctx, copyLink, runID, url)
	if err != nil {
		return fmt.Errorf("copy link to active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}

	copyOcc := `
		INSERT INTO scan_link_occurrences (scan_link_id, source_page, created_at)
		SELECT o.scan_link_id, o.source_page, o.created_at
		FROM scan_ignored_occurrences o
		JOIN scan_ignored_links l ON l.id = o.scan_link_id
		WHERE l.scan_run_id = $1 AND l.link_url = $2;
	`
	if _, err := tx.Exec(ctx, copyOcc, runID, url); err != nil {
		return fmt.Errorf("copy occurrences to active: %w", err)
	}

	del := `DELETE FROM scan_ignored_links WHERE scan_run_id = $1 AND link_url = $2;`
	if _, err := tx.Exec(ctx, del, runID, url); err != nil {
		return fmt.Errorf("delete ignored link: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit move to active: %w", err)
	}
	return nil
}

// ResetRun drops the run's links in both buckets; the occurrence tables
// follow via ON DELETE CASCADE.
func (s *Store) ResetRun(ctx context.Context, runID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset run: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `DELETE FROM scan_ignored_links WHERE scan_run_id = $1;`, runID); err != nil {
		return fmt.Errorf("reset ignored links: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM scan_links WHERE scan_run_id = $1;`, runID); err != nil {
		return fmt.Errorf("reset active links: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset run: %w", err)
	}
	return nil
}

func collectLinks(rows pgx.Rows, ignoredBucket bool) ([]linkscan.ScanLink, error) {
	var links []linkscan.ScanLink
	for rows.Next() {
		var (
			link linkscan.ScanLink
			err  error
		)
		if ignoredBucket {
			link, err = scanIgnoredLink(rows)
		} else {
			link, err = scanActiveLink(rows)
		}
		if err != nil {
			return nil, fmt.Errorf("scan link row: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

func scanActiveLink(row pgx.Row) (linkscan.ScanLink, error) {
	var link linkscan.ScanLink
	err := row.Scan(
		&link.ID,
		&link.RunID,
		&link.URL,
		&link.State,
		&link.StatusCode,
		&link.ErrorMessage,
		&link.OccurrenceCount,
		&link.FirstSeenAt,
		&link.LastSeenAt,
	)
	if err != nil {
		return linkscan.ScanLink{}, err
	}
	link.IgnoredSource = linkscan.IgnoreSourceNone
	return link, nil
}

func scanIgnoredLink(row pgx.Row) (linkscan.ScanLink, error) {
	var link linkscan.ScanLink
	err := row.Scan(
		&link.ID,
		&link.RunID,
		&link.URL,
		&link.State,
		&link.StatusCode,
		&link.ErrorMessage,
		&link.OccurrenceCount,
		&link.FirstSeenAt,
		&link.LastSeenAt,
		&link.IgnoredSource,
		&link.IgnoredByRuleID,
		&link.IgnoredAt,
	)
	if err != nil {
		return linkscan.ScanLink{}, err
	}
	link.Ignored = true
	return link, nil
}
