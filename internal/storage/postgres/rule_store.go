package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

const ruleColumns = `id, site_id, rule_type, pattern, is_enabled, created_at`

// CreateRule stores a validated ignore rule.
func (s *Store) CreateRule(ctx context.Context, rule linkscan.IgnoreRule) error {
	query := `
		INSERT INTO ignore_rules (id, site_id, rule_type, pattern, is_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6);
	`
	_, err := s.db.Exec(ctx, query,
		rule.ID, rule.SiteID, rule.Type, rule.Pattern, rule.Enabled, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create rule: %w", err)
	}
	return nil
}

// GetRule loads a rule by ID.
func (s *Store) GetRule(ctx context.Context, ruleID uuid.UUID) (linkscan.IgnoreRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM ignore_rules WHERE id = $1;`
	rule, err := scanRule(s.db.QueryRow(ctx, query, ruleID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return linkscan.IgnoreRule{}, linkscan.ErrNotFound
		}
		return linkscan.IgnoreRule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// DeleteRule removes a rule. Links it already ignored stay ignored.
func (s *Store) DeleteRule(ctx context.Context, ruleID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM ignore_rules WHERE id = $1;`, ruleID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}
	return nil
}

// SetRuleEnabled toggles a rule without touching links already placed by it.
func (s *Store) SetRuleEnabled(ctx context.Context, ruleID uuid.UUID, enabled bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE ignore_rules SET is_enabled = $2 WHERE id = $1;`, ruleID, enabled)
	if err != nil {
		return fmt.Errorf("set rule enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return linkscan.ErrNotFound
	}
	return nil
}

// ListRules pages rules in creation order. A nil siteID lists every rule;
// otherwise the site's own rules plus the global ones.
func (s *Store) ListRules(
	ctx context.Context,
	siteID *uuid.UUID,
	limit, offset int,
) ([]linkscan.IgnoreRule, int, error) {
	var total int
	countQuery := `
		SELECT COUNT(*) FROM ignore_rules
		WHERE $1::uuid IS NULL OR site_id = $1 OR site_id IS NULL;
	`
	if err := s.db.QueryRow(ctx, countQuery, siteID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count rules: %w", err)
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM ignore_rules
		WHERE $1::uuid IS NULL OR site_id = $1 OR site_id IS NULL
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3;
	`
	rows, err := s.db.Query(ctx, query, siteID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	rules, err := collectRules(rows)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// EnabledRulesForSite returns the enabled rules that apply to a site, the
// site's own plus the global ones, in creation order.
func (s *Store) EnabledRulesForSite(ctx context.Context, siteID uuid.UUID) ([]linkscan.IgnoreRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM ignore_rules
		WHERE is_enabled AND (site_id = $1 OR site_id IS NULL)
		ORDER BY created_at, id;
	`
	rows, err := s.db.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("enabled rules for site: %w", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

func collectRules(rows pgx.Rows) ([]linkscan.IgnoreRule, error) {
	var rules []linkscan.IgnoreRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func scanRule(row pgx.Row) (linkscan.IgnoreRule, error) {
	var rule linkscan.IgnoreRule
	err := row.Scan(
		&rule.ID,
		&rule.SiteID,
		&rule.Type,
		&rule.Pattern,
		&rule.Enabled,
		&rule.CreatedAt,
	)
	if err != nil {
		return linkscan.IgnoreRule{}, err
	}
	return rule, nil
}
