package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// CreateRule appends a rule; slice order is creation order, which downstream
// first-match evaluation depends on.
func (s *Store) CreateRule(_ context.Context, rule linkscan.IgnoreRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.ruleIndex[rule.ID]; exists {
		return fmt.Errorf("rule %s already exists", rule.ID)
	}
	s.ruleIndex[rule.ID] = len(s.rules)
	s.rules = append(s.rules, rule)
	return nil
}

// GetRule loads a rule by ID.
func (s *Store) GetRule(_ context.Context, ruleID uuid.UUID) (linkscan.IgnoreRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.ruleIndex[ruleID]
	if !ok {
		return linkscan.IgnoreRule{}, linkscan.ErrNotFound
	}
	return s.rules[idx], nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(_ context.Context, ruleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.ruleIndex[ruleID]
	if !ok {
		return linkscan.ErrNotFound
	}
	s.rules = append(s.rules[:idx], s.rules[idx+1:]...)
	delete(s.ruleIndex, ruleID)
	for i := idx; i < len(s.rules); i++ {
		s.ruleIndex[s.rules[i].ID] = i
	}
	return nil
}

// SetRuleEnabled toggles a rule.
func (s *Store) SetRuleEnabled(_ context.Context, ruleID uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.ruleIndex[ruleID]
	if !ok {
		return linkscan.ErrNotFound
	}
	s.rules[idx].Enabled = enabled
	return nil
}

// ListRules pages rules in creation order. A nil siteID lists every rule;
// otherwise the site's own rules plus the global ones.
func (s *Store) ListRules(
	_ context.Context,
	siteID *uuid.UUID,
	limit, offset int,
) ([]linkscan.IgnoreRule, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []linkscan.IgnoreRule
	for _, rule := range s.rules {
		if siteID == nil || rule.SiteID == nil || *rule.SiteID == *siteID {
			matches = append(matches, rule)
		}
	}
	total := len(matches)
	return paginate(matches, limit, offset), total, nil
}

// EnabledRulesForSite returns site-scoped plus global enabled rules in
// creation order.
func (s *Store) EnabledRulesForSite(_ context.Context, siteID uuid.UUID) ([]linkscan.IgnoreRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []linkscan.IgnoreRule
	for _, rule := range s.rules {
		if !rule.Enabled {
			continue
		}
		if rule.SiteID == nil || *rule.SiteID == siteID {
			matches = append(matches, rule)
		}
	}
	return matches, nil
}
