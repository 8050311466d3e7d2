package rules

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// Service wires the rule store and link store into the ignore operations
// exposed to the API layer and the crawl engine.
type Service struct {
	rules  linkscan.RuleStore
	links  linkscan.LinkStore
	clock  linkscan.Clock
	ids    linkscan.IDGenerator
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(
	rules linkscan.RuleStore,
	links linkscan.LinkStore,
	clock linkscan.Clock,
	ids linkscan.IDGenerator,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{rules: rules, links: links, clock: clock, ids: ids, logger: logger}
}

// CreateRule validates and persists a new ignore rule. A nil siteID makes
// the rule global.
func (s *Service) CreateRule(
	ctx context.Context,
	siteID *uuid.UUID,
	ruleType linkscan.RuleType,
	pattern string,
	enabled bool,
) (linkscan.IgnoreRule, error) {
	if err := ValidatePattern(ruleType, pattern); err != nil {
		return linkscan.IgnoreRule{}, err
	}
	rule := linkscan.IgnoreRule{
		ID:        s.ids.NewID(),
		SiteID:    siteID,
		Type:      ruleType,
		Pattern:   pattern,
		Enabled:   enabled,
		CreatedAt: s.clock.Now(),
	}
	if err := s.rules.CreateRule(ctx, rule); err != nil {
		return linkscan.IgnoreRule{}, fmt.Errorf("create rule: %w", err)
	}
	return rule, nil
}

// MatcherForSite loads the site's enabled rules (site-scoped plus global)
// and compiles them for inline evaluation during a crawl.
func (s *Service) MatcherForSite(ctx context.Context, siteID uuid.UUID) (*Matcher, error) {
	ruleSet, err := s.rules.EnabledRulesForSite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("load rules for site: %w", err)
	}
	return NewMatcher(ruleSet), nil
}

// ReapplyResult summarizes one reapply pass.
type ReapplyResult struct {
	Ignored  int `json:"ignored"`
	Restored int `json:"restored"`
}

// Reapply re-evaluates the enabled rules against a run's active bucket and
// moves every match to the ignored bucket. With force set, rule-ignored
// links whose rule no longer matches (disabled, deleted, or edited away)
// are moved back to active; manual ignores are never touched. The pass is
// idempotent: repeating it with unchanged rules changes nothing.
func (s *Service) Reapply(ctx context.Context, siteID, runID uuid.UUID, force bool) (ReapplyResult, error) {
	var result ReapplyResult

	matcher, err := s.MatcherForSite(ctx, siteID)
	if err != nil {
		return result, err
	}

	active, err := s.links.AllLinks(ctx, runID, false)
	if err != nil {
		return result, fmt.Errorf("load active links: %w", err)
	}
	now := s.clock.Now()
	for _, link := range active {
		rule := matcher.Match(link)
		if rule == nil {
			continue
		}
		ruleID := rule.ID
		if err := s.links.MoveToIgnored(ctx, link.ID, linkscan.IgnoreSourceRule, &ruleID, now); err != nil {
			return result, fmt.Errorf("ignore link %s: %w", link.URL, err)
		}
		result.Ignored++
	}

	if force {
		restored, err := s.restoreUnmatched(ctx, runID, matcher)
		if err != nil {
			return result, err
		}
		result.Restored = restored
	}

	s.logger.Info("reapplied ignore rules",
		zap.String("run_id", runID.String()),
		zap.Int("ignored", result.Ignored),
		zap.Int("restored", result.Restored),
		zap.Bool("force", force),
	)
	return result, nil
}

func (s *Service) restoreUnmatched(ctx context.Context, runID uuid.UUID, matcher *Matcher) (int, error) {
	ignored, err := s.links.AllLinks(ctx, runID, true)
	if err != nil {
		return 0, fmt.Errorf("load ignored links: %w", err)
	}
	restored := 0
	for _, link := range ignored {
		if link.IgnoredSource != linkscan.IgnoreSourceRule {
			continue
		}
		if matcher.Match(link) != nil {
			continue
		}
		if err := s.links.MoveToActive(ctx, runID, link.URL); err != nil {
			return restored, fmt.Errorf("restore link %s: %w", link.URL, err)
		}
		restored++
	}
	return restored, nil
}

// IgnoreRequest describes a manual ignore. When CreateRule is set, a new
// persisted rule of RuleType/Pattern is created for the site and the link
// is recorded as rule-ignored; otherwise the ignore applies to this run
// only.
type IgnoreRequest struct {
	RunID      uuid.UUID
	URL        string
	CreateRule bool
	RuleType   linkscan.RuleType
	Pattern    string
}

// ManualIgnore moves one active link to the ignored bucket. It returns the
// created rule, if any.
func (s *Service) ManualIgnore(ctx context.Context, siteID uuid.UUID, req IgnoreRequest) (*linkscan.IgnoreRule, error) {
	link, err := s.links.FindLink(ctx, req.RunID, req.URL)
	if err != nil {
		return nil, fmt.Errorf("find link: %w", err)
	}
	if link == nil {
		return nil, linkscan.ErrNotFound
	}
	if link.Ignored {
		return nil, nil // already ignored, converged
	}

	now := s.clock.Now()
	if !req.CreateRule {
		if err := s.links.MoveToIgnored(ctx, link.ID, linkscan.IgnoreSourceManual, nil, now); err != nil {
			return nil, fmt.Errorf("ignore link: %w", err)
		}
		return nil, nil
	}

	pattern := req.Pattern
	if pattern == "" && req.RuleType == linkscan.RuleExact {
		pattern = req.URL
	}
	rule, err := s.CreateRule(ctx, &siteID, req.RuleType, pattern, true)
	if err != nil {
		return nil, err
	}
	if err := s.links.MoveToIgnored(ctx, link.ID, linkscan.IgnoreSourceRule, &rule.ID, now); err != nil {
		return nil, fmt.Errorf("ignore link: %w", err)
	}
	return &rule, nil
}

// Unignore moves a single ignored link back to the active bucket. It is
// the undo for manual ignores; undoing a rule ignore means deleting the
// rule and running Reapply with force.
func (s *Service) Unignore(ctx context.Context, runID uuid.UUID, url string) error {
	if err := s.links.MoveToActive(ctx, runID, url); err != nil {
		return fmt.Errorf("unignore link: %w", err)
	}
	return nil
}

// DeleteRule removes a rule and, when runID is provided, force-reapplies
// the remaining rules so links held ignored only by the deleted rule
// return to the active bucket.
func (s *Service) DeleteRule(ctx context.Context, ruleID uuid.UUID, siteID, runID *uuid.UUID) (ReapplyResult, error) {
	var result ReapplyResult
	if err := s.rules.DeleteRule(ctx, ruleID); err != nil {
		return result, fmt.Errorf("delete rule: %w", err)
	}
	if siteID == nil || runID == nil {
		return result, nil
	}
	return s.Reapply(ctx, *siteID, *runID, true)
}
