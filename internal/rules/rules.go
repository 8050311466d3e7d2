// Package rules implements the ignore-rule engine: pattern validation,
// link matching, and the operations that move links between the active and
// ignored buckets.
package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// ValidatePattern rejects patterns that could never match at evaluation
// time. Malformed rules are refused at creation instead of silently doing
// nothing.
func ValidatePattern(ruleType linkscan.RuleType, pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: pattern is required", linkscan.ErrInvalidRule)
	}
	switch ruleType {
	case linkscan.RuleContains, linkscan.RuleExact, linkscan.RuleDomain, linkscan.RulePathPrefix:
		return nil
	case linkscan.RuleRegex:
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: %v", linkscan.ErrInvalidRule, err)
		}
		return nil
	case linkscan.RuleStatusCode:
		if _, err := strconv.Atoi(pattern); err != nil {
			return fmt.Errorf("%w: status_code pattern must be numeric", linkscan.ErrInvalidRule)
		}
		return nil
	case linkscan.RuleClassification:
		switch linkscan.Classification(pattern) {
		case linkscan.LinkOK, linkscan.LinkBroken, linkscan.LinkBlocked, linkscan.LinkNoResponse:
			return nil
		}
		return fmt.Errorf("%w: unknown classification %q", linkscan.ErrInvalidRule, pattern)
	default:
		return fmt.Errorf("%w: unknown rule type %q", linkscan.ErrInvalidRule, ruleType)
	}
}

// Matcher evaluates an ordered rule set against links. Regex patterns are
// compiled once at construction; rules that fail to compile are skipped
// (creation-time validation makes that unreachable in practice).
type Matcher struct {
	rules []compiledRule
}

type compiledRule struct {
	rule linkscan.IgnoreRule
	re   *regexp.Regexp
}

// NewMatcher compiles the rules, preserving their order.
func NewMatcher(ruleSet []linkscan.IgnoreRule) *Matcher {
	m := &Matcher{rules: make([]compiledRule, 0, len(ruleSet))}
	for _, rule := range ruleSet {
		cr := compiledRule{rule: rule}
		if rule.Type == linkscan.RuleRegex {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				continue
			}
			cr.re = re
		}
		m.rules = append(m.rules, cr)
	}
	return m
}

// Match returns the first rule that matches the link, or nil. Rules are
// evaluated in the order they were given (creation order).
func (m *Matcher) Match(link linkscan.ScanLink) *linkscan.IgnoreRule {
	if m == nil {
		return nil
	}
	for i := range m.rules {
		if m.rules[i].matches(link) {
			return &m.rules[i].rule
		}
	}
	return nil
}

func (c compiledRule) matches(link linkscan.ScanLink) bool {
	switch c.rule.Type {
	case linkscan.RuleContains:
		return strings.Contains(link.URL, c.rule.Pattern)
	case linkscan.RuleExact:
		return link.URL == c.rule.Pattern
	case linkscan.RuleRegex:
		return c.re != nil && c.re.MatchString(link.URL)
	case linkscan.RuleStatusCode:
		if link.StatusCode == nil {
			return false
		}
		code, err := strconv.Atoi(c.rule.Pattern)
		if err != nil {
			return false
		}
		return *link.StatusCode == code
	case linkscan.RuleClassification:
		return string(link.State) == c.rule.Pattern
	case linkscan.RuleDomain:
		return linkscan.Hostname(link.URL) == c.rule.Pattern
	case linkscan.RulePathPrefix:
		return strings.HasPrefix(linkscan.Path(link.URL), c.rule.Pattern)
	default:
		return false
	}
}
