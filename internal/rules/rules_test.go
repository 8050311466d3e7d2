package rules

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

func TestValidatePattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ruleType linkscan.RuleType
		pattern  string
		wantErr  bool
	}{
		{name: "contains", ruleType: linkscan.RuleContains, pattern: "/legal/"},
		{name: "exact", ruleType: linkscan.RuleExact, pattern: "https://example.com/a"},
		{name: "valid regex", ruleType: linkscan.RuleRegex, pattern: `^https://cdn\.`},
		{name: "malformed regex", ruleType: linkscan.RuleRegex, pattern: `[unclosed`, wantErr: true},
		{name: "numeric status code", ruleType: linkscan.RuleStatusCode, pattern: "429"},
		{name: "non-numeric status code", ruleType: linkscan.RuleStatusCode, pattern: "4xx", wantErr: true},
		{name: "known classification", ruleType: linkscan.RuleClassification, pattern: "blocked"},
		{name: "unknown classification", ruleType: linkscan.RuleClassification, pattern: "flaky", wantErr: true},
		{name: "domain", ruleType: linkscan.RuleDomain, pattern: "ads.example.com"},
		{name: "path prefix", ruleType: linkscan.RulePathPrefix, pattern: "/archive/"},
		{name: "empty pattern", ruleType: linkscan.RuleContains, pattern: "", wantErr: true},
		{name: "unknown type", ruleType: linkscan.RuleType("glob"), pattern: "*", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePattern(tc.ruleType, tc.pattern)
			if tc.wantErr {
				require.ErrorIs(t, err, linkscan.ErrInvalidRule)
				return
			}
			require.NoError(t, err)
		})
	}
}

func link(url string, cls linkscan.Classification, code int) linkscan.ScanLink {
	l := linkscan.ScanLink{URL: url, State: cls}
	if code != 0 {
		l.StatusCode = &code
	}
	return l
}

func rule(ruleType linkscan.RuleType, pattern string) linkscan.IgnoreRule {
	return linkscan.IgnoreRule{
		ID:      uuid.Must(uuid.NewV7()),
		Type:    ruleType,
		Pattern: pattern,
		Enabled: true,
	}
}

func TestMatcherSemantics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		rule  linkscan.IgnoreRule
		link  linkscan.ScanLink
		match bool
	}{
		{
			name:  "contains substring",
			rule:  rule(linkscan.RuleContains, "/legal/"),
			link:  link("https://example.com/legal/terms", linkscan.LinkBroken, 404),
			match: true,
		},
		{
			name:  "contains miss",
			rule:  rule(linkscan.RuleContains, "/legal/"),
			link:  link("https://example.com/blog", linkscan.LinkOK, 200),
			match: false,
		},
		{
			name:  "exact",
			rule:  rule(linkscan.RuleExact, "https://example.com/a"),
			link:  link("https://example.com/a", linkscan.LinkOK, 200),
			match: true,
		},
		{
			name:  "exact does not match prefix",
			rule:  rule(linkscan.RuleExact, "https://example.com/a"),
			link:  link("https://example.com/a/b", linkscan.LinkOK, 200),
			match: false,
		},
		{
			name:  "regex",
			rule:  rule(linkscan.RuleRegex, `^https://cdn\.`),
			link:  link("https://cdn.example.com/app.js", linkscan.LinkNoResponse, 0),
			match: true,
		},
		{
			name:  "status code",
			rule:  rule(linkscan.RuleStatusCode, "429"),
			link:  link("https://api.example.com/v1", linkscan.LinkBlocked, 429),
			match: true,
		},
		{
			name:  "status code without response",
			rule:  rule(linkscan.RuleStatusCode, "429"),
			link:  link("https://api.example.com/v1", linkscan.LinkNoResponse, 0),
			match: false,
		},
		{
			name:  "classification",
			rule:  rule(linkscan.RuleClassification, "blocked"),
			link:  link("https://example.com/admin", linkscan.LinkBlocked, 403),
			match: true,
		},
		{
			name:  "domain equals hostname",
			rule:  rule(linkscan.RuleDomain, "ads.example.com"),
			link:  link("https://ads.example.com/pixel", linkscan.LinkBroken, 410),
			match: true,
		},
		{
			name:  "domain does not match subpath",
			rule:  rule(linkscan.RuleDomain, "example.com"),
			link:  link("https://ads.example.com/pixel", linkscan.LinkBroken, 410),
			match: false,
		},
		{
			name:  "path prefix",
			rule:  rule(linkscan.RulePathPrefix, "/archive/"),
			link:  link("https://example.com/archive/2019/post", linkscan.LinkBroken, 404),
			match: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewMatcher([]linkscan.IgnoreRule{tc.rule})
			got := m.Match(tc.link)
			if tc.match {
				require.NotNil(t, got)
				require.Equal(t, tc.rule.ID, got.ID)
				return
			}
			require.Nil(t, got)
		})
	}
}

func TestMatcherFirstMatchWins(t *testing.T) {
	t.Parallel()

	first := rule(linkscan.RuleContains, "example.com")
	second := rule(linkscan.RuleClassification, "broken")
	m := NewMatcher([]linkscan.IgnoreRule{first, second})

	got := m.Match(link("https://example.com/gone", linkscan.LinkBroken, 404))
	require.NotNil(t, got)
	require.Equal(t, first.ID, got.ID)
}

func TestNilMatcherMatchesNothing(t *testing.T) {
	t.Parallel()

	var m *Matcher
	require.Nil(t, m.Match(link("https://example.com", linkscan.LinkOK, 200)))
}
