package rules

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	uuidgen "github.com/cbmoss/linksentry/internal/id/uuid"
	"github.com/cbmoss/linksentry/internal/linkscan"
	"github.com/cbmoss/linksentry/internal/storage/memory"
)

type stubClock struct {
	now time.Time
}

func (c stubClock) Now() time.Time { return c.now }

func newService(t *testing.T) (*Service, *memory.Store, uuid.UUID, uuid.UUID) {
	t.Helper()

	clock := stubClock{now: time.Unix(1700000000, 0).UTC()}
	store := memory.NewStore(clock)
	svc := NewService(store, store, clock, uuidgen.New(), nil)

	siteID := uuid.Must(uuid.NewV7())
	runID := uuid.Must(uuid.NewV7())
	return svc, store, siteID, runID
}

func seedLink(t *testing.T, store *memory.Store, runID uuid.UUID, url string, cls linkscan.Classification, code int) linkscan.ScanLink {
	t.Helper()

	now := time.Unix(1700000000, 0).UTC()
	l := linkscan.ScanLink{
		RunID:       runID,
		URL:         url,
		State:       cls,
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	if code != 0 {
		l.StatusCode = &code
	}
	stored, err := store.InsertLink(context.Background(), l, "https://site.test/")
	require.NoError(t, err)
	return stored
}

func TestReapplyPartitionsLinks(t *testing.T) {
	t.Parallel()

	svc, store, siteID, runID := newService(t)
	ctx := context.Background()

	seedLink(t, store, runID, "https://site.test/ok", linkscan.LinkOK, 200)
	seedLink(t, store, runID, "https://site.test/legal/terms", linkscan.LinkBroken, 404)
	seedLink(t, store, runID, "https://ads.tracker.test/pixel", linkscan.LinkBlocked, 403)

	_, err := svc.CreateRule(ctx, &siteID, linkscan.RuleContains, "/legal/", true)
	require.NoError(t, err)
	_, err = svc.CreateRule(ctx, nil, linkscan.RuleDomain, "ads.tracker.test", true)
	require.NoError(t, err)

	result, err := svc.Reapply(ctx, siteID, runID, false)
	require.NoError(t, err)
	require.Equal(t, 2, result.Ignored)

	active, err := store.AllLinks(ctx, runID, false)
	require.NoError(t, err)
	ignored, err := store.AllLinks(ctx, runID, true)
	require.NoError(t, err)

	// Every discovered URL sits in exactly one bucket.
	require.Len(t, active, 1)
	require.Len(t, ignored, 2)
	seen := map[string]int{}
	for _, l := range active {
		seen[l.URL]++
	}
	for _, l := range ignored {
		seen[l.URL]++
		require.Equal(t, linkscan.IgnoreSourceRule, l.IgnoredSource)
		require.NotNil(t, l.IgnoredByRuleID)
	}
	require.Len(t, seen, 3)
	for url, count := range seen {
		require.Equal(t, 1, count, "url %s in both buckets", url)
	}

	// Idempotent: a second pass changes nothing.
	again, err := svc.Reapply(ctx, siteID, runID, false)
	require.NoError(t, err)
	require.Zero(t, again.Ignored)
	require.Zero(t, again.Restored)
}

func TestReapplyForceRestoresWhenRuleDisabled(t *testing.T) {
	t.Parallel()

	svc, store, siteID, runID := newService(t)
	ctx := context.Background()

	seedLink(t, store, runID, "https://site.test/legal/terms", linkscan.LinkBroken, 404)
	rule, err := svc.CreateRule(ctx, &siteID, linkscan.RuleContains, "/legal/", true)
	require.NoError(t, err)

	_, err = svc.Reapply(ctx, siteID, runID, false)
	require.NoError(t, err)

	require.NoError(t, store.SetRuleEnabled(ctx, rule.ID, false))

	// Without force the ignored link stays put.
	result, err := svc.Reapply(ctx, siteID, runID, false)
	require.NoError(t, err)
	require.Zero(t, result.Restored)

	result, err = svc.Reapply(ctx, siteID, runID, true)
	require.NoError(t, err)
	require.Equal(t, 1, result.Restored)

	active, err := store.AllLinks(ctx, runID, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "https://site.test/legal/terms", active[0].URL)
}

func TestReapplyForceKeepsManualIgnores(t *testing.T) {
	t.Parallel()

	svc, store, siteID, runID := newService(t)
	ctx := context.Background()

	seedLink(t, store, runID, "https://site.test/flaky", linkscan.LinkBroken, 404)
	_, err := svc.ManualIgnore(ctx, siteID, IgnoreRequest{RunID: runID, URL: "https://site.test/flaky"})
	require.NoError(t, err)

	result, err := svc.Reapply(ctx, siteID, runID, true)
	require.NoError(t, err)
	require.Zero(t, result.Restored)

	ignored, err := store.AllLinks(ctx, runID, true)
	require.NoError(t, err)
	require.Len(t, ignored, 1)
	require.Equal(t, linkscan.IgnoreSourceManual, ignored[0].IgnoredSource)
}

func TestManualIgnoreRunOnly(t *testing.T) {
	t.Parallel()

	svc, store, siteID, runID := newService(t)
	ctx := context.Background()

	seedLink(t, store, runID, "https://site.test/gone", linkscan.LinkBroken, 404)

	created, err := svc.ManualIgnore(ctx, siteID, IgnoreRequest{RunID: runID, URL: "https://site.test/gone"})
	require.NoError(t, err)
	require.Nil(t, created)

	found, err := store.FindLink(ctx, runID, "https://site.test/gone")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.True(t, found.Ignored)
	require.Equal(t, linkscan.IgnoreSourceManual, found.IgnoredSource)
	require.Nil(t, found.IgnoredByRuleID)
}

func TestManualIgnoreCreatesExactRule(t *testing.T) {
	t.Parallel()

	svc, store, siteID, runID := newService(t)
	ctx := context.Background()

	seedLink(t, store, runID, "https://site.test/gone", linkscan.LinkBroken, 404)

	created, err := svc.ManualIgnore(ctx, siteID, IgnoreRequest{
		RunID:      runID,
		URL:        "https://site.test/gone",
		CreateRule: true,
		RuleType:   linkscan.RuleExact,
	})
	require.NoError(t, err)
	require.NotNil(t, created)
	require.Equal(t, linkscan.RuleExact, created.Type)
	require.Equal(t, "https://site.test/gone", created.Pattern)
	require.NotNil(t, created.SiteID)
	require.Equal(t, siteID, *created.SiteID)

	found, err := store.FindLink(ctx, runID, "https://site.test/gone")
	require.NoError(t, err)
	require.True(t, found.Ignored)
	require.Equal(t, linkscan.IgnoreSourceRule, found.IgnoredSource)
	require.Equal(t, created.ID, *found.IgnoredByRuleID)
}

func TestManualIgnoreMissingLink(t *testing.T) {
	t.Parallel()

	svc, _, siteID, runID := newService(t)

	_, err := svc.ManualIgnore(context.Background(), siteID, IgnoreRequest{
		RunID: runID,
		URL:   "https://site.test/never-seen",
	})
	require.ErrorIs(t, err, linkscan.ErrNotFound)
}

func TestUnignoreRestoresLink(t *testing.T) {
	t.Parallel()

	svc, store, siteID, runID := newService(t)
	ctx := context.Background()

	seedLink(t, store, runID, "https://site.test/gone", linkscan.LinkBroken, 404)
	_, err := svc.ManualIgnore(ctx, siteID, IgnoreRequest{RunID: runID, URL: "https://site.test/gone"})
	require.NoError(t, err)

	require.NoError(t, svc.Unignore(ctx, runID, "https://site.test/gone"))

	found, err := store.FindLink(ctx, runID, "https://site.test/gone")
	require.NoError(t, err)
	require.False(t, found.Ignored)
	require.Equal(t, linkscan.IgnoreSourceNone, found.IgnoredSource)
	require.Equal(t, 1, found.OccurrenceCount)
}

func TestDeleteRuleWithReapplyRestoresLinks(t *testing.T) {
	t.Parallel()

	svc, store, siteID, runID := newService(t)
	ctx := context.Background()

	seedLink(t, store, runID, "https://site.test/legal/a", linkscan.LinkBroken, 404)
	seedLink(t, store, runID, "https://site.test/legal/b", linkscan.LinkBroken, 404)

	rule, err := svc.CreateRule(ctx, &siteID, linkscan.RuleContains, "/legal/", true)
	require.NoError(t, err)
	_, err = svc.Reapply(ctx, siteID, runID, false)
	require.NoError(t, err)

	result, err := svc.DeleteRule(ctx, rule.ID, &siteID, &runID)
	require.NoError(t, err)
	require.Equal(t, 2, result.Restored)

	active, err := store.AllLinks(ctx, runID, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
}

func TestCreateRuleRejectsMalformedPattern(t *testing.T) {
	t.Parallel()

	svc, _, siteID, _ := newService(t)

	_, err := svc.CreateRule(context.Background(), &siteID, linkscan.RuleRegex, `[unclosed`, true)
	require.ErrorIs(t, err, linkscan.ErrInvalidRule)
}
