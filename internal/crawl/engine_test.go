package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	system "github.com/cbmoss/linksentry/internal/clock/system"
	uuidgen "github.com/cbmoss/linksentry/internal/id/uuid"
	"github.com/cbmoss/linksentry/internal/linkscan"
	"github.com/cbmoss/linksentry/internal/rules"
	"github.com/cbmoss/linksentry/internal/storage/memory"
)

type fixture struct {
	engine *Engine
	store  *memory.Store
	rules  *rules.Service
	run    linkscan.ScanRun
	server *httptest.Server
}

func newFixture(t *testing.T, handler http.Handler, cfg Config) *fixture {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	clock := system.New()
	store := memory.NewStore(clock)
	ruleSvc := rules.NewService(store, store, clock, uuidgen.New(), nil)

	run := linkscan.ScanRun{
		ID:       uuid.Must(uuid.NewV7()),
		SiteID:   uuid.Must(uuid.NewV7()),
		Status:   linkscan.RunStatusInProgress,
		StartURL: server.URL + "/",
	}
	require.NoError(t, store.CreateRun(context.Background(), run))

	fetcher := NewCollyFetcher(FetcherConfig{
		UserAgent: "linksentry-test/0.1",
		Timeout:   5 * time.Second,
	})
	engine := NewEngine(fetcher, store, store, ruleSvc, clock, nil, nil, cfg)

	return &fixture{engine: engine, store: store, rules: ruleSvc, run: run, server: server}
}

func htmlPage(links ...string) string {
	body := "<html><body>"
	for _, l := range links {
		body += fmt.Sprintf(`<a href=%q>link</a>`, l)
	}
	return body + "</body></html>"
}

func serveHTML(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

func siteHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		serveHTML(w, htmlPage("/a", "/b", "/target", "/gone", "/admin"))
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		serveHTML(w, htmlPage("/target"))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		serveHTML(w, htmlPage("/target"))
	})
	mux.HandleFunc("/target", func(w http.ResponseWriter, _ *http.Request) {
		serveHTML(w, htmlPage())
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/admin", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	return mux
}

func TestEngineDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, siteHandler(), Config{})
	ctx := context.Background()

	sum, err := f.engine.Run(ctx, f.run)
	require.NoError(t, err)

	// /a, /b, /target, /gone, /admin: five distinct links.
	require.Equal(t, 5, sum.Total)
	require.Equal(t, 5, sum.Checked)
	require.Equal(t, 1, sum.Broken)

	target, err := f.store.FindLink(ctx, f.run.ID, f.server.URL+"/target")
	require.NoError(t, err)
	require.NotNil(t, target)
	require.Equal(t, linkscan.LinkOK, target.State)

	// Sighted on /, /a and /b: one row, three occurrences.
	require.Equal(t, 3, target.OccurrenceCount)
	occ, total, err := f.store.ListOccurrences(ctx, target.ID, false, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, occ, 3)

	pages := map[string]bool{}
	for _, o := range occ {
		pages[o.SourcePage] = true
	}
	require.Len(t, pages, 3)
}

func TestEngineClassifiesStatusFamilies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, siteHandler(), Config{})
	ctx := context.Background()

	_, err := f.engine.Run(ctx, f.run)
	require.NoError(t, err)

	gone, err := f.store.FindLink(ctx, f.run.ID, f.server.URL+"/gone")
	require.NoError(t, err)
	require.Equal(t, linkscan.LinkBroken, gone.State)
	require.Equal(t, http.StatusNotFound, *gone.StatusCode)

	admin, err := f.store.FindLink(ctx, f.run.ID, f.server.URL+"/admin")
	require.NoError(t, err)
	require.Equal(t, linkscan.LinkBlocked, admin.State)
	require.Equal(t, http.StatusForbidden, *admin.StatusCode)
}

func TestEngineRecordsNoResponseForDeadTargets(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL + "/"
	dead.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		serveHTML(w, htmlPage(deadURL))
	})

	f := newFixture(t, mux, Config{})
	ctx := context.Background()

	sum, err := f.engine.Run(ctx, f.run)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Total)

	link, err := f.store.FindLink(ctx, f.run.ID, deadURL)
	require.NoError(t, err)
	require.NotNil(t, link)
	require.Equal(t, linkscan.LinkNoResponse, link.State)
	require.Nil(t, link.StatusCode)
	require.NotNil(t, link.ErrorMessage)
}

func TestEngineRoutesRuleMatchesToIgnoredBucket(t *testing.T) {
	t.Parallel()

	f := newFixture(t, siteHandler(), Config{})
	ctx := context.Background()

	_, err := f.rules.CreateRule(ctx, &f.run.SiteID, linkscan.RuleContains, "/admin", true)
	require.NoError(t, err)

	sum, err := f.engine.Run(ctx, f.run)
	require.NoError(t, err)
	require.Equal(t, 5, sum.Total)

	admin, err := f.store.FindLink(ctx, f.run.ID, f.server.URL+"/admin")
	require.NoError(t, err)
	require.True(t, admin.Ignored)
	require.Equal(t, linkscan.IgnoreSourceRule, admin.IgnoredSource)
	require.NotNil(t, admin.IgnoredByRuleID)

	active, err := f.store.AllLinks(ctx, f.run.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 4)
}

func TestEngineRetrySameRunConverges(t *testing.T) {
	t.Parallel()

	f := newFixture(t, siteHandler(), Config{})
	ctx := context.Background()

	_, err := f.engine.Run(ctx, f.run)
	require.NoError(t, err)

	// The run id survives retries; a second attempt must yield the same
	// findings as a single clean crawl, not doubled occurrences.
	sum, err := f.engine.Run(ctx, f.run)
	require.NoError(t, err)
	require.Equal(t, 5, sum.Total)

	target, err := f.store.FindLink(ctx, f.run.ID, f.server.URL+"/target")
	require.NoError(t, err)
	require.NotNil(t, target)
	require.Equal(t, 3, target.OccurrenceCount)

	_, total, err := f.store.ListOccurrences(ctx, target.ID, false, 10, 0)
	require.NoError(t, err)
	require.Equal(t, 3, total)

	active, err := f.store.AllLinks(ctx, f.run.ID, false)
	require.NoError(t, err)
	require.Len(t, active, 5)
}

func TestEngineRetryAfterPartialAttemptCrawlsFully(t *testing.T) {
	t.Parallel()

	// The first attempt stops after the start page, leaving /a and /b
	// classified but never expanded.
	f := newFixture(t, siteHandler(), Config{MaxPages: 1})
	ctx := context.Background()

	_, err := f.engine.Run(ctx, f.run)
	require.NoError(t, err)

	full := NewEngine(
		NewCollyFetcher(FetcherConfig{UserAgent: "linksentry-test/0.1", Timeout: 5 * time.Second}),
		f.store, f.store, f.rules, system.New(), nil, nil, Config{},
	)
	sum, err := full.Run(ctx, f.run)
	require.NoError(t, err)

	// /, /a, /b and /target all get crawled on the retry.
	require.Equal(t, 4, sum.Pages)

	target, err := f.store.FindLink(ctx, f.run.ID, f.server.URL+"/target")
	require.NoError(t, err)
	require.NotNil(t, target)
	require.Equal(t, 3, target.OccurrenceCount)
}

func TestEngineRespectsPageCap(t *testing.T) {
	t.Parallel()

	f := newFixture(t, siteHandler(), Config{MaxPages: 1})

	sum, err := f.engine.Run(context.Background(), f.run)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Pages)
	// Links on the start page are still classified.
	require.Equal(t, 5, sum.Total)
}

func TestEngineStopsOnCancelledRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t, siteHandler(), Config{})
	ctx := context.Background()

	require.NoError(t, f.store.FinishRun(ctx, f.run.ID, linkscan.RunStatusCancelled, nil, time.Now().UTC()))

	_, err := f.engine.Run(ctx, f.run)
	require.ErrorIs(t, err, ErrCancelled)
}

func TestEngineFailsWhenStartURLUnreachable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, siteHandler(), Config{})
	f.run.StartURL = "http://127.0.0.1:1/" // nothing listens here

	_, err := f.engine.Run(context.Background(), f.run)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrCancelled)
}

func TestEngineUpdatesRunProgress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, siteHandler(), Config{ProgressFlushPages: 1})
	ctx := context.Background()

	sum, err := f.engine.Run(ctx, f.run)
	require.NoError(t, err)

	run, err := f.store.GetRun(ctx, f.run.ID)
	require.NoError(t, err)
	require.Equal(t, sum.Total, run.TotalLinks)
	require.Equal(t, sum.Checked, run.CheckedLinks)
	require.Equal(t, sum.Broken, run.BrokenLinks)
}
