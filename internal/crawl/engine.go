package crawl

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/linkscan"
	"github.com/cbmoss/linksentry/internal/progress"
	"github.com/cbmoss/linksentry/internal/rules"
)

// ErrCancelled is returned when the run was cancelled externally while the
// crawl was in flight. Cancellation is not an error condition for the run;
// the caller finalizes the run as cancelled.
var ErrCancelled = errors.New("scan run cancelled")

// Config bounds one crawl.
type Config struct {
	// MaxPages caps frontier expansion (default 100).
	MaxPages int
	// ProgressFlushPages controls how often aggregate counters are
	// written back to the run store (default every 5 pages).
	ProgressFlushPages int
}

// Summary carries the final aggregates of a crawl.
type Summary struct {
	Total   int
	Checked int
	Broken  int
	Pages   int
}

// Engine turns a start URL into a deduplicated set of classified links.
// Pages are fetched sequentially; the per-run dedup index and the run
// counters therefore never race.
type Engine struct {
	fetcher linkscan.Fetcher
	runs    linkscan.RunStore
	links   linkscan.LinkStore
	rules   *rules.Service
	clock   linkscan.Clock
	emitter progress.Emitter
	logger  *zap.Logger
	cfg     Config
}

// NewEngine constructs an Engine.
func NewEngine(
	fetcher linkscan.Fetcher,
	runs linkscan.RunStore,
	links linkscan.LinkStore,
	ruleSvc *rules.Service,
	clock linkscan.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
	cfg Config,
) *Engine {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 100
	}
	if cfg.ProgressFlushPages <= 0 {
		cfg.ProgressFlushPages = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		fetcher: fetcher,
		runs:    runs,
		links:   links,
		rules:   ruleSvc,
		clock:   clock,
		emitter: emitter,
		logger:  logger,
		cfg:     cfg,
	}
}

// page is one frontier entry: a same-origin HTML document whose body was
// already retrieved during link classification.
type page struct {
	url  string
	body []byte
}

// Run crawls the run's start URL to completion, cancellation, or failure.
// The returned Summary is valid in all three cases; the run's terminal
// status is the caller's responsibility.
func (e *Engine) Run(ctx context.Context, run linkscan.ScanRun) (Summary, error) {
	var sum Summary

	start, err := linkscan.NormalizeURL(run.StartURL)
	if err != nil {
		return sum, fmt.Errorf("normalize start url: %w", err)
	}

	matcher, err := e.rules.MatcherForSite(ctx, run.SiteID)
	if err != nil {
		return sum, err
	}

	e.emit(progress.Event{
		RunID:  run.ID,
		SiteID: run.SiteID,
		TS:     e.clock.Now(),
		Stage:  progress.StageRunStart,
		URL:    start,
	})

	// The start page is fetched directly; it is a page, not a discovered
	// link. An unreachable start URL fails the whole job.
	res, err := e.fetcher.Fetch(ctx, start)
	if err != nil {
		return sum, fmt.Errorf("fetch start url: %w", err)
	}
	if res.StatusCode >= 400 {
		return sum, fmt.Errorf("start url returned status %d", res.StatusCode)
	}

	// The run id survives job retries, so an earlier attempt may have left
	// findings behind. Stale rows would double occurrence counts and, worse,
	// satisfy the dedup lookup before this attempt ever expands the page.
	if err := e.links.ResetRun(ctx, run.ID); err != nil {
		return sum, fmt.Errorf("reset run findings: %w", err)
	}

	frontier := []page{{url: start, body: res.Body}}
	visited := map[string]struct{}{start: {}}

	for len(frontier) > 0 && sum.Pages < e.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("crawl interrupted: %w", err)
		}
		cancelled, err := e.runCancelled(ctx, run.ID)
		if err != nil {
			return sum, err
		}
		if cancelled {
			e.flush(ctx, run, sum)
			return sum, ErrCancelled
		}

		current := frontier[0]
		frontier = frontier[1:]
		sum.Pages++

		next, err := e.processPage(ctx, run, matcher, current, visited, &sum)
		if err != nil {
			return sum, err
		}
		frontier = append(frontier, next...)

		if sum.Pages%e.cfg.ProgressFlushPages == 0 {
			e.flush(ctx, run, sum)
		}
	}

	e.flush(ctx, run, sum)
	e.logger.Info("crawl finished",
		zap.String("run_id", run.ID.String()),
		zap.Int("pages", sum.Pages),
		zap.Int("links", sum.Total),
		zap.Int("broken", sum.Broken),
	)
	return sum, nil
}

// processPage extracts and classifies the page's links, returning the
// same-origin HTML pages eligible for further expansion.
func (e *Engine) processPage(
	ctx context.Context,
	run linkscan.ScanRun,
	matcher *rules.Matcher,
	current page,
	visited map[string]struct{},
	sum *Summary,
) ([]page, error) {
	targets, err := ExtractLinks(current.url, current.body)
	if err != nil {
		e.logger.Warn("skipping unparsable page",
			zap.String("run_id", run.ID.String()),
			zap.String("page", current.url),
			zap.Error(err),
		)
		return nil, nil
	}

	var next []page
	for _, target := range targets {
		existing, err := e.links.FindLink(ctx, run.ID, target)
		if err != nil {
			return nil, fmt.Errorf("look up link: %w", err)
		}
		if existing != nil {
			// Re-sighting: bump the aggregate, never re-classify.
			if err := e.links.AddOccurrence(ctx, existing.ID, existing.Ignored, current.url, e.clock.Now()); err != nil {
				return nil, fmt.Errorf("record occurrence: %w", err)
			}
			continue
		}

		link, body := e.checkLink(ctx, run, target)
		rule := matcher.Match(link)
		if rule != nil {
			now := e.clock.Now()
			ruleID := rule.ID
			link.Ignored = true
			link.IgnoredSource = linkscan.IgnoreSourceRule
			link.IgnoredByRuleID = &ruleID
			link.IgnoredAt = &now
		}
		if _, err := e.links.InsertLink(ctx, link, current.url); err != nil {
			return nil, fmt.Errorf("insert link: %w", err)
		}

		sum.Total++
		sum.Checked++
		if !link.Ignored && link.State == linkscan.LinkBroken {
			sum.Broken++
		}

		if body == nil || link.State != linkscan.LinkOK {
			continue
		}
		if _, seen := visited[target]; seen {
			continue
		}
		if !linkscan.SameOrigin(run.StartURL, target) {
			continue
		}
		visited[target] = struct{}{}
		next = append(next, page{url: target, body: body})
	}
	return next, nil
}

// checkLink fetches and classifies a newly-seen link. The returned body is
// non-nil only for HTML responses, for possible frontier expansion.
func (e *Engine) checkLink(ctx context.Context, run linkscan.ScanRun, target string) (linkscan.ScanLink, []byte) {
	now := e.clock.Now()
	link := linkscan.ScanLink{
		RunID:         run.ID,
		URL:           target,
		FirstSeenAt:   now,
		LastSeenAt:    now,
		IgnoredSource: linkscan.IgnoreSourceNone,
	}

	res, err := e.fetcher.Fetch(ctx, target)
	evt := progress.Event{
		RunID:  run.ID,
		SiteID: run.SiteID,
		TS:     e.clock.Now(),
		Stage:  progress.StageLinkChecked,
		Host:   linkscan.Hostname(target),
		URL:    target,
	}
	if err != nil {
		// Timeout, DNS, TLS: no HTTP response. Absorbed into the
		// classification, never escalated to a job failure.
		msg := err.Error()
		link.State = linkscan.LinkNoResponse
		link.ErrorMessage = &msg
		evt.Classification = string(link.State)
		e.emit(evt)
		return link, nil
	}

	code := res.StatusCode
	link.StatusCode = &code
	link.State = Classify(code)
	evt.Classification = string(link.State)
	evt.StatusClass = progress.ClassifyStatus(code)
	evt.Dur = res.Duration
	e.emit(evt)

	if IsHTML(res.ContentType) {
		return link, res.Body
	}
	return link, nil
}

func (e *Engine) runCancelled(ctx context.Context, runID uuid.UUID) (bool, error) {
	current, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("check run status: %w", err)
	}
	return current.Status == linkscan.RunStatusCancelled, nil
}

func (e *Engine) flush(ctx context.Context, run linkscan.ScanRun, sum Summary) {
	if err := e.runs.UpdateProgress(ctx, run.ID, sum.Total, sum.Checked, sum.Broken); err != nil {
		e.logger.Warn("update run progress failed",
			zap.String("run_id", run.ID.String()),
			zap.Error(err),
		)
	}
	e.emit(progress.Event{
		RunID:   run.ID,
		SiteID:  run.SiteID,
		TS:      e.clock.Now(),
		Stage:   progress.StageRunProgress,
		Total:   sum.Total,
		Checked: sum.Checked,
		Broken:  sum.Broken,
	})
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}
