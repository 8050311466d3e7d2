package linkscan

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobQueue provides durable, lease-based queue semantics for scan jobs.
// All cross-worker coordination happens through Claim, which must be a
// single atomic conditional update.
type JobQueue interface {
	// Enqueue inserts a new job in queued status.
	Enqueue(ctx context.Context, job ScanJob) error
	// Claim atomically selects the oldest runnable job (queued, or claimed
	// with an expired lease), marks it claimed for workerID and extends the
	// lease. It returns nil when no job is available.
	Claim(ctx context.Context, workerID string, lease time.Duration) (*ScanJob, error)
	// Complete marks the job completed; no-op if the job is already terminal.
	Complete(ctx context.Context, jobID uuid.UUID) error
	// Fail consumes one attempt and records lastError. It returns
	// retrying=true when the job went back to queued, false when attempts
	// are exhausted and the job is terminally failed.
	Fail(ctx context.Context, jobID uuid.UUID, lastError string) (retrying bool, err error)
	// Cancel marks the job cancelled regardless of its current state.
	Cancel(ctx context.Context, jobID uuid.UUID) error
	// RequeueExpired recovers every claimed job whose lease has passed,
	// consuming one attempt per job exactly as Fail does, and returns the
	// affected jobs for logging.
	RequeueExpired(ctx context.Context) ([]ScanJob, error)
	// GetJob loads a job or returns ErrNotFound.
	GetJob(ctx context.Context, jobID uuid.UUID) (ScanJob, error)
	// ActiveJobForSite returns the site's most recent non-terminal job, or
	// nil when none exists.
	ActiveJobForSite(ctx context.Context, siteID uuid.UUID) (*ScanJob, error)
}

// RunStore persists scan run lifecycle records.
type RunStore interface {
	CreateRun(ctx context.Context, run ScanRun) error
	GetRun(ctx context.Context, runID uuid.UUID) (ScanRun, error)
	// LatestRunForSite returns the most recently created run, or nil.
	LatestRunForSite(ctx context.Context, siteID uuid.UUID) (*ScanRun, error)
	// ListRuns pages over a site's runs, newest first, optionally filtered
	// by status. total is the number of matching rows before paging.
	ListRuns(ctx context.Context, siteID uuid.UUID, status *RunStatus, limit, offset int) (runs []ScanRun, total int, err error)
	// MarkInProgress transitions the run to in_progress, clearing
	// error_message and finished_at.
	MarkInProgress(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// UpdateProgress writes aggregate counters. Counters are monotonically
	// non-decreasing within a run; callers pass absolute values.
	UpdateProgress(ctx context.Context, runID uuid.UUID, total, checked, broken int) error
	// FinishRun sets a terminal status and finished_at. A completed verdict
	// must not overwrite a concurrent cancellation; implementations make the
	// completed transition conditional on the run not being cancelled.
	FinishRun(ctx context.Context, runID uuid.UUID, status RunStatus, errMsg *string, finishedAt time.Time) error
	// RequeueRun returns a run to queued after a retryable job failure.
	RequeueRun(ctx context.Context, runID uuid.UUID) error
}

// LinkStore persists deduplicated link findings and their occurrences,
// partitioned into an active and an ignored bucket per run.
type LinkStore interface {
	// FindLink looks a link up by (run, url) across both buckets; nil when
	// the URL has not been sighted in this run.
	FindLink(ctx context.Context, runID uuid.UUID, url string) (*ScanLink, error)
	// InsertLink records a first sighting together with its first
	// occurrence. The link's Ignored flag selects the bucket.
	InsertLink(ctx context.Context, link ScanLink, sourcePage string) (ScanLink, error)
	// AddOccurrence appends a sighting to an existing link, bumping
	// occurrence_count and last_seen_at. It never touches classification.
	AddOccurrence(ctx context.Context, linkID uuid.UUID, ignored bool, sourcePage string, at time.Time) error
	// ListLinks pages one bucket of a run, optionally filtered by
	// classification.
	ListLinks(ctx context.Context, runID uuid.UUID, ignored bool, cls *Classification, limit, offset int) (links []ScanLink, total int, err error)
	// ListOccurrences pages the sightings of one link.
	ListOccurrences(ctx context.Context, linkID uuid.UUID, ignored bool, limit, offset int) (occ []LinkOccurrence, total int, err error)
	// AllLinks returns a full bucket; used by reapply and the diff engine.
	AllLinks(ctx context.Context, runID uuid.UUID, ignored bool) ([]ScanLink, error)
	// MoveToIgnored moves an active link and its occurrences into the
	// ignored bucket.
	MoveToIgnored(ctx context.Context, linkID uuid.UUID, source IgnoreSource, ruleID *uuid.UUID, at time.Time) error
	// MoveToActive moves an ignored link back, clearing ignore metadata.
	MoveToActive(ctx context.Context, runID uuid.UUID, url string) error
	// ResetRun deletes every finding of the run in both buckets. A run keeps
	// its id across job attempts, so each crawl attempt starts from a clean
	// slate instead of double-counting what an earlier attempt recorded.
	ResetRun(ctx context.Context, runID uuid.UUID) error
}

// RuleStore persists ignore rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule IgnoreRule) error
	GetRule(ctx context.Context, ruleID uuid.UUID) (IgnoreRule, error)
	DeleteRule(ctx context.Context, ruleID uuid.UUID) error
	SetRuleEnabled(ctx context.Context, ruleID uuid.UUID, enabled bool) error
	// ListRules pages rules in creation order; siteID == nil lists every
	// rule, otherwise the site's own rules plus the globals.
	ListRules(ctx context.Context, siteID *uuid.UUID, limit, offset int) (rules []IgnoreRule, total int, err error)
	// EnabledRulesForSite returns the site's enabled rules plus enabled
	// globals, in creation order (first match wins downstream).
	EnabledRulesForSite(ctx context.Context, siteID uuid.UUID) ([]IgnoreRule, error)
}

// SiteStore reads site schedule state and writes scheduling bookkeeping.
// Site management itself is an external system.
type SiteStore interface {
	GetSite(ctx context.Context, siteID uuid.UUID) (Site, error)
	// ListDue returns up to limit sites with scheduling enabled whose
	// next_scheduled_at is at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Site, error)
	// MarkScheduled records last_scheduled_at and the recomputed
	// next_scheduled_at after a scan was enqueued.
	MarkScheduled(ctx context.Context, siteID uuid.UUID, at time.Time, next *time.Time) error
}

// FetchResult is what a Fetcher returns for a URL that produced an HTTP
// response, regardless of status code.
type FetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Fetcher performs a single bounded HTTP fetch. A non-2xx response is not an
// error; errors mean no HTTP response was received at all (DNS, TLS,
// timeout, connection refused).
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() uuid.UUID
}
