// Package linkscan defines core types shared across subsystems.
package linkscan

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a scan run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	case RunStatusQueued, RunStatusInProgress:
		return false
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of a queue job.
type JobStatus string

// Job status values persisted in the job queue.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusClaimed   JobStatus = "claimed"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job can no longer be claimed or retried.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	case JobStatusQueued, JobStatusClaimed:
		return false
	default:
		return false
	}
}

// Classification is the liveness verdict recorded for a link.
type Classification string

// Link classifications. A link is classified exactly once per run, on its
// first sighting.
const (
	LinkOK         Classification = "ok"
	LinkBroken     Classification = "broken"
	LinkBlocked    Classification = "blocked"
	LinkNoResponse Classification = "no_response"
)

// IgnoreSource records how a link ended up in the ignored bucket.
type IgnoreSource string

// Ignore sources.
const (
	IgnoreSourceNone   IgnoreSource = "none"
	IgnoreSourceManual IgnoreSource = "manual"
	IgnoreSourceRule   IgnoreSource = "rule"
)

// RuleType selects the match semantics of an ignore rule.
type RuleType string

// Supported ignore rule types.
const (
	RuleContains       RuleType = "contains"
	RuleExact          RuleType = "exact"
	RuleRegex          RuleType = "regex"
	RuleStatusCode     RuleType = "status_code"
	RuleClassification RuleType = "classification"
	RuleDomain         RuleType = "domain"
	RulePathPrefix     RuleType = "path_prefix"
)

// ScheduleFrequency controls how often a site is automatically scanned.
type ScheduleFrequency string

// Supported schedule frequencies.
const (
	FrequencyHourly ScheduleFrequency = "hourly"
	FrequencyDaily  ScheduleFrequency = "daily"
	FrequencyWeekly ScheduleFrequency = "weekly"
)

// Site is owned by site management; the core reads its schedule fields and
// writes back last_scheduled_at/next_scheduled_at when it enqueues a scan.
type Site struct {
	ID              uuid.UUID         `json:"id"`
	URL             string            `json:"url"`
	ScheduleEnabled bool              `json:"schedule_enabled"`
	Frequency       ScheduleFrequency `json:"frequency"`
	TimeOfDay       string            `json:"time_of_day"` // "15:04", daily/weekly only
	DayOfWeek       time.Weekday      `json:"day_of_week"` // weekly only
	NextScheduledAt *time.Time        `json:"next_scheduled_at,omitempty"`
	LastScheduledAt *time.Time        `json:"last_scheduled_at,omitempty"`
}

// ScanRun is one crawl attempt of a site's start URL.
type ScanRun struct {
	ID           uuid.UUID `json:"id"`
	SiteID       uuid.UUID `json:"site_id"`
	Status       RunStatus `json:"status"`
	StartURL     string    `json:"start_url"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
	TotalLinks   int        `json:"total_links"`
	CheckedLinks int        `json:"checked_links"`
	BrokenLinks  int        `json:"broken_links"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// ScanJob is the durable queue entry that drives exactly one run.
type ScanJob struct {
	ID             uuid.UUID  `json:"id"`
	SiteID         uuid.UUID  `json:"site_id"`
	RunID          uuid.UUID  `json:"run_id"` // uuid.Nil briefly before run creation
	Status         JobStatus  `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	WorkerID       *string    `json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	RunAt          time.Time  `json:"run_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ScanLink is a deduplicated per-run finding: one row per distinct link URL,
// regardless of how many pages it appeared on.
type ScanLink struct {
	ID              uuid.UUID      `json:"id"`
	RunID           uuid.UUID      `json:"scan_run_id"`
	URL             string         `json:"link_url"`
	State           Classification `json:"classification"`
	StatusCode      *int           `json:"status_code,omitempty"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	OccurrenceCount int            `json:"occurrence_count"`
	FirstSeenAt     time.Time      `json:"first_seen_at"`
	LastSeenAt      time.Time      `json:"last_seen_at"`
	Ignored         bool           `json:"ignored"`
	IgnoredSource   IgnoreSource   `json:"ignored_source"`
	IgnoredByRuleID *uuid.UUID     `json:"ignored_by_rule_id,omitempty"`
	IgnoredAt       *time.Time     `json:"ignored_at,omitempty"`
}

// LinkOccurrence is one concrete sighting of a link on one source page.
type LinkOccurrence struct {
	ID         uuid.UUID `json:"id"`
	LinkID     uuid.UUID `json:"scan_link_id"`
	SourcePage string    `json:"source_page"`
	CreatedAt  time.Time `json:"created_at"`
}

// IgnoreRule routes matching links out of the active result set.
// SiteID == nil means the rule is global.
type IgnoreRule struct {
	ID        uuid.UUID  `json:"id"`
	SiteID    *uuid.UUID `json:"site_id,omitempty"`
	Type      RuleType   `json:"rule_type"`
	Pattern   string     `json:"pattern"`
	Enabled   bool       `json:"is_enabled"`
	CreatedAt time.Time  `json:"created_at"`
}
