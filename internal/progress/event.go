// Package progress defines the event stream emitted while scans execute.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart     Stage = "RUN_START"
	StageRunProgress  Stage = "RUN_PROGRESS"
	StageRunDone      Stage = "RUN_DONE"
	StageRunError     Stage = "RUN_ERROR"
	StageRunCancelled Stage = "RUN_CANCELLED"
	StageLinkChecked  Stage = "LINK_CHECKED"
)

// Terminal reports whether the stage ends a run's event stream.
func (s Stage) Terminal() bool {
	switch s {
	case StageRunDone, StageRunError, StageRunCancelled:
		return true
	default:
		return false
	}
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for link checks.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures one milestone of a scan run.
type Event struct {
	// RunID identifies the scan run the event belongs to.
	RunID uuid.UUID
	// SiteID identifies the site being scanned.
	SiteID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or link milestone occurred.
	Stage Stage
	// Host scopes link-check events to the target host.
	Host string
	// URL is the checked link or start URL; it must not contain credentials.
	URL string
	// Classification carries the link verdict for LINK_CHECKED events.
	Classification string
	// StatusClass groups the HTTP response code (2xx, 4xx, etc).
	StatusClass StatusClass
	// Total, Checked, and Broken are absolute run counters at emit time.
	Total   int
	Checked int
	Broken  int
	// Dur captures fetch latency for link checks and wall time for
	// terminal run events.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunProgress, StageRunDone, StageRunError, StageRunCancelled:
	case StageLinkChecked:
		if e.Host == "" {
			return errors.New("link check requires host")
		}
		if e.Classification == "" {
			return errors.New("link check requires classification")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for link-check events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
