// Package memory provides in-memory store implementations for development
// and testing. A single Store satisfies every persistence interface in
// linkscan behind one mutex, which keeps multi-table operations (claim,
// move-to-ignored) atomic the same way a database transaction would.
package memory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// Store implements linkscan.JobQueue, RunStore, LinkStore, RuleStore and
// SiteStore in process memory.
type Store struct {
	mu    sync.Mutex
	clock linkscan.Clock

	jobs  map[uuid.UUID]linkscan.ScanJob
	runs  map[uuid.UUID]linkscan.ScanRun
	sites map[uuid.UUID]linkscan.Site

	// links are keyed (run, url); the bool bucket dimension is the ignored
	// flag. occurrences are owned by their link id.
	active      map[uuid.UUID]map[string]*linkscan.ScanLink
	ignored     map[uuid.UUID]map[string]*linkscan.ScanLink
	occurrences map[uuid.UUID][]linkscan.LinkOccurrence

	rules     []linkscan.IgnoreRule
	jobSeq    []uuid.UUID // insertion order, for stable run_at ties
	ruleIndex map[uuid.UUID]int
}

// NewStore constructs a Store. clock may be nil, in which case wall time is
// used; tests inject a fake clock to control lease expiry.
func NewStore(clock linkscan.Clock) *Store {
	if clock == nil {
		clock = wallClock{}
	}
	return &Store{
		clock:       clock,
		jobs:        make(map[uuid.UUID]linkscan.ScanJob),
		runs:        make(map[uuid.UUID]linkscan.ScanRun),
		sites:       make(map[uuid.UUID]linkscan.Site),
		active:      make(map[uuid.UUID]map[string]*linkscan.ScanLink),
		ignored:     make(map[uuid.UUID]map[string]*linkscan.ScanLink),
		occurrences: make(map[uuid.UUID][]linkscan.LinkOccurrence),
		ruleIndex:   make(map[uuid.UUID]int),
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func pointerStr(s string) *string {
	v := s
	return &v
}
