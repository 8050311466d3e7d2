// Package diff compares the deduplicated link sets of two scan runs.
package diff

import (
	"sort"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// LinkState is the diff-relevant slice of a scan link.
type LinkState struct {
	URL            string                  `json:"link_url"`
	Classification linkscan.Classification `json:"classification"`
	StatusCode     *int                    `json:"status_code,omitempty"`
}

// Change pairs a link's state in the baseline run with its state in the
// comparand run.
type Change struct {
	Before LinkState `json:"before"`
	After  LinkState `json:"after"`
}

// Totals counts links per classification within one run.
type Totals struct {
	OK         int `json:"ok"`
	Broken     int `json:"broken"`
	Blocked    int `json:"blocked"`
	NoResponse int `json:"no_response"`
}

func (t *Totals) add(c linkscan.Classification) {
	switch c {
	case linkscan.LinkOK:
		t.OK += 1
	case linkscan.LinkBroken:
		t.Broken += 1
	case linkscan.LinkBlocked:
		t.Blocked += 1
	case linkscan.LinkNoResponse:
		t.NoResponse += 1
	}
}

// Result is the raw diff over the union of both runs' link URLs.
type Result struct {
	Added          []LinkState `json:"added"`
	Removed        []LinkState `json:"removed"`
	Changed        []Change    `json:"changed"`
	UnchangedCount int         `json:"unchanged_count"`
	BaselineTotals Totals      `json:"baseline_totals"`
	CompareTotals  Totals      `json:"compare_totals"`
}

// Compute diffs the comparand run against the baseline run. Links are keyed
// by URL; both inputs are already deduplicated per run, so a URL appears at
// most once on each side. Output slices are sorted by URL.
func Compute(baseline, comparand []linkscan.ScanLink) Result {
	before := index(baseline)
	after := index(comparand)

	var res Result
	for _, st := range before {
		res.BaselineTotals.add(st.Classification)
	}
	for _, st := range after {
		res.CompareTotals.add(st.Classification)
	}

	for url, b := range after {
		a, existed := before[url]
		if !existed {
			res.Added = append(res.Added, b)
			continue
		}
		if sameState(a, b) {
			res.UnchangedCount += 1
		} else {
			res.Changed = append(res.Changed, Change{Before: a, After: b})
		}
	}
	for url, a := range before {
		if _, still := after[url]; !still {
			res.Removed = append(res.Removed, a)
		}
	}

	sortStates(res.Added)
	sortStates(res.Removed)
	sort.Slice(res.Changed, func(i, j int) bool {
		return res.Changed[i].Before.URL < res.Changed[j].Before.URL
	})
	return res
}

// IssueResult reclassifies the raw diff with ok collapsed to "no issue" and
// everything else to "an issue".
type IssueResult struct {
	Added    []LinkState `json:"added"`
	Resolved []LinkState `json:"resolved"`
	Changed  []Change    `json:"changed"`
}

// Issues projects the raw diff onto the issue view. It reads only the diff
// itself, never storage:
//   - a link that appeared with a non-ok state, or flipped from ok to
//     non-ok, is an added issue
//   - a link that disappeared while non-ok, or flipped from non-ok to ok,
//     is a resolved issue
//   - a link that stayed non-ok with different details remains changed
func Issues(res Result) IssueResult {
	var out IssueResult
	for _, st := range res.Added {
		if isIssue(st) {
			out.Added = append(out.Added, st)
		}
	}
	for _, st := range res.Removed {
		if isIssue(st) {
			out.Resolved = append(out.Resolved, st)
		}
	}
	for _, ch := range res.Changed {
		switch {
		case !isIssue(ch.Before) && isIssue(ch.After):
			out.Added = append(out.Added, ch.After)
		case isIssue(ch.Before) && !isIssue(ch.After):
			out.Resolved = append(out.Resolved, ch.Before)
		case isIssue(ch.Before) && isIssue(ch.After):
			out.Changed = append(out.Changed, ch)
		}
		// ok -> ok with a different status code is no issue either way.
	}
	sortStates(out.Added)
	sortStates(out.Resolved)
	return out
}

func isIssue(st LinkState) bool {
	return st.Classification != linkscan.LinkOK
}

func index(links []linkscan.ScanLink) map[string]LinkState {
	out := make(map[string]LinkState, len(links))
	for _, l := range links {
		out[l.URL] = LinkState{
			URL:            l.URL,
			Classification: l.State,
			StatusCode:     l.StatusCode,
		}
	}
	return out
}

func sameState(a, b LinkState) bool {
	if a.Classification != b.Classification {
		return false
	}
	switch {
	case a.StatusCode == nil && b.StatusCode == nil:
		return true
	case a.StatusCode == nil || b.StatusCode == nil:
		return false
	default:
		return *a.StatusCode == *b.StatusCode
	}
}

func sortStates(states []LinkState) {
	sort.Slice(states, func(i, j int) bool { return states[i].URL < states[j].URL })
}
