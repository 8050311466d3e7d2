package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// FindLink looks up (run, url) in both buckets.
func (s *Store) FindLink(_ context.Context, runID uuid.UUID, url string) (*linkscan.ScanLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link, ok := s.active[runID][url]; ok {
		found := *link
		return &found, nil
	}
	if link, ok := s.ignored[runID][url]; ok {
		found := *link
		return &found, nil
	}
	return nil, nil
}

// InsertLink records a first sighting plus its first occurrence. The link's
// Ignored flag selects the bucket.
func (s *Store) InsertLink(_ context.Context, link linkscan.ScanLink, sourcePage string) (linkscan.ScanLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.bucketFor(link.RunID, link.Ignored)
	if _, exists := s.active[link.RunID][link.URL]; exists {
		return linkscan.ScanLink{}, fmt.Errorf("link %q already recorded for run %s", link.URL, link.RunID)
	}
	if _, exists := s.ignored[link.RunID][link.URL]; exists {
		return linkscan.ScanLink{}, fmt.Errorf("link %q already recorded for run %s", link.URL, link.RunID)
	}

	if link.ID == uuid.Nil {
		link.ID = uuid.Must(uuid.NewV7())
	}
	if link.OccurrenceCount == 0 {
		link.OccurrenceCount = 1
	}
	if link.IgnoredSource == "" {
		link.IgnoredSource = linkscan.IgnoreSourceNone
	}
	stored := link
	bucket[link.URL] = &stored
	s.occurrences[link.ID] = append(s.occurrences[link.ID], linkscan.LinkOccurrence{
		ID:         uuid.Must(uuid.NewV7()),
		LinkID:     link.ID,
		SourcePage: sourcePage,
		CreatedAt:  link.FirstSeenAt,
	})
	return stored, nil
}

// AddOccurrence appends a sighting, bumping occurrence_count and
// last_seen_at. Classification is untouched: first sighting wins.
func (s *Store) AddOccurrence(
	_ context.Context,
	linkID uuid.UUID,
	ignoredBucket bool,
	sourcePage string,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link := s.findByID(linkID, ignoredBucket)
	if link == nil {
		return linkscan.ErrNotFound
	}
	link.OccurrenceCount++
	link.LastSeenAt = at
	s.occurrences[linkID] = append(s.occurrences[linkID], linkscan.LinkOccurrence{
		ID:         uuid.Must(uuid.NewV7()),
		LinkID:     linkID,
		SourcePage: sourcePage,
		CreatedAt:  at,
	})
	return nil
}

// ListLinks pages one bucket of a run, ordered by first sighting.
func (s *Store) ListLinks(
	_ context.Context,
	runID uuid.UUID,
	ignoredBucket bool,
	cls *linkscan.Classification,
	limit, offset int,
) ([]linkscan.ScanLink, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []linkscan.ScanLink
	for _, link := range s.bucketFor(runID, ignoredBucket) {
		if cls != nil && link.State != *cls {
			continue
		}
		matches = append(matches, *link)
	}
	sortLinks(matches)
	total := len(matches)
	return paginate(matches, limit, offset), total, nil
}

// ListOccurrences pages the sightings of one link in discovery order.
func (s *Store) ListOccurrences(
	_ context.Context,
	linkID uuid.UUID,
	ignoredBucket bool,
	limit, offset int,
) ([]linkscan.LinkOccurrence, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findByID(linkID, ignoredBucket) == nil {
		return nil, 0, linkscan.ErrNotFound
	}
	occ := s.occurrences[linkID]
	total := len(occ)
	return paginate(occ, limit, offset), total, nil
}

// AllLinks returns a full bucket snapshot.
func (s *Store) AllLinks(_ context.Context, runID uuid.UUID, ignoredBucket bool) ([]linkscan.ScanLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var links []linkscan.ScanLink
	for _, link := range s.bucketFor(runID, ignoredBucket) {
		links = append(links, *link)
	}
	sortLinks(links)
	return links, nil
}

// MoveToIgnored moves an active link (and its occurrences) to the ignored
// bucket, recording how it got there.
func (s *Store) MoveToIgnored(
	_ context.Context,
	linkID uuid.UUID,
	source linkscan.IgnoreSource,
	ruleID *uuid.UUID,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link := s.findByID(linkID, false)
	if link == nil {
		return linkscan.ErrNotFound
	}
	delete(s.active[link.RunID], link.URL)
	link.Ignored = true
	link.IgnoredSource = source
	link.IgnoredByRuleID = ruleID
	link.IgnoredAt = pointerTime(at)
	s.bucketFor(link.RunID, true)[link.URL] = link
	return nil
}

// MoveToActive moves an ignored link back to the active bucket, clearing
// ignore metadata.
func (s *Store) MoveToActive(_ context.Context, runID uuid.UUID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.ignored[runID][url]
	if !ok {
		return linkscan.ErrNotFound
	}
	delete(s.ignored[runID], url)
	link.Ignored = false
	link.IgnoredSource = linkscan.IgnoreSourceNone
	link.IgnoredByRuleID = nil
	link.IgnoredAt = nil
	s.bucketFor(runID, false)[url] = link
	return nil
}

// ResetRun drops the run's links and occurrences in both buckets.
func (s *Store) ResetRun(_ context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, bucket := range []map[uuid.UUID]map[string]*linkscan.ScanLink{s.active, s.ignored} {
		for _, link := range bucket[runID] {
			delete(s.occurrences, link.ID)
		}
		delete(bucket, runID)
	}
	return nil
}

func (s *Store) bucketFor(runID uuid.UUID, ignoredBucket bool) map[string]*linkscan.ScanLink {
	buckets := s.active
	if ignoredBucket {
		buckets = s.ignored
	}
	if buckets[runID] == nil {
		buckets[runID] = make(map[string]*linkscan.ScanLink)
	}
	return buckets[runID]
}

func (s *Store) findByID(linkID uuid.UUID, ignoredBucket bool) *linkscan.ScanLink {
	buckets := s.active
	if ignoredBucket {
		buckets = s.ignored
	}
	for _, bucket := range buckets {
		for _, link := range bucket {
			if link.ID == linkID {
				return link
			}
		}
	}
	return nil
}

func sortLinks(links []linkscan.ScanLink) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].FirstSeenAt.Equal(links[j].FirstSeenAt) {
			return links[i].URL < links[j].URL
		}
		return links[i].FirstSeenAt.Before(links[j].FirstSeenAt)
	})
}
