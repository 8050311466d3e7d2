package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// UpsertSite seeds or replaces a site record. Site management is an external
// system in production; this exists for tests and the local CLI.
func (s *Store) UpsertSite(_ context.Context, site linkscan.Site) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[site.ID] = site
	return nil
}

// GetSite loads a site by ID.
func (s *Store) GetSite(_ context.Context, siteID uuid.UUID) (linkscan.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return linkscan.Site{}, linkscan.ErrNotFound
	}
	return site, nil
}

// ListDue returns up to limit schedule-enabled sites whose next_scheduled_at
// has arrived, soonest first.
func (s *Store) ListDue(_ context.Context, now time.Time, limit int) ([]linkscan.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []linkscan.Site
	for _, site := range s.sites {
		if !site.ScheduleEnabled || site.NextScheduledAt == nil {
			continue
		}
		if site.NextScheduledAt.After(now) {
			continue
		}
		due = append(due, site)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextScheduledAt.Before(*due[j].NextScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkScheduled records scheduling bookkeeping after an enqueue.
func (s *Store) MarkScheduled(_ context.Context, siteID uuid.UUID, at time.Time, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.sites[siteID]
	if !ok {
		return linkscan.ErrNotFound
	}
	site.LastScheduledAt = pointerTime(at)
	if next != nil {
		site.NextScheduledAt = next
	}
	s.sites[siteID] = site
	return nil
}
