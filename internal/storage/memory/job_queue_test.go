package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

// fakeClock lets tests move time forward to expire leases.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(clk), clk
}

func enqueueJob(t *testing.T, s *Store, clk *fakeClock, maxAttempts int) linkscan.ScanJob {
	t.Helper()
	job := linkscan.ScanJob{
		ID:          uuid.Must(uuid.NewV7()),
		SiteID:      uuid.Must(uuid.NewV7()),
		RunID:       uuid.Must(uuid.NewV7()),
		Status:      linkscan.JobStatusQueued,
		MaxAttempts: maxAttempts,
		RunAt:       clk.Now(),
		CreatedAt:   clk.Now(),
	}
	require.NoError(t, s.Enqueue(context.Background(), job))
	return job
}

func TestClaimExclusivity(t *testing.T) {
	t.Parallel()
	s, clk := newTestQueue(t)
	enqueueJob(t, s, clk, 3)

	const claimants = 16
	var wg sync.WaitGroup
	won := make(chan string, claimants)
	errs := make(chan error, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.Claim(context.Background(), "worker", time.Minute)
			if err != nil {
				errs <- err
				return
			}
			if job != nil {
				won <- job.ID.String()
			}
		}()
	}
	wg.Wait()
	close(won)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var winners int
	for range won {
		winners++
	}
	require.Equal(t, 1, winners, "exactly one claimant must win")
}

func TestClaimOrdersByRunAt(t *testing.T) {
	t.Parallel()
	s, clk := newTestQueue(t)

	later := linkscan.ScanJob{
		ID:          uuid.Must(uuid.NewV7()),
		Status:      linkscan.JobStatusQueued,
		MaxAttempts: 3,
		RunAt:       clk.Now().Add(-time.Minute),
	}
	earliest := linkscan.ScanJob{
		ID:          uuid.Must(uuid.NewV7()),
		Status:      linkscan.JobStatusQueued,
		MaxAttempts: 3,
		RunAt:       clk.Now().Add(-time.Hour),
	}
	require.NoError(t, s.Enqueue(context.Background(), later))
	require.NoError(t, s.Enqueue(context.Background(), earliest))

	job, err := s.Claim(context.Background(), "w1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, earliest.ID, job.ID)
}

func TestClaimSkipsFutureRunAt(t *testing.T) {
	t.Parallel()
	s, clk := newTestQueue(t)
	job := linkscan.ScanJob{
		ID:          uuid.Must(uuid.NewV7()),
		Status:      linkscan.JobStatusQueued,
		MaxAttempts: 3,
		RunAt:       clk.Now().Add(time.Hour),
	}
	require.NoError(t, s.Enqueue(context.Background(), job))

	got, err := s.Claim(context.Background(), "w1", time.Minute)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFailRetryThenExhaust(t *testing.T) {
	t.Parallel()
	s, clk := newTestQueue(t)
	job := enqueueJob(t, s, clk, 3)
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := s.Claim(ctx, "w1", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d should find the job", attempt)

		retrying, err := s.Fail(ctx, job.ID, "boom")
		require.NoError(t, err)
		if attempt < 3 {
			require.True(t, retrying, "attempt %d should requeue", attempt)
			got, err := s.GetJob(ctx, job.ID)
			require.NoError(t, err)
			require.Equal(t, linkscan.JobStatusQueued, got.Status)
			require.Equal(t, attempt, got.Attempts)
		} else {
			require.False(t, retrying, "attempt 3 should exhaust")
		}
	}

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, linkscan.JobStatusFailed, got.Status)
	require.Equal(t, 3, got.Attempts)
	require.NotNil(t, got.LastError)
	require.Equal(t, "boom", *got.LastError)
}

func TestLeaseRecoveryIncrementsOnce(t *testing.T) {
	t.Parallel()
	s, clk := newTestQueue(t)
	job := enqueueJob(t, s, clk, 3)
	ctx := context.Background()

	claimed, err := s.Claim(ctx, "w1", 60*time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NotNil(t, claimed.LeaseExpiresAt)

	// Lease still live: reaper must not touch it.
	recovered, err := s.RequeueExpired(ctx)
	require.NoError(t, err)
	require.Empty(t, recovered)

	clk.Advance(61 * time.Second)

	recovered, err = s.RequeueExpired(ctx)
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	require.Equal(t, linkscan.JobStatusQueued, recovered[0].Status)
	require.Equal(t, 1, recovered[0].Attempts)

	// A second reaper pass before anyone reclaims must be a no-op.
	recovered, err = s.RequeueExpired(ctx)
	require.NoError(t, err)
	require.Empty(t, recovered)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Attempts)
	require.Nil(t, got.WorkerID)
}

func TestClaimRecoversExpiredLease(t *testing.T) {
	t.Parallel()
	s, clk := newTestQueue(t)
	enqueueJob(t, s, clk, 3)
	ctx := context.Background()

	first, err := s.Claim(ctx, "w1", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	// While the lease is live no other worker can claim it.
	blocked, err := s.Claim(ctx, "w2", 30*time.Second)
	require.NoError(t, err)
	require.Nil(t, blocked)

	clk.Advance(31 * time.Second)

	second, err := s.Claim(ctx, "w2", 30*time.Second)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "w2", *second.WorkerID)
}

func TestCompleteIdempotentOnTerminal(t *testing.T) {
	t.Parallel()
	s, clk := newTestQueue(t)
	job := enqueueJob(t, s, clk, 3)
	ctx := context.Background()

	require.NoError(t, s.Cancel(ctx, job.ID))
	require.NoError(t, s.Complete(ctx, job.ID))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, linkscan.JobStatusCancelled, got.Status)
}

func TestActiveJobForSite(t *testing.T) {
	t.Parallel()
	s, clk := newTestQueue(t)
	ctx := context.Background()
	job := enqueueJob(t, s, clk, 3)

	active, err := s.ActiveJobForSite(ctx, job.SiteID)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, job.ID, active.ID)

	require.NoError(t, s.Complete(ctx, job.ID))

	active, err = s.ActiveJobForSite(ctx, job.SiteID)
	require.NoError(t, err)
	require.Nil(t, active)
}
