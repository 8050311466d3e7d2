package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/cbmoss/linksentry/internal/linkscan"
)

var jobColumnNames = []string{
	"id", "site_id", "scan_run_id", "status", "attempts", "max_attempts",
	"worker_id", "lease_expires_at", "last_error", "run_at", "created_at",
}

func TestEnqueueInsertsQueuedJob(t *testing.T) {
	t.Parallel()

	mock, store, now := newMockStore(t)

	job := linkscan.ScanJob{
		ID:          uuid.Must(uuid.NewV7()),
		SiteID:      uuid.Must(uuid.NewV7()),
		RunID:       uuid.Must(uuid.NewV7()),
		MaxAttempts: 3,
		RunAt:       now,
		CreatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO scan_jobs").
		WithArgs(job.ID, job.SiteID, &job.RunID, linkscan.JobStatusQueued, 0, 3, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Enqueue(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimHandsOutJob(t *testing.T) {
	t.Parallel()

	mock, store, now := newMockStore(t)

	jobID := uuid.Must(uuid.NewV7())
	siteID := uuid.Must(uuid.NewV7())
	runID := uuid.Must(uuid.NewV7())
	workerID := "host#0-abc"
	lease := 5 * time.Minute
	expiry := now.Add(lease)

	mock.ExpectQuery("UPDATE scan_jobs").
		WithArgs(workerID, expiry, now).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).AddRow(
			jobID, siteID, &runID, linkscan.JobStatusClaimed, 0, 3,
			&workerID, &expiry, (*string)(nil), now, now,
		))

	job, err := store.Claim(context.Background(), workerID, lease)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, jobID, job.ID)
	require.Equal(t, runID, job.RunID)
	require.Equal(t, linkscan.JobStatusClaimed, job.Status)
	require.NotNil(t, job.LeaseExpiresAt)
	require.Equal(t, expiry, *job.LeaseExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimReturnsNilWhenQueueEmpty(t *testing.T) {
	t.Parallel()

	mock, store, now := newMockStore(t)

	mock.ExpectQuery("UPDATE scan_jobs").
		WithArgs("w", now.Add(time.Minute), now).
		WillReturnError(pgx.ErrNoRows)

	job, err := store.Claim(context.Background(), "w", time.Minute)
	require.NoError(t, err)
	require.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailReportsRetryDecision(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   linkscan.JobStatus
		retrying bool
	}{
		{name: "attempts remain", status: linkscan.JobStatusQueued, retrying: true},
		{name: "attempts exhausted", status: linkscan.JobStatusFailed, retrying: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mock, store, _ := newMockStore(t)
			jobID := uuid.Must(uuid.NewV7())

			mock.ExpectQuery("UPDATE scan_jobs").
				WithArgs(jobID, "connect timeout").
				WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow(tc.status))

			retrying, err := store.Fail(context.Background(), jobID, "connect timeout")
			require.NoError(t, err)
			require.Equal(t, tc.retrying, retrying)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFailOnTerminalJobChecksExistence(t *testing.T) {
	t.Parallel()

	mock, store, _ := newMockStore(t)
	jobID := uuid.Must(uuid.NewV7())

	mock.ExpectQuery("UPDATE scan_jobs").
		WithArgs(jobID, "boom").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(jobID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	retrying, err := store.Fail(context.Background(), jobID, "boom")
	require.NoError(t, err)
	require.False(t, retrying)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteUnknownJobReturnsNotFound(t *testing.T) {
	t.Parallel()

	mock, store, _ := newMockStore(t)
	jobID := uuid.Must(uuid.NewV7())

	mock.ExpectExec("UPDATE scan_jobs").
		WithArgs(jobID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(jobID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	err := store.Complete(context.Background(), jobID)
	require.ErrorIs(t, err, linkscan.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueExpiredReturnsRecoveredJobs(t *testing.T) {
	t.Parallel()

	mock, store, now := newMockStore(t)

	jobID := uuid.Must(uuid.NewV7())
	siteID := uuid.Must(uuid.NewV7())
	runID := uuid.Must(uuid.NewV7())
	lastError := "lease expired"

	mock.ExpectQuery("UPDATE scan_jobs").
		WithArgs(now).
		WillReturnRows(pgxmock.NewRows(jobColumnNames).AddRow(
			jobID, siteID, &runID, linkscan.JobStatusQueued, 1, 3,
			(*string)(nil), (*time.Time)(nil), &lastError, now, now,
		))

	recovered, err := store.RequeueExpired(context.Background())
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	require.Equal(t, jobID, recovered[0].ID)
	require.Equal(t, 1, recovered[0].Attempts)
	require.Equal(t, linkscan.JobStatusQueued, recovered[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveJobForSiteNilWhenNone(t *testing.T) {
	t.Parallel()

	mock, store, _ := newMockStore(t)
	siteID := uuid.Must(uuid.NewV7())

	mock.ExpectQuery("SELECT (.+) FROM scan_jobs").
		WithArgs(siteID).
		WillReturnError(pgx.ErrNoRows)

	job, err := store.ActiveJobForSite(context.Background(), siteID)
	require.NoError(t, err)
	require.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}
