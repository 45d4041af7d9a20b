//go:build integration
// +build integration

package postgresql

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/persistence"
)

var postgresContainer *postgres.PostgresContainer

func TestMain(m *testing.M) {
	code := m.Run()

	if postgresContainer != nil {
		_ = postgresContainer.Terminate(context.Background())
	}

	os.Exit(code)
}

// setupTestDB starts (or reuses) a PostgreSQL container and returns a
// migrated persistence layer with empty tables.
func setupTestDB(t *testing.T) (*Persistence, context.Context) {
	t.Helper()

	ctx := context.Background()

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error
		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("missiond_test"),
			postgres.WithUsername("missiond"),
			postgres.WithPassword("missiond"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	cleanupDB(t, databaseURL)

	return p, ctx
}

func cleanupDB(t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer db.Close()

	_, err = db.ExecContext(context.Background(), "TRUNCATE TABLE job_runs, job_audit_events")
	require.NoError(t, err)
}

func pendingRun(userID, missionID string) *models.JobRun {
	now := time.Now().UTC()

	return &models.JobRun{
		ID:           uuid.New().String(),
		UserID:       userID,
		MissionID:    missionID,
		Status:       models.JobRunStatusPending,
		ScheduledFor: now,
		MaxAttempts:  3,
		Source:       models.JobRunSourceScheduler,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestInsertAndGetByID(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	run := pendingRun("user-1", "mission-1")
	require.NoError(t, p.JobRuns().Insert(ctx, run))

	loaded, err := p.JobRuns().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, loaded.ID)
	assert.Equal(t, models.JobRunStatusPending, loaded.Status)
	assert.Equal(t, run.MissionID, loaded.MissionID)

	_, err = p.JobRuns().GetByID(ctx, uuid.New().String())
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrJobRunNotFound)
}

func TestInsert_DuplicateIdempotencyKey(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	key := "sched-1:2026-08-29T09:00"

	first := pendingRun("user-1", "mission-1")
	first.IdempotencyKey = &key
	require.NoError(t, p.JobRuns().Insert(ctx, first))

	second := pendingRun("user-1", "mission-1")
	second.IdempotencyKey = &key

	err := p.JobRuns().Insert(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrDuplicateIdempotencyKey)
}

func TestClaimPending_ConditionalUpdate(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	run := pendingRun("user-1", "mission-1")
	require.NoError(t, p.JobRuns().Insert(ctx, run))

	expires := time.Now().UTC().Add(15 * time.Minute)
	winner := uuid.New().String()

	claimed, err := p.JobRuns().ClaimPending(ctx, run.ID, winner, expires)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = p.JobRuns().ClaimPending(ctx, run.ID, uuid.New().String(), expires)
	require.NoError(t, err)
	assert.False(t, claimed)

	loaded, err := p.JobRuns().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunStatusClaimed, loaded.Status)
	require.NotNil(t, loaded.LeaseToken)
	assert.Equal(t, winner, *loaded.LeaseToken)
}

func TestFullLifecycle(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	run := pendingRun("user-1", "mission-1")
	require.NoError(t, p.JobRuns().Insert(ctx, run))

	now := time.Now().UTC()
	token := uuid.New().String()

	claimed, err := p.JobRuns().ClaimPending(ctx, run.ID, token, now.Add(15*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	ok, err := p.JobRuns().MarkRunning(ctx, run.ID, token, now)
	require.NoError(t, err)
	require.True(t, ok)

	summary := "delivered 2 outputs"

	ok, err = p.JobRuns().MarkSucceeded(ctx, run.ID, token, now.Add(3*time.Second), &summary, 3000)
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := p.JobRuns().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunStatusSucceeded, loaded.Status)
	assert.Nil(t, loaded.LeaseToken)
	require.NotNil(t, loaded.OutputSummary)
	assert.Equal(t, summary, *loaded.OutputSummary)
	require.NotNil(t, loaded.DurationMs)
	assert.EqualValues(t, 3000, *loaded.DurationMs)
}

func TestMarkSucceeded_StaleToken(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	run := pendingRun("user-1", "mission-1")
	require.NoError(t, p.JobRuns().Insert(ctx, run))

	now := time.Now().UTC()
	token := uuid.New().String()

	claimed, err := p.JobRuns().ClaimPending(ctx, run.ID, token, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	ok, err := p.JobRuns().MarkRunning(ctx, run.ID, token, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.JobRuns().MarkSucceeded(ctx, run.ID, uuid.New().String(), now, nil, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkFailed_WritesRetryInSameTransaction(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	run := pendingRun("user-1", "mission-1")
	require.NoError(t, p.JobRuns().Insert(ctx, run))

	now := time.Now().UTC()
	token := uuid.New().String()

	claimed, err := p.JobRuns().ClaimPending(ctx, run.ID, token, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	ok, err := p.JobRuns().MarkRunning(ctx, run.ID, token, now)
	require.NoError(t, err)
	require.True(t, ok)

	retry := run.RetrySuccessor(uuid.New().String(), 30*time.Second, now)

	ok, err = p.JobRuns().MarkFailed(ctx, run.ID, token, models.JobRunStatusFailed, "HTTP_FETCH", "request failed", now, retry)
	require.NoError(t, err)
	require.True(t, ok)

	failed, err := p.JobRuns().GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorCode)
	assert.Equal(t, "HTTP_FETCH", *failed.ErrorCode)

	successor, err := p.JobRuns().GetByID(ctx, retry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunStatusPending, successor.Status)
	assert.Equal(t, run.Attempt+1, successor.Attempt)
	assert.Equal(t, models.JobRunSourceRetry, successor.Source)
}

func TestResetExpiredLeases(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	expired := pendingRun("user-1", "mission-1")
	require.NoError(t, p.JobRuns().Insert(ctx, expired))

	fresh := pendingRun("user-1", "mission-1")
	require.NoError(t, p.JobRuns().Insert(ctx, fresh))

	now := time.Now().UTC()

	claimed, err := p.JobRuns().ClaimPending(ctx, expired.ID, uuid.New().String(), now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = p.JobRuns().ClaimPending(ctx, fresh.ID, uuid.New().String(), now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, claimed)

	reclaimed, err := p.JobRuns().ResetExpiredLeases(ctx, now)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, expired.ID, reclaimed[0].ID)

	loaded, err := p.JobRuns().GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunStatusPending, loaded.Status)
	assert.Nil(t, loaded.LeaseToken)
}

func TestCountInflight(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		run := pendingRun("user-1", "mission-1")
		require.NoError(t, p.JobRuns().Insert(ctx, run))

		claimed, err := p.JobRuns().ClaimPending(ctx, run.ID, uuid.New().String(), now.Add(time.Minute))
		require.NoError(t, err)
		require.True(t, claimed)
	}

	pending := pendingRun("user-2", "mission-2")
	require.NoError(t, p.JobRuns().Insert(ctx, pending))

	total, err := p.JobRuns().CountInflight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	forUser, err := p.JobRuns().CountInflightForUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, forUser)

	forOther, err := p.JobRuns().CountInflightForUser(ctx, "user-2")
	require.NoError(t, err)
	assert.Equal(t, 0, forOther)
}

func TestCancelPendingForMission(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	first := pendingRun("user-1", "mission-1")
	require.NoError(t, p.JobRuns().Insert(ctx, first))

	second := pendingRun("user-1", "mission-1")
	require.NoError(t, p.JobRuns().Insert(ctx, second))

	other := pendingRun("user-1", "mission-2")
	require.NoError(t, p.JobRuns().Insert(ctx, other))

	affected, err := p.JobRuns().CancelPendingForMission(ctx, "mission-1", time.Now().UTC())
	require.NoError(t, err)
	assert.EqualValues(t, 2, affected)

	untouched, err := p.JobRuns().GetByID(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunStatusPending, untouched.Status)
}

func TestAuditAppendAndList(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	run := pendingRun("user-1", "mission-1")
	require.NoError(t, p.JobRuns().Insert(ctx, run))

	for _, event := range []string{models.AuditEventEnqueued, models.AuditEventClaimed} {
		require.NoError(t, p.Audit().Append(ctx, &models.JobAuditEvent{
			ID:        uuid.New().String(),
			JobRunID:  run.ID,
			UserID:    "user-1",
			Event:     event,
			Actor:     "runner",
			Metadata:  map[string]any{"worker_id": "worker-1"},
			CreatedAt: time.Now().UTC(),
		}))
	}

	events, err := p.Audit().ListByJobRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.AuditEventEnqueued, events[0].Event)
	assert.Equal(t, models.AuditEventClaimed, events[1].Event)
	assert.Equal(t, "worker-1", events[0].Metadata["worker_id"])
}

func TestHealthCheck(t *testing.T) {
	p, ctx := setupTestDB(t)
	defer p.Close(ctx)

	require.NoError(t, p.HealthCheck(ctx))
}
