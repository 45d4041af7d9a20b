package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/missiond/missiond/pkg/models"
)

func TestRetryPolicy_BackoffGrowsExponentially(t *testing.T) {
	t.Parallel()

	policy := models.RetryPolicy{
		BaseBackoff: 60 * time.Second,
		MaxBackoff:  15 * time.Minute,
	}

	assert.Equal(t, 60*time.Second, policy.Backoff(0))
	assert.Equal(t, 120*time.Second, policy.Backoff(1))
	assert.Equal(t, 240*time.Second, policy.Backoff(2))
	assert.Equal(t, 480*time.Second, policy.Backoff(3))
}

func TestRetryPolicy_BackoffCappedAtMax(t *testing.T) {
	t.Parallel()

	policy := models.RetryPolicy{
		BaseBackoff: 60 * time.Second,
		MaxBackoff:  15 * time.Minute,
	}

	for attempt := 4; attempt < 20; attempt++ {
		assert.Equal(t, 15*time.Minute, policy.Backoff(attempt), "attempt %d", attempt)
	}
}

func TestRetryPolicy_BackoffWithJitterStaysInBounds(t *testing.T) {
	t.Parallel()

	policy := models.DefaultRetryPolicy()

	for attempt := 0; attempt < 12; attempt++ {
		for i := 0; i < 100; i++ {
			backoff := policy.Backoff(attempt)

			assert.GreaterOrEqual(t, backoff, time.Duration(0))
			assert.LessOrEqual(t, backoff, policy.MaxBackoff)
		}
	}
}

func TestRetryPolicy_NegativeAttemptTreatedAsZero(t *testing.T) {
	t.Parallel()

	policy := models.RetryPolicy{
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  10 * time.Minute,
	}

	assert.Equal(t, 30*time.Second, policy.Backoff(-5))
}

func TestJobRun_RetrySuccessor(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runKey := "daily-briefing"

	original := &models.JobRun{
		ID:            "run-1",
		UserID:        "user-1",
		MissionID:     "mission-1",
		Status:        models.JobRunStatusFailed,
		Priority:      2,
		Attempt:       1,
		MaxAttempts:   5,
		RunKey:        &runKey,
		InputSnapshot: []byte(`{"q":"btc"}`),
	}

	successor := original.RetrySuccessor("run-2", 2*time.Minute, now)

	assert.Equal(t, "run-2", successor.ID)
	assert.Equal(t, models.JobRunStatusPending, successor.Status)
	assert.Equal(t, 2, successor.Attempt)
	assert.Equal(t, models.JobRunSourceRetry, successor.Source)
	assert.Equal(t, now.Add(2*time.Minute), successor.ScheduledFor)
	assert.Equal(t, int64(120000), successor.BackoffMs)
	assert.Equal(t, original.UserID, successor.UserID)
	assert.Equal(t, original.MissionID, successor.MissionID)
	assert.Equal(t, original.Priority, successor.Priority)
	assert.Equal(t, original.MaxAttempts, successor.MaxAttempts)
	assert.Equal(t, original.RunKey, successor.RunKey)
	assert.Equal(t, original.InputSnapshot, successor.InputSnapshot)
	assert.Nil(t, successor.LeaseToken)
}
