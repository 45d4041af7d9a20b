// Package models defines the core data model for mission job runs and
// workflow node execution.
package models

import (
	"time"
)

// JobRunStatus defines the possible states of a job run.
type JobRunStatus string

const (
	JobRunStatusPending   JobRunStatus = "pending"
	JobRunStatusClaimed   JobRunStatus = "claimed"
	JobRunStatusRunning   JobRunStatus = "running"
	JobRunStatusSucceeded JobRunStatus = "succeeded"
	JobRunStatusFailed    JobRunStatus = "failed"
	JobRunStatusDead      JobRunStatus = "dead"
	JobRunStatusCancelled JobRunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed from the status.
func (s JobRunStatus) IsTerminal() bool {
	switch s {
	case JobRunStatusSucceeded, JobRunStatusFailed, JobRunStatusDead, JobRunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsInflight reports whether the status counts against concurrency limits.
func (s JobRunStatus) IsInflight() bool {
	return s == JobRunStatusClaimed || s == JobRunStatusRunning
}

// JobRunSource identifies what created a job run.
type JobRunSource string

const (
	JobRunSourceScheduler JobRunSource = "scheduler"
	JobRunSourceTrigger   JobRunSource = "trigger"
	JobRunSourceRetry     JobRunSource = "retry"
)

// JobRun is one persisted execution attempt of a mission. Retries are
// modeled as new rows rather than in-place mutation, so the run history
// of a mission is append-only.
//
// Invariant: LeaseToken is non-nil exactly when Status is claimed or running.
type JobRun struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"          validate:"required"`
	MissionID      string       `json:"mission_id"       validate:"required"`
	IdempotencyKey *string      `json:"idempotency_key,omitempty"`
	Status         JobRunStatus `json:"status"`
	Priority       int          `json:"priority"`
	ScheduledFor   time.Time    `json:"scheduled_for"`
	Attempt        int          `json:"attempt"`
	MaxAttempts    int          `json:"max_attempts"     validate:"min=1,max=10"`
	BackoffMs      int64        `json:"backoff_ms"`
	LeaseToken     *string      `json:"lease_token,omitempty"`
	LeaseExpiresAt *time.Time   `json:"lease_expires_at,omitempty"`
	HeartbeatAt    *time.Time   `json:"heartbeat_at,omitempty"`
	Source         JobRunSource `json:"source"`
	RunKey         *string      `json:"run_key,omitempty"`
	InputSnapshot  []byte       `json:"input_snapshot,omitempty"`
	ErrorCode      *string      `json:"error_code,omitempty"`
	ErrorDetail    *string      `json:"error_detail,omitempty"`
	OutputSummary  *string      `json:"output_summary,omitempty"`
	DurationMs     *int64       `json:"duration_ms,omitempty"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	FinishedAt     *time.Time   `json:"finished_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// HoldsLease reports whether the run currently carries lease ownership state.
func (j *JobRun) HoldsLease() bool {
	return j.LeaseToken != nil && j.Status.IsInflight()
}

// LeaseExpired reports whether the run's lease has lapsed at the given time.
func (j *JobRun) LeaseExpired(now time.Time) bool {
	return j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
}

// RetrySuccessor builds the pending row that replaces a failed, non-dead
// run. It carries forward the mission identity and input while advancing
// the attempt counter.
func (j *JobRun) RetrySuccessor(id string, backoff time.Duration, now time.Time) *JobRun {
	return &JobRun{
		ID:             id,
		UserID:         j.UserID,
		MissionID:      j.MissionID,
		Status:         JobRunStatusPending,
		Priority:       j.Priority,
		ScheduledFor:   now.Add(backoff),
		Attempt:        j.Attempt + 1,
		MaxAttempts:    j.MaxAttempts,
		BackoffMs:      backoff.Milliseconds(),
		Source:         JobRunSourceRetry,
		RunKey:         j.RunKey,
		InputSnapshot:  j.InputSnapshot,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// EnqueueInput is the caller-facing payload for creating a pending job run.
type EnqueueInput struct {
	UserID         string       `json:"user_id"         validate:"required"`
	MissionID      string       `json:"mission_id"      validate:"required"`
	IdempotencyKey *string      `json:"idempotency_key,omitempty"`
	Priority       int          `json:"priority"`
	ScheduledFor   *time.Time   `json:"scheduled_for,omitempty"`
	MaxAttempts    int          `json:"max_attempts"    validate:"omitempty,min=1,max=10"`
	Source         JobRunSource `json:"source"          validate:"omitempty,oneof=scheduler trigger retry"`
	RunKey         *string      `json:"run_key,omitempty"`
	InputSnapshot  []byte       `json:"input_snapshot,omitempty"`
}
