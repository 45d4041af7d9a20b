// Package web provides HTTP request and response types for the job run API.
package web

import (
	"time"

	"github.com/missiond/missiond/pkg/models"
)

// CancelJobRunRequest identifies the user requesting cancellation.
// Cancellation is user-scoped: a run can only be cancelled by its owner.
type CancelJobRunRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// JobRunResponse is the external shape of a job run. Lease internals stay
// hidden; callers see status and timing, not ownership tokens.
type JobRunResponse struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	MissionID     string     `json:"mission_id"`
	Status        string     `json:"status"`
	Attempt       int        `json:"attempt"`
	MaxAttempts   int        `json:"max_attempts"`
	Priority      int        `json:"priority"`
	Source        string     `json:"source"`
	ScheduledFor  time.Time  `json:"scheduled_for"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	ErrorCode     *string    `json:"error_code,omitempty"`
	OutputSummary *string    `json:"output_summary,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TransformJobRunResponse converts a job run into its external shape.
func TransformJobRunResponse(run *models.JobRun) JobRunResponse {
	return JobRunResponse{
		ID:            run.ID,
		UserID:        run.UserID,
		MissionID:     run.MissionID,
		Status:        string(run.Status),
		Attempt:       run.Attempt,
		MaxAttempts:   run.MaxAttempts,
		Priority:      run.Priority,
		Source:        string(run.Source),
		ScheduledFor:  run.ScheduledFor,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
		ErrorCode:     run.ErrorCode,
		OutputSummary: run.OutputSummary,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	}
}

// AuditEventResponse is the external shape of one audit trail entry.
type AuditEventResponse struct {
	ID        string         `json:"id"`
	JobRunID  string         `json:"job_run_id"`
	Event     string         `json:"event"`
	Actor     string         `json:"actor"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
