// Package events defines event types and structures for job run lifecycle
// notifications.
package events

import (
	"time"
)

type EventType string

// Kafka topic for job run lifecycle events.
const Topic = "missiond.job_runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	JobRunEnqueuedEvent  EventType = "job_run.enqueued"
	JobRunClaimedEvent   EventType = "job_run.claimed"
	JobRunStartedEvent   EventType = "job_run.started"
	JobRunSucceededEvent EventType = "job_run.succeeded"
	JobRunFailedEvent    EventType = "job_run.failed"
	JobRunDeadEvent      EventType = "job_run.dead"
	JobRunCancelledEvent EventType = "job_run.cancelled"
	JobRunReclaimedEvent EventType = "job_run.reclaimed"
)

// Event is implemented by every lifecycle event payload.
type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	JobRunID  string         `json:"job_run_id"`
	MissionID string         `json:"mission_id"`
	UserID    string         `json:"user_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type JobRunEnqueued struct {
	BaseEvent

	Source string `json:"source"`
}

func (e JobRunEnqueued) GetType() EventType { return JobRunEnqueuedEvent }

type JobRunClaimed struct {
	BaseEvent

	LeaseExpiresAt time.Time `json:"lease_expires_at"`
}

func (e JobRunClaimed) GetType() EventType { return JobRunClaimedEvent }

type JobRunStarted struct {
	BaseEvent
}

func (e JobRunStarted) GetType() EventType { return JobRunStartedEvent }

type JobRunSucceeded struct {
	BaseEvent

	DurationMs int64 `json:"duration_ms"`
}

func (e JobRunSucceeded) GetType() EventType { return JobRunSucceededEvent }

type JobRunFailed struct {
	BaseEvent

	ErrorCode   string `json:"error_code"`
	NextAttempt int    `json:"next_attempt"`
	RetryRunID  string `json:"retry_run_id,omitempty"`
}

func (e JobRunFailed) GetType() EventType { return JobRunFailedEvent }

type JobRunDead struct {
	BaseEvent

	ErrorCode string `json:"error_code"`
	Attempts  int    `json:"attempts"`
}

func (e JobRunDead) GetType() EventType { return JobRunDeadEvent }

type JobRunCancelled struct {
	BaseEvent
}

func (e JobRunCancelled) GetType() EventType { return JobRunCancelledEvent }

type JobRunReclaimed struct {
	BaseEvent
}

func (e JobRunReclaimed) GetType() EventType { return JobRunReclaimedEvent }
