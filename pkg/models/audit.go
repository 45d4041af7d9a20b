package models

import "time"

// Audit event names emitted by ledger operations.
const (
	AuditEventEnqueued  = "job_run.enqueued"
	AuditEventClaimed   = "job_run.claimed"
	AuditEventStarted   = "job_run.started"
	AuditEventHeartbeat = "job_run.heartbeat"
	AuditEventSucceeded = "job_run.succeeded"
	AuditEventFailed    = "job_run.failed"
	AuditEventDead      = "job_run.dead"
	AuditEventCancelled = "job_run.cancelled"
	AuditEventReclaimed = "job_run.lease_reclaimed"
)

// JobAuditEvent is an append-only record of a ledger operation against a
// job run. Audit rows are never mutated or deleted.
type JobAuditEvent struct {
	ID        string         `json:"id"`
	JobRunID  string         `json:"job_run_id"`
	UserID    string         `json:"user_id"`
	Event     string         `json:"event"`
	Actor     string         `json:"actor"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
