package persistence

import (
	"context"
	"time"

	"github.com/missiond/missiond/pkg/models"
)

// JobRunRepository is the storage contract for job run rows. Conditional
// mutations return (false, nil) when the predicate matched no row; race
// safety rests entirely on the backing store applying each conditional
// update atomically.
type JobRunRepository interface {
	// Insert stores a new row. Returns ErrDuplicateIdempotencyKey when the
	// idempotency key collides with an existing row.
	Insert(ctx context.Context, run *models.JobRun) error

	GetByID(ctx context.Context, id string) (*models.JobRun, error)

	// CountInflight counts rows with status claimed or running, globally
	// or scoped to one user.
	CountInflight(ctx context.Context) (int, error)
	CountInflightForUser(ctx context.Context, userID string) (int, error)

	// ClaimPending atomically transitions pending → claimed, installing the
	// lease. At most one concurrent caller per row observes true.
	ClaimPending(ctx context.Context, id, leaseToken string, leaseExpiresAt time.Time) (bool, error)

	// ExtendLease pushes lease_expires_at forward, scoped to the holder's
	// lease token and an inflight status.
	ExtendLease(ctx context.Context, id, leaseToken string, leaseExpiresAt, heartbeatAt time.Time) (bool, error)

	// MarkRunning transitions claimed → running, scoped to the lease token.
	MarkRunning(ctx context.Context, id, leaseToken string, startedAt time.Time) (bool, error)

	// MarkSucceeded transitions running → succeeded and clears lease fields.
	MarkSucceeded(ctx context.Context, id, leaseToken string, finishedAt time.Time, outputSummary *string, durationMs int64) (bool, error)

	// MarkFailed transitions the row to failed or dead, clears lease
	// fields, and when retry is non-nil inserts the successor pending row
	// in the same transaction.
	MarkFailed(ctx context.Context, id, leaseToken string, terminal models.JobRunStatus, errorCode, errorDetail string, finishedAt time.Time, retry *models.JobRun) (bool, error)

	// MarkCancelled transitions pending/claimed/running → cancelled,
	// ownership-checked by user id.
	MarkCancelled(ctx context.Context, id, userID string, at time.Time) (bool, error)

	// ResetExpiredLeases returns claimed rows whose lease lapsed before now
	// to pending, re-checking status=claimed in the update predicate.
	// Returns the reclaimed rows.
	ResetExpiredLeases(ctx context.Context, now time.Time) ([]*models.JobRun, error)

	// CancelPendingForMission bulk-cancels pending and claimed rows for a
	// mission, returning the number of rows affected.
	CancelPendingForMission(ctx context.Context, missionID string, at time.Time) (int64, error)
}

// AuditRepository is the append-only store of ledger audit events.
type AuditRepository interface {
	Append(ctx context.Context, event *models.JobAuditEvent) error
	ListByJobRun(ctx context.Context, jobRunID string) ([]*models.JobAuditEvent, error)
}

// Persistence aggregates the repositories behind one backing store.
type Persistence interface {
	JobRuns() JobRunRepository
	Audit() AuditRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
