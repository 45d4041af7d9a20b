package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/persistence"
)

const uniqueViolationCode = "23505"

const jobRunColumns = `
	id
  , user_id
  , mission_id
  , idempotency_key
  , status
  , priority
  , scheduled_for
  , attempt
  , max_attempts
  , backoff_ms
  , lease_token
  , lease_expires_at
  , heartbeat_at
  , source
  , run_key
  , input_snapshot
  , error_code
  , error_detail
  , output_summary
  , duration_ms
  , started_at
  , finished_at
  , created_at
  , updated_at
`

// JobRunRepository handles job run database operations.
type JobRunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewJobRunRepository creates a new job run repository.
func NewJobRunRepository(db *sql.DB, logger *slog.Logger) *JobRunRepository {
	return &JobRunRepository{db: db, logger: logger}
}

// Insert stores a new job run row.
func (r *JobRunRepository) Insert(ctx context.Context, run *models.JobRun) error {
	query := `
		INSERT INTO job_runs (
			id, user_id, mission_id, idempotency_key, status, priority,
			scheduled_for, attempt, max_attempts, backoff_ms, lease_token,
			lease_expires_at, heartbeat_at, source, run_key, input_snapshot,
			error_code, error_detail, output_summary, duration_ms,
			started_at, finished_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.UserID,
		run.MissionID,
		run.IdempotencyKey,
		run.Status,
		run.Priority,
		run.ScheduledFor,
		run.Attempt,
		run.MaxAttempts,
		run.BackoffMs,
		run.LeaseToken,
		run.LeaseExpiresAt,
		run.HeartbeatAt,
		run.Source,
		run.RunKey,
		nullableBytes(run.InputSnapshot),
		run.ErrorCode,
		run.ErrorDetail,
		run.OutputSummary,
		run.DurationMs,
		run.StartedAt,
		run.FinishedAt,
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode {
			return persistence.NewJobRunError("Insert", run.ID, persistence.ErrDuplicateIdempotencyKey)
		}

		return fmt.Errorf("failed to insert job run: %w", err)
	}

	return nil
}

// GetByID returns a job run by its ID.
func (r *JobRunRepository) GetByID(ctx context.Context, id string) (*models.JobRun, error) {
	query := `SELECT ` + jobRunColumns + ` FROM job_runs WHERE id = $1`

	run, err := r.scanJobRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewJobRunError("GetByID", id, persistence.ErrJobRunNotFound)
		}

		return nil, fmt.Errorf("failed to scan job run: %w", err)
	}

	return run, nil
}

// CountInflight counts claimed and running rows globally.
func (r *JobRunRepository) CountInflight(ctx context.Context) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_runs WHERE status IN ('claimed', 'running')`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count inflight job runs: %w", err)
	}

	return count, nil
}

// CountInflightForUser counts claimed and running rows for one user.
func (r *JobRunRepository) CountInflightForUser(ctx context.Context, userID string) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM job_runs WHERE user_id = $1 AND status IN ('claimed', 'running')`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count inflight job runs for user: %w", err)
	}

	return count, nil
}

// ClaimPending performs the single conditional update that decides claim
// races: at most one concurrent caller per row sees one row affected.
func (r *JobRunRepository) ClaimPending(ctx context.Context, id, leaseToken string, leaseExpiresAt time.Time) (bool, error) {
	query := `
		UPDATE job_runs
		SET status = 'claimed', lease_token = $2, lease_expires_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, id, leaseToken, leaseExpiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim job run: %w", err)
	}

	return oneRowAffected(result)
}

// ExtendLease pushes the lease expiry forward for the current holder.
func (r *JobRunRepository) ExtendLease(ctx context.Context, id, leaseToken string, leaseExpiresAt, heartbeatAt time.Time) (bool, error) {
	query := `
		UPDATE job_runs
		SET lease_expires_at = $3, heartbeat_at = $4, updated_at = NOW()
		WHERE id = $1 AND lease_token = $2 AND status IN ('claimed', 'running')
	`

	result, err := r.db.ExecContext(ctx, query, id, leaseToken, leaseExpiresAt, heartbeatAt)
	if err != nil {
		return false, fmt.Errorf("failed to extend lease: %w", err)
	}

	return oneRowAffected(result)
}

// MarkRunning transitions claimed → running for the lease holder.
func (r *JobRunRepository) MarkRunning(ctx context.Context, id, leaseToken string, startedAt time.Time) (bool, error) {
	query := `
		UPDATE job_runs
		SET status = 'running', started_at = $3, updated_at = NOW()
		WHERE id = $1 AND lease_token = $2 AND status = 'claimed'
	`

	result, err := r.db.ExecContext(ctx, query, id, leaseToken, startedAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark job run running: %w", err)
	}

	return oneRowAffected(result)
}

// MarkSucceeded transitions running → succeeded, clearing lease fields.
func (r *JobRunRepository) MarkSucceeded(ctx context.Context, id, leaseToken string, finishedAt time.Time, outputSummary *string, durationMs int64) (bool, error) {
	query := `
		UPDATE job_runs
		SET status = 'succeeded', lease_token = NULL, lease_expires_at = NULL,
			finished_at = $3, output_summary = $4, duration_ms = $5, updated_at = NOW()
		WHERE id = $1 AND lease_token = $2 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, id, leaseToken, finishedAt, outputSummary, durationMs)
	if err != nil {
		return false, fmt.Errorf("failed to mark job run succeeded: %w", err)
	}

	return oneRowAffected(result)
}

// MarkFailed transitions the row to failed or dead, clearing lease fields.
// The retry successor row, when present, is inserted in the same
// transaction so a crash cannot silently drop the retry.
func (r *JobRunRepository) MarkFailed(ctx context.Context, id, leaseToken string, terminal models.JobRunStatus, errorCode, errorDetail string, finishedAt time.Time, retry *models.JobRun) (bool, error) {
	if terminal != models.JobRunStatusFailed && terminal != models.JobRunStatusDead {
		return false, fmt.Errorf("%w: %s is not a failure status", persistence.ErrInvalidStatusTransition, terminal)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		UPDATE job_runs
		SET status = $3, lease_token = NULL, lease_expires_at = NULL,
			error_code = $4, error_detail = $5, finished_at = $6, updated_at = NOW()
		WHERE id = $1 AND lease_token = $2 AND status IN ('claimed', 'running')
	`

	result, err := tx.ExecContext(ctx, query, id, leaseToken, terminal, errorCode, errorDetail, finishedAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark job run %s: %w", terminal, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		_ = tx.Rollback()

		return false, nil
	}

	if retry != nil {
		insertQuery := `
			INSERT INTO job_runs (
				id, user_id, mission_id, status, priority, scheduled_for,
				attempt, max_attempts, backoff_ms, source, run_key,
				input_snapshot, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`

		_, err = tx.ExecContext(ctx, insertQuery,
			retry.ID,
			retry.UserID,
			retry.MissionID,
			retry.Status,
			retry.Priority,
			retry.ScheduledFor,
			retry.Attempt,
			retry.MaxAttempts,
			retry.BackoffMs,
			retry.Source,
			retry.RunKey,
			nullableBytes(retry.InputSnapshot),
			retry.CreatedAt,
			retry.UpdatedAt,
		)
		if err != nil {
			return false, fmt.Errorf("failed to insert retry job run: %w", err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return false, fmt.Errorf("failed to commit failure transaction: %w", err)
	}

	return true, nil
}

// MarkCancelled transitions pending/claimed/running → cancelled for the owner.
func (r *JobRunRepository) MarkCancelled(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	query := `
		UPDATE job_runs
		SET status = 'cancelled', lease_token = NULL, lease_expires_at = NULL,
			finished_at = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status IN ('pending', 'claimed', 'running')
	`

	result, err := r.db.ExecContext(ctx, query, id, userID, at)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job run: %w", err)
	}

	return oneRowAffected(result)
}

// ResetExpiredLeases is the crash-recovery sweep: claimed rows whose lease
// lapsed return to the pending pool. The status re-check in the predicate
// avoids clobbering a concurrent legitimate transition.
func (r *JobRunRepository) ResetExpiredLeases(ctx context.Context, now time.Time) ([]*models.JobRun, error) {
	query := `
		UPDATE job_runs
		SET status = 'pending', lease_token = NULL, lease_expires_at = NULL, updated_at = NOW()
		WHERE status = 'claimed' AND lease_expires_at < $1
		RETURNING ` + jobRunColumns

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to reset expired leases: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	reclaimed := make([]*models.JobRun, 0)

	for rows.Next() {
		run, err := r.scanJobRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reclaimed job run: %w", err)
		}

		reclaimed = append(reclaimed, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reclaimed job runs: %w", err)
	}

	return reclaimed, nil
}

// CancelPendingForMission bulk-cancels pending and claimed rows for a mission.
func (r *JobRunRepository) CancelPendingForMission(ctx context.Context, missionID string, at time.Time) (int64, error) {
	query := `
		UPDATE job_runs
		SET status = 'cancelled', lease_token = NULL, lease_expires_at = NULL,
			finished_at = $2, updated_at = NOW()
		WHERE mission_id = $1 AND status IN ('pending', 'claimed')
	`

	result, err := r.db.ExecContext(ctx, query, missionID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending job runs for mission: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected, nil
}

func (r *JobRunRepository) scanJobRun(scanner interface {
	Scan(dest ...any) error
}) (*models.JobRun, error) {
	var (
		run           models.JobRun
		inputSnapshot []byte
	)

	err := scanner.Scan(
		&run.ID,
		&run.UserID,
		&run.MissionID,
		&run.IdempotencyKey,
		&run.Status,
		&run.Priority,
		&run.ScheduledFor,
		&run.Attempt,
		&run.MaxAttempts,
		&run.BackoffMs,
		&run.LeaseToken,
		&run.LeaseExpiresAt,
		&run.HeartbeatAt,
		&run.Source,
		&run.RunKey,
		&inputSnapshot,
		&run.ErrorCode,
		&run.ErrorDetail,
		&run.OutputSummary,
		&run.DurationMs,
		&run.StartedAt,
		&run.FinishedAt,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.InputSnapshot = inputSnapshot

	return &run, nil
}

func oneRowAffected(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected == 1, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}

	return b
}
