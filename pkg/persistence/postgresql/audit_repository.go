package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/missiond/missiond/pkg/models"
)

// AuditRepository handles append-only job audit event operations.
type AuditRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *sql.DB, logger *slog.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// Append stores a new audit event. Events are never updated or deleted.
func (r *AuditRepository) Append(ctx context.Context, event *models.JobAuditEvent) error {
	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO job_audit_events (id, job_run_id, user_id, event, actor, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.JobRunID,
		event.UserID,
		event.Event,
		event.Actor,
		metadataJSON,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}

	return nil
}

// ListByJobRun returns all audit events for a job run, oldest first.
func (r *AuditRepository) ListByJobRun(ctx context.Context, jobRunID string) ([]*models.JobAuditEvent, error) {
	query := `
		SELECT id, job_run_id, user_id, event, actor, metadata, created_at
		FROM job_audit_events
		WHERE job_run_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, jobRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	events := make([]*models.JobAuditEvent, 0)

	for rows.Next() {
		var (
			event        models.JobAuditEvent
			metadataJSON []byte
		)

		err := rows.Scan(
			&event.ID,
			&event.JobRunID,
			&event.UserID,
			&event.Event,
			&event.Actor,
			&metadataJSON,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}

		if metadataJSON != nil {
			err := json.Unmarshal(metadataJSON, &event.Metadata)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}

	return events, nil
}
