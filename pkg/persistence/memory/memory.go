// Package memory provides an in-memory persistence implementation used by
// unit tests and database-less local runs. Conditional updates are applied
// under a single mutex, giving the same at-most-one-winner semantics the
// SQL implementation gets from atomic conditional updates.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/persistence"
)

// Persistence implements the persistence layer in process memory.
type Persistence struct {
	mu     sync.Mutex
	runs   map[string]*models.JobRun
	keys   map[string]string // idempotency key -> job run id
	events []*models.JobAuditEvent
}

// NewPersistence creates a new in-memory persistence layer.
func NewPersistence() *Persistence {
	return &Persistence{
		runs: make(map[string]*models.JobRun),
		keys: make(map[string]string),
	}
}

// JobRuns returns the job run repository.
func (p *Persistence) JobRuns() persistence.JobRunRepository {
	return (*jobRunRepository)(p)
}

// Audit returns the audit event repository.
func (p *Persistence) Audit() persistence.AuditRepository {
	return (*auditRepository)(p)
}

func (p *Persistence) HealthCheck(_ context.Context) error {
	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

type jobRunRepository Persistence

func (r *jobRunRepository) Insert(_ context.Context, run *models.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run.IdempotencyKey != nil {
		if _, exists := r.keys[*run.IdempotencyKey]; exists {
			return persistence.NewJobRunError("Insert", run.ID, persistence.ErrDuplicateIdempotencyKey)
		}

		r.keys[*run.IdempotencyKey] = run.ID
	}

	stored := *run
	r.runs[run.ID] = &stored

	return nil
}

func (r *jobRunRepository) GetByID(_ context.Context, id string) (*models.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, exists := r.runs[id]
	if !exists {
		return nil, persistence.NewJobRunError("GetByID", id, persistence.ErrJobRunNotFound)
	}

	copied := *run

	return &copied, nil
}

func (r *jobRunRepository) CountInflight(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, run := range r.runs {
		if run.Status.IsInflight() {
			count++
		}
	}

	return count, nil
}

func (r *jobRunRepository) CountInflightForUser(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0

	for _, run := range r.runs {
		if run.UserID == userID && run.Status.IsInflight() {
			count++
		}
	}

	return count, nil
}

func (r *jobRunRepository) ClaimPending(_ context.Context, id, leaseToken string, leaseExpiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, exists := r.runs[id]
	if !exists || run.Status != models.JobRunStatusPending {
		return false, nil
	}

	token := leaseToken
	expires := leaseExpiresAt
	run.Status = models.JobRunStatusClaimed
	run.LeaseToken = &token
	run.LeaseExpiresAt = &expires
	run.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (r *jobRunRepository) ExtendLease(_ context.Context, id, leaseToken string, leaseExpiresAt, heartbeatAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, exists := r.runs[id]
	if !exists || !run.Status.IsInflight() || run.LeaseToken == nil || *run.LeaseToken != leaseToken {
		return false, nil
	}

	expires := leaseExpiresAt
	heartbeat := heartbeatAt
	run.LeaseExpiresAt = &expires
	run.HeartbeatAt = &heartbeat
	run.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (r *jobRunRepository) MarkRunning(_ context.Context, id, leaseToken string, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, exists := r.runs[id]
	if !exists || run.Status != models.JobRunStatusClaimed || run.LeaseToken == nil || *run.LeaseToken != leaseToken {
		return false, nil
	}

	started := startedAt
	run.Status = models.JobRunStatusRunning
	run.StartedAt = &started
	run.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (r *jobRunRepository) MarkSucceeded(_ context.Context, id, leaseToken string, finishedAt time.Time, outputSummary *string, durationMs int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, exists := r.runs[id]
	if !exists || run.Status != models.JobRunStatusRunning || run.LeaseToken == nil || *run.LeaseToken != leaseToken {
		return false, nil
	}

	finished := finishedAt
	duration := durationMs
	run.Status = models.JobRunStatusSucceeded
	run.LeaseToken = nil
	run.LeaseExpiresAt = nil
	run.FinishedAt = &finished
	run.OutputSummary = outputSummary
	run.DurationMs = &duration
	run.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (r *jobRunRepository) MarkFailed(_ context.Context, id, leaseToken string, terminal models.JobRunStatus, errorCode, errorDetail string, finishedAt time.Time, retry *models.JobRun) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, exists := r.runs[id]
	if !exists || !run.Status.IsInflight() || run.LeaseToken == nil || *run.LeaseToken != leaseToken {
		return false, nil
	}

	finished := finishedAt
	code := errorCode
	detail := errorDetail
	run.Status = terminal
	run.LeaseToken = nil
	run.LeaseExpiresAt = nil
	run.ErrorCode = &code
	run.ErrorDetail = &detail
	run.FinishedAt = &finished
	run.UpdatedAt = time.Now().UTC()

	// Both writes happen under one lock, mirroring the SQL transaction.
	if retry != nil {
		stored := *retry
		r.runs[retry.ID] = &stored
	}

	return true, nil
}

func (r *jobRunRepository) MarkCancelled(_ context.Context, id, userID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, exists := r.runs[id]
	if !exists || run.UserID != userID {
		return false, nil
	}

	if run.Status != models.JobRunStatusPending && !run.Status.IsInflight() {
		return false, nil
	}

	finished := at
	run.Status = models.JobRunStatusCancelled
	run.LeaseToken = nil
	run.LeaseExpiresAt = nil
	run.FinishedAt = &finished
	run.UpdatedAt = time.Now().UTC()

	return true, nil
}

func (r *jobRunRepository) ResetExpiredLeases(_ context.Context, now time.Time) ([]*models.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reclaimed := make([]*models.JobRun, 0)

	for _, run := range r.runs {
		if run.Status != models.JobRunStatusClaimed || !run.LeaseExpired(now) {
			continue
		}

		run.Status = models.JobRunStatusPending
		run.LeaseToken = nil
		run.LeaseExpiresAt = nil
		run.UpdatedAt = time.Now().UTC()

		copied := *run
		reclaimed = append(reclaimed, &copied)
	}

	sort.Slice(reclaimed, func(i, j int) bool {
		return reclaimed[i].ID < reclaimed[j].ID
	})

	return reclaimed, nil
}

func (r *jobRunRepository) CancelPendingForMission(_ context.Context, missionID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected int64

	for _, run := range r.runs {
		if run.MissionID != missionID {
			continue
		}

		if run.Status != models.JobRunStatusPending && run.Status != models.JobRunStatusClaimed {
			continue
		}

		finished := at
		run.Status = models.JobRunStatusCancelled
		run.LeaseToken = nil
		run.LeaseExpiresAt = nil
		run.FinishedAt = &finished
		run.UpdatedAt = time.Now().UTC()
		affected++
	}

	return affected, nil
}

type auditRepository Persistence

func (r *auditRepository) Append(_ context.Context, event *models.JobAuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *event
	r.events = append(r.events, &copied)

	return nil
}

func (r *auditRepository) ListByJobRun(_ context.Context, jobRunID string) ([]*models.JobAuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]*models.JobAuditEvent, 0)

	for _, event := range r.events {
		if event.JobRunID == jobRunID {
			copied := *event
			events = append(events, &copied)
		}
	}

	return events, nil
}
