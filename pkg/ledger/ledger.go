// Package ledger implements the persisted, lease-based job scheduler core.
// Workers race for pending job runs through conditional updates; possession
// of a valid lease token is the sole authorization to advance a run.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/missiond/missiond/pkg/events"
	"github.com/missiond/missiond/pkg/eventbus"
	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Claim rejection reasons. These are expected outcomes, not errors.
const (
	ReasonDuplicateIdempotencyKey = "duplicate_idempotency_key"
	ReasonNotFound                = "not_found"
	ReasonNotPending              = "not_pending"
	ReasonLostRace                = "lost_claim_race"
	ReasonGlobalCapacity          = "global_inflight_limit"
	ReasonUserCapacity            = "per_user_inflight_limit"
)

const auditTimeout = 5 * time.Second

// Ledger exposes the sanctioned operation set over persisted job runs.
type Ledger struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	config      Config
	bus         eventbus.EventPublisher
	tracer      trace.Tracer
	now         func() time.Time
}

// Option configures optional ledger collaborators.
type Option func(*Ledger)

// WithEventBus attaches a lifecycle event publisher. Publishing is
// best-effort and never fails ledger operations.
func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(l *Ledger) { l.bus = bus }
}

// WithTracer attaches an OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(l *Ledger) { l.tracer = tracer }
}

// WithClock overrides the ledger clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a ledger over the given backing store.
func NewLedger(p persistence.Persistence, logger *slog.Logger, config Config, opts ...Option) *Ledger {
	ledger := &Ledger{
		persistence: p,
		logger:      logger.With("module", "ledger"),
		config:      config,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(ledger)
	}

	return ledger
}

// EnqueueResult reports the outcome of an enqueue call. A duplicate
// idempotency key is expected traffic and surfaces as OK=false, not as an
// error.
type EnqueueResult struct {
	OK     bool
	Reason string
	Run    *models.JobRun
}

// Enqueue inserts a new pending job run.
func (l *Ledger) Enqueue(ctx context.Context, input models.EnqueueInput) (*EnqueueResult, error) {
	ctx, span := l.startSpan(ctx, "ledger.enqueue", attribute.String("mission.id", input.MissionID))
	defer span.End()

	now := l.now()

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job run ID: %w", err)
	}

	scheduledFor := now
	if input.ScheduledFor != nil {
		scheduledFor = *input.ScheduledFor
	}

	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	source := input.Source
	if source == "" {
		source = models.JobRunSourceScheduler
	}

	run := &models.JobRun{
		ID:             id.String(),
		UserID:         input.UserID,
		MissionID:      input.MissionID,
		IdempotencyKey: input.IdempotencyKey,
		Status:         models.JobRunStatusPending,
		Priority:       input.Priority,
		ScheduledFor:   scheduledFor,
		Attempt:        0,
		MaxAttempts:    maxAttempts,
		Source:         source,
		RunKey:         input.RunKey,
		InputSnapshot:  input.InputSnapshot,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = l.persistence.JobRuns().Insert(ctx, run)
	if err != nil {
		if persistence.IsDuplicateIdempotencyKey(err) {
			return &EnqueueResult{OK: false, Reason: ReasonDuplicateIdempotencyKey}, nil
		}

		return nil, fmt.Errorf("failed to enqueue job run: %w", err)
	}

	l.audit(run.ID, run.UserID, models.AuditEventEnqueued, "ledger", map[string]any{
		"source":        string(run.Source),
		"scheduled_for": run.ScheduledFor,
	})
	l.publish(ctx, run, events.JobRunEnqueued{
		BaseEvent: l.baseEvent(events.JobRunEnqueuedEvent, run, ""),
		Source:    string(run.Source),
	})

	return &EnqueueResult{OK: true, Run: run}, nil
}

// ClaimInput identifies the row a worker wants and its lease duration.
type ClaimInput struct {
	JobRunID      string
	WorkerID      string
	LeaseDuration time.Duration
}

// ClaimResult reports the outcome of a claim attempt.
type ClaimResult struct {
	OK             bool
	Reason         string
	Run            *models.JobRun
	LeaseToken     string
	LeaseExpiresAt time.Time
}

// ClaimRun attempts to take exclusive ownership of a pending job run. The
// conditional update in the backing store is the sole race-safety
// mechanism: with N concurrent claimers, exactly one wins.
func (l *Ledger) ClaimRun(ctx context.Context, input ClaimInput) (*ClaimResult, error) {
	ctx, span := l.startSpan(ctx, "ledger.claim", attribute.String("job_run.id", input.JobRunID))
	defer span.End()

	inflight, err := l.persistence.JobRuns().CountInflight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count inflight job runs: %w", err)
	}

	if inflight >= l.config.GlobalInflightLimit {
		return &ClaimResult{OK: false, Reason: ReasonGlobalCapacity}, nil
	}

	run, err := l.persistence.JobRuns().GetByID(ctx, input.JobRunID)
	if err != nil {
		if persistence.IsJobRunNotFound(err) {
			return &ClaimResult{OK: false, Reason: ReasonNotFound}, nil
		}

		return nil, fmt.Errorf("failed to load job run: %w", err)
	}

	if run.Status != models.JobRunStatusPending {
		return &ClaimResult{OK: false, Reason: ReasonNotPending}, nil
	}

	userInflight, err := l.persistence.JobRuns().CountInflightForUser(ctx, run.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to count inflight job runs for user: %w", err)
	}

	if userInflight >= l.config.PerUserInflightLimit {
		return &ClaimResult{OK: false, Reason: ReasonUserCapacity}, nil
	}

	leaseDuration := input.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = l.config.LeaseTTL
	}

	leaseToken := uuid.New().String()
	leaseExpiresAt := l.now().Add(leaseDuration)

	claimed, err := l.persistence.JobRuns().ClaimPending(ctx, input.JobRunID, leaseToken, leaseExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job run: %w", err)
	}

	if !claimed {
		// Another worker's conditional update won.
		return &ClaimResult{OK: false, Reason: ReasonLostRace}, nil
	}

	l.audit(run.ID, run.UserID, models.AuditEventClaimed, input.WorkerID, map[string]any{
		"lease_expires_at": leaseExpiresAt,
	})
	l.publish(ctx, run, events.JobRunClaimed{
		BaseEvent:      l.baseEvent(events.JobRunClaimedEvent, run, input.WorkerID),
		LeaseExpiresAt: leaseExpiresAt,
	})

	return &ClaimResult{
		OK:             true,
		Run:            run,
		LeaseToken:     leaseToken,
		LeaseExpiresAt: leaseExpiresAt,
	}, nil
}

// Heartbeat extends the caller's lease. A false return means ownership is
// lost and the worker must stop; the failure is deliberately silent.
func (l *Ledger) Heartbeat(ctx context.Context, jobRunID, leaseToken string) bool {
	now := l.now()

	extended, err := l.persistence.JobRuns().ExtendLease(ctx, jobRunID, leaseToken, now.Add(l.config.LeaseTTL), now)
	if err != nil {
		l.logger.WarnContext(ctx, "Heartbeat failed", "job_run_id", jobRunID, "error", err)

		return false
	}

	if !extended {
		// Lost ownership. The caller only sees the boolean; the audit
		// trail keeps the record.
		if run, loadErr := l.persistence.JobRuns().GetByID(ctx, jobRunID); loadErr == nil {
			l.audit(run.ID, run.UserID, models.AuditEventHeartbeat, "worker", map[string]any{
				"extended": false,
			})
		}
	}

	return extended
}

// StartRun transitions a claimed run to running for the lease holder.
func (l *Ledger) StartRun(ctx context.Context, jobRunID, leaseToken string) (bool, error) {
	ctx, span := l.startSpan(ctx, "ledger.start", attribute.String("job_run.id", jobRunID))
	defer span.End()

	started, err := l.persistence.JobRuns().MarkRunning(ctx, jobRunID, leaseToken, l.now())
	if err != nil {
		return false, fmt.Errorf("failed to start job run: %w", err)
	}

	if started {
		run, err := l.persistence.JobRuns().GetByID(ctx, jobRunID)
		if err != nil {
			l.logger.WarnContext(ctx, "Failed to load started job run", "job_run_id", jobRunID, "error", err)

			return true, nil
		}

		l.audit(run.ID, run.UserID, models.AuditEventStarted, "worker", nil)
		l.publish(ctx, run, events.JobRunStarted{
			BaseEvent: l.baseEvent(events.JobRunStartedEvent, run, ""),
		})
	}

	return started, nil
}

// CompleteRun transitions a running run to succeeded, recording duration
// from started_at and clearing lease fields.
func (l *Ledger) CompleteRun(ctx context.Context, jobRunID, leaseToken string, outputSummary *string) (bool, error) {
	ctx, span := l.startSpan(ctx, "ledger.complete", attribute.String("job_run.id", jobRunID))
	defer span.End()

	run, err := l.persistence.JobRuns().GetByID(ctx, jobRunID)
	if err != nil {
		return false, fmt.Errorf("failed to load job run: %w", err)
	}

	now := l.now()

	var durationMs int64
	if run.StartedAt != nil {
		durationMs = now.Sub(*run.StartedAt).Milliseconds()
	}

	completed, err := l.persistence.JobRuns().MarkSucceeded(ctx, jobRunID, leaseToken, now, outputSummary, durationMs)
	if err != nil {
		return false, fmt.Errorf("failed to complete job run: %w", err)
	}

	if !completed {
		return false, nil
	}

	l.audit(run.ID, run.UserID, models.AuditEventSucceeded, "worker", map[string]any{
		"duration_ms": durationMs,
	})
	l.publish(ctx, run, events.JobRunSucceeded{
		BaseEvent:  l.baseEvent(events.JobRunSucceededEvent, run, ""),
		DurationMs: durationMs,
	})

	return true, nil
}

// FailResult reports the outcome of a failure: whether the run is dead and,
// if not, the retry row that replaced it.
type FailResult struct {
	OK       bool
	Dead     bool
	RetryRun *models.JobRun
}

// FailRun marks the run failed or dead. A failed, non-dead run spawns a new
// pending row (attempt+1, backoff-delayed, source=retry) in the same
// storage transaction, keeping history append-only.
func (l *Ledger) FailRun(ctx context.Context, jobRunID, leaseToken, errorCode, errorDetail string) (*FailResult, error) {
	ctx, span := l.startSpan(ctx, "ledger.fail", attribute.String("job_run.id", jobRunID))
	defer span.End()

	run, err := l.persistence.JobRuns().GetByID(ctx, jobRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job run: %w", err)
	}

	now := l.now()
	nextAttempt := run.Attempt + 1
	isDead := nextAttempt >= run.MaxAttempts

	terminal := models.JobRunStatusFailed

	var retry *models.JobRun

	if isDead {
		terminal = models.JobRunStatusDead
	} else {
		retryID, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate retry job run ID: %w", err)
		}

		backoff := l.config.Retry.Backoff(run.Attempt)
		retry = run.RetrySuccessor(retryID.String(), backoff, now)
	}

	marked, err := l.persistence.JobRuns().MarkFailed(ctx, jobRunID, leaseToken, terminal, errorCode, errorDetail, now, retry)
	if err != nil {
		return nil, fmt.Errorf("failed to mark job run failed: %w", err)
	}

	if !marked {
		return &FailResult{OK: false}, nil
	}

	if isDead {
		l.audit(run.ID, run.UserID, models.AuditEventDead, "worker", map[string]any{
			"error_code": errorCode,
			"attempts":   nextAttempt,
		})
		l.publish(ctx, run, events.JobRunDead{
			BaseEvent: l.baseEvent(events.JobRunDeadEvent, run, ""),
			ErrorCode: errorCode,
			Attempts:  nextAttempt,
		})

		return &FailResult{OK: true, Dead: true}, nil
	}

	l.audit(run.ID, run.UserID, models.AuditEventFailed, "worker", map[string]any{
		"error_code":   errorCode,
		"next_attempt": nextAttempt,
		"retry_run_id": retry.ID,
	})
	l.publish(ctx, run, events.JobRunFailed{
		BaseEvent:   l.baseEvent(events.JobRunFailedEvent, run, ""),
		ErrorCode:   errorCode,
		NextAttempt: nextAttempt,
		RetryRunID:  retry.ID,
	})

	return &FailResult{OK: true, RetryRun: retry}, nil
}

// CancelRun transitions a pending/claimed/running run to cancelled, scoped
// to the owning user.
func (l *Ledger) CancelRun(ctx context.Context, jobRunID, userID string) (bool, error) {
	ctx, span := l.startSpan(ctx, "ledger.cancel", attribute.String("job_run.id", jobRunID))
	defer span.End()

	cancelled, err := l.persistence.JobRuns().MarkCancelled(ctx, jobRunID, userID, l.now())
	if err != nil {
		return false, fmt.Errorf("failed to cancel job run: %w", err)
	}

	if cancelled {
		l.audit(jobRunID, userID, models.AuditEventCancelled, userID, nil)

		run, err := l.persistence.JobRuns().GetByID(ctx, jobRunID)
		if err != nil {
			l.logger.WarnContext(ctx, "Failed to load cancelled job run", "job_run_id", jobRunID, "error", err)

			return true, nil
		}

		l.publish(ctx, run, events.JobRunCancelled{
			BaseEvent: l.baseEvent(events.JobRunCancelledEvent, run, ""),
		})
	}

	return cancelled, nil
}

// ReclaimExpiredLeases returns lapsed claimed rows to the pending pool.
// This is the crash-recovery path: a worker that died mid-job eventually
// releases its claim here. Returns the number of reclaimed rows.
func (l *Ledger) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	ctx, span := l.startSpan(ctx, "ledger.reclaim")
	defer span.End()

	reclaimed, err := l.persistence.JobRuns().ResetExpiredLeases(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}

	for _, run := range reclaimed {
		l.audit(run.ID, run.UserID, models.AuditEventReclaimed, "sweeper", nil)
		l.publish(ctx, run, events.JobRunReclaimed{
			BaseEvent: l.baseEvent(events.JobRunReclaimedEvent, run, ""),
		})
	}

	if len(reclaimed) > 0 {
		l.logger.InfoContext(ctx, "Reclaimed expired leases", "count", len(reclaimed))
	}

	return len(reclaimed), nil
}

// CancelPendingForMission bulk-cancels pending and claimed runs for a
// mission, used when a mission definition changes.
func (l *Ledger) CancelPendingForMission(ctx context.Context, missionID string) (int64, error) {
	ctx, span := l.startSpan(ctx, "ledger.cancel_mission", attribute.String("mission.id", missionID))
	defer span.End()

	affected, err := l.persistence.JobRuns().CancelPendingForMission(ctx, missionID, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending job runs for mission: %w", err)
	}

	return affected, nil
}

// AuditTrail returns the append-only audit history of a job run.
func (l *Ledger) AuditTrail(ctx context.Context, jobRunID string) ([]*models.JobAuditEvent, error) {
	return l.persistence.Audit().ListByJobRun(ctx, jobRunID)
}

// GetRun loads a job run by ID.
func (l *Ledger) GetRun(ctx context.Context, jobRunID string) (*models.JobRun, error) {
	return l.persistence.JobRuns().GetByID(ctx, jobRunID)
}

// audit appends an audit event without blocking the caller's critical path.
func (l *Ledger) audit(jobRunID, userID, event, actor string, metadata map[string]any) {
	record := &models.JobAuditEvent{
		ID:        uuid.New().String(),
		JobRunID:  jobRunID,
		UserID:    userID,
		Event:     event,
		Actor:     actor,
		Metadata:  metadata,
		CreatedAt: l.now(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()

		err := l.persistence.Audit().Append(ctx, record)
		if err != nil {
			l.logger.Warn("Failed to append audit event", "job_run_id", jobRunID, "event", event, "error", err)
		}
	}()
}

func (l *Ledger) baseEvent(eventType events.EventType, run *models.JobRun, workerID string) events.BaseEvent {
	return events.BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: l.now(),
		JobRunID:  run.ID,
		MissionID: run.MissionID,
		UserID:    run.UserID,
		WorkerID:  workerID,
	}
}

func (l *Ledger) publish(ctx context.Context, run *models.JobRun, event events.Event) {
	if l.bus == nil {
		return
	}

	err := l.bus.Publish(ctx, run.MissionID, event)
	if err != nil {
		l.logger.WarnContext(ctx, "Failed to publish lifecycle event", "event", string(event.GetType()), "error", err)
	}
}

func (l *Ledger) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if l.tracer == nil {
		return noop.NewTracerProvider().Tracer("ledger").Start(ctx, name)
	}

	return l.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
