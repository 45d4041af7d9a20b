// Package dispatch routes contract-enforced mission output to delivery
// channels. Chat channels go through the shared Notifier with an
// idempotency key so retried dispatches do not duplicate messages; the
// in-app channel enqueues into redis; webhook and slack fan out
// concurrently over Safe Fetch with per-target results and no
// cross-target atomicity.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/safefetch"
)

// Notifier is the shared notification sender for chat channels. The
// implementation lives outside this core; IdempotencyKey makes repeated
// sends for one logical delivery safe.
type Notifier interface {
	Notify(ctx context.Context, channel models.Channel, userID, text, idempotencyKey string) error
}

// Input describes one dispatch request for a single channel.
type Input struct {
	Channel     models.Channel
	Text        string
	Targets     []string
	UserID      string
	ScheduleID  string
	RunID       string
	RunKey      string
	NodeID      string
	OutputIndex int
	Metadata    map[string]string
}

const inAppQueueKeyPrefix = "missiond:inapp:"

// inAppQueueTTL bounds how long undelivered in-app messages linger.
const inAppQueueTTL = 7 * 24 * time.Hour

// Dispatcher routes sanitized output to channel adapters.
type Dispatcher struct {
	notifier Notifier
	redis    *redis.Client
	fetch    *safefetch.Client
	calendar CalendarProvider
	logger   *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCalendarProvider enables best-effort calendar mirroring of
// delivered output.
func WithCalendarProvider(provider CalendarProvider) Option {
	return func(d *Dispatcher) { d.calendar = provider }
}

// NewDispatcher creates a dispatcher. The redis client may be nil when
// the in-app channel is not served by this process.
func NewDispatcher(notifier Notifier, redisClient *redis.Client, fetch *safefetch.Client, logger *slog.Logger, opts ...Option) *Dispatcher {
	dispatcher := &Dispatcher{
		notifier: notifier,
		redis:    redisClient,
		fetch:    fetch,
		logger:   logger.With("module", "dispatch"),
	}

	for _, opt := range opts {
		opt(dispatcher)
	}

	return dispatcher
}

// Dispatch delivers text to the channel in the input and returns one
// result per target. Single-target channels return exactly one result.
func (d *Dispatcher) Dispatch(ctx context.Context, input Input) []models.DispatchResult {
	var results []models.DispatchResult

	switch {
	case input.Channel.IsChat():
		results = []models.DispatchResult{d.dispatchChat(ctx, input)}
	case input.Channel == models.ChannelInApp:
		results = []models.DispatchResult{d.dispatchInApp(ctx, input)}
	case input.Channel == models.ChannelWebhook || input.Channel == models.ChannelSlack:
		results = d.dispatchTargets(ctx, input)
	default:
		results = []models.DispatchResult{{
			OK:    false,
			Error: fmt.Sprintf("unsupported channel: %q", input.Channel),
		}}
	}

	for _, result := range results {
		if result.OK {
			d.mirrorToCalendar(ctx, input)

			break
		}
	}

	return results
}

// IdempotencyKey derives the per-delivery key. RunKey substitutes for
// RunID on runs that never reached the ledger.
func IdempotencyKey(input Input) string {
	run := input.RunID
	if run == "" {
		run = input.RunKey
	}

	return strings.Join([]string{
		input.ScheduleID,
		run,
		input.NodeID,
		fmt.Sprintf("%d", input.OutputIndex),
		string(input.Channel),
	}, ":")
}

func (d *Dispatcher) dispatchChat(ctx context.Context, input Input) models.DispatchResult {
	if d.notifier == nil {
		return models.DispatchResult{OK: false, Error: "no notifier configured"}
	}

	key := IdempotencyKey(input)

	if err := d.notifier.Notify(ctx, input.Channel, input.UserID, input.Text, key); err != nil {
		d.logger.Error("chat dispatch failed",
			"channel", input.Channel,
			"user_id", input.UserID,
			"idempotency_key", key,
			"error", err,
		)

		return models.DispatchResult{OK: false, Error: err.Error()}
	}

	return models.DispatchResult{OK: true}
}

type inAppMessage struct {
	Text        string            `json:"text"`
	ScheduleID  string            `json:"schedule_id,omitempty"`
	RunID       string            `json:"run_id,omitempty"`
	NodeID      string            `json:"node_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
	Idempotency string            `json:"idempotency_key"`
}

func (d *Dispatcher) dispatchInApp(ctx context.Context, input Input) models.DispatchResult {
	if d.redis == nil {
		return models.DispatchResult{OK: false, Error: "no redis client configured"}
	}

	if input.UserID == "" {
		return models.DispatchResult{OK: false, Error: "in-app dispatch requires a user id"}
	}

	payload, err := json.Marshal(inAppMessage{
		Text:        input.Text,
		ScheduleID:  input.ScheduleID,
		RunID:       input.RunID,
		NodeID:      input.NodeID,
		Metadata:    input.Metadata,
		EnqueuedAt:  time.Now().UTC(),
		Idempotency: IdempotencyKey(input),
	})
	if err != nil {
		return models.DispatchResult{OK: false, Error: "failed to encode in-app message: " + err.Error()}
	}

	queueKey := inAppQueueKeyPrefix + input.UserID

	if err := d.redis.RPush(ctx, queueKey, payload).Err(); err != nil {
		d.logger.Error("in-app enqueue failed", "user_id", input.UserID, "error", err)

		return models.DispatchResult{OK: false, Error: err.Error()}
	}

	if err := d.redis.Expire(ctx, queueKey, inAppQueueTTL).Err(); err != nil {
		d.logger.Warn("in-app queue expire failed", "user_id", input.UserID, "error", err)
	}

	return models.DispatchResult{OK: true}
}

type targetPayload struct {
	Text       string            `json:"text"`
	ScheduleID string            `json:"schedule_id,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
	NodeID     string            `json:"node_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// dispatchTargets POSTs JSON to every target concurrently. Redirects stay
// disabled so a target cannot bounce the payload somewhere else.
func (d *Dispatcher) dispatchTargets(ctx context.Context, input Input) []models.DispatchResult {
	if len(input.Targets) == 0 {
		return []models.DispatchResult{{
			OK:    false,
			Error: fmt.Sprintf("%s dispatch requires at least one target URL", input.Channel),
		}}
	}

	body := targetPayload{
		Text:       input.Text,
		ScheduleID: input.ScheduleID,
		RunID:      input.RunID,
		NodeID:     input.NodeID,
		Metadata:   input.Metadata,
	}

	if input.Channel == models.ChannelSlack {
		return d.fanOut(ctx, input.Targets, map[string]any{"text": input.Text})
	}

	return d.fanOut(ctx, input.Targets, body)
}

func (d *Dispatcher) fanOut(ctx context.Context, targets []string, payload any) []models.DispatchResult {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return []models.DispatchResult{{OK: false, Error: "failed to encode payload: " + err.Error()}}
	}

	results := make([]models.DispatchResult, len(targets))

	var wg sync.WaitGroup

	for i, target := range targets {
		wg.Add(1)

		go func(i int, target string) {
			defer wg.Done()

			results[i] = d.postTarget(ctx, target, encoded)
		}(i, target)
	}

	wg.Wait()

	return results
}

func (d *Dispatcher) postTarget(ctx context.Context, target string, body []byte) models.DispatchResult {
	response, err := d.fetch.Fetch(ctx, safefetch.Request{
		URL:    target,
		Method: http.MethodPost,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body:            string(body),
		FollowRedirects: false,
	})
	if err != nil {
		d.logger.Warn("target dispatch failed", "target", target, "error", err)

		return models.DispatchResult{Target: target, OK: false, Error: err.Error()}
	}

	if !response.OK() {
		return models.DispatchResult{
			Target: target,
			OK:     false,
			Status: response.StatusCode,
			Error:  fmt.Sprintf("target returned HTTP %d", response.StatusCode),
		}
	}

	return models.DispatchResult{Target: target, OK: true, Status: response.StatusCode}
}
