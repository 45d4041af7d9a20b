package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missiond/missiond/pkg/models"
	"github.com/missiond/missiond/pkg/safefetch"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestFetchClient() *safefetch.Client {
	return safefetch.NewClient(
		safefetch.DefaultConfig(),
		safefetch.WithTargetValidator(func(_ context.Context, _ string) error { return nil }),
	)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

type notifyCall struct {
	channel models.Channel
	userID  string
	text    string
	key     string
}

func (n *recordingNotifier) Notify(_ context.Context, channel models.Channel, userID, text, idempotencyKey string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls = append(n.calls, notifyCall{channel: channel, userID: userID, text: text, key: idempotencyKey})

	return n.err
}

type recordingCalendar struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (c *recordingCalendar) UpsertEvent(_ context.Context, eventID, _, _, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, eventID)

	return c.err
}

func baseInput(channel models.Channel) Input {
	return Input{
		Channel:     channel,
		Text:        "BTC is at $45,000.",
		UserID:      "user-1",
		ScheduleID:  "sched-1",
		RunID:       "run-1",
		NodeID:      "notify-1",
		OutputIndex: 0,
	}
}

func TestIdempotencyKey(t *testing.T) {
	t.Parallel()

	input := baseInput(models.ChannelTelegram)

	key := IdempotencyKey(input)
	assert.Equal(t, "sched-1:run-1:notify-1:0:telegram", key)
	assert.Equal(t, key, IdempotencyKey(input))

	input.OutputIndex = 2
	assert.Equal(t, "sched-1:run-1:notify-1:2:telegram", IdempotencyKey(input))
}

func TestIdempotencyKey_RunKeySubstitutes(t *testing.T) {
	t.Parallel()

	input := baseInput(models.ChannelDiscord)
	input.RunID = ""
	input.RunKey = "sched-1:2026-08-29T09:00"

	assert.Equal(t, "sched-1:sched-1:2026-08-29T09:00:notify-1:0:discord", IdempotencyKey(input))
}

func TestCalendarEventID(t *testing.T) {
	t.Parallel()

	input := baseInput(models.ChannelTelegram)
	at := time.Date(2026, 8, 29, 9, 30, 0, 0, time.UTC)

	eventID := CalendarEventID(input, at)
	assert.Len(t, eventID, 32)
	assert.Equal(t, eventID, CalendarEventID(input, at))

	// Same hour bucket collapses, a later hour does not.
	assert.Equal(t, eventID, CalendarEventID(input, at.Add(20*time.Minute)))
	assert.NotEqual(t, eventID, CalendarEventID(input, at.Add(time.Hour)))

	other := input
	other.NodeID = "notify-2"
	assert.NotEqual(t, eventID, CalendarEventID(other, at))
}

func TestDispatch_ChatUsesNotifier(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(notifier, nil, newTestFetchClient(), testLogger())

	results := dispatcher.Dispatch(context.Background(), baseInput(models.ChannelTelegram))

	require.Len(t, results, 1)
	assert.True(t, results[0].OK)

	require.Len(t, notifier.calls, 1)
	call := notifier.calls[0]
	assert.Equal(t, models.ChannelTelegram, call.channel)
	assert.Equal(t, "user-1", call.userID)
	assert.Equal(t, "BTC is at $45,000.", call.text)
	assert.Equal(t, "sched-1:run-1:notify-1:0:telegram", call.key)
}

func TestDispatch_ChatNotifierError(t *testing.T) {
	t.Parallel()

	notifier := &recordingNotifier{err: errors.New("telegram unreachable")}
	dispatcher := NewDispatcher(notifier, nil, newTestFetchClient(), testLogger())

	results := dispatcher.Dispatch(context.Background(), baseInput(models.ChannelTelegram))

	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Error, "telegram unreachable")
}

func TestDispatch_ChatWithoutNotifier(t *testing.T) {
	t.Parallel()

	dispatcher := NewDispatcher(nil, nil, newTestFetchClient(), testLogger())

	results := dispatcher.Dispatch(context.Background(), baseInput(models.ChannelDiscord))

	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Error, "no notifier configured")
}

func TestDispatch_InAppWithoutRedis(t *testing.T) {
	t.Parallel()

	dispatcher := NewDispatcher(&recordingNotifier{}, nil, newTestFetchClient(), testLogger())

	results := dispatcher.Dispatch(context.Background(), baseInput(models.ChannelInApp))

	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Error, "no redis client configured")
}

func TestDispatch_WebhookFanOutPartialSuccess(t *testing.T) {
	t.Parallel()

	var received targetPayload

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	dispatcher := NewDispatcher(nil, nil, newTestFetchClient(), testLogger())

	input := baseInput(models.ChannelWebhook)
	input.Targets = []string{good.URL, bad.URL}

	results := dispatcher.Dispatch(context.Background(), input)

	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.Equal(t, good.URL, results[0].Target)
	assert.Equal(t, http.StatusOK, results[0].Status)
	assert.False(t, results[1].OK)
	assert.Equal(t, http.StatusInternalServerError, results[1].Status)
	assert.Contains(t, results[1].Error, "HTTP 500")

	assert.Equal(t, "BTC is at $45,000.", received.Text)
	assert.Equal(t, "run-1", received.RunID)
	assert.Equal(t, "notify-1", received.NodeID)
}

func TestDispatch_SlackPayloadShape(t *testing.T) {
	t.Parallel()

	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dispatcher := NewDispatcher(nil, nil, newTestFetchClient(), testLogger())

	input := baseInput(models.ChannelSlack)
	input.Targets = []string{server.URL}

	results := dispatcher.Dispatch(context.Background(), input)

	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.Equal(t, map[string]any{"text": "BTC is at $45,000."}, payload)
}

func TestDispatch_WebhookRequiresTargets(t *testing.T) {
	t.Parallel()

	dispatcher := NewDispatcher(nil, nil, newTestFetchClient(), testLogger())

	results := dispatcher.Dispatch(context.Background(), baseInput(models.ChannelWebhook))

	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Error, "at least one target")
}

func TestDispatch_UnsupportedChannel(t *testing.T) {
	t.Parallel()

	dispatcher := NewDispatcher(nil, nil, newTestFetchClient(), testLogger())

	results := dispatcher.Dispatch(context.Background(), baseInput(models.Channel("pager")))

	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Error, "unsupported channel")
}

func TestDispatch_CalendarMirroredOnSuccessOnly(t *testing.T) {
	t.Parallel()

	calendar := &recordingCalendar{}
	notifier := &recordingNotifier{}
	dispatcher := NewDispatcher(notifier, nil, newTestFetchClient(), testLogger(), WithCalendarProvider(calendar))

	dispatcher.Dispatch(context.Background(), baseInput(models.ChannelTelegram))
	require.Len(t, calendar.events, 1)

	notifier.err = errors.New("down")

	dispatcher.Dispatch(context.Background(), baseInput(models.ChannelTelegram))
	assert.Len(t, calendar.events, 1)
}

func TestDispatch_CalendarFailureSwallowed(t *testing.T) {
	t.Parallel()

	calendar := &recordingCalendar{err: errors.New("calendar api down")}
	dispatcher := NewDispatcher(&recordingNotifier{}, nil, newTestFetchClient(), testLogger(), WithCalendarProvider(calendar))

	results := dispatcher.Dispatch(context.Background(), baseInput(models.ChannelTelegram))

	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
}
