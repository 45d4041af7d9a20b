package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/missiond/missiond/pkg/channels/gochannel"
	"github.com/missiond/missiond/pkg/eventbus"
	"github.com/missiond/missiond/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateChannel(watermill.NewStdLogger(false, false))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, noop.NewTracerProvider().Tracer("test"))
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishSubscribeRoundTrip(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []*events.JobRunStarted
	)

	err := bus.Handle(events.JobRunStartedEvent, func(_ context.Context, event any) error {
		started, ok := event.(*events.JobRunStarted)
		require.True(t, ok)

		mu.Lock()
		defer mu.Unlock()

		received = append(received, started)

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	err = bus.Publish(ctx, "mission-1", events.JobRunStarted{
		BaseEvent: events.BaseEvent{
			ID:        "event-1",
			Type:      events.JobRunStartedEvent,
			JobRunID:  "run-1",
			MissionID: "mission-1",
			UserID:    "user-1",
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(received) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "run-1", received[0].JobRunID)
	assert.Equal(t, "mission-1", received[0].MissionID)
}

func TestWatermillEventBus_UnhandledEventTypeIsAcked(t *testing.T) {
	t.Parallel()

	bus := newTestBus(t)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		count int
	)

	err := bus.Handle(events.JobRunCancelledEvent, func(_ context.Context, _ any) error {
		mu.Lock()
		defer mu.Unlock()

		count++

		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Subscribe(ctx))

	// No handler registered for succeeded events; the bus must drop them
	// without stalling the stream.
	err = bus.Publish(ctx, "mission-1", events.JobRunSucceeded{
		BaseEvent: events.BaseEvent{ID: "event-1", Type: events.JobRunSucceededEvent, JobRunID: "run-1"},
	})
	require.NoError(t, err)

	err = bus.Publish(ctx, "mission-1", events.JobRunCancelled{
		BaseEvent: events.BaseEvent{ID: "event-2", Type: events.JobRunCancelledEvent, JobRunID: "run-1"},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return count == 1
	}, 2*time.Second, 10*time.Millisecond)
}
