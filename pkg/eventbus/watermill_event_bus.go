package eventbus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/missiond/missiond/pkg/events"
	"github.com/missiond/missiond/pkg/otelhelper"
)

var errUnknownEventType = errors.New("unknown event type")

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	tracer        trace.Tracer
	subscriptions map[events.EventType]EventHandler
}

// NewWatermillEventBus wraps a watermill pub/sub pair. A nil tracer
// disables span emission on the consume path.
func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber, tracer trace.Tracer) EventBus {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("eventbus")
	}

	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		tracer:        tracer,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eb.consume(ctx, msg)
		}
	}()

	return nil
}

func (eb *WatermillEventBus) consume(ctx context.Context, msg *message.Message) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	msgCtx, span := otelhelper.StartSpan(ctx, eb.tracer, "eventbus.consume",
		attribute.String("event.type", string(eventType)),
		attribute.String("event.key", msg.Metadata.Get(events.EventMetadataKey)),
	)
	defer span.End()

	handler, exists := eb.subscriptions[eventType]
	if !exists {
		msg.Ack()

		return
	}

	event := newEventByType(eventType)
	if event == nil {
		otelhelper.SetError(span, errUnknownEventType)
		msg.Nack()

		return
	}

	err := json.Unmarshal(msg.Payload, event)
	if err != nil {
		otelhelper.SetError(span, err)
		msg.Nack()

		return
	}

	err = handler(msgCtx, event)
	if err != nil {
		otelhelper.SetError(span, err)
		msg.Nack()

		return
	}

	msg.Ack()
}

func newEventByType(eventType events.EventType) any {
	switch eventType {
	case events.JobRunEnqueuedEvent:
		return &events.JobRunEnqueued{}
	case events.JobRunClaimedEvent:
		return &events.JobRunClaimed{}
	case events.JobRunStartedEvent:
		return &events.JobRunStarted{}
	case events.JobRunSucceededEvent:
		return &events.JobRunSucceeded{}
	case events.JobRunFailedEvent:
		return &events.JobRunFailed{}
	case events.JobRunDeadEvent:
		return &events.JobRunDead{}
	case events.JobRunCancelledEvent:
		return &events.JobRunCancelled{}
	case events.JobRunReclaimedEvent:
		return &events.JobRunReclaimed{}
	default:
		return nil
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
