package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"go.opentelemetry.io/otel/trace"

	"github.com/missiond/missiond/pkg/channels/gochannel"
	"github.com/missiond/missiond/pkg/channels/kafka"
	"github.com/missiond/missiond/pkg/eventbus"
)

// NewEventBus creates a lifecycle event bus for the given provider.
// "gochannel" keeps events in-process and is for single-binary setups.
func NewEventBus(provider string, logger *slog.Logger, tracer trace.Tracer) (eventbus.EventBus, error) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), "missiond")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, tracer), nil
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub, tracer), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %q", provider)
	}
}
