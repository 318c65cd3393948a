// Package pubsub publishes Exportable events onto the cross-process bus
// (SPEC_FULL §2 domain stack: watermill) so sockets held by other server
// processes subscribed to the same room receive fan-out this process
// originates.
//
// Grounded on the teacher's internal/adapter/pubsub/dispatcher.go, kept
// near-verbatim since the JSON-marshal-and-publish-by-routing-key
// mechanism is transport-agnostic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// EventDispatcher lets handlers stay agnostic of the transport
// implementation underneath.
type EventDispatcher interface {
	Publish(ctx context.Context, ev *Exported) error
	Publisher() message.Publisher
}

type eventDispatcher struct {
	publisher message.Publisher
	logger    *slog.Logger
}

// NewEventDispatcher returns the interface instead of the struct pointer.
func NewEventDispatcher(pub message.Publisher, logger *slog.Logger) EventDispatcher {
	return &eventDispatcher{publisher: pub, logger: logger}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev *Exported) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("routing_key", ev.RoutingKey())

	if d.logger != nil {
		d.logger.Debug("publishing event", "routing_key", ev.RoutingKey())
	}
	if err := d.publisher.Publish(Topic, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", Topic, err)
	}

	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.publisher
}
