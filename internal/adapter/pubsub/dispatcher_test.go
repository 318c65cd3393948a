package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/parkbeat/relay/internal/domain/event"
)

type fakePublisher struct {
	published []*message.Message
	topic     string
	err       error
}

func (f *fakePublisher) Publish(topic string, messages ...*message.Message) error {
	if f.err != nil {
		return f.err
	}
	f.topic = topic
	f.published = append(f.published, messages...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestPublishMarshalsAndSetsRoutingKey(t *testing.T) {
	pub := &fakePublisher{}
	d := NewEventDispatcher(pub, nil)

	ev := &Exported{
		Kind:            event.KindNewProject,
		Room:            "geohash:dr5r",
		OccurredAt:      time.Now(),
		Payload:         map[string]any{"id": "p1"},
		TargetSocketIDs: []string{"sock1"},
	}

	if err := d.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if pub.topic != Topic {
		t.Fatalf("got topic %q, want %q", pub.topic, Topic)
	}
	if len(pub.published) != 1 {
		t.Fatalf("got %d published messages, want 1", len(pub.published))
	}

	msg := pub.published[0]
	if got, want := msg.Metadata.Get("routing_key"), ev.RoutingKey(); got != want {
		t.Fatalf("got routing_key %q, want %q", got, want)
	}

	var decoded Exported
	if err := json.Unmarshal(msg.Payload, &decoded); err != nil {
		t.Fatalf("payload did not decode: %v", err)
	}
	if decoded.Kind != ev.Kind || decoded.Room != ev.Room {
		t.Fatalf("decoded %+v, want kind/room matching %+v", decoded, ev)
	}
}

func TestPublishRejectsNilEvent(t *testing.T) {
	d := NewEventDispatcher(&fakePublisher{}, nil)
	if err := d.Publish(context.Background(), nil); err == nil {
		t.Fatal("expected error publishing a nil event")
	}
}

func TestPublishWrapsPublisherError(t *testing.T) {
	boom := errPublishFailed{}
	pub := &fakePublisher{err: boom}
	d := NewEventDispatcher(pub, nil)

	err := d.Publish(context.Background(), &Exported{Kind: event.KindNewProject, Room: "r"})
	if err == nil {
		t.Fatal("expected Publish to surface the underlying publisher error")
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected error to wrap the publisher error, got %v", err)
	}
}

type errPublishFailed struct{}

func (errPublishFailed) Error() string { return "publish failed" }

func TestPublisherReturnsUnderlyingPublisher(t *testing.T) {
	pub := &fakePublisher{}
	d := NewEventDispatcher(pub, nil)
	if d.Publisher() != pub {
		t.Fatal("expected Publisher() to return the same instance passed to NewEventDispatcher")
	}
}
