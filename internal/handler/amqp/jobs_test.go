package amqp

import (
	"context"
	"encoding/json"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/parkbeat/relay/internal/domain/event"
	"github.com/parkbeat/relay/internal/domain/model"
	"github.com/parkbeat/relay/internal/fanout"
	"github.com/parkbeat/relay/internal/protocol"
	"github.com/parkbeat/relay/internal/service"
)

type fakePublisher struct {
	topic    string
	messages []*message.Message
}

func (f *fakePublisher) Publish(topic string, messages ...*message.Message) error {
	f.topic = topic
	f.messages = append(f.messages, messages...)
	return nil
}
func (f *fakePublisher) Close() error { return nil }

type fakeLocalHub struct{}

func (fakeLocalHub) Send(_ string, _ event.Eventer, _ time.Duration) bool { return true }
func (fakeLocalHub) IsConnected(_ string) bool                           { return false }

type fakeSubscribers struct{}

func (fakeSubscribers) ActiveSubscribers(_ context.Context, _ model.Room, _ ...string) ([]model.SubscriptionRecord, error) {
	return nil, nil
}

func newTestBroadcaster() *service.Broadcaster {
	return service.NewBroadcaster(fakeLocalHub{}, fanout.New(fakeSubscribers{}), nil)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEnqueueValidateImagePublishesEncodedFrame(t *testing.T) {
	pub := &fakePublisher{}
	jobs := NewJobPublisher(pub)

	err := jobs.EnqueueValidateImage(context.Background(), event.ValidateImagePayload{ProjectID: "p1", RequestID: "r1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pub.topic != JobRequestTopic {
		t.Fatalf("expected topic %s, got %s", JobRequestTopic, pub.topic)
	}
	if len(pub.messages) != 1 {
		t.Fatalf("expected 1 message published, got %d", len(pub.messages))
	}

	var frame protocol.Frame
	if err := json.Unmarshal(pub.messages[0].Payload, &frame); err != nil {
		t.Fatalf("decode published payload: %v", err)
	}
	if frame.Event != string(event.KindValidateImage) {
		t.Fatalf("expected event tag %s, got %s", event.KindValidateImage, frame.Event)
	}
}

func TestDecodeFrameRejectsMissingEventTag(t *testing.T) {
	_, err := decodeFrame([]byte(`{"data":{}}`))
	if err == nil {
		t.Fatal("expected error for missing event tag")
	}
}

func TestDecodeFrameRejectsMalformedJSON(t *testing.T) {
	_, err := decodeFrame([]byte(`not json`))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestResultHandlerDispatchRoutesEachJobKind(t *testing.T) {
	h := NewResultHandler(newTestBroadcaster(), discardLogger())

	cases := []struct {
		kind      event.Kind
		payload   any
		projectID string
	}{
		{event.KindImageValidation, event.ImageValidationPayload{ProjectID: "p1", Valid: true}, "p1"},
		{event.KindImageAnalysis, event.ImageAnalysisPayload{ProjectID: "p2"}, "p2"},
		{event.KindProjectVision, event.ProjectVisionPayload{ProjectID: "p3"}, "p3"},
		{event.KindCostEstimate, event.CostEstimatePayload{ProjectID: "p4"}, "p4"},
	}

	for _, c := range cases {
		data, err := json.Marshal(c.payload)
		if err != nil {
			t.Fatalf("marshal fixture: %v", err)
		}
		frame := protocol.Frame{Event: string(c.kind), Data: data}

		projectID, err := h.dispatch(context.Background(), frame)
		if err != nil {
			t.Fatalf("dispatch(%s): unexpected error: %v", c.kind, err)
		}
		if projectID != c.projectID {
			t.Fatalf("dispatch(%s): expected project %s, got %s", c.kind, c.projectID, projectID)
		}
	}
}

func TestResultHandlerDispatchRejectsUnknownKind(t *testing.T) {
	h := NewResultHandler(newTestBroadcaster(), discardLogger())

	_, err := h.dispatch(context.Background(), protocol.Frame{Event: "somethingElse", Data: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected error for unrecognized job result kind")
	}
}

func TestAsNoPublishHandlerAcksOnMalformedPayload(t *testing.T) {
	h := NewResultHandler(newTestBroadcaster(), discardLogger())
	handle := h.AsNoPublishHandler()

	msg := message.NewMessage("id1", []byte("not json"))
	if err := handle(msg); err != nil {
		t.Fatalf("expected poison-pill message to be acked (nil error), got %v", err)
	}
}

func TestAsNoPublishHandlerAcksOnValidPayload(t *testing.T) {
	h := NewResultHandler(newTestBroadcaster(), discardLogger())
	handle := h.AsNoPublishHandler()

	data, _ := json.Marshal(event.ImageValidationPayload{ProjectID: "p1", Valid: true})
	frame, _ := json.Marshal(protocol.Frame{Event: string(event.KindImageValidation), Data: data})
	msg := message.NewMessage("id2", frame)

	if err := handle(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
