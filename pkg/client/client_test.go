package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parkbeat/relay/internal/domain/event"
	"github.com/parkbeat/relay/internal/protocol"
)

// newEchoServer accepts one WebSocket connection and replies to every
// inbound ping frame with a pong frame and to every subscribeProject frame
// with a projectData frame for the same project; other frames get no reply.
func newEchoServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frame, err := protocol.Decode(raw)
			if err != nil {
				continue
			}
			switch frame.Kind {
			case event.KindPing:
				data, _ := protocol.Encode(event.KindPong, event.HeartbeatPayload{LastPingTime: 1})
				_ = conn.WriteMessage(websocket.TextMessage, data)
			case event.KindSubscribeProject:
				data, _ := protocol.Encode(event.KindProjectData, event.ProjectDataPayload{ProjectID: frame.SubscribeProject.ProjectID})
				_ = conn.WriteMessage(websocket.TextMessage, data)
			}
		}
	}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, url
}

func TestClientHookReceivesServerPong(t *testing.T) {
	srv, url := newEchoServer(t)
	defer srv.Close()

	c := New(url)
	defer c.Close()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	received := make(chan event.HeartbeatPayload, 1)
	c.Hook(event.KindPong, func(payload any) {
		received <- payload.(event.HeartbeatPayload)
	})

	c.Emit(event.KindPing, struct{}{}, EmitOptions{Timing: TimingImmediate})

	select {
	case p := <-received:
		if p.LastPingTime != 1 {
			t.Fatalf("unexpected payload %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pong")
	}
}

func TestClientEmitUpdatesRoomState(t *testing.T) {
	srv, url := newEchoServer(t)
	defer srv.Close()

	c := New(url)
	defer c.Close()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	c.Emit(event.KindSubscribeProject, event.SubscribeProjectPayload{ProjectID: "p1", ShouldSubscribe: true},
		EmitOptions{Timing: TimingImmediate})

	rooms := c.Rooms()
	if rooms["project:p1"] != RoomActive {
		t.Fatalf("expected project:p1 active, got %+v", rooms)
	}
}

func TestClientBuffersWhileDisconnected(t *testing.T) {
	c := New("ws://unused.invalid")
	defer c.Close()

	c.Emit(event.KindAddContribution, event.AddContributionPayload{ID: "c1"}, EmitOptions{Timing: TimingImmediate})

	if len(c.sendBuf) != 1 {
		t.Fatalf("expected 1 buffered frame, got %d", len(c.sendBuf))
	}
}
