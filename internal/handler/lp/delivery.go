// Package lp implements a long-polling fallback transport for clients that
// cannot hold a WebSocket connection open (spec §6: the relay's transport
// is "JSON over an HTTP-upgradeable connection"; this is the non-upgraded
// path). One poll subscribes a throwaway socket to the requested rooms,
// waits up to 30s for events, and tears the socket back down.
package lp

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parkbeat/relay/internal/cleanup"
	"github.com/parkbeat/relay/internal/conn"
	"github.com/parkbeat/relay/internal/domain/event"
	"github.com/parkbeat/relay/internal/protocol"
	"github.com/parkbeat/relay/internal/service"
)

const pollTimeout = 30 * time.Second

// Handler answers GET /api/poll/{geohash} style long-poll requests.
type Handler struct {
	hub      *conn.Hub
	registry service.SubscriptionRegistrar
	projects *service.ProjectService
	cleanup  *cleanup.Pipeline
}

func NewHandler(hub *conn.Hub, registry service.SubscriptionRegistrar, projects *service.ProjectService, pipeline *cleanup.Pipeline) *Handler {
	return &Handler{hub: hub, registry: registry, projects: projects, cleanup: pipeline}
}

// teardown unregisters the throwaway socket and, since each poll subscribes
// it to a room (spec §4.2), enqueues the same distributed cleanup a
// WebSocket disconnect does — a long-poll socket never reconnects to clear
// its own Subscription Registry entries otherwise.
func (h *Handler) teardown(c conn.Conn) {
	h.hub.Unregister(c.ID())
	c.Close()
	if h.cleanup != nil {
		h.cleanup.Enqueue(context.Background(), c.ID())
	}
}

// PollGeohash subscribes a throwaway socket to the geohash room, waits for
// the first batch of events (or the initial subscribe snapshot), and
// returns them as a JSON array.
func (h *Handler) PollGeohash(w http.ResponseWriter, r *http.Request) {
	geohash := chi.URLParam(r, "geohash")
	if geohash == "" {
		http.Error(w, "missing geohash", http.StatusBadRequest)
		return
	}

	c := conn.New(r.Context(), h.hub.MailboxSize())
	h.hub.Register(c.ID(), c)
	defer h.teardown(c)

	snap, err := h.projects.Subscribe(r.Context(), c.ID(), event.SubscribePayload{Geohash: geohash, ShouldSubscribe: true})
	if err != nil {
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}

	events := []event.Eventer{event.New(event.KindSubscribe, "geohash:"+geohash, snap)}
	events = h.drain(r.Context(), c, events)

	writeEvents(w, events)
}

// PollProject is the project-room analogue of PollGeohash.
func (h *Handler) PollProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	if projectID == "" {
		http.Error(w, "missing project id", http.StatusBadRequest)
		return
	}

	c := conn.New(r.Context(), h.hub.MailboxSize())
	h.hub.Register(c.ID(), c)
	defer h.teardown(c)

	snap, err := h.projects.SubscribeProject(r.Context(), c.ID(), event.SubscribeProjectPayload{ProjectID: projectID, ShouldSubscribe: true})
	if err != nil {
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}

	events := []event.Eventer{event.New(event.KindProjectData, "project:"+projectID,
		event.ProjectDataPayload{ProjectID: projectID, Data: *snap})}
	events = h.drain(r.Context(), c, events)

	writeEvents(w, events)
}

// drain waits up to pollTimeout for the first event, then opportunistically
// batches up to 15 more that are already queued, mirroring the drain-loop
// shape of a classic long-poll endpoint.
func (h *Handler) drain(ctx context.Context, c conn.Conn, events []event.Eventer) []event.Eventer {
	select {
	case <-ctx.Done():
		return events
	case <-time.After(pollTimeout):
		return events
	case ev, ok := <-c.Recv():
		if !ok {
			return events
		}
		events = append(events, ev)
	}

drainLoop:
	for range 15 {
		select {
		case ev, ok := <-c.Recv():
			if !ok {
				break drainLoop
			}
			events = append(events, ev)
		default:
			break drainLoop
		}
	}
	return events
}

// writeEvents renders the batch as a JSON array of the same
// {"event":..,"data":..} frames the WebSocket transport uses, so clients
// share one decoder across both transports.
func writeEvents(w http.ResponseWriter, events []event.Eventer) {
	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, ev := range events {
		frame, err := protocol.Encode(ev.GetKind(), ev.GetPayload())
		if err != nil {
			http.Error(w, "marshal error", http.StatusInternalServerError)
			return
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(frame)
	}
	buf.WriteByte(']')

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
