package service

import (
	"context"
	"time"

	"github.com/parkbeat/relay/internal/adapter/pubsub"
	"github.com/parkbeat/relay/internal/domain/event"
	"github.com/parkbeat/relay/internal/fanout"
)

// deliveryTimeout bounds how long a single socket's mailbox send may block
// before the Conn's own backpressure/eviction logic takes over (spec §5).
const deliveryTimeout = 250 * time.Millisecond

// LocalHub is the subset of conn.Hub the broadcaster needs.
type LocalHub interface {
	Send(socketID string, ev event.Eventer, timeout time.Duration) bool
	IsConnected(socketID string) bool
}

// Broadcaster resolves a room's notify set via the Fan-out Engine, pushes
// to every socket this process holds locally, and publishes the same
// event (with the resolved target list) to the cross-process bus so other
// processes holding the remaining sockets can deliver it too.
type Broadcaster struct {
	hub        LocalHub
	fanout     *fanout.Engine
	dispatcher pubsub.EventDispatcher
}

func NewBroadcaster(hub LocalHub, fanout *fanout.Engine, dispatcher pubsub.EventDispatcher) *Broadcaster {
	return &Broadcaster{hub: hub, fanout: fanout, dispatcher: dispatcher}
}

// ToGeohashRooms fans an event out to every socket subscribed to any
// prefix of geohash (spec §4.3).
func (b *Broadcaster) ToGeohashRooms(ctx context.Context, geohash string, kind event.Kind, payload any, excludeSocket string) error {
	targets, err := b.fanout.NotifySet(ctx, geohash, excludeSocket)
	if err != nil {
		return err
	}
	return b.deliver("geohash:"+geohash, kind, payload, targets)
}

// ToProjectRoom fans an event out to every socket subscribed to a single
// project room.
func (b *Broadcaster) ToProjectRoom(ctx context.Context, projectID string, kind event.Kind, payload any, excludeSocket string) error {
	targets, err := b.fanout.ProjectRoomSubscribers(ctx, projectID, excludeSocket)
	if err != nil {
		return err
	}
	return b.deliver("project:"+projectID, kind, payload, targets)
}

// ToSocket addresses a single event directly at the originating socket
// (pong, provideSocketId, business/validation errors — spec §7). These
// never cross processes: a socket's owning process always holds its own
// transport.
func (b *Broadcaster) ToSocket(socketID string, kind event.Kind, payload any) bool {
	ev := event.New(kind, "", payload)
	return b.hub.Send(socketID, ev, deliveryTimeout)
}

func (b *Broadcaster) deliver(room string, kind event.Kind, payload any, targets []string) error {
	ev := event.New(kind, room, payload)

	remote := make([]string, 0, len(targets))
	for _, socketID := range targets {
		if !b.hub.Send(socketID, ev, deliveryTimeout) {
			remote = append(remote, socketID)
		}
	}

	if len(remote) == 0 || b.dispatcher == nil {
		return nil
	}

	exported := &pubsub.Exported{
		Kind:            kind,
		Room:            room,
		OccurredAt:      ev.OccurredAt,
		Payload:         payload,
		TargetSocketIDs: remote,
	}
	return b.dispatcher.Publish(context.Background(), exported)
}
