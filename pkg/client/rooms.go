package client

import (
	"sync"
	"time"
)

// unsubscribeLinger is how long a room stays visible as "recently
// unsubscribed" after a shouldSubscribe:false (spec §4.8 item 4).
const unsubscribeLinger = 15 * time.Second

// RoomState mirrors the server-side subscription map plus the client-only
// transient "unsubscribed" state.
type RoomState string

const (
	RoomActive       RoomState = "active"
	RoomUnsubscribed RoomState = "unsubscribed"
)

type roomTracker struct {
	mu     sync.Mutex
	rooms  map[string]RoomState
	timers map[string]*time.Timer
}

func newRoomTracker() *roomTracker {
	return &roomTracker{
		rooms:  make(map[string]RoomState),
		timers: make(map[string]*time.Timer),
	}
}

// MarkActive records room as actively subscribed, cancelling any pending
// linger timer from a prior unsubscribe.
func (t *roomTracker) MarkActive(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[room]; ok {
		timer.Stop()
		delete(t.timers, room)
	}
	t.rooms[room] = RoomActive
}

// MarkUnsubscribed moves room into the lingering "unsubscribed" state and
// removes it entirely after unsubscribeLinger.
func (t *roomTracker) MarkUnsubscribed(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms[room] = RoomUnsubscribed
	if timer, ok := t.timers[room]; ok {
		timer.Stop()
	}
	t.timers[room] = time.AfterFunc(unsubscribeLinger, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.rooms[room] == RoomUnsubscribed {
			delete(t.rooms, room)
		}
		delete(t.timers, room)
	})
}

// Snapshot returns a copy of the current room→state map, for UI rendering.
func (t *roomTracker) Snapshot() map[string]RoomState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]RoomState, len(t.rooms))
	for room, state := range t.rooms {
		out[room] = state
	}
	return out
}
