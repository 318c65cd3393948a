package client

import (
	"sync"

	"github.com/parkbeat/relay/internal/domain/event"
)

// hookTable implements spec §4.8 item 1: a kind→callback-set map that
// replays the last-known payload to a callback the moment it registers.
type hookTable struct {
	mu        sync.Mutex
	callbacks map[event.Kind]map[int]func(payload any)
	lastSeen  map[event.Kind]any
	nextID    int
}

func newHookTable() *hookTable {
	return &hookTable{
		callbacks: make(map[event.Kind]map[int]func(payload any)),
		lastSeen:  make(map[event.Kind]any),
	}
}

func (h *hookTable) register(kind event.Kind, callback func(payload any)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.callbacks[kind] == nil {
		h.callbacks[kind] = make(map[int]func(payload any))
	}
	h.callbacks[kind][id] = callback
	last, seen := h.lastSeen[kind]
	h.mu.Unlock()

	if seen {
		callback(last)
	}

	return func() {
		h.mu.Lock()
		delete(h.callbacks[kind], id)
		h.mu.Unlock()
	}
}

func (h *hookTable) dispatch(kind event.Kind, payload any) {
	h.mu.Lock()
	h.lastSeen[kind] = payload
	callbacks := make([]func(payload any), 0, len(h.callbacks[kind]))
	for _, cb := range h.callbacks[kind] {
		callbacks = append(callbacks, cb)
	}
	h.mu.Unlock()

	for _, cb := range callbacks {
		cb(payload)
	}
}
