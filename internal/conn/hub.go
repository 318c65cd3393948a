package conn

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parkbeat/relay/internal/domain/event"
)

// Hub is the local (per-process) registry of live sockets. Cross-process
// subscription state lives in internal/registry; Hub only tracks the
// sockets this process currently holds a transport for.
//
// Grounded on the teacher's registry.Hub (sync.Map + ticker-driven
// evictor), generalized from a UserID-keyed cell registry to a
// SocketID-keyed Conn registry.
type Hub struct {
	conns sync.Map // socketID -> Conn

	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int
	stopCh           chan struct{}
	stopOnce         sync.Once

	logger *slog.Logger

	// onEvict is invoked with the socket id of every reclaimed connection,
	// so callers can enqueue distributed cleanup (spec §4.7).
	onEvict func(socketID string)
}

// New initializes the Hub with functional options and starts the janitor.
func New(logger *slog.Logger, onEvict func(socketID string), opts ...Option) *Hub {
	h := &Hub{
		evictionInterval: 1 * time.Minute,
		idleTimeout:      5 * time.Minute,
		mailboxSize:      256,
		stopCh:           make(chan struct{}),
		logger:           logger,
		onEvict:          onEvict,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.runEvictor()
	return h
}

// MailboxSize is the configured per-socket buffer capacity.
func (h *Hub) MailboxSize() int { return h.mailboxSize }

// Register adds a socket's Conn to the local registry.
func (h *Hub) Register(socketID string, c Conn) {
	h.conns.Store(socketID, c)
}

// Unregister removes and closes a socket's Conn.
func (h *Hub) Unregister(socketID string) {
	if val, ok := h.conns.LoadAndDelete(socketID); ok {
		if c, ok := val.(Conn); ok {
			c.Close()
		}
	}
}

// IsConnected reports whether this process currently holds socketID.
func (h *Hub) IsConnected(socketID string) bool {
	_, ok := h.conns.Load(socketID)
	return ok
}

// Send delivers ev to one socket if it is connected to this process.
// Returns false if the socket isn't held here (the caller falls back to
// the cross-process bus via internal/adapter/pubsub).
func (h *Hub) Send(socketID string, ev event.Eventer, timeout time.Duration) bool {
	val, ok := h.conns.Load(socketID)
	if !ok {
		return false
	}
	c, ok := val.(Conn)
	if !ok {
		return false
	}
	c.Touch()
	return c.Send(ev, timeout)
}

func (h *Hub) runEvictor() {
	ticker := time.NewTicker(h.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.performEviction()
		}
	}
}

func (h *Hub) performEviction() {
	reaped := 0
	h.conns.Range(func(key, value any) bool {
		c, ok := value.(Conn)
		if !ok {
			return true
		}
		if c.IsIdle(h.idleTimeout) {
			socketID, _ := key.(string)
			c.Close()
			h.conns.Delete(key)
			reaped++
			if h.onEvict != nil {
				h.onEvict(socketID)
			}
		}
		return true
	})
	if reaped > 0 && h.logger != nil {
		h.logger.Info("hub eviction complete", "reclaimed", reaped)
	}
}

// Shutdown stops the janitor and closes every managed connection.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.conns.Range(func(key, value any) bool {
		if c, ok := value.(Conn); ok {
			c.Close()
		}
		return true
	})
}
