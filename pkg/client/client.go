// Package client is the Go Client Connection Manager SDK (spec §4.8):
// a process-local owner of one transport that multiplexes hook callbacks,
// coalesces outbound emits, reconnects with capped exponential backoff,
// and tracks room subscription state including the "recently unsubscribed"
// linger the UI layer needs.
//
// Grounded on the teacher's functional-options construction style
// (internal/domain/registry/options.go) and mutex-guarded map idiom; there
// is no direct teacher analogue for a client SDK itself (webitel has no
// client package in the retrieved pack), so the control flow here follows
// spec §4.8 directly, expressed the way the teacher expresses concurrent
// state (sync.Mutex-guarded maps, sync.Once for shutdown).
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/parkbeat/relay/internal/domain/event"
	"github.com/parkbeat/relay/internal/protocol"
)

// State is the connection manager's observable lifecycle (spec §4.8 item 3).
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateReconnecting State = "reconnecting"
)

// maxReconnectAttempts caps the reconnect loop per spec §4.8 item 3.
const maxReconnectAttempts = 5

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger attaches a logger; a nil logger (the default) discards logs.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDialer overrides the websocket dialer (tests substitute a fake).
func WithDialer(dial func(ctx context.Context, url string) (*websocket.Conn, error)) Option {
	return func(c *Client) { c.dial = dial }
}

// Client owns one transport connection and fans incoming events out to
// registered hooks while coalescing and buffering outbound emits.
type Client struct {
	url    string
	logger *slog.Logger
	dial   func(ctx context.Context, url string) (*websocket.Conn, error)

	mu    sync.Mutex
	state State
	ws    *websocket.Conn

	hooks     *hookTable
	rooms     *roomTracker
	coalescer *coalescer

	sendBuf []outboundFrame

	cancel    context.CancelFunc
	done      chan struct{}
	closeDone sync.Once
}

type outboundFrame struct {
	kind    event.Kind
	payload any
}

// New constructs a Client bound to url but does not connect yet.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:   url,
		state: StateDisconnected,
		hooks: newHookTable(),
		rooms: newRoomTracker(),
		done:  make(chan struct{}),
	}
	c.coalescer = newCoalescer(c.flushOne)
	c.dial = defaultDialer
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultDialer(ctx context.Context, url string) (*websocket.Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	return ws, nil
}

// Done closes when the read loop exits, whether from Close or a
// permanently failed reconnect.
func (c *Client) Done() <-chan struct{} { return c.done }

// State reports the current connection lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the transport and starts the read loop. It blocks until
// the first connection attempt succeeds or all reconnect attempts are
// exhausted.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.setState(StateConnecting)
	ws, err := c.connectWithBackoff(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateConnected)
	c.flushBuffer()

	go c.readLoop(ctx)
	return nil
}

func (c *Client) connectWithBackoff(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		ws, err := c.dial(ctx, c.url)
		if err == nil {
			return ws, nil
		}
		lastErr = err
		if c.logger != nil {
			c.logger.Warn("client: connect attempt failed", "attempt", attempt+1, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.NextBackOff()):
		}
	}
	return nil, fmt.Errorf("client: exhausted %d reconnect attempts: %w", maxReconnectAttempts, lastErr)
}

// readLoop runs until the connection drops (triggering a reconnect
// attempt in a fresh goroutine) or is closed for good. It deliberately
// does not close c.done itself: a successful reconnect starts a new
// readLoop, and closing an already-closed channel would panic.
func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()
		if ws == nil {
			return
		}

		_, raw, err := ws.ReadMessage()
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("client: read failed, reconnecting", "error", err)
			}
			c.reconnect(ctx)
			return
		}

		kind, payload, err := decodeServer(raw)
		if err != nil {
			if c.logger != nil {
				c.logger.Debug("client: dropped malformed frame", "error", err)
			}
			continue
		}
		c.hooks.dispatch(kind, payload)
	}
}

func (c *Client) reconnect(ctx context.Context) {
	c.setState(StateReconnecting)
	ws, err := c.connectWithBackoff(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		if c.logger != nil {
			c.logger.Error("client: reconnect failed permanently", "error", err)
		}
		c.closeDone.Do(func() { close(c.done) })
		return
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	c.setState(StateConnected)
	c.flushBuffer()
	go c.readLoop(ctx)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Close tears down the transport and stops all background work.
func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	c.closeDone.Do(func() { close(c.done) })
	if ws != nil {
		return ws.Close()
	}
	return nil
}

// Hook registers callback for every occurrence of kind, immediately
// replaying the last-known payload if one has been observed (spec §4.8
// item 1).
func (c *Client) Hook(kind event.Kind, callback func(payload any)) (unhook func()) {
	return c.hooks.register(kind, callback)
}

// Rooms reports the current room→state map (active / recently
// unsubscribed), for UI rendering (spec §4.8 item 4).
func (c *Client) Rooms() map[string]RoomState {
	return c.rooms.Snapshot()
}

// Emit sends a client→server event, honoring the coalescing policy in
// opts (spec §4.8 item 2). A zero-value EmitOptions sends immediately
// with no coalescing.
func (c *Client) Emit(kind event.Kind, payload any, opts EmitOptions) {
	c.trackRoom(kind, payload)

	if opts.Timing == TimingDelayed {
		c.coalescer.submit(kind, payload, opts)
		return
	}
	c.sendNow(kind, payload)
}

// flushOne is the coalescer's flush callback: it sends every payload
// queued for kind, in submission order, once the coalescing window
// closes.
func (c *Client) flushOne(kind event.Kind, payloads []any) {
	for _, payload := range payloads {
		c.sendNow(kind, payload)
	}
}

// sendNow writes directly to the transport if connected, otherwise
// appends to the outbound buffer for delivery on reconnect (spec §4.8
// item 5).
func (c *Client) sendNow(kind event.Kind, payload any) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		c.mu.Lock()
		c.sendBuf = append(c.sendBuf, outboundFrame{kind: kind, payload: payload})
		c.mu.Unlock()
		return
	}

	data, err := protocol.Encode(kind, payload)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("client: encode failed", "kind", kind, "error", err)
		}
		return
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		if c.logger != nil {
			c.logger.Warn("client: write failed, buffering", "kind", kind, "error", err)
		}
		c.mu.Lock()
		c.sendBuf = append(c.sendBuf, outboundFrame{kind: kind, payload: payload})
		c.mu.Unlock()
	}
}

// flushBuffer sends everything buffered while disconnected. Subscription
// events are upgraded to immediate and flushed first (spec §4.8 item 5).
func (c *Client) flushBuffer() {
	c.mu.Lock()
	buffered := c.sendBuf
	c.sendBuf = nil
	c.mu.Unlock()

	subs := buffered[:0:0]
	rest := buffered[:0:0]
	for _, frame := range buffered {
		if frame.kind == event.KindSubscribe || frame.kind == event.KindSubscribeProject {
			subs = append(subs, frame)
		} else {
			rest = append(rest, frame)
		}
	}
	for _, frame := range append(subs, rest...) {
		c.sendNow(frame.kind, frame.payload)
	}
}

// trackRoom updates room bookkeeping from an outbound subscribe/
// subscribeProject emit so Rooms() reflects pending state before any
// server acknowledgement arrives.
func (c *Client) trackRoom(kind event.Kind, payload any) {
	switch kind {
	case event.KindSubscribe:
		p, ok := payload.(event.SubscribePayload)
		if !ok {
			return
		}
		room := "geohash:" + p.Geohash
		if p.ShouldSubscribe {
			c.rooms.MarkActive(room)
		} else {
			c.rooms.MarkUnsubscribed(room)
		}
	case event.KindSubscribeProject:
		p, ok := payload.(event.SubscribeProjectPayload)
		if !ok {
			return
		}
		room := "project:" + p.ProjectID
		if p.ShouldSubscribe {
			c.rooms.MarkActive(room)
		} else {
			c.rooms.MarkUnsubscribed(room)
		}
	}
}
