// Package conn implements the Connection Layer (spec §4.4): one actor per
// socket, owning its outbound mailbox and exposing priority-aware
// backpressure handling.
//
// Grounded on the teacher's internal/domain/registry/cell.go and
// connect.go. Webitel's Cell multiplexes several sessions (devices) per
// user; parkbeat's Socket model has no multi-device fan-in (spec §3), so
// the per-user Cell and per-session Connector are collapsed into a single
// per-socket Conn carrying both the mailbox and the sync.Pool-backed
// object-reuse pattern the teacher's connect.go establishes.
package conn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parkbeat/relay/internal/domain/event"
)

// Conn is the external API for a single socket's delivery channel.
type Conn interface {
	ID() string
	Send(ev event.Eventer, timeout time.Duration) bool
	Recv() <-chan event.Eventer
	Touch()
	IsIdle(timeout time.Duration) bool
	Close()
}

var _ Conn = (*conn)(nil)

type conn struct {
	id             string
	ctx            context.Context
	cancelFn       context.CancelFunc
	sendCh         chan event.Eventer
	closeOnce      sync.Once
	lastActivityAt int64 // unix nano, atomic
	droppedCount   uint64
}

// connPool reduces GC pressure the way the teacher's connectPool does.
var connPool = sync.Pool{New: func() any { return &conn{} }}

// New creates (or reuses from the pool) a Conn for a freshly opened
// socket.
func New(parent context.Context, bufferSize int) Conn {
	c := connPool.Get().(*conn)
	c.reset(parent, bufferSize)
	return c
}

func (c *conn) reset(parent context.Context, bufferSize int) {
	childCtx, cancel := context.WithCancel(parent)
	*c = conn{
		id:             uuid.NewString(),
		ctx:            childCtx,
		cancelFn:       cancel,
		sendCh:         make(chan event.Eventer, bufferSize),
		lastActivityAt: time.Now().UnixNano(),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Touch() { atomic.StoreInt64(&c.lastActivityAt, time.Now().UnixNano()) }

func (c *conn) IsIdle(timeout time.Duration) bool {
	last := time.Unix(0, atomic.LoadInt64(&c.lastActivityAt))
	return time.Since(last) > timeout
}

// Send waits up to timeout for mailbox space, then falls back to
// priority-based eviction: a low-priority event (heartbeat) is dropped, and
// any other event takes the place of the oldest queued event only if that
// one has lower priority; otherwise it is dropped and Send returns false.
// No event blocks longer than timeout.
func (c *conn) Send(ev event.Eventer, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	case <-c.ctx.Done():
		return false
	case c.sendCh <- ev:
		return true
	case <-ctx.Done():
		return c.handleBackpressure(ev)
	}
}

func (c *conn) handleBackpressure(ev event.Eventer) bool {
	if ev.GetPriority() <= event.PriorityLow {
		atomic.AddUint64(&c.droppedCount, 1)
		return false
	}

	select {
	case old := <-c.sendCh:
		if old.GetPriority() < ev.GetPriority() {
			select {
			case c.sendCh <- ev:
				return true
			default:
			}
		}
		select {
		case c.sendCh <- old:
		default:
		}
	default:
	}

	atomic.AddUint64(&c.droppedCount, 1)
	return false
}

func (c *conn) Recv() <-chan event.Eventer { return c.sendCh }

// Close tears down the socket idempotently and recycles the struct.
func (c *conn) Close() {
	c.closeOnce.Do(func() {
		c.cancelFn()
		if c.sendCh != nil {
			close(c.sendCh)
		}
		c.sendCh = nil
		connPool.Put(c)
	})
}
