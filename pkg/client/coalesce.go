package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/parkbeat/relay/internal/domain/event"
)

// ArgBehavior controls how a delayed emit interacts with others already
// queued for the same kind.
type ArgBehavior string

const (
	ArgAppend  ArgBehavior = "append"
	ArgReplace ArgBehavior = "replace"
)

// Timing selects whether an emit goes straight to the transport or sits
// in the per-kind coalescing queue.
type Timing string

const (
	TimingImmediate Timing = "immediate"
	TimingDelayed   Timing = "delayed"
)

// coalesceWindow is the delayed-queue flush delay (spec §4.8 item 2).
const coalesceWindow = 1000 * time.Millisecond

// EmitOptions tunes how Client.Emit treats one outbound event.
type EmitOptions struct {
	ArgBehavior ArgBehavior
	Timing      Timing
	// UniqueKey names a field in payload; a replace emit overwrites the
	// queued entry whose payload has the same value for that field,
	// letting a subscribe immediately followed by an unsubscribe cancel
	// out before either reaches the transport (spec §4.8 item 2).
	UniqueKey string
}

type queuedEmit struct {
	payload   any
	uniqueVal any
}

// coalescer batches delayed emits per kind and flushes each kind's queue
// atomically after coalesceWindow.
type coalescer struct {
	mu     sync.Mutex
	queues map[event.Kind][]queuedEmit
	timers map[event.Kind]*time.Timer
	flush  func(kind event.Kind, payloads []any)
}

func newCoalescer(flush func(kind event.Kind, payloads []any)) *coalescer {
	return &coalescer{
		queues: make(map[event.Kind][]queuedEmit),
		timers: make(map[event.Kind]*time.Timer),
		flush:  flush,
	}
}

// cancelField is the boolean payload field (shared by SubscribePayload and
// SubscribeProjectPayload) whose flip within one coalescing window signals
// a subscribe immediately undone by an unsubscribe, or vice versa.
const cancelField = "shouldSubscribe"

// submit adds a delayed emit to its kind's queue, applying uniqueKey
// replacement when requested.
func (c *coalescer) submit(kind event.Kind, payload any, opts EmitOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := queuedEmit{payload: payload, uniqueVal: fieldValue(payload, opts.UniqueKey)}

	if opts.ArgBehavior == ArgReplace && opts.UniqueKey != "" {
		queue := c.queues[kind]
		for i, existing := range queue {
			if existing.uniqueVal == nil || entry.uniqueVal == nil || existing.uniqueVal != entry.uniqueVal {
				continue
			}
			if cancelsOut(existing.payload, payload) {
				// Net effect of the pair is a no-op (spec §8 S5): drop the
				// queued entry instead of replacing it, so neither frame
				// ever reaches the transport.
				c.queues[kind] = append(queue[:i], queue[i+1:]...)
				return
			}
			queue[i] = entry
			c.queues[kind] = queue
			c.armTimer(kind)
			return
		}
	}

	c.queues[kind] = append(c.queues[kind], entry)
	c.armTimer(kind)
}

// cancelsOut reports whether replacing prev with next flips cancelField,
// meaning the pair cancels out rather than one superseding the other.
func cancelsOut(prev, next any) bool {
	prevFlag, prevOK := fieldValue(prev, cancelField).(bool)
	nextFlag, nextOK := fieldValue(next, cancelField).(bool)
	return prevOK && nextOK && prevFlag != nextFlag
}

func (c *coalescer) armTimer(kind event.Kind) {
	if _, exists := c.timers[kind]; exists {
		return
	}
	c.timers[kind] = time.AfterFunc(coalesceWindow, func() { c.fire(kind) })
}

func (c *coalescer) fire(kind event.Kind) {
	c.mu.Lock()
	queue := c.queues[kind]
	delete(c.queues, kind)
	delete(c.timers, kind)
	c.mu.Unlock()

	if len(queue) == 0 {
		return
	}
	payloads := make([]any, len(queue))
	for i, q := range queue {
		payloads[i] = q.payload
	}
	c.flush(kind, payloads)
}

// fieldValue extracts payload's value at jsonField via a JSON round trip,
// so the coalescer stays agnostic of the concrete payload struct type.
// uniqueKey fields are scalar identifiers (projectId, geohash) in every
// payload this SDK emits, so comparing the decoded values with == is safe.
func fieldValue(payload any, jsonField string) any {
	if jsonField == "" {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		return nil
	}
	return asMap[jsonField]
}
