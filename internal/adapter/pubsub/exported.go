package pubsub

import (
	"time"

	"github.com/parkbeat/relay/internal/domain/event"
)

// Topic is the single fan-out topic every process publishes to and every
// process's own node-queue subscribes from (internal/handler/amqp wires
// the subscriber side). One shared topic, not one per room, because the
// underlying AMQP transport binds exchange/queue names off the topic
// string: per-room topics would fragment fan-out into one exchange per
// room instead of one fanout exchange every node listens on.
const Topic = "parkbeat.fanout"

// Exported is the cross-process wire shape published for a room fan-out.
// It carries the resolved target socket ids alongside the event so a
// receiving process's amqp listener doesn't need to recompute the notify
// set (SPEC_FULL §3.11/§3's adapter entry).
type Exported struct {
	Kind            event.Kind `json:"kind"`
	Room            string     `json:"room"`
	OccurredAt      time.Time  `json:"occurred_at"`
	Payload         any        `json:"payload"`
	TargetSocketIDs []string   `json:"target_socket_ids"`
}

func (e *Exported) GetKind() event.Kind         { return e.Kind }
func (e *Exported) GetPriority() event.Priority { return event.PriorityNormal }
func (e *Exported) GetOccurredAt() time.Time    { return e.OccurredAt }
func (e *Exported) GetPayload() any             { return e.Payload }
// RoutingKey is carried as message metadata for consumer-side filtering
// and logging; the AMQP publish topic itself is always Topic.
func (e *Exported) RoutingKey() string { return "parkbeat.v1." + e.Room + "." + string(e.Kind) }
