// Package event defines the typed catalogue of inbound (client→server) and
// outbound (server→client) message kinds and their payload schemas (spec
// §4.1). Unknown kinds are rejected by the decode step in internal/protocol
// and logged and dropped by its caller.
package event

import "time"

// Kind tags every event on the wire. C2S and S2C vocabularies are disjoint
// by convention but share one enum for simplicity of dispatch.
type Kind string

// Client→Server kinds.
const (
	KindPing             Kind = "ping"
	KindSubscribe        Kind = "subscribe"
	KindSubscribeProject Kind = "subscribeProject"
	KindSetProject       Kind = "setProject"
	KindDeleteProject    Kind = "deleteProject"
	KindAddContribution  Kind = "addContribution"
	KindValidateImage    Kind = "validateImage"
)

// Server→Client kinds.
const (
	KindPong             Kind = "pong"
	KindProvideSocketID  Kind = "provideSocketId"
	KindHeartbeat        Kind = "heartbeat"
	KindNewProject       Kind = "newProject"
	KindDeleteProjectAck Kind = "deleteProject"
	KindProjectData      Kind = "projectData"
	KindImageValidation  Kind = "imageValidation"
	KindImageAnalysis    Kind = "imageAnalysis"
	KindProjectVision    Kind = "projectVision"
	KindCostEstimate     Kind = "costEstimate"
	KindError            Kind = "error"
)

// Priority tunes backpressure handling in the connection layer's mailbox
// (internal/conn): on a full mailbox a low-priority event is dropped, and a
// higher-priority one evicts the oldest queued event only when that event
// has lower priority; otherwise it is dropped as well.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Eventer is the minimal contract the connection layer needs to deliver an
// event without knowing its payload shape.
type Eventer interface {
	GetKind() Kind
	GetPriority() Priority
	GetOccurredAt() time.Time
	GetPayload() any
}

// Exportable events are also published to the cross-process bus
// (internal/adapter/pubsub) so sockets held by other server processes in
// the same room receive them too.
type Exportable interface {
	Eventer
	RoutingKey() string
}

// Envelope is the concrete Eventer used throughout the relay. A single
// struct serves every kind; Payload carries the kind-specific data.
type Envelope struct {
	Kind       Kind
	Priority   Priority
	OccurredAt time.Time
	Room       string // empty for socket-addressed events (pong, provideSocketId, errors)
	Payload    any
}

func (e *Envelope) GetKind() Kind            { return e.Kind }
func (e *Envelope) GetPriority() Priority    { return e.Priority }
func (e *Envelope) GetOccurredAt() time.Time { return e.OccurredAt }
func (e *Envelope) GetPayload() any          { return e.Payload }

// RoutingKey builds the cross-process bus key: parkbeat.v1.<room-or-socket>.<kind>.
func (e *Envelope) RoutingKey() string {
	room := e.Room
	if room == "" {
		room = "socket"
	}
	return "parkbeat.v1." + room + "." + string(e.Kind)
}

// New builds a normal-priority envelope occurring now.
func New(kind Kind, room string, payload any) *Envelope {
	return &Envelope{Kind: kind, Priority: PriorityNormal, OccurredAt: time.Now(), Room: room, Payload: payload}
}

// NewWithPriority builds an envelope with an explicit priority (used for
// heartbeats, which are low priority and droppable under backpressure).
func NewWithPriority(kind Kind, room string, payload any, pr Priority) *Envelope {
	return &Envelope{Kind: kind, Priority: pr, OccurredAt: time.Now(), Room: room, Payload: payload}
}
