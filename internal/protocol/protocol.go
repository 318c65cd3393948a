// Package protocol implements the single JSON decode step at the
// WebSocket boundary, replacing the "redundant cast/any at the WebSocket
// boundary" pattern the source used (spec §9 redesign flag) with one
// decode into a tagged sum type and dispatch by kind.
//
// Grounded on the teacher's internal/handler/amqp/bind.go generic Bind[T]
// dispatch pattern, adapted from "one queue per message type" to "one
// multiplexed stream decoded by a kind switch".
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/parkbeat/relay/internal/domain/event"
)

// Frame is the wire envelope: either {"event": k, "data": d} or the
// two-element array form [k, d] (spec §6). Binary frames are rejected by
// the caller before reaching Decode.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ClientEvent is the decoded sum type every C2S handler dispatches on.
type ClientEvent struct {
	Kind    event.Kind
	Ping             *struct{}
	Subscribe        *event.SubscribePayload
	SubscribeProject *event.SubscribeProjectPayload
	SetProject       *event.SetProjectPayload
	DeleteProject    *event.DeleteProjectPayload
	AddContribution  *event.AddContributionPayload
	ValidateImage    *event.ValidateImagePayload
}

// Decode parses one raw client frame, accepting both wire shapes described
// in spec §6. Unknown kinds return ErrUnknownKind; the caller logs and
// drops per spec §4.1 ("Unknown kinds are logged and dropped").
func Decode(raw []byte) (*ClientEvent, error) {
	frame, err := parseFrame(raw)
	if err != nil {
		return nil, err
	}

	ce := &ClientEvent{Kind: event.Kind(frame.Event)}
	switch ce.Kind {
	case event.KindPing:
		ce.Ping = &struct{}{}
	case event.KindSubscribe:
		var p event.SubscribePayload
		if err := unmarshalIfPresent(frame.Data, &p); err != nil {
			return nil, err
		}
		ce.Subscribe = &p
	case event.KindSubscribeProject:
		var p event.SubscribeProjectPayload
		if err := unmarshalIfPresent(frame.Data, &p); err != nil {
			return nil, err
		}
		ce.SubscribeProject = &p
	case event.KindSetProject:
		var p event.SetProjectPayload
		if err := unmarshalIfPresent(frame.Data, &p); err != nil {
			return nil, err
		}
		ce.SetProject = &p
	case event.KindDeleteProject:
		var p event.DeleteProjectPayload
		if err := unmarshalIfPresent(frame.Data, &p); err != nil {
			return nil, err
		}
		ce.DeleteProject = &p
	case event.KindAddContribution:
		var p event.AddContributionPayload
		if err := unmarshalIfPresent(frame.Data, &p); err != nil {
			return nil, err
		}
		ce.AddContribution = &p
	case event.KindValidateImage:
		var p event.ValidateImagePayload
		if err := unmarshalIfPresent(frame.Data, &p); err != nil {
			return nil, err
		}
		ce.ValidateImage = &p
	default:
		return nil, &ErrUnknownKind{Kind: frame.Event}
	}

	return ce, nil
}

func unmarshalIfPresent(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("protocol: decode payload: %w", err)
	}
	return nil
}

// parseFrame accepts either object or two-element-array wire shapes.
func parseFrame(raw []byte) (Frame, error) {
	var obj Frame
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Event != "" {
		return obj, nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) != 2 {
		return Frame{}, fmt.Errorf("protocol: malformed frame: %w", err)
	}

	var kind string
	if err := json.Unmarshal(arr[0], &kind); err != nil {
		return Frame{}, fmt.Errorf("protocol: malformed frame kind: %w", err)
	}
	return Frame{Event: kind, Data: arr[1]}, nil
}

// Encode renders an outbound event as the object wire shape.
func Encode(kind event.Kind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode payload: %w", err)
	}
	return json.Marshal(Frame{Event: string(kind), Data: data})
}

// ErrUnknownKind is returned for frames whose event tag isn't recognized.
type ErrUnknownKind struct{ Kind string }

func (e *ErrUnknownKind) Error() string { return fmt.Sprintf("protocol: unknown event kind %q", e.Kind) }
