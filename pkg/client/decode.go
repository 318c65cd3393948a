package client

import (
	"encoding/json"
	"fmt"

	"github.com/parkbeat/relay/internal/domain/event"
	"github.com/parkbeat/relay/internal/domain/model"
	"github.com/parkbeat/relay/internal/protocol"
)

// decodeServer decodes a server→client frame. protocol.Decode only covers
// client→server kinds (it is the WS handler's inbound decoder); the SDK
// needs the mirror image, so it switches on the same protocol.Frame
// envelope directly into the S2C payload catalogue.
func decodeServer(raw []byte) (event.Kind, any, error) {
	var frame protocol.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		var arr []json.RawMessage
		if err2 := json.Unmarshal(raw, &arr); err2 != nil || len(arr) != 2 {
			return "", nil, fmt.Errorf("client: malformed server frame: %w", err)
		}
		var kind string
		if err2 := json.Unmarshal(arr[0], &kind); err2 != nil {
			return "", nil, fmt.Errorf("client: malformed server frame kind: %w", err2)
		}
		frame = protocol.Frame{Event: kind, Data: arr[1]}
	}

	kind := event.Kind(frame.Event)
	var payload any

	switch kind {
	case event.KindPong, event.KindHeartbeat:
		var p event.HeartbeatPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	case event.KindProvideSocketID:
		var p event.ProvideSocketIDPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	case event.KindNewProject:
		var p model.Project
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	case event.KindDeleteProjectAck:
		var p event.DeleteProjectAckPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	case event.KindSubscribe:
		var p event.SubscribeSnapshotPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	case event.KindProjectData:
		var p event.ProjectDataPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	case event.KindImageValidation:
		var p event.ImageValidationPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	case event.KindImageAnalysis:
		var p event.ImageAnalysisPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	case event.KindProjectVision:
		var p event.ProjectVisionPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	case event.KindCostEstimate:
		var p event.CostEstimatePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	case event.KindError:
		var p event.ErrorPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", nil, err
		}
		payload = p
	default:
		return "", nil, fmt.Errorf("client: unrecognized server event kind %q", frame.Event)
	}

	return kind, payload, nil
}
