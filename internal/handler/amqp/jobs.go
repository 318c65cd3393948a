// Package amqp bridges the relay to the async AI job workers (image
// validation/analysis, vision generation, cost estimation — SPEC_FULL
// §3.11) and to the cross-process fan-out bus (internal/adapter/pubsub).
//
// Grounded on the teacher's internal/handler/amqp/router.go node-unique
// queue naming and bind.go's panic-recovered NoPublishHandlerFunc wrapper.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/parkbeat/relay/internal/domain/event"
	"github.com/parkbeat/relay/internal/protocol"
	"github.com/parkbeat/relay/internal/service"
)

const (
	JobRequestTopic = "parkbeat.jobs.validateImage"
	JobResultsTopic = "parkbeat.job_results"
)

// JobPublisher enqueues async jobs for the out-of-core AI workers.
type JobPublisher interface {
	EnqueueValidateImage(ctx context.Context, payload event.ValidateImagePayload) error
}

type jobPublisher struct {
	publisher message.Publisher
}

func NewJobPublisher(pub message.Publisher) JobPublisher {
	return &jobPublisher{publisher: pub}
}

func (j *jobPublisher) EnqueueValidateImage(ctx context.Context, payload event.ValidateImagePayload) error {
	data, err := protocol.Encode(event.KindValidateImage, payload)
	if err != nil {
		return fmt.Errorf("amqp: encode validateImage job: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.SetContext(ctx)
	if err := j.publisher.Publish(JobRequestTopic, msg); err != nil {
		return fmt.Errorf("amqp: publish validateImage job: %w", err)
	}
	return nil
}

// ResultHandler consumes job results from the worker tier and routes them
// to the originating project's room. Late subscribers still see the
// result through the next snapshot, so results are never replayed here
// (spec §5: "async jobs are not cancelled... late subscribers receive the
// result via the snapshot").
type ResultHandler struct {
	broadcast *service.Broadcaster
	logger    *slog.Logger
}

func NewResultHandler(broadcast *service.Broadcaster, logger *slog.Logger) *ResultHandler {
	return &ResultHandler{broadcast: broadcast, logger: logger}
}

// AsNoPublishHandler returns the message.NoPublishHandlerFunc the router
// binds to the job-results queue.
func (h *ResultHandler) AsNoPublishHandler() message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("job result handler panic recovered", "err", r, "stack", string(debug.Stack()), "msg_id", msg.UUID)
			}
		}()

		frame, err := decodeFrame(msg.Payload)
		if err != nil {
			h.logger.Warn("job result decode failed, dropping", "error", err, "msg_id", msg.UUID)
			return nil // ack: poison-pill protection
		}

		projectID, err := h.dispatch(msg.Context(), frame)
		if err != nil {
			h.logger.Error("job result dispatch failed", "error", err, "kind", frame.Event, "msg_id", msg.UUID)
			return nil
		}
		h.logger.Debug("job result delivered", "kind", frame.Event, "project_id", projectID)
		return nil
	}
}

func (h *ResultHandler) dispatch(ctx context.Context, frame protocol.Frame) (string, error) {
	switch event.Kind(frame.Event) {
	case event.KindImageValidation:
		var p event.ImageValidationPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", err
		}
		return p.ProjectID, h.broadcast.ToProjectRoom(ctx, p.ProjectID, event.KindImageValidation, p, "")
	case event.KindImageAnalysis:
		var p event.ImageAnalysisPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", err
		}
		return p.ProjectID, h.broadcast.ToProjectRoom(ctx, p.ProjectID, event.KindImageAnalysis, p, "")
	case event.KindProjectVision:
		var p event.ProjectVisionPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", err
		}
		return p.ProjectID, h.broadcast.ToProjectRoom(ctx, p.ProjectID, event.KindProjectVision, p, "")
	case event.KindCostEstimate:
		var p event.CostEstimatePayload
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return "", err
		}
		return p.ProjectID, h.broadcast.ToProjectRoom(ctx, p.ProjectID, event.KindCostEstimate, p, "")
	default:
		return "", fmt.Errorf("amqp: unrecognized job result kind %q", frame.Event)
	}
}

func decodeFrame(raw []byte) (protocol.Frame, error) {
	var f protocol.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return protocol.Frame{}, fmt.Errorf("amqp: malformed job result frame: %w", err)
	}
	if f.Event == "" {
		return protocol.Frame{}, fmt.Errorf("amqp: job result frame missing event tag")
	}
	return f, nil
}
