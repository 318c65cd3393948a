package amqp

import (
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/parkbeat/relay/internal/adapter/pubsub"
	"github.com/parkbeat/relay/internal/conn"
	"github.com/parkbeat/relay/internal/domain/event"
)

// FanoutTopic is the single topic every node subscribes to for
// cross-process room fan-out; it must stay equal to pubsub.Topic, the
// topic every process publishes to.
const FanoutTopic = pubsub.Topic

const deliveryTimeout = 250 * time.Millisecond

// FanoutListener delivers cross-process room fan-out (published by another
// process's internal/service.Broadcaster) to any socket this process holds
// locally. It never recomputes the notify set: Exported.TargetSocketIDs is
// already resolved by the publishing process's Fan-out Engine.
type FanoutListener struct {
	hub    *conn.Hub
	logger *slog.Logger
}

func NewFanoutListener(hub *conn.Hub, logger *slog.Logger) *FanoutListener {
	return &FanoutListener{hub: hub, logger: logger}
}

func (l *FanoutListener) AsNoPublishHandler() message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("fanout listener panic recovered", "err", r, "stack", string(debug.Stack()), "msg_id", msg.UUID)
			}
		}()

		var exported pubsub.Exported
		if err := json.Unmarshal(msg.Payload, &exported); err != nil {
			l.logger.Warn("fanout message decode failed, dropping", "error", err, "msg_id", msg.UUID)
			return nil
		}

		ev := event.New(exported.Kind, exported.Room, exported.Payload)
		delivered := 0
		for _, socketID := range exported.TargetSocketIDs {
			if !l.hub.IsConnected(socketID) {
				continue
			}
			if l.hub.Send(socketID, ev, deliveryTimeout) {
				delivered++
			}
		}
		if delivered > 0 {
			l.logger.Debug("cross-process fanout delivered locally", "room", exported.Room, "kind", exported.Kind, "count", delivered)
		}
		return nil
	}
}
