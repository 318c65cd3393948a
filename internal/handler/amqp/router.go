package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/parkbeat/relay/internal/adapter/pubsub"
)

// nodeID identifies this process so it gets its own fan-out queue: every
// node must receive every cross-process event, not just one of them (spec
// §4.6's Fan-out Engine assumes per-process delivery, not queue-style
// load-balancing).
func nodeID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return watermill.NewShortUUID()
}

// RegisterHandlers wires the per-node fan-out listener and the shared
// job-results handler onto the router.
func RegisterHandlers(
	router *message.Router,
	cfg pubsub.Config,
	wmLogger watermill.LoggerAdapter,
	logger *slog.Logger,
	fanoutListener *FanoutListener,
	resultHandler *ResultHandler,
) error {
	node := nodeID()

	fanoutSub, err := pubsub.NewFanoutSubscriber(cfg, node, wmLogger)
	if err != nil {
		return fmt.Errorf("amqp: build fanout subscriber: %w", err)
	}
	router.AddNoPublisherHandler(
		fmt.Sprintf("%s.%s_executor", FanoutTopic, node),
		FanoutTopic,
		fanoutSub,
		fanoutListener.AsNoPublishHandler(),
	)

	resultsSub, err := pubsub.NewQueueSubscriber(cfg, wmLogger)
	if err != nil {
		return fmt.Errorf("amqp: build job results subscriber: %w", err)
	}
	router.AddNoPublisherHandler(
		JobResultsTopic+"_executor",
		JobResultsTopic,
		resultsSub,
		resultHandler.AsNoPublishHandler(),
	)

	logger.Info("amqp handlers registered", "node_id", node)
	return nil
}

// NewWatermillRouter builds the message.Router and ties its run loop to
// the fx lifecycle.
func NewWatermillRouter(lc fx.Lifecycle, logger *slog.Logger) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, watermill.NewSlogLogger(logger))
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("watermill router run error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Close()
		},
	})

	return router, nil
}
