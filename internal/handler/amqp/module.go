package amqp

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/parkbeat/relay/internal/adapter/pubsub"
	"github.com/parkbeat/relay/internal/config"
	"github.com/parkbeat/relay/internal/conn"
	"github.com/parkbeat/relay/internal/handler/ws"
	"github.com/parkbeat/relay/internal/service"
)

// Module wires the cross-process fan-out listener and the async AI job
// bridge (publisher + result handler) into the fx application.
var Module = fx.Module("amqp-handler",
	fx.Provide(
		func(cfg *config.Config) pubsub.Config { return pubsub.Config{AMQPURI: cfg.AMQPURI} },

		func(logger *slog.Logger) watermill.LoggerAdapter { return watermill.NewSlogLogger(logger) },

		func(cfg pubsub.Config, wmLogger watermill.LoggerAdapter) (message.Publisher, error) {
			return pubsub.NewPublisher(cfg, wmLogger)
		},

		func(pub message.Publisher, logger *slog.Logger) pubsub.EventDispatcher {
			return pubsub.NewEventDispatcher(pub, logger)
		},

		func(pub message.Publisher) JobPublisher { return NewJobPublisher(pub) },
		func(jp JobPublisher) ws.JobEnqueuer { return jp },

		func(hub *conn.Hub, logger *slog.Logger) *FanoutListener {
			return NewFanoutListener(hub, logger)
		},
		func(broadcast *service.Broadcaster, logger *slog.Logger) *ResultHandler {
			return NewResultHandler(broadcast, logger)
		},

		NewWatermillRouter,
	),

	fx.Invoke(func(
		router *message.Router,
		cfg pubsub.Config,
		wmLogger watermill.LoggerAdapter,
		logger *slog.Logger,
		fanoutListener *FanoutListener,
		resultHandler *ResultHandler,
	) error {
		return RegisterHandlers(router, cfg, wmLogger, logger, fanoutListener, resultHandler)
	}),
)
