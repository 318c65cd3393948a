package cmd

import (
	"context"
	"log/slog"
	nethttp "net/http"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"github.com/parkbeat/relay/internal/adapter/pubsub"
	"github.com/parkbeat/relay/internal/cleanup"
	"github.com/parkbeat/relay/internal/config"
	"github.com/parkbeat/relay/internal/conn"
	"github.com/parkbeat/relay/internal/fanout"
	amqphandler "github.com/parkbeat/relay/internal/handler/amqp"
	httphandler "github.com/parkbeat/relay/internal/handler/http"
	lphandler "github.com/parkbeat/relay/internal/handler/lp"
	wshandler "github.com/parkbeat/relay/internal/handler/ws"
	"github.com/parkbeat/relay/internal/kv"
	"github.com/parkbeat/relay/internal/registry"
	"github.com/parkbeat/relay/internal/service"
	"github.com/parkbeat/relay/internal/store/postgres"
	httpserver "github.com/parkbeat/relay/infra/server/http"
)

// NewApp wires every layer of the relay into a single fx.App: KV registry,
// fan-out engine, project store/service, the local connection Hub and
// cleanup pipeline, the cross-process AMQP bridge, and the three HTTP-
// surfaced transports, mirroring the teacher's fx.Module-per-layer shape
// (cmd/fx.go + internal/*/module.go).
func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideTracerProvider,

			provideKVConfig,
			provideKVClient,
			provideRegistry,
			provideCleanupPipeline,
			provideHub,
			provideFanoutEngine,
			provideBroadcaster,

			providePostgresConfig,
			providePostgresStore,
			provideProjectService,

			provideWSHandler,
			provideLPHandler,
			provideHTTPHandler,
			provideHTTPAPIAdapter,
			httpserver.NewRouter,
			httpserver.NewServer,
		),
		fx.Invoke(
			runCleanupPipeline,
			func(*nethttp.Server) {},
			func(*sdktrace.TracerProvider) {},
		),
		amqphandler.Module,
	)
}

func provideKVConfig(cfg *config.Config) kv.Config {
	return kv.Config{Addr: cfg.KVRestURL, Password: cfg.KVRestToken}
}

func provideKVClient(cfg kv.Config) (kv.Client, error) {
	return kv.New(cfg)
}

func provideRegistry(client kv.Client, cfg *config.Config) *registry.Registry {
	return registry.New(client, cfg.IdleExpiry, cfg.RecencyWindow)
}

func provideCleanupPipeline(reg *registry.Registry, logger *slog.Logger, cfg *config.Config) *cleanup.Pipeline {
	return cleanup.New(reg, logger, cfg.CleanupDrainTick)
}

func provideHub(logger *slog.Logger, cfg *config.Config, pipeline *cleanup.Pipeline) *conn.Hub {
	onEvict := func(socketID string) {
		pipeline.Enqueue(context.Background(), socketID)
	}
	return conn.New(logger, onEvict,
		conn.WithEvictionInterval(cfg.HubEvictionInterval),
		conn.WithIdleTimeout(cfg.HubIdleTimeout),
		conn.WithMailboxSize(cfg.HubMailboxSize),
	)
}

func provideFanoutEngine(reg *registry.Registry, pipeline *cleanup.Pipeline) *fanout.Engine {
	return fanout.New(reg, fanout.WithStaleNotifier(pipeline))
}

func provideBroadcaster(hub *conn.Hub, engine *fanout.Engine, dispatcher pubsub.EventDispatcher) *service.Broadcaster {
	return service.NewBroadcaster(hub, engine, dispatcher)
}

func providePostgresConfig(cfg *config.Config) (postgres.Config, error) {
	return postgres.ParseDatabaseURL(cfg.DatabaseURL)
}

func providePostgresStore(cfg postgres.Config) (*postgres.Store, error) {
	return postgres.New(cfg)
}

func provideProjectService(store *postgres.Store, reg *registry.Registry, broadcast *service.Broadcaster) *service.ProjectService {
	return service.NewProjectService(store, reg, broadcast)
}

func provideWSHandler(
	logger *slog.Logger,
	hub *conn.Hub,
	reg *registry.Registry,
	projects *service.ProjectService,
	broadcast *service.Broadcaster,
	pipeline *cleanup.Pipeline,
	jobs wshandler.JobEnqueuer,
	cfg *config.Config,
) *wshandler.Handler {
	return wshandler.NewHandler(logger, hub, reg, projects, broadcast, pipeline, jobs, cfg.IdleExpiry)
}

func provideLPHandler(hub *conn.Hub, reg *registry.Registry, projects *service.ProjectService, pipeline *cleanup.Pipeline) *lphandler.Handler {
	return lphandler.NewHandler(hub, reg, projects, pipeline)
}

func provideHTTPHandler(hub *conn.Hub, reg *registry.Registry, store *postgres.Store, logger *slog.Logger) *httphandler.Handler {
	return httphandler.NewHandler(hub, reg, store, logger)
}

func provideHTTPAPIAdapter(h *httphandler.Handler) httpserver.HTTPHandler { return h }

func runCleanupPipeline(lc fx.Lifecycle, pipeline *cleanup.Pipeline) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := pipeline.Drain(ctx); err != nil {
				return err
			}
			go pipeline.RunLoop(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pipeline.Stop()
			return nil
		},
	})
}
