// Package http builds the relay's single net/http listener: WebSocket
// upgrade, long-poll fallback, and the non-socket HTTP surface all mounted
// on one chi mux, started and stopped through an fx.Lifecycle hook.
//
// Grounded on the teacher's infra/client/di (di/module.go) lifecycle-hook
// idiom (fx.Invoke + lc.Append{OnStop: ...}) generalized to OnStart as
// well, since the teacher's own infra/server/grpc listener wasn't present
// in the retrieved pack.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/parkbeat/relay/internal/config"
	lphandler "github.com/parkbeat/relay/internal/handler/lp"
	wshandler "github.com/parkbeat/relay/internal/handler/ws"
)

const tracerName = "github.com/parkbeat/relay/infra/server/http"

// shutdownGrace bounds how long in-flight requests (including held-open
// WebSocket/long-poll connections) are given to drain on OnStop.
const shutdownGrace = 10 * time.Second

// HTTPHandler is the non-socket surface's narrow mounting contract.
type HTTPHandler interface {
	Router() chi.Router
}

// NewRouter assembles the full mux: the non-socket API routes, the
// long-poll fallback, and the WebSocket upgrade endpoint.
func NewRouter(api HTTPHandler, ws *wshandler.Handler, lp *lphandler.Handler) chi.Router {
	r := api.Router()
	r.Use(traceRequest)

	r.Get("/ws", ws.ServeHTTP)
	r.Get("/api/poll/geohash/{geohash}", lp.PollGeohash)
	r.Get("/api/poll/project/{projectID}", lp.PollProject)

	return r
}

// traceRequest wraps every request in a span on the global TracerProvider
// (installed by cmd.ProvideTracerProvider). The WebSocket/long-poll routes
// stay open for the life of the connection, so their spans run that long
// too — acceptable here since spans only go to stdout (no sampling budget
// to protect).
func traceRequest(next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// NewServer builds the *http.Server and registers its start/stop with the
// fx application lifecycle.
func NewServer(lc fx.Lifecycle, cfg *config.Config, router chi.Router, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped unexpectedly", "error", err)
				}
			}()
			logger.Info("http server listening", "addr", srv.Addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})

	return srv
}
