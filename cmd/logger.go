package cmd

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	stdoutlog "go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ProvideLogger builds the process-wide *slog.Logger over the otelslog
// bridge, so every log record also flows through the OTel log pipeline.
// There's no OTLP exporter wired here (spec §1's Non-goals scope out an
// observability backend); the stdout exporter keeps the bridge genuinely
// exercised instead of wiring a LoggerProvider with nothing attached.
func ProvideLogger() (*slog.Logger, error) {
	exporter, err := stdoutlog.New()
	if err != nil {
		return nil, fmt.Errorf("logger: stdout exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	handler := otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(provider))
	return slog.New(handler), nil
}
