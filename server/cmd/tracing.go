package cmd

import (
	"context"
	"time"

	"go.ntppool.org/common/config/depenv"
	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
)

// InitTracing sets up the trace exporter. The endpoint comes from the
// standard OTEL_EXPORTER_OTLP_* variables.
func InitTracing(ctx context.Context, deployEnv depenv.DeploymentEnvironment) (tracing.TpShutdownFunc, error) {
	tpShutdownFn, err := tracing.InitTracer(ctx,
		&tracing.TracerConfig{
			ServiceName: "dnsresults",
			Environment: deployEnv.String(),
		},
	)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		log := logger.FromContext(ctx)
		log.Debug("shutting down trace provider")
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tpShutdownFn(shutdownCtx)
	}, nil
}
