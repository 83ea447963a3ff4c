// Package cmd holds the startup plumbing shared by kernel binaries.
package cmd

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/aggkernel/internal/platform/logging"
	"github.com/louisbranch/aggkernel/internal/platform/otel"
	"github.com/louisbranch/aggkernel/internal/platform/timeouts"
)

// ServiceKernel names the kernel binary in traces and logs.
const ServiceKernel = "aggkernel"

// RunOptions controls shared entrypoint behavior.
type RunOptions struct {
	// ShutdownTimeout bounds the trace flush. Zero uses timeouts.TraceFlush.
	ShutdownTimeout time.Duration
	Logger          *zap.Logger
}

// RunWithTelemetry sets up tracing for service, runs run and flushes spans
// afterwards. A tracing setup failure is logged and the run proceeds
// untraced.
func RunWithTelemetry(ctx context.Context, service string, options RunOptions, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	logger := logging.OrNop(options.Logger)

	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		logger.Warn("tracing disabled", zap.String("service", service), zap.Error(err))
	}
	defer func() {
		timeout := options.ShutdownTimeout
		if timeout <= 0 {
			timeout = timeouts.TraceFlush
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.String("service", service), zap.Error(err))
		}
	}()
	return run(ctx)
}
