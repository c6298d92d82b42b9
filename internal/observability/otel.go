package observability

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/genoplot/genoplot-backend/internal/logger"
)

type Config struct {
	ServiceName string
	Environment string
}

var (
	initOnce sync.Once
	shutdown func(context.Context) error
)

// InitTracing sets the global tracer provider when OTEL_ENABLED is on.
// Returns nil when tracing is disabled; callers defer the shutdown otherwise.
// Exports OTLP/HTTP when OTEL_EXPORTER_OTLP_ENDPOINT is set, stdout otherwise.
func InitTracing(ctx context.Context, log *logger.Logger, cfg Config) func(context.Context) error {
	initOnce.Do(func() {
		if !enabled() {
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "genoplot"
		}
		res, err := resource.New(
			ctx,
			resource.WithAttributes(
				semconv.ServiceNameKey.String(serviceName),
				attribute.String("deployment.environment", strings.TrimSpace(cfg.Environment)),
			),
		)
		if err != nil && log != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}

		exporter, expErr := buildExporter(ctx, log)
		if expErr != nil && log != nil {
			log.Warn("otel exporter init failed (continuing)", "error", expErr)
		}
		var tp *sdktrace.TracerProvider
		if exporter != nil {
			tp = sdktrace.NewTracerProvider(
				sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
				sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio()))),
				sdktrace.WithResource(res),
			)
		} else {
			tp = sdktrace.NewTracerProvider(
				sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio()))),
				sdktrace.WithResource(res),
			)
		}
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdown = tp.Shutdown
		if log != nil {
			log.Info("otel tracing initialized", "service", serviceName, "endpoint", endpoint())
		}
	})
	return shutdown
}

func enabled() bool {
	v := strings.ToLower(getEnv("OTEL_ENABLED"))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func sampleRatio() float64 {
	v := getEnv("OTEL_SAMPLER_RATIO")
	if v == "" {
		return 0.1
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0.1
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func endpoint() string {
	return getEnv("OTEL_EXPORTER_OTLP_ENDPOINT")
}

func insecure() bool {
	v := strings.ToLower(getEnv("OTEL_EXPORTER_OTLP_INSECURE"))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func buildExporter(ctx context.Context, log *logger.Logger) (sdktrace.SpanExporter, error) {
	if ep := endpoint(); ep != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(ep)}
		if insecure() {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	if log != nil {
		log.Warn("otel using stdout exporter (no OTLP endpoint configured)")
	}
	return exp, nil
}

func getEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
