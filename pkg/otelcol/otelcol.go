package otelcol

import (
	"context"

	"medilicense/pkg/config"
	"medilicense/pkg/otelcol/exporters"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the tracer and meter providers. Without OTEL.ADDR the
// global no-op providers are returned and nothing is exported.
var Module = fx.Module("otelcol",
	fx.Provide(
		NewExporter,
		NewTracerProvider,
		NewMeterProvider,
	),
)

func NewExporter(cfg *config.Config) (sdktrace.SpanExporter, error) {
	if cfg.Otel.Addr == "" {
		return nil, nil
	}

	switch cfg.Otel.Protocol {
	case "http":
		return exporters.ProvideHttp(cfg)
	default:
		return exporters.ProvideGrpc(cfg)
	}
}

func serviceResource(cfg *config.Config) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.AppName),
		attribute.String("service.version", cfg.AppVersion),
		attribute.String("deployment.environment", cfg.AppEnv),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

func ProvideTrace(exporter sdktrace.SpanExporter, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append(opts, sdktrace.WithBatcher(exporter))
	return sdktrace.NewTracerProvider(opts...)
}

func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config, exporter sdktrace.SpanExporter) trace.TracerProvider {
	if exporter == nil {
		return otel.GetTracerProvider()
	}

	tp := ProvideTrace(exporter, sdktrace.WithResource(serviceResource(cfg)))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			zap.L().Info("flushing traces")
			return tp.Shutdown(ctx)
		},
	})
	return tp
}

// NewMeterProvider hands out the global provider; service metrics are
// exported through the prometheus registry instead.
func NewMeterProvider() metric.MeterProvider {
	return otel.GetMeterProvider()
}
