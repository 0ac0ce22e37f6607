package otelcol

import (
	"context"
	"testing"

	"medilicense/pkg/config"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx/fxtest"
)

func TestNewExporterDisabledWithoutAddr(t *testing.T) {
	exp, err := NewExporter(&config.Config{})
	require.NoError(t, err)
	require.Nil(t, exp)
}

func TestTracerProviderExportsSpans(t *testing.T) {
	cfg := &config.Config{AppName: "medilicense", AppEnv: "test"}
	exp := tracetest.NewInMemoryExporter()
	lc := fxtest.NewLifecycle(t)
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	tp := NewTracerProvider(lc, cfg, exp)
	sdk, ok := tp.(*sdktrace.TracerProvider)
	require.True(t, ok)

	_, span := tp.Tracer("test").Start(context.Background(), "validate")
	span.End()
	require.NoError(t, sdk.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "validate", spans[0].Name)

	lc.RequireStart().RequireStop()
}

func TestTracerProviderNoopWithoutExporter(t *testing.T) {
	tp := NewTracerProvider(fxtest.NewLifecycle(t), &config.Config{}, nil)
	_, ok := tp.(*sdktrace.TracerProvider)
	require.False(t, ok)
}
