package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracingWithoutProjectRecordsSpans(t *testing.T) {
	ctx := context.Background()
	tp, err := InitTracing(ctx, Config{ServiceName: "monitortask-test", Version: "dev"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	recorder := tracetest.NewSpanRecorder()
	tp.RegisterSpanProcessor(recorder)

	_, span := otel.Tracer("test").Start(ctx, "monitor.check")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "monitor.check", ended[0].Name())

	var service string
	for _, kv := range ended[0].Resource().Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	require.Equal(t, "monitortask-test", service)

	carrier := propagation.MapCarrier{}
	ctx2, span2 := otel.Tracer("test").Start(ctx, "outer")
	otel.GetTextMapPropagator().Inject(ctx2, carrier)
	span2.End()
	require.NotEmpty(t, carrier.Get("traceparent"))
}

func TestSampler(t *testing.T) {
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.5).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
