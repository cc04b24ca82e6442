package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/opensource-clinical/bedside/internal/domain"
)

func TestNewProviderStdout(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()

	tp, err := NewProvider(ctx, domain.TracingConfig{
		Enabled:      true,
		ServiceName:  "bedside-test",
		ExporterType: "stdout",
	}, "v-test", &buf)
	require.NoError(t, err)

	_, span := tp.Tracer("bedside-api").Start(ctx, "POST /instruments/{id}/evaluate")
	span.End()
	require.NoError(t, tp.Shutdown(ctx))

	out := buf.String()
	assert.Contains(t, out, "POST /instruments/{id}/evaluate")
	assert.Contains(t, out, "bedside-test")
}

func TestNewProviderOTLP(t *testing.T) {
	ctx := context.Background()

	tp, err := NewProvider(ctx, domain.TracingConfig{
		Enabled:      true,
		ExporterType: "otlp",
		Endpoint:     "127.0.0.1:4318",
	}, "v-test", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })
	assert.NotNil(t, tp)
}

func TestNewProviderRejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), domain.TracingConfig{
		Enabled:      true,
		ExporterType: "zipkin",
	}, "v-test", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zipkin")
}

func TestSetupDisabledKeepsGlobalProvider(t *testing.T) {
	before := otel.GetTracerProvider()

	shutdown, err := Setup(context.Background(), domain.TracingConfig{Enabled: false}, "v-test")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	assert.Same(t, before, otel.GetTracerProvider())
}
