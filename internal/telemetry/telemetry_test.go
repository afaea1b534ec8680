package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestNormalizeOTLPEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hostport string
		urlPath  string
		insecure bool
		resolved string
		wantErr  bool
	}{
		{"default localhost", "http://localhost:4318", "localhost:4318", "/v1/traces", true, "http://localhost:4318/v1/traces", false},
		{"trailing slash base", "http://collector:4318/", "collector:4318", "/v1/traces", true, "http://collector:4318/v1/traces", false},
		{"already traces path", "http://collector:4318/v1/traces", "collector:4318", "/v1/traces", true, "http://collector:4318/v1/traces", false},
		{"custom base path", "https://otlp.example.com:4318/otlp", "otlp.example.com:4318", "/otlp/v1/traces", false, "https://otlp.example.com:4318/otlp/v1/traces", false},
		{"invalid no scheme", "collector:4318", "", "", true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hp, path, insecure, resolved, err := normalizeOTLPEndpoint(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hostport, hp)
			assert.Equal(t, tt.urlPath, path)
			assert.Equal(t, tt.insecure, insecure)
			assert.Equal(t, tt.resolved, resolved)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.True(t, config.Enabled)
	assert.Equal(t, "http://localhost:4318", config.OTLPEndpoint)
	assert.Equal(t, ServiceName, config.ServiceName)
	assert.Equal(t, 1.0, config.SampleRate)
	assert.Equal(t, 5*time.Second, config.BatchTimeout)
	assert.Equal(t, 512, config.MaxExportBatch)
	assert.Equal(t, 2048, config.MaxQueueSize)
}

func TestInitTelemetryDisabled(t *testing.T) {
	provider, err := InitTelemetry(context.Background(), &TelemetryConfig{Enabled: false}, slog.Default())
	require.NoError(t, err)
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestInitTelemetryInvalidEndpoint(t *testing.T) {
	provider, err := InitTelemetry(context.Background(), &TelemetryConfig{
		Enabled:      true,
		Exporter:     ExporterOTLP,
		OTLPEndpoint: "invalid-url://[invalid",
	}, slog.Default())
	assert.Nil(t, provider)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid OTLPEndpoint")
}

func TestInitTelemetryUnknownExporter(t *testing.T) {
	_, err := InitTelemetry(context.Background(), &TelemetryConfig{Enabled: true, Exporter: "zipkin"}, nil)
	assert.ErrorContains(t, err, "unknown trace exporter")
}

func TestInitTelemetryStdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var out bytes.Buffer
	provider, err := InitTelemetry(context.Background(), &TelemetryConfig{
		Enabled:  true,
		Exporter: ExporterStdout,
		Writer:   &out,
	}, slog.Default())
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), GetTracer("test"), "analysis.cycle", attribute.String("cycle.id", "c-1"))
	RecordError(span, assert.AnError)
	RecordError(span, nil)
	span.End()

	require.NoError(t, provider.Shutdown(context.Background()))
	assert.Contains(t, out.String(), "analysis.cycle")
	assert.Contains(t, out.String(), "c-1")
}
