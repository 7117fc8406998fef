package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled ignores the rest", Config{Exporter: "bogus"}, false},
		{"stdout", Config{Enabled: true, Exporter: ExporterStdout}, false},
		{"file without path", Config{Enabled: true, Exporter: ExporterFile}, true},
		{"otlp without endpoint", Config{Enabled: true, Exporter: ExporterOTLP}, true},
		{"otlp", Config{Enabled: true, Exporter: ExporterOTLP, Endpoint: "localhost:4317"}, false},
		{"unknown exporter", Config{Enabled: true, Exporter: "zipkin"}, true},
		{"bad sample rate", Config{Enabled: true, Exporter: ExporterStdout, SampleRate: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewProvider_DisabledIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "x")
	require.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_FileExporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "spans.json")
	p, err := NewProvider(context.Background(), Config{Enabled: true, Exporter: ExporterFile, FilePath: path})
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "session.iteration")
	span.SetAttributes(AttrStoryID.String("US-001"))
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "session.iteration")
	require.Contains(t, string(data), "US-001")
}

func TestNewProviderWithProcessor_RecordsSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	p := NewProviderWithProcessor(Config{ServiceName: "test"}, rec)

	_, span := p.Tracer().Start(context.Background(), "agent.invoke")
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "agent.invoke", spans[0].Name())
	require.NoError(t, p.Shutdown(context.Background()))
}
