// Package tracing sets up OpenTelemetry tracing for ralph. Sessions record
// one span per iteration and one per agent invocation.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/ralph/internal/log"
)

// InstrumentationName names the tracer used throughout ralph.
const InstrumentationName = "github.com/zjrosen/ralph"

// Exporter kinds.
const (
	ExporterStdout = "stdout"
	ExporterFile   = "file"
	ExporterOTLP   = "otlp"
)

// Span attribute keys.
const (
	AttrSessionID = attribute.Key("ralph.session.id")
	AttrProject   = attribute.Key("ralph.project")
	AttrStoryID   = attribute.Key("ralph.story.id")
	AttrIteration = attribute.Key("ralph.iteration")
	AttrModel     = attribute.Key("ralph.model")
	AttrTokens    = attribute.Key("ralph.tokens")
	AttrSignal    = attribute.Key("ralph.signal")
	AttrExitCode  = attribute.Key("ralph.exit_code")
)

// Config selects where spans go.
type Config struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter    string  `mapstructure:"exporter" yaml:"exporter"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	FilePath    string  `mapstructure:"file_path" yaml:"file_path"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Exporter {
	case ExporterStdout:
	case ExporterFile:
		if c.FilePath == "" {
			return errors.New("tracing.file_path is required for the file exporter")
		}
	case ExporterOTLP:
		if c.Endpoint == "" {
			return errors.New("tracing.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("tracing.exporter must be stdout, file or otlp, got %q", c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1], got %v", c.SampleRate)
	}
	return nil
}

// Provider owns the tracer provider and its exporter.
type Provider struct {
	tp     trace.TracerProvider
	sdk    *sdktrace.TracerProvider
	closer io.Closer
}

// NewProvider builds a provider from cfg and installs it as the global
// provider. A disabled config yields a no-op provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		p := &Provider{tp: noop.NewTracerProvider()}
		otel.SetTracerProvider(p.tp)
		return p, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		exp    sdktrace.SpanExporter
		closer io.Closer
		err    error
	)
	switch cfg.Exporter {
	case ExporterStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	case ExporterFile:
		var f *os.File
		if err = os.MkdirAll(filepath.Dir(cfg.FilePath), 0750); err != nil {
			return nil, fmt.Errorf("creating trace directory: %w", err)
		}
		f, err = os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // path from config
		if err != nil {
			return nil, fmt.Errorf("opening trace file: %w", err)
		}
		closer = f
		exp, err = stdouttrace.New(stdouttrace.WithWriter(f))
	case ExporterOTLP:
		exp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("creating %s trace exporter: %w", cfg.Exporter, err)
	}

	p := newSDKProvider(cfg, sdktrace.WithBatcher(exp))
	p.closer = closer
	otel.SetTracerProvider(p.tp)
	log.Info(log.CatConfig, "tracing enabled", "exporter", cfg.Exporter, "sampleRate", cfg.SampleRate)
	return p, nil
}

// NewProviderWithProcessor builds an SDK provider around a caller-supplied
// span processor without touching the global provider. Tests use it with an
// in-memory recorder.
func NewProviderWithProcessor(cfg Config, sp sdktrace.SpanProcessor) *Provider {
	return newSDKProvider(cfg, sdktrace.WithSpanProcessor(sp))
}

func newSDKProvider(cfg Config, opt sdktrace.TracerProviderOption) *Provider {
	name := cfg.ServiceName
	if name == "" {
		name = "ralph"
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = 1
	}
	sdk := sdktrace.NewTracerProvider(
		opt,
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	return &Provider{tp: sdk, sdk: sdk}
}

// Tracer returns ralph's tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tp.Tracer(InstrumentationName)
}

// Shutdown flushes pending spans and releases the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.sdk != nil {
		errs = append(errs, p.sdk.Shutdown(ctx))
	}
	if p.closer != nil {
		errs = append(errs, p.closer.Close())
	}
	return errors.Join(errs...)
}
