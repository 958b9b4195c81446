// Package tracing wires OpenTelemetry for a run. Spans go to a stdout
// exporter when enabled; otherwise the global no-op provider stays in place.
package tracing

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "surveyagg/pipeline"

// Config controls tracing setup.
type Config struct {
	Enabled     bool
	ServiceName string
	// Writer receives exported spans; defaults to os.Stderr so stdout stays
	// free for command output.
	Writer io.Writer
	// SampleRatio in [0,1]; defaults to 1 (batch runs are few and short).
	SampleRatio float64
	Pretty      bool
}

// FromEnv fills unset fields from OTEL_ENABLED and OTEL_SAMPLER_RATIO.
func (c Config) FromEnv() Config {
	if !c.Enabled {
		switch strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_ENABLED"))) {
		case "1", "true", "yes", "on":
			c.Enabled = true
		}
	}
	if c.SampleRatio == 0 {
		if f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("OTEL_SAMPLER_RATIO")), 64); err == nil {
			c.SampleRatio = f
		}
	}
	return c
}

// Init installs a tracer provider and returns its shutdown func. When
// disabled it returns a no-op shutdown.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.Pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exp, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, err
	}
	return install(ctx, cfg, sdktrace.WithBatcher(exp)), nil
}

func install(ctx context.Context, cfg Config, processor sdktrace.TracerProviderOption) func(context.Context) error {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "surveyagg"
	}
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	res, _ := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", name)))
	tp := sdktrace.NewTracerProvider(
		processor,
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Start opens a span on the global provider.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End records err on span (if any) and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
