// Package otel provides OpenTelemetry tracer provider initialization and management.
package otel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mrzor/postfix-tracer/internal/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// TracerName is the instrumentation scope of transaction spans.
const TracerName = "github.com/mrzor/postfix-tracer"

// logProxy records the proxy settings the HTTP exporter will honor.
func logProxy(log *slog.Logger) {
	httpProxy := os.Getenv("HTTP_PROXY")
	if httpProxy == "" {
		httpProxy = os.Getenv("http_proxy")
	}
	httpsProxy := os.Getenv("HTTPS_PROXY")
	if httpsProxy == "" {
		httpsProxy = os.Getenv("https_proxy")
	}

	if httpProxy != "" || httpsProxy != "" {
		log.Debug("proxy configuration", "http_proxy", httpProxy, "https_proxy", httpsProxy)
	} else {
		log.Debug("no proxy configured")
	}
}

// InitProvider initializes the OpenTelemetry tracer provider exporting over
// OTLP/HTTP. The exporter connects lazily; an unreachable collector shows up
// as export errors, not here.
//
// The HTTP client honors HTTP_PROXY, HTTPS_PROXY, and NO_PROXY through Go's
// standard net/http transport.
func InitProvider(ctx context.Context, cfg *config.OTELConfig, log *slog.Logger) (*sdktrace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := exporterOptions(cfg)

	log.Info("initializing OTLP exporter",
		"service_name", cfg.ServiceName,
		"endpoint", cfg.GetEndpoint(),
		"url", cfg.EndpointURL(),
		"insecure", cfg.Insecure,
		"resource_attributes", cfg.ResourceAttributes)
	logProxy(log)

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := NewResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return tp, nil
}

// exporterOptions targets the configured URL when it has a scheme, which then
// decides TLS. A bare host:port uses the default path and cfg.Insecure.
func exporterOptions(cfg *config.OTELConfig) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithTimeout(10 * time.Second)}
	if u := cfg.EndpointURL(); u != "" {
		return append(opts, otlptracehttp.WithEndpointURL(u))
	}
	opts = append(opts, otlptracehttp.WithEndpoint(cfg.GetEndpoint()))
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

// NewResource describes this service: its name plus OTEL_RESOURCE_ATTRIBUTES.
func NewResource(ctx context.Context, cfg *config.OTELConfig) (*resource.Resource, error) {
	resourceAttrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	}

	if customAttrs := cfg.ParseResourceAttributes(); len(customAttrs) > 0 {
		resourceAttrs = append(resourceAttrs, resource.WithAttributes(customAttrs...))
	}

	res, err := resource.New(ctx, resourceAttrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// ShutdownProvider gracefully shuts down the tracer provider, flushing any remaining spans.
func ShutdownProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	return nil
}
