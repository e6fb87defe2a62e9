package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// serviceNamespace groups the three binaries in telemetry backends.
const serviceNamespace = "scamguard"

// TelemetryConfig describes the binary being instrumented.
type TelemetryConfig struct {
	// Service is the binary name, e.g. "scamguard-auth". Required.
	Service string

	// Version is reported as service.version when set.
	Version string

	// TraceExporter receives finished spans. Nil records spans without
	// exporting them.
	TraceExporter sdktrace.SpanExporter
}

// Telemetry is the metrics and tracing setup of one binary. Its private
// Prometheus registry holds the scamguard instruments plus the Go runtime and
// process collectors.
type Telemetry struct {
	// Metrics are the scamguard instruments, bound to this setup's meter
	// provider.
	Metrics *Metrics

	registry *prometheus.Registry
	shutdown []func(context.Context) error
}

// Setup builds the meter and tracer providers for cfg.Service, installs them
// as the global OTel providers and creates the scamguard instruments. Call
// [Telemetry.Shutdown] before exiting.
func Setup(ctx context.Context, cfg TelemetryConfig) (*Telemetry, error) {
	if cfg.Service == "" {
		return nil, errors.New("observe: telemetry needs a service name")
	}

	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("observe: register go collector: %w", err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("observe: register process collector: %w", err)
	}
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	met, err := NewMetrics(mp)
	if err != nil {
		return nil, errors.Join(err, mp.Shutdown(ctx), tp.Shutdown(ctx))
	}

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return &Telemetry{
		Metrics:  met,
		registry: reg,
		// Traces flush before metrics.
		shutdown: []func(context.Context) error{tp.Shutdown, mp.Shutdown},
	}, nil
}

// serviceResource identifies this process. OTEL_RESOURCE_ATTRIBUTES and
// OTEL_SERVICE_NAME from the environment take precedence.
func serviceResource(ctx context.Context, cfg TelemetryConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNamespace(serviceNamespace),
		semconv.ServiceName(cfg.Service),
		semconv.ServiceInstanceID(uuid.NewString()),
	}
	if cfg.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.Version))
	}
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
	)
	if err != nil && !errors.Is(err, resource.ErrPartialResource) {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}
	return res, nil
}

// Handler serves this binary's Prometheus registry.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Shutdown flushes and closes the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
