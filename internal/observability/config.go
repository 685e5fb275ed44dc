// Package observability provides OpenTelemetry tracing and metrics for the
// service and its statements. Without providers every call is a no-op.
package observability

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/nlstn/go-sensorthings"

// Config holds the providers and the instruments built from them.
type Config struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	serviceVersion string
	logger         *slog.Logger

	detailedDBTracing bool
	serverTiming      bool

	tracer  *Tracer
	metrics *Metrics
}

// Option configures a Config.
type Option func(*Config)

// WithTracerProvider sets the provider spans are created from.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) { c.tracerProvider = tp }
}

// WithMeterProvider sets the provider instruments are created from.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) { c.meterProvider = mp }
}

// WithServiceName sets the service.name attribute.
func WithServiceName(name string) Option {
	return func(c *Config) { c.serviceName = name }
}

// WithServiceVersion sets the service.version attribute.
func WithServiceVersion(version string) Option {
	return func(c *Config) { c.serviceVersion = version }
}

// WithLogger sets the logger for instrument failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.logger = logger }
}

// WithDetailedDBTracing creates one span per executed statement.
func WithDetailedDBTracing() Option {
	return func(c *Config) { c.detailedDBTracing = true }
}

// WithServerTiming adds statement timings to the Server-Timing header of
// requests whose context carries one.
func WithServerTiming() Option {
	return func(c *Config) { c.serverTiming = true }
}

// NewConfig creates a configuration. Call Initialize before use.
func NewConfig(opts ...Option) *Config {
	c := &Config{serviceName: "sensorthings"}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracerProvider == nil {
		c.tracerProvider = tracenoop.NewTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = metricnoop.NewMeterProvider()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Initialize creates the tracer and the metric instruments.
func (c *Config) Initialize() error {
	c.tracer = newTracer(c.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(c.serviceVersion)), c.serviceName)
	m, err := newMetrics(c.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(c.serviceVersion)))
	if err != nil {
		return fmt.Errorf("creating metric instruments: %w", err)
	}
	c.metrics = m
	return nil
}

// Tracer returns the span helper. Initialize must have been called.
func (c *Config) Tracer() *Tracer { return c.tracer }

// Metrics returns the metric instruments. Initialize must have been called.
func (c *Config) Metrics() *Metrics { return c.metrics }
