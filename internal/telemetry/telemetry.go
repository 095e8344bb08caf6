package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcncl/log-request-id/internal/correlation"
	mwlogging "github.com/mcncl/log-request-id/internal/middleware/logging"
)

// AttrRequestID is the span attribute carrying the request ID
const AttrRequestID = attribute.Key("request.id")

// Provider wraps the OpenTelemetry trace provider and exporter
type Provider struct {
	tp     *sdktrace.TracerProvider
	exp    sdktrace.SpanExporter
	config Config
	mu     sync.RWMutex
	isInit bool
}

// Config holds configuration for telemetry setup
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SamplingRatio  float64
	MaxExportBatch int
	MaxQueueSize   int
	// NoRequestID is the marker recorded for spans outside a request scope
	NoRequestID string
	// Exporter replaces the OTLP exporter when set
	Exporter sdktrace.SpanExporter
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		SamplingRatio:  0.1,
		MaxExportBatch: 512,  // 512 spans
		MaxQueueSize:   2048, // 2048 spans
		NoRequestID:    correlation.DefaultNoRequestID,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if c.OTLPEndpoint == "" && c.Exporter == nil {
		return fmt.Errorf("OTLP endpoint cannot be empty")
	}
	if c.SamplingRatio < 0 || c.SamplingRatio > 1 {
		return fmt.Errorf("sampling ratio must be between 0 and 1")
	}
	return nil
}

// NewProvider creates a new telemetry provider
func NewProvider(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	defaults := DefaultConfig()
	if cfg.MaxExportBatch <= 0 {
		cfg.MaxExportBatch = defaults.MaxExportBatch
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = defaults.MaxQueueSize
	}
	if cfg.NoRequestID == "" {
		cfg.NoRequestID = defaults.NoRequestID
	}
	return &Provider{
		config: cfg,
	}, nil
}

// Start initializes the telemetry provider
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isInit {
		return fmt.Errorf("provider already initialized")
	}

	exp := p.config.Exporter
	if exp == nil {
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		otlp, err := otlptrace.New(ctx, client)
		if err != nil {
			return fmt.Errorf("creating OTLP trace exporter: %w", err)
		}
		exp = otlp
	}
	p.exp = exp

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(p.config.ServiceName),
			semconv.ServiceVersionKey.String(p.config.ServiceVersion),
			attribute.String("environment", p.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("creating resource: %w", err)
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(p.exp,
			sdktrace.WithMaxExportBatchSize(p.config.MaxExportBatch),
			sdktrace.WithMaxQueueSize(p.config.MaxQueueSize),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.SamplingRatio))),
	)

	otel.SetTracerProvider(p.tp)

	p.isInit = true
	return nil
}

// Shutdown flushes pending spans and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isInit {
		return nil
	}

	var errs []error
	if err := p.tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down trace provider: %w", err))
	}
	if err := p.exp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down exporter: %w", err))
	}

	p.isInit = false

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// ForceFlush exports all ended spans
func (p *Provider) ForceFlush(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.isInit {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

func (p *Provider) tracer() (trace.Tracer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.isInit {
		return nil, false
	}
	return p.tp.Tracer(p.config.ServiceName), true
}

// TracingMiddleware wraps an http.Handler with a server span tagged with the
// request ID. It must run inside the request boundary.
func (p *Provider) TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer, ok := p.tracer()
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := tracer.Start(r.Context(),
			fmt.Sprintf("%s %s", r.Method, r.URL.Path),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRouteKey.String(r.URL.Path),
				semconv.URLPathKey.String(r.URL.Path),
				AttrRequestID.String(correlation.ID(r.Context(), p.config.NoRequestID)),
			),
		)
		defer span.End()

		r = r.WithContext(ctx)

		wrapped := mwlogging.NewResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(wrapped.Status()))
		if wrapped.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(wrapped.Status()))
		}
	})
}
