package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/api/option"

	"github.com/mcncl/log-request-id/internal/config"
	"github.com/mcncl/log-request-id/internal/correlation"
	"github.com/mcncl/log-request-id/internal/errors"
	"github.com/mcncl/log-request-id/internal/health"
	"github.com/mcncl/log-request-id/internal/logging"
	mwlogging "github.com/mcncl/log-request-id/internal/middleware/logging"
	"github.com/mcncl/log-request-id/internal/middleware/request"
	"github.com/mcncl/log-request-id/internal/middleware/security"
	"github.com/mcncl/log-request-id/internal/outbound"
	"github.com/mcncl/log-request-id/internal/publisher"
	"github.com/mcncl/log-request-id/internal/telemetry"
	"github.com/mcncl/log-request-id/internal/user"
)

const serviceName = "log-request-id"

// dependencies replaces external services in tests
type dependencies struct {
	Publisher    publisher.Publisher
	SpanExporter sdktrace.SpanExporter
}

type app struct {
	handler http.Handler
	health  *health.HealthCheck
	logger  logging.Logger

	sink     *publisher.SummarySink
	breaker  *publisher.CircuitBreaker
	tracing  *telemetry.Provider
	upstream *http.Client
	cfg      *config.Config
}

func newApp(ctx context.Context, cfg *config.Config, logger logging.Logger, reg *prometheus.Registry, deps dependencies) (*app, error) {
	a := &app{
		health: health.NewHealthCheck(),
		logger: logger,
		cfg:    cfg,
	}

	if cfg.Server.UpstreamURL != "" {
		client, err := outbound.NewClient(outbound.Options{
			Header:        cfg.Correlation.OutgoingHeader,
			InboundHeader: cfg.Correlation.RequestIDHeader,
			NoRequestID:   cfg.Correlation.NoRequestID,
		}, cfg.Server.UpstreamTimeout.Std())
		if err != nil {
			return nil, errors.Wrap(err, "failed to create upstream client")
		}
		a.upstream = client
	}

	if cfg.Sink.Enabled {
		if err := a.startSink(ctx, deps.Publisher); err != nil {
			return nil, err
		}
	}

	if cfg.Telemetry.EnableTracing {
		if err := a.startTracing(ctx, deps.SpanExporter); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	boundary, err := a.boundary()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	secCfg := security.DefaultConfig()
	if len(cfg.Security.AllowedOrigins) > 0 {
		secCfg.AllowedOrigins = cfg.Security.AllowedOrigins
	}
	if len(cfg.Security.AllowedMethods) > 0 {
		secCfg.AllowedMethods = cfg.Security.AllowedMethods
	}
	if len(cfg.Security.AllowedHeaders) > 0 {
		secCfg.AllowedHeaders = cfg.Security.AllowedHeaders
	}
	secCfg.Expose(cfg.Correlation.ResponseHeader)
	secCfg.Expose(cfg.Correlation.RequestIDHeader)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.health.HealthHandler)
	mux.HandleFunc("/ready", a.health.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/echo", a.echo)
	mux.HandleFunc("/relay", a.relay)

	// The boundary must be outermost so everything below runs inside the scope.
	middlewares := []func(http.Handler) http.Handler{
		boundary.Middleware,
	}
	if a.tracing != nil {
		middlewares = append(middlewares, a.tracing.TracingMiddleware)
	}
	middlewares = append(middlewares,
		logging.NewLoggerMiddleware(logger),
		security.WithSecurityHeaders(secCfg),
		security.WithRateLimit(cfg.Security.RateLimit),
		security.WithIPRateLimit(cfg.Security.IPRateLimit),
		request.WithTimeout(cfg.Server.RequestTimeout.Std()),
	)
	a.handler = chainMiddleware(mux, middlewares...)

	return a, nil
}

func (a *app) boundary() (*request.Boundary, error) {
	c := a.cfg.Correlation
	users := user.Resolver{
		Attribute: c.LogUserAttribute,
		Disabled:  c.DisableUserLogging,
	}
	opts := request.Options{
		Header:            c.RequestIDHeader,
		GenerateIfMissing: c.GenerateIfMissing,
		NoRequestID:       c.NoRequestID,
		ResponseHeader:    c.ResponseHeader,
		Users:             users,
	}

	if c.LogRequests {
		exclude, err := mwlogging.CompileExclude(c.ExcludePaths)
		if err != nil {
			return nil, errors.WithDetails(errors.NewConfigurationError(err.Error()), map[string]interface{}{
				"exclude_paths": c.ExcludePaths,
			})
		}
		sum := &mwlogging.Summarizer{
			Logger:      a.logger,
			Exclude:     exclude,
			Users:       users,
			NoRequestID: c.NoRequestID,
		}
		if a.sink != nil {
			sum.Sink = a.sink
		}
		opts.Summarizer = sum
	}

	return request.NewBoundary(opts), nil
}

func (a *app) startSink(ctx context.Context, pub publisher.Publisher) error {
	sc := a.cfg.Sink
	if pub == nil {
		var opts []option.ClientOption
		if sc.CredentialsFile != "" {
			if _, err := os.Stat(sc.CredentialsFile); err == nil {
				opts = append(opts, option.WithCredentialsFile(sc.CredentialsFile))
			}
		}

		ps, err := publisher.NewPubSubPublisher(ctx, sc.ProjectID, sc.TopicID, opts...)
		if err != nil {
			return errors.WithDetails(errors.Wrap(err, "failed to create summary publisher"), map[string]interface{}{
				"project_id": sc.ProjectID,
				"topic_id":   sc.TopicID,
			})
		}
		pub = ps
	}

	a.breaker = publisher.NewCircuitBreaker(pub, publisher.CircuitBreakerConfig{
		FailureThreshold: sc.BreakerFailures,
		Timeout:          sc.BreakerTimeout.Std(),
	})
	a.breaker.SetOnStateChange(func(from, to publisher.CircuitState) {
		a.logger.Warn("summary sink circuit changed state", "from", from.String(), "to", to.String())
	})
	a.health.AddCheck("summary_sink", func(context.Context) error {
		if a.breaker.State() == publisher.StateOpen {
			return publisher.ErrCircuitOpen
		}
		return nil
	})

	a.sink = publisher.NewSummarySink(a.breaker, publisher.SinkConfig{Logger: a.logger})
	return nil
}

func (a *app) startTracing(ctx context.Context, exporter sdktrace.SpanExporter) error {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = serviceName
	tc.OTLPEndpoint = a.cfg.Telemetry.OTLPEndpoint
	tc.SamplingRatio = a.cfg.Telemetry.TraceSamplingRatio
	tc.NoRequestID = a.cfg.Correlation.NoRequestID
	tc.Exporter = exporter

	provider, err := telemetry.NewProvider(tc)
	if err != nil {
		return errors.Wrap(err, "failed to create tracing provider")
	}
	if err := provider.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start tracing")
	}
	a.tracing = provider
	return nil
}

// Close flushes the summary sink and the tracer
func (a *app) Close(ctx context.Context) {
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			a.logger.WithError(err).Error("summary sink shutdown error")
		}
	} else if a.breaker != nil {
		_ = a.breaker.Close()
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Error("tracing shutdown error")
		}
	}
}

type echoResponse struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id,omitempty"`
}

// echo logs a line and returns the identity visible to the handler
func (a *app) echo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logging.FromContext(ctx).Info("echo")

	resp := echoResponse{RequestID: correlation.ID(ctx, a.cfg.Correlation.NoRequestID)}
	if id, ok := correlation.FromContext(ctx); ok {
		resp.UserID = id.UserID
	}
	writeJSON(w, http.StatusOK, resp)
}

type relayResponse struct {
	RequestID      string `json:"request_id"`
	UpstreamStatus int    `json:"upstream_status"`
	UpstreamBody   string `json:"upstream_body,omitempty"`
}

const maxRelayBody = 64 << 10

// relay calls the configured upstream with the propagating client
func (a *app) relay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.FromContext(ctx)

	if a.upstream == nil {
		writeError(w, r, errors.NewConfigurationError("no upstream configured"), http.StatusServiceUnavailable)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Server.UpstreamURL, nil)
	if err != nil {
		writeError(w, r, errors.NewInternalError(err.Error()), 0)
		return
	}

	start := time.Now()
	resp, err := a.upstream.Do(req)
	if err != nil {
		err = errors.NewUpstreamError("upstream request failed", err)
		log.WithError(err).Warn("relay failed")
		writeError(w, r, err, 0)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRelayBody))
	if err != nil {
		writeError(w, r, errors.NewUpstreamError("failed to read upstream response", err), 0)
		return
	}

	log.Info("relayed",
		"upstream_status", resp.StatusCode,
		"upstream_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, relayResponse{
		RequestID:      correlation.ID(ctx, a.cfg.Correlation.NoRequestID),
		UpstreamStatus: resp.StatusCode,
		UpstreamBody:   string(body),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError answers with the error body; status 0 maps err to its status
func writeError(w http.ResponseWriter, r *http.Request, err error, status int) {
	if status == 0 {
		status = errors.StatusCode(err)
	}
	resp := errors.ToErrorResponse(err)
	if id, ok := request.IDFromRequest(r); ok {
		resp.RequestID = id
	}
	writeJSON(w, status, resp)
}

// chainMiddleware applies middleware in reverse order so they execute in the
// order they're passed
func chainMiddleware(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
