package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sources of a request ID
const (
	SourceHeader    = "header"
	SourceGenerated = "generated"
	SourceMarker    = "marker"
)

// Outcomes of outbound propagation
const (
	OutboundSet     = "set"
	OutboundSkipped = "skipped"
	OutboundAbsent  = "absent"
)

var (
	// Metrics variables - these will be initialized by InitMetrics
	RequestsTotal           *prometheus.CounterVec
	RequestDuration         *prometheus.HistogramVec
	OutboundPropagatedTotal *prometheus.CounterVec
	SummaryPublishedTotal   *prometheus.CounterVec
	RateLimitExceeded       *prometheus.CounterVec
	ErrorsTotal             *prometheus.CounterVec
)

// InitMetrics initializes metrics with a specific registry
func InitMetrics(reg prometheus.Registerer) error {
	if reg == nil {
		return fmt.Errorf("registry cannot be nil")
	}

	factory := promauto.With(reg)

	RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_id_requests_total",
			Help: "Total number of inbound requests by request ID source",
		},
		[]string{"source"},
	)

	RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_id_request_duration_seconds",
			Help:    "Duration of inbound requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)

	OutboundPropagatedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_id_outbound_propagated_total",
			Help: "Outgoing calls by request ID propagation outcome",
		},
		[]string{"result"},
	)

	SummaryPublishedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_id_summary_published_total",
			Help: "Request summaries sent to the summary sink",
		},
		[]string{"status"},
	)

	RateLimitExceeded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_id_rate_limit_exceeded_total",
			Help: "Total number of requests that exceeded rate limits",
		},
		[]string{"type"},
	)

	ErrorsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "request_id_errors_total",
			Help: "Total number of errors by type",
		},
		[]string{"type"},
	)

	return nil
}

// The helpers below are no-ops until InitMetrics has run, so library code and
// tests can be used without a registry.

// RecordRequest counts an inbound request by the source of its ID
func RecordRequest(source string) {
	if RequestsTotal != nil {
		RequestsTotal.WithLabelValues(source).Inc()
	}
}

// RecordDuration records how long a request took
func RecordDuration(method, status string, seconds float64) {
	if RequestDuration != nil {
		RequestDuration.WithLabelValues(method, status).Observe(seconds)
	}
}

// RecordOutbound counts an outgoing call by propagation outcome
func RecordOutbound(result string) {
	if OutboundPropagatedTotal != nil {
		OutboundPropagatedTotal.WithLabelValues(result).Inc()
	}
}

// RecordSummaryPublished counts a summary sink publish attempt
func RecordSummaryPublished(status string) {
	if SummaryPublishedTotal != nil {
		SummaryPublishedTotal.WithLabelValues(status).Inc()
	}
}

// RecordRateLimited counts a rejected request
func RecordRateLimited(limiter string) {
	if RateLimitExceeded != nil {
		RateLimitExceeded.WithLabelValues(limiter).Inc()
	}
}

// RecordError counts an error by type
func RecordError(errType string) {
	if ErrorsTotal != nil {
		ErrorsTotal.WithLabelValues(errType).Inc()
	}
}
