package outbound

import (
	"net/http"
	"time"

	"github.com/mcncl/log-request-id/internal/metrics"
)

// Transport is an http.RoundTripper that adds the request ID header
type Transport struct {
	// Base defaults to http.DefaultTransport
	Base http.RoundTripper

	p *Propagator
}

// NewTransport wraps base
func NewTransport(base http.RoundTripper, opts Options) (*Transport, error) {
	p, err := NewPropagator(opts)
	if err != nil {
		return nil, err
	}
	return p.Transport(base), nil
}

// Transport wraps base with p
func (p *Propagator) Transport(base http.RoundTripper) *Transport {
	return &Transport{Base: base, p: p}
}

// NewClient returns an http.Client using a propagating Transport
func NewClient(opts Options, timeout time.Duration) (*http.Client, error) {
	t, err := NewTransport(nil, opts)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: t, Timeout: timeout}, nil
}

// RoundTrip implements http.RoundTripper. The request is cloned before the
// header is added.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	id, ok := t.p.ID(req.Context())
	switch {
	case !ok:
		metrics.RecordOutbound(metrics.OutboundAbsent)
	case req.Header.Get(t.p.header) != "":
		metrics.RecordOutbound(metrics.OutboundSkipped)
	default:
		req = req.Clone(req.Context())
		req.Header.Set(t.p.header, id)
		metrics.RecordOutbound(metrics.OutboundSet)
	}
	return t.base().RoundTrip(req)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
