// Package outbound forwards the current request ID on outgoing calls.
//
// An ID the caller already set on the outgoing request is left untouched.
// Nothing is sent when no request is active or the active ID is the absent
// marker.
package outbound

import (
	"context"
	"strings"

	"github.com/mcncl/log-request-id/internal/correlation"
	"github.com/mcncl/log-request-id/internal/errors"
)

// Options configures a Propagator
type Options struct {
	// Header is the outgoing header name
	Header string
	// InboundHeader is used when Header is empty
	InboundHeader string
	// NoRequestID is the absent marker, "none" by default
	NoRequestID string
}

// Propagator decides what, if anything, to send for a context
type Propagator struct {
	header string
	marker string
}

// NewPropagator fails when neither header name is configured
func NewPropagator(opts Options) (*Propagator, error) {
	header := correlation.HeaderName(opts.Header)
	if header == "" {
		header = correlation.HeaderName(opts.InboundHeader)
	}
	if header == "" {
		return nil, errors.NewConfigurationError("outgoing request ID propagation needs an outgoing or inbound header name")
	}

	marker := opts.NoRequestID
	if marker == "" {
		marker = correlation.DefaultNoRequestID
	}
	return &Propagator{header: header, marker: marker}, nil
}

// Header returns the canonical outgoing header name
func (p *Propagator) Header() string {
	return p.header
}

// ID returns the request ID to forward for ctx
func (p *Propagator) ID(ctx context.Context) (string, bool) {
	id := correlation.ID(ctx, p.marker)
	if id == "" || id == p.marker {
		return "", false
	}
	return id, true
}

func (p *Propagator) metadataKey() string {
	return strings.ToLower(p.header)
}
