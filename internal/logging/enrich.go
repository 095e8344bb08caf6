package logging

import (
	"context"
	"log/slog"

	"github.com/mcncl/log-request-id/internal/correlation"
)

// Record keys written by EnrichHandler
const (
	KeyRequestID = "request_id"
	KeyUserID    = "user_id"
)

// EnrichOptions configures EnrichHandler
type EnrichOptions struct {
	NoRequestID string
	LogUserID   bool
	NoUserID    string
}

// EnrichHandler decorates a slog.Handler, adding the request ID visible to the
// record's context. Records logged outside any request get the absent marker.
type EnrichHandler struct {
	next slog.Handler
	opts EnrichOptions
}

// NewEnrichHandler wraps next
func NewEnrichHandler(next slog.Handler, opts EnrichOptions) *EnrichHandler {
	if opts.NoRequestID == "" {
		opts.NoRequestID = correlation.DefaultNoRequestID
	}
	if opts.NoUserID == "" {
		opts.NoUserID = correlation.DefaultNoUserID
	}
	return &EnrichHandler{next: next, opts: opts}
}

func (h *EnrichHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

// Handle clones the record before adding attributes, as the slog contract requires
func (h *EnrichHandler) Handle(ctx context.Context, r slog.Record) error {
	identity, ok := correlation.FromContext(ctx)

	id := h.opts.NoRequestID
	if ok {
		id = identity.ID
	}

	r = r.Clone()
	r.AddAttrs(slog.String(KeyRequestID, id))

	if h.opts.LogUserID {
		userID := h.opts.NoUserID
		if ok && identity.UserID != "" {
			userID = identity.UserID
		}
		r.AddAttrs(slog.String(KeyUserID, userID))
	}

	return h.next.Handle(ctx, r)
}

func (h *EnrichHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &EnrichHandler{next: h.next.WithAttrs(attrs), opts: h.opts}
}

// WithGroup nests the enrichment fields under name as well
func (h *EnrichHandler) WithGroup(name string) slog.Handler {
	return &EnrichHandler{next: h.next.WithGroup(name), opts: h.opts}
}
