package request

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/mcncl/log-request-id/internal/correlation"
	"github.com/mcncl/log-request-id/internal/metrics"
	mwlogging "github.com/mcncl/log-request-id/internal/middleware/logging"
	"github.com/mcncl/log-request-id/internal/user"
)

type idKey struct{}

// Options configures a Boundary
type Options struct {
	// Header is the inbound header carrying an external request ID. When
	// empty, every request gets a generated ID.
	Header string
	// GenerateIfMissing generates an ID when Header is set but absent from
	// the request. Otherwise NoRequestID is used.
	GenerateIfMissing bool
	// NoRequestID is the absent marker, "none" by default
	NoRequestID string
	// ResponseHeader, when set, echoes the ID back to the caller
	ResponseHeader string
	// Generator defaults to correlation.DefaultGenerator
	Generator correlation.Generator
	// Summarizer writes the per-request summary line; nil disables it
	Summarizer *mwlogging.Summarizer
	// Users attributes a user to the request as soon as one is stored with
	// user.WithUser below the boundary
	Users user.Resolver
}

// Boundary is the entry and exit hook around each inbound request
type Boundary struct {
	opts Options
}

// NewBoundary creates a Boundary, filling in defaults
func NewBoundary(opts Options) *Boundary {
	opts.Header = correlation.HeaderName(opts.Header)
	opts.ResponseHeader = correlation.HeaderName(opts.ResponseHeader)
	if opts.NoRequestID == "" {
		opts.NoRequestID = correlation.DefaultNoRequestID
	}
	if opts.Generator == nil {
		opts.Generator = correlation.DefaultGenerator
	}
	if opts.Summarizer != nil && opts.Summarizer.NoRequestID == "" {
		opts.Summarizer.NoRequestID = opts.NoRequestID
	}
	return &Boundary{opts: opts}
}

// Resolve picks the request ID for r and reports where it came from
func (b *Boundary) Resolve(r *http.Request) (id, source string) {
	if b.opts.Header == "" {
		return b.resolve("")
	}
	return b.resolve(r.Header.Get(b.opts.Header))
}

func (b *Boundary) resolve(inbound string) (id, source string) {
	if b.opts.Header == "" {
		return b.opts.Generator.Generate(), metrics.SourceGenerated
	}
	if inbound != "" {
		return inbound, metrics.SourceHeader
	}
	if b.opts.GenerateIfMissing {
		return b.opts.Generator.Generate(), metrics.SourceGenerated
	}
	return b.opts.NoRequestID, metrics.SourceMarker
}

// Enter resolves the request ID, installs it in a new Scope and attaches it
// to the returned request. The caller owns the Scope and must pass the
// returned request to Exit.
func (b *Boundary) Enter(r *http.Request) (*http.Request, *correlation.Scope) {
	id, source := b.Resolve(r)
	metrics.RecordRequest(source)

	ctx, scope := b.install(r.Context(), id)
	return r.WithContext(ctx), scope
}

// install puts a Scope and a user.Slot for id into ctx. A user stored
// anywhere below the boundary is attributed to the Scope straight away, so
// records logged for the rest of the request carry the user ID.
func (b *Boundary) install(parent context.Context, id string) (context.Context, *correlation.Scope) {
	scope := correlation.NewScope(correlation.Identity{ID: id})

	var ctx context.Context
	slot := user.NewSlot(func(user.User) {
		if uid, ok := b.opts.Users.ResolveContext(ctx); ok {
			correlation.SetUserID(ctx, uid)
		}
	})

	ctx = correlation.WithScope(parent, scope)
	ctx = user.WithSlot(ctx, slot)
	ctx = context.WithValue(ctx, idKey{}, id)
	return ctx, scope
}

// Exit echoes the ID, writes the summary line and clears the Scope. The
// Scope is cleared even if summarising panics.
func (b *Boundary) Exit(w http.ResponseWriter, r *http.Request, status int, elapsed time.Duration) {
	defer correlation.ScopeFromContext(r.Context()).Clear()

	if b.opts.ResponseHeader != "" {
		if id, ok := IDFromRequest(r); ok && !headerSent(w) {
			w.Header().Set(b.opts.ResponseHeader, id)
		}
	}

	b.opts.Summarizer.Log(r, status, elapsed)
}

// Middleware adapts the Boundary to net/http. A panic in next is logged as a
// 500 and then re-raised unchanged after the Scope is cleared.
func (b *Boundary) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		r, _ = b.Enter(r)

		rw := mwlogging.NewResponseWriter(w)
		if b.opts.ResponseHeader != "" {
			id, _ := IDFromRequest(r)
			rw.BeforeHeader(func(h http.Header) {
				h.Set(b.opts.ResponseHeader, id)
			})
		}

		defer func() {
			rec := recover()
			status := rw.Status()
			if rec != nil {
				status = http.StatusInternalServerError
				metrics.RecordError("panic")
			}
			elapsed := time.Since(start)
			b.Exit(rw, r, status, elapsed)
			metrics.RecordDuration(r.Method, strconv.Itoa(status), elapsed.Seconds())
			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(rw, r)
	})
}

// IDFromRequest returns the ID attached by Enter. It stays readable after
// the Scope has been cleared.
func IDFromRequest(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	return IDFromContext(r.Context())
}

func headerSent(w http.ResponseWriter) bool {
	rw, ok := w.(*mwlogging.ResponseWriter)
	return ok && rw.Written()
}
