package request

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/mcncl/log-request-id/internal/correlation"
	"github.com/mcncl/log-request-id/internal/logging"
	"github.com/mcncl/log-request-id/internal/metrics"
)

// enterGRPC resolves the ID from incoming metadata and installs a Scope
func (b *Boundary) enterGRPC(ctx context.Context) (context.Context, *correlation.Scope) {
	var inbound string
	if b.opts.Header != "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(strings.ToLower(b.opts.Header)); len(vals) > 0 {
				inbound = vals[0]
			}
		}
	}

	id, source := b.resolve(inbound)
	metrics.RecordRequest(source)

	return b.install(ctx, id)
}

func (b *Boundary) exitGRPC(ctx context.Context, method string, err error, elapsed time.Duration) {
	if b.opts.Summarizer == nil || b.opts.Summarizer.Excluded(method) {
		return
	}
	l := b.opts.Summarizer.Logger
	if l == nil {
		l = logging.FromContext(ctx)
	} else {
		l = l.WithContext(ctx)
	}
	l.Info("request completed",
		"method", "grpc",
		"path", method,
		"status", status.Code(err).String(),
		"duration_ms", elapsed.Milliseconds(),
	)
}

// UnaryServerInterceptor is the gRPC form of Middleware. The ID is read from
// incoming metadata under the lower-cased inbound header name.
func (b *Boundary) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		ctx, scope := b.enterGRPC(ctx)
		defer func() {
			defer scope.Clear()
			b.exitGRPC(ctx, info.FullMethod, err, time.Since(start))
		}()
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming form of UnaryServerInterceptor
func (b *Boundary) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		ctx, scope := b.enterGRPC(ss.Context())
		defer func() {
			defer scope.Clear()
			b.exitGRPC(ctx, info.FullMethod, err, time.Since(start))
		}()
		return handler(srv, &scopedStream{ServerStream: ss, ctx: ctx})
	}
}

// IDFromContext returns the ID attached by the gRPC interceptors or Enter
func IDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(idKey{}).(string)
	return id, ok && id != ""
}

type scopedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *scopedStream) Context() context.Context {
	return s.ctx
}
