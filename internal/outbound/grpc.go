package outbound

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/mcncl/log-request-id/internal/metrics"
)

// OutgoingContext adds the request ID to the outgoing gRPC metadata of ctx
func (p *Propagator) OutgoingContext(ctx context.Context) context.Context {
	id, ok := p.ID(ctx)
	if !ok {
		metrics.RecordOutbound(metrics.OutboundAbsent)
		return ctx
	}

	key := p.metadataKey()
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok && len(md.Get(key)) > 0 {
		metrics.RecordOutbound(metrics.OutboundSkipped)
		return ctx
	}
	if ok {
		md = md.Copy()
	} else {
		md = metadata.New(nil)
	}
	md.Set(key, id)
	metrics.RecordOutbound(metrics.OutboundSet)
	return metadata.NewOutgoingContext(ctx, md)
}

// UnaryClientInterceptor forwards the request ID on unary calls
func (p *Propagator) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(p.OutgoingContext(ctx), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor forwards the request ID on streams
func (p *Propagator) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		return streamer(p.OutgoingContext(ctx), desc, cc, method, opts...)
	}
}

// DialOptions returns the client interceptors as dial options
func (p *Propagator) DialOptions() []grpc.DialOption {
	return []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(p.UnaryClientInterceptor()),
		grpc.WithChainStreamInterceptor(p.StreamClientInterceptor()),
	}
}
