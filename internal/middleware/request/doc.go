// Package request provides the request boundary middleware.
//
// The Boundary resolves a request ID for every inbound request, installs it
// in a correlation.Scope carried by the request context, echoes it on the
// response when configured, writes the summary line and clears the scope on
// every exit path, including panics.
//
// It also provides a deadline middleware.
//
// Example usage:
//
//	b := request.NewBoundary(request.Options{
//		Header:            "X-Request-ID",
//		GenerateIfMissing: true,
//		ResponseHeader:    "X-Request-ID",
//	})
//	handler := b.Middleware(
//		request.WithTimeout(5*time.Second)(
//			yourHandler,
//		),
//	)
package request
