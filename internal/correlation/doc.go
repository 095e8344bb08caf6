// Package correlation holds the per-request identity that is attached to every
// log record and outgoing call made while serving an inbound request.
//
// The identity lives in a Scope which is stored in the request context. Any code
// running on behalf of the request, including goroutines it starts with the
// request context, reads the same Scope. When the request finishes the boundary
// clears the Scope, so work that outlives the request observes the absent
// marker instead of a stale identifier.
//
// Example usage:
//
//	scope := correlation.NewScope(correlation.Identity{ID: id})
//	ctx := correlation.WithScope(r.Context(), scope)
//	defer scope.Clear()
//
//	id := correlation.ID(ctx, correlation.DefaultNoRequestID)
package correlation
