package correlation

import (
	"context"
	"sync/atomic"
)

type scopeKey struct{}

// Scope binds an Identity to one logical request. Reads and writes are safe
// from any goroutine serving that request.
type Scope struct {
	identity atomic.Pointer[Identity]
}

// NewScope creates a Scope with the identity installed
func NewScope(identity Identity) *Scope {
	s := &Scope{}
	s.Set(identity)
	return s
}

// Set installs identity, replacing any previous one. A zero identity clears the scope.
func (s *Scope) Set(identity Identity) {
	if s == nil {
		return
	}
	if identity.IsZero() {
		s.identity.Store(nil)
		return
	}
	s.identity.Store(&identity)
}

// Get returns the installed identity and whether one is present
func (s *Scope) Get() (Identity, bool) {
	if s == nil {
		return Identity{}, false
	}
	id := s.identity.Load()
	if id == nil {
		return Identity{}, false
	}
	return *id, true
}

// Clear detaches the identity. Safe to call more than once.
func (s *Scope) Clear() {
	if s == nil {
		return
	}
	s.identity.Store(nil)
}

// Active reports whether an identity is installed
func (s *Scope) Active() bool {
	_, ok := s.Get()
	return ok
}

// WithScope returns a context carrying scope
func WithScope(ctx context.Context, scope *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the Scope stored in ctx, or nil
func ScopeFromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(scopeKey{}).(*Scope)
	return scope
}

// FromContext returns the identity visible to ctx
func FromContext(ctx context.Context) (Identity, bool) {
	return ScopeFromContext(ctx).Get()
}

// ID returns the request ID visible to ctx, or marker when there is none
func ID(ctx context.Context, marker string) string {
	if identity, ok := FromContext(ctx); ok {
		return identity.ID
	}
	return marker
}

// UserID returns the user ID visible to ctx, or marker when there is none
func UserID(ctx context.Context, marker string) string {
	if identity, ok := FromContext(ctx); ok && identity.UserID != "" {
		return identity.UserID
	}
	return marker
}

// SetUserID attaches a user ID to the identity visible to ctx. It reports
// false when ctx has no active scope, including one cleared concurrently.
func SetUserID(ctx context.Context, userID string) bool {
	return ScopeFromContext(ctx).update(func(identity Identity) Identity {
		return identity.WithUserID(userID)
	})
}

// update replaces the installed identity with fn(identity). A cleared scope
// stays cleared.
func (s *Scope) update(fn func(Identity) Identity) bool {
	if s == nil {
		return false
	}
	for {
		old := s.identity.Load()
		if old == nil {
			return false
		}
		next := fn(*old)
		if s.identity.CompareAndSwap(old, &next) {
			return true
		}
	}
}
