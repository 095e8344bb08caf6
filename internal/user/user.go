// Package user resolves the user identifier written on request summary lines.
//
// The host application supplies the user and session through the request
// context; this package never loads them itself. A session that reports itself
// empty is treated as "no user" without touching the user value, so an
// untouched lazy session is never materialised just for logging.
package user

import (
	"context"
	"net/http"
	"sync"
)

const (
	// AttributePrimaryKey is tried after the configured attribute
	AttributePrimaryKey = "pk"
	// AttributeID is the last fallback
	AttributeID = "id"
)

// User exposes named attributes of the authenticated principal
type User interface {
	Attribute(name string) (string, bool)
}

// Session reports whether any session data has been stored
type Session interface {
	IsEmpty() bool
}

// MapUser is a User backed by a map
type MapUser map[string]string

// Attribute returns the named value
func (m MapUser) Attribute(name string) (string, bool) {
	v, ok := m[name]
	return v, ok && v != ""
}

type userKey struct{}
type sessionKey struct{}
type slotKey struct{}

// Slot is the per-request holder for the user and session. The request
// boundary installs one so that WithUser and WithSession calls made deeper in
// the handler chain, on derived contexts, stay visible to the boundary.
type Slot struct {
	mu      sync.RWMutex
	user    User
	session Session
	onUser  func(User)
}

// NewSlot creates an empty Slot. onUser, if set, runs after each SetUser
// outside the slot's lock.
func NewSlot(onUser func(User)) *Slot {
	return &Slot{onUser: onUser}
}

// WithSlot stores s in ctx
func WithSlot(ctx context.Context, s *Slot) context.Context {
	return context.WithValue(ctx, slotKey{}, s)
}

// SlotFromContext returns the Slot stored in ctx, or nil
func SlotFromContext(ctx context.Context) *Slot {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(slotKey{}).(*Slot)
	return s
}

// SetUser records u
func (s *Slot) SetUser(u User) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()

	if s.onUser != nil && u != nil {
		s.onUser(u)
	}
}

// User returns the recorded user
func (s *Slot) User() (User, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.user != nil
}

// SetSession records sess
func (s *Slot) SetSession(sess Session) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

// Session returns the recorded session
func (s *Slot) Session() (Session, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.session != nil
}

// WithUser stores u in ctx and in the request's Slot, if any
func WithUser(ctx context.Context, u User) context.Context {
	SlotFromContext(ctx).SetUser(u)
	return context.WithValue(ctx, userKey{}, u)
}

// FromContext returns the user stored in ctx, falling back to the request's Slot
func FromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return nil, false
	}
	if u, ok := ctx.Value(userKey{}).(User); ok && u != nil {
		return u, true
	}
	return SlotFromContext(ctx).User()
}

// WithSession stores s in ctx and in the request's Slot, if any
func WithSession(ctx context.Context, s Session) context.Context {
	SlotFromContext(ctx).SetSession(s)
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the session stored in ctx, falling back to the
// request's Slot
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return nil, false
	}
	if s, ok := ctx.Value(sessionKey{}).(Session); ok && s != nil {
		return s, true
	}
	return SlotFromContext(ctx).Session()
}

// Resolver finds the user identifier for a request
type Resolver struct {
	// Attribute is tried first; empty means start with the fallbacks
	Attribute string
	// Disabled turns user resolution off entirely
	Disabled bool
}

// Resolve returns the user identifier for r. The order is the configured
// attribute, then "pk", then "id".
func (res Resolver) Resolve(r *http.Request) (string, bool) {
	if res.Disabled || r == nil {
		return "", false
	}
	return res.ResolveContext(r.Context())
}

// ResolveContext is Resolve for a bare context
func (res Resolver) ResolveContext(ctx context.Context) (string, bool) {
	if res.Disabled || ctx == nil {
		return "", false
	}

	if s, ok := SessionFromContext(ctx); ok && s.IsEmpty() {
		return "", false
	}

	u, ok := FromContext(ctx)
	if !ok {
		return "", false
	}

	for _, name := range res.chain() {
		if v, ok := u.Attribute(name); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func (res Resolver) chain() []string {
	if res.Attribute == "" || res.Attribute == AttributePrimaryKey {
		return []string{AttributePrimaryKey, AttributeID}
	}
	if res.Attribute == AttributeID {
		return []string{AttributeID}
	}
	return []string{res.Attribute, AttributePrimaryKey, AttributeID}
}
