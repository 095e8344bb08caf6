// Package health serves the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mcncl/log-request-id/internal/logging"
)

// Check reports whether a dependency is usable
type Check func(ctx context.Context) error

type HealthCheck struct {
	isReady atomic.Bool

	mu     sync.RWMutex
	checks map[string]Check
}

func NewHealthCheck() *HealthCheck {
	return &HealthCheck{checks: make(map[string]Check)}
}

// AddCheck registers a readiness check under name, replacing any previous one
func (h *HealthCheck) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func (h *HealthCheck) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// ReadyHandler answers 503 until SetReady(true) and while any check fails
func (h *HealthCheck) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if !h.isReady.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		return
	}

	failed := h.run(r.Context())
	if len(failed) > 0 {
		logging.FromContext(r.Context()).Warn("readiness check failed", "checks", failed)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"checks": failed,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// SetReady marks the service as ready to receive traffic
func (h *HealthCheck) SetReady(ready bool) {
	h.isReady.Store(ready)
}

// run returns the error text of each failing check, keyed by name
func (h *HealthCheck) run(ctx context.Context) map[string]string {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	var failed map[string]string
	for i, check := range checks {
		if err := check(ctx); err != nil {
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[names[i]] = err.Error()
		}
	}
	return failed
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
