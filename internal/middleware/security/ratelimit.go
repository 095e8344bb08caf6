package security

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcncl/log-request-id/internal/correlation"
	"github.com/mcncl/log-request-id/internal/errors"
	"github.com/mcncl/log-request-id/internal/logging"
	"github.com/mcncl/log-request-id/internal/metrics"
)

// RateLimiter provides global rate limiting
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter with specified requests per minute
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{limiter: perMinute(requestsPerMinute)}
}

// Allow reports whether one more request may proceed now
func (l *RateLimiter) Allow() bool {
	return l.limiter.Allow()
}

// WithRateLimit applies global rate limiting to requests. A non-positive
// limit disables it.
func WithRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	limiter := NewRateLimiter(requestsPerMinute)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				reject(w, r, "global")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPRateLimiter provides per-IP rate limiting
type IPRateLimiter struct {
	mu       sync.Mutex
	ips      map[string]*visitor
	rateFunc func() *rate.Limiter
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIPRateLimiter creates a new IP-based rate limiter
func NewIPRateLimiter(requestsPerMinute int) *IPRateLimiter {
	return &IPRateLimiter{
		ips: make(map[string]*visitor),
		rateFunc: func() *rate.Limiter {
			return perMinute(requestsPerMinute)
		},
		now: time.Now,
	}
}

// GetLimiter returns the rate limiter for a specific IP
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	v, ok := i.ips[ip]
	if !ok {
		v = &visitor{limiter: i.rateFunc()}
		i.ips[ip] = v
	}
	v.lastSeen = i.now()
	return v.limiter
}

// Len returns the number of tracked IPs
func (i *IPRateLimiter) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.ips)
}

// CleanupExpired forgets IPs not seen for longer than idle
func (i *IPRateLimiter) CleanupExpired(idle time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()

	cutoff := i.now().Add(-idle)
	for ip, v := range i.ips {
		if v.lastSeen.Before(cutoff) {
			delete(i.ips, ip)
		}
	}
}

// WithIPRateLimit applies per-IP rate limiting to requests. A non-positive
// limit disables it.
func WithIPRateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		return passthrough
	}
	return WithIPRateLimiter(NewIPRateLimiter(requestsPerMinute))
}

// WithIPRateLimiter applies limiter per client IP
func WithIPRateLimiter(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.GetLimiter(getIP(r)).Allow() {
				reject(w, r, "ip")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func perMinute(n int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
}

func passthrough(next http.Handler) http.Handler { return next }

// reject answers 429 with a JSON body carrying the request ID
func reject(w http.ResponseWriter, r *http.Request, limiter string) {
	metrics.RecordRateLimited(limiter)
	logging.FromContext(r.Context()).Warn("rate limit exceeded",
		"limiter", limiter,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)

	resp := errors.ToErrorResponse(errors.NewRateLimitError("too many requests"))
	if id, ok := correlation.FromContext(r.Context()); ok {
		resp.RequestID = id.ID
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(resp)
}

// getIP extracts the client IP from the request
func getIP(r *http.Request) string {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		// Take the first IP if multiple are present
		if i := strings.Index(ip, ","); i > -1 {
			ip = strings.TrimSpace(ip[:i])
		}
		return ip
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
