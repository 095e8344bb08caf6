// Package security holds the response hardening and rate limiting middleware.
package security

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mcncl/log-request-id/internal/correlation"
)

// SecurityConfig defines the configuration for security headers and CORS
type SecurityConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	// ExposedHeaders are readable by browser scripts; the request ID
	// response header belongs here so clients can report it.
	ExposedHeaders []string
	MaxAge         int // in seconds
}

// DefaultConfig returns a default security configuration
func DefaultConfig() SecurityConfig {
	return SecurityConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"Content-Length",
			"Accept-Encoding",
			"Authorization",
			correlation.DefaultHeader,
		},
		ExposedHeaders: []string{correlation.DefaultHeader},
		MaxAge:         3600,
	}
}

// Expose adds header to ExposedHeaders and AllowedHeaders unless already present
func (c *SecurityConfig) Expose(header string) {
	header = correlation.HeaderName(header)
	if header == "" {
		return
	}
	if !containsFold(c.ExposedHeaders, header) {
		c.ExposedHeaders = append(c.ExposedHeaders, header)
	}
	if !containsFold(c.AllowedHeaders, header) {
		c.AllowedHeaders = append(c.AllowedHeaders, header)
	}
}

// WithSecurityHeaders adds security headers to responses
func WithSecurityHeaders(config SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			setSecurityHeaders(w)

			if handleCORS(w, r, config) && r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

	h.Set("Content-Security-Policy", strings.Join([]string{
		"default-src 'none'",
		"frame-ancestors 'none'",
		"base-uri 'none'",
		"form-action 'none'",
		"require-trusted-types-for 'script'",
	}, "; "))

	h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
}

func handleCORS(w http.ResponseWriter, r *http.Request, config SecurityConfig) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}

	allowed := false
	for _, allowedOrigin := range config.AllowedOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", strings.Join(config.AllowedMethods, ", "))
	h.Set("Access-Control-Allow-Headers", strings.Join(config.AllowedHeaders, ", "))
	if len(config.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(config.ExposedHeaders, ", "))
	}
	h.Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Add("Vary", "Origin")

	return true
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
