package logging

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/mcncl/log-request-id/internal/correlation"
	"github.com/mcncl/log-request-id/internal/logging"
	"github.com/mcncl/log-request-id/internal/user"
)

// DefaultExclude matches the paths that never get a summary line
const DefaultExclude = "favicon"

// Summary is one completed request
type Summary struct {
	RequestID  string        `json:"request_id"`
	UserID     string        `json:"user_id,omitempty"`
	Method     string        `json:"method"`
	Path       string        `json:"path"`
	Status     int           `json:"status"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Time       time.Time     `json:"time"`
}

// Sink receives every summary that was logged. Implementations must not block
// the request for long and must not fail it.
type Sink interface {
	Record(ctx context.Context, s Summary)
}

// Summarizer writes the one-line summary of a completed request
type Summarizer struct {
	// Logger defaults to the logger stored in the request context
	Logger logging.Logger
	// Exclude skips requests whose path matches any pattern
	Exclude []*regexp.Regexp
	// Users resolves the user field
	Users user.Resolver
	// NoRequestID is the request ID reported when none is installed
	NoRequestID string
	// Sink is optional
	Sink Sink
}

// CompileExclude compiles path patterns. A nil or empty list yields no
// exclusions; callers wanting the default pass []string{DefaultExclude}.
func CompileExclude(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Excluded reports whether path must not be summarised
func (s *Summarizer) Excluded(path string) bool {
	for _, re := range s.Exclude {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Log writes the summary for r unless its path is excluded. It reports
// whether a record was written.
func (s *Summarizer) Log(r *http.Request, status int, elapsed time.Duration) bool {
	if s == nil || r == nil || s.Excluded(r.URL.Path) {
		return false
	}

	ctx := r.Context()
	sum := Summary{
		RequestID:  correlation.ID(ctx, s.noRequestID()),
		Method:     r.Method,
		Path:       r.URL.Path,
		Status:     status,
		Duration:   elapsed,
		DurationMS: elapsed.Milliseconds(),
		Time:       time.Now().UTC(),
	}

	args := []any{
		"method", sum.Method,
		"path", sum.Path,
		"status", sum.Status,
		"duration_ms", sum.DurationMS,
	}
	if uid, ok := s.Users.Resolve(r); ok {
		sum.UserID = uid
		args = append(args, "user", uid)
		correlation.SetUserID(ctx, uid)
	}

	s.logger(ctx).Info("request completed", args...)

	if s.Sink != nil {
		s.Sink.Record(ctx, sum)
	}
	return true
}

func (s *Summarizer) logger(ctx context.Context) logging.Logger {
	if s.Logger != nil {
		return s.Logger.WithContext(ctx)
	}
	return logging.FromContext(ctx)
}

func (s *Summarizer) noRequestID() string {
	if s.NoRequestID != "" {
		return s.NoRequestID
	}
	return correlation.DefaultNoRequestID
}
