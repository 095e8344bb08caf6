// Package config provides a standardized way to load, validate, and access application configuration.
// It supports loading configuration from environment variables (and an optional .env file),
// files (JSON/YAML), and explicit overrides.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcncl/log-request-id/internal/errors"
)

// Config holds all application configuration
type Config struct {
	Correlation CorrelationConfig `json:"correlation" yaml:"correlation"`
	Server      ServerConfig      `json:"server" yaml:"server"`
	Security    SecurityConfig    `json:"security" yaml:"security"`
	Sink        SinkConfig        `json:"sink" yaml:"sink"`
	Telemetry   TelemetryConfig   `json:"telemetry" yaml:"telemetry"`
}

// CorrelationConfig holds the request ID settings
type CorrelationConfig struct {
	// RequestIDHeader is read from inbound requests; empty means always generate
	RequestIDHeader   string `json:"request_id_header" yaml:"request_id_header" env:"LOG_REQUEST_ID_HEADER"`
	GenerateIfMissing bool   `json:"generate_if_missing" yaml:"generate_if_missing" env:"GENERATE_REQUEST_ID_IF_NOT_IN_HEADER"`
	NoRequestID       string `json:"no_request_id" yaml:"no_request_id" env:"NO_REQUEST_ID"`
	ResponseHeader    string `json:"response_header" yaml:"response_header" env:"REQUEST_ID_RESPONSE_HEADER"`
	// OutgoingHeader falls back to RequestIDHeader
	OutgoingHeader     string   `json:"outgoing_header" yaml:"outgoing_header" env:"OUTGOING_REQUEST_ID_HEADER"`
	LogRequests        bool     `json:"log_requests" yaml:"log_requests" env:"LOG_REQUESTS"`
	LogUserAttribute   string   `json:"log_user_attribute" yaml:"log_user_attribute" env:"LOG_USER_ATTRIBUTE"`
	DisableUserLogging bool     `json:"disable_user_logging" yaml:"disable_user_logging" env:"DISABLE_USER_LOGGING"`
	ExcludePaths       []string `json:"exclude_paths" yaml:"exclude_paths" env:"LOG_REQUESTS_EXCLUDE" envSeparator:","`
	LogUserID          bool     `json:"log_user_id" yaml:"log_user_id" env:"LOG_USER_ID"`
	NoUserID           string   `json:"no_user_id" yaml:"no_user_id" env:"NO_USER_ID"`
}

// ServerConfig holds HTTP server related configuration
type ServerConfig struct {
	Port            int      `json:"port" yaml:"port" env:"PORT"`
	LogLevel        string   `json:"log_level" yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat       string   `json:"log_format" yaml:"log_format" env:"LOG_FORMAT"`
	LogFile         string   `json:"log_file" yaml:"log_file" env:"LOG_FILE"`
	RequestTimeout  Duration `json:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	UpstreamURL     string   `json:"upstream_url" yaml:"upstream_url" env:"UPSTREAM_URL"`
	UpstreamTimeout Duration `json:"upstream_timeout" yaml:"upstream_timeout" env:"UPSTREAM_TIMEOUT"`
}

// SecurityConfig holds security related configuration
type SecurityConfig struct {
	RateLimit      int      `json:"rate_limit" yaml:"rate_limit" env:"RATE_LIMIT"`
	IPRateLimit    int      `json:"ip_rate_limit" yaml:"ip_rate_limit" env:"IP_RATE_LIMIT"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" env:"ALLOWED_METHODS" envSeparator:","`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" env:"ALLOWED_HEADERS" envSeparator:","`
}

// SinkConfig holds the Pub/Sub summary sink configuration
type SinkConfig struct {
	Enabled         bool     `json:"enabled" yaml:"enabled" env:"SINK_ENABLED"`
	ProjectID       string   `json:"project_id" yaml:"project_id" env:"PROJECT_ID"`
	TopicID         string   `json:"topic_id" yaml:"topic_id" env:"TOPIC_ID"`
	CredentialsFile string   `json:"credentials_file" yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	BreakerFailures int      `json:"breaker_failures" yaml:"breaker_failures" env:"SINK_BREAKER_FAILURES"`
	BreakerTimeout  Duration `json:"breaker_timeout" yaml:"breaker_timeout" env:"SINK_BREAKER_TIMEOUT"`
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	EnableTracing      bool    `json:"enable_tracing" yaml:"enable_tracing" env:"ENABLE_TRACING"`
	OTLPEndpoint       string  `json:"otlp_endpoint" yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	TraceSamplingRatio float64 `json:"trace_sampling_ratio" yaml:"trace_sampling_ratio" env:"TRACE_SAMPLING_RATIO"`
}

// Duration is a time.Duration that reads "30s" style strings or a bare
// number of seconds
type Duration time.Duration

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	return d.UnmarshalText(b)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Correlation: CorrelationConfig{
			NoRequestID:  "none",
			ExcludePaths: []string{"favicon", "^/(health|ready)$"},
			NoUserID:     "none",
		},
		Server: ServerConfig{
			Port:            8888,
			LogLevel:        "info",
			LogFormat:       "json",
			RequestTimeout:  Duration(30 * time.Second),
			ReadTimeout:     Duration(5 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			IdleTimeout:     Duration(120 * time.Second),
			UpstreamTimeout: Duration(10 * time.Second),
		},
		Security: SecurityConfig{
			RateLimit:      600, // requests per minute
			IPRateLimit:    120, // requests per minute per IP
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept",
				"Content-Type",
				"Content-Length",
				"Accept-Encoding",
				"Authorization",
				"X-Request-ID",
			},
		},
		Sink: SinkConfig{
			CredentialsFile: "credentials.json",
			BreakerFailures: 5,
			BreakerTimeout:  Duration(30 * time.Second),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:       "localhost:4317",
			TraceSamplingRatio: 0.1,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1024 || c.Server.Port > 65535 {
		return errors.NewValidationError("Server.Port must be between 1024 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Server.LogLevel)] {
		return errors.NewValidationError("Server.LogLevel must be one of: debug, info, warn, error")
	}

	switch strings.ToLower(c.Server.LogFormat) {
	case "", "json", "text", "dev", "development":
	default:
		return errors.NewValidationError("Server.LogFormat must be one of: json, text, dev")
	}

	if c.Server.UpstreamURL != "" {
		u, err := url.Parse(c.Server.UpstreamURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.NewValidationError("Server.UpstreamURL must be an absolute URL")
		}
	}

	for _, p := range c.Correlation.ExcludePaths {
		if _, err := regexp.Compile(p); err != nil {
			return errors.WithDetails(
				errors.NewValidationError("Correlation.ExcludePaths contains an invalid pattern"),
				map[string]interface{}{"pattern": p},
			)
		}
	}

	if c.Security.RateLimit < 0 {
		return errors.NewValidationError("Security.RateLimit cannot be negative")
	}
	if c.Security.IPRateLimit < 0 {
		return errors.NewValidationError("Security.IPRateLimit cannot be negative")
	}

	if c.Sink.Enabled {
		if c.Sink.ProjectID == "" {
			return errors.NewValidationError("Sink.ProjectID is required when the sink is enabled")
		}
		if c.Sink.TopicID == "" {
			return errors.NewValidationError("Sink.TopicID is required when the sink is enabled")
		}
	}
	if c.Sink.BreakerFailures < 0 {
		return errors.NewValidationError("Sink.BreakerFailures cannot be negative")
	}

	if c.Telemetry.TraceSamplingRatio < 0 || c.Telemetry.TraceSamplingRatio > 1 {
		return errors.NewValidationError("Telemetry.TraceSamplingRatio must be between 0 and 1")
	}

	return nil
}

// OutgoingHeaderName returns the header used for outgoing calls, which falls back
// to the inbound header
func (c CorrelationConfig) OutgoingHeaderName() string {
	if c.OutgoingHeader != "" {
		return c.OutgoingHeader
	}
	return c.RequestIDHeader
}

// LoadFromEnv loads configuration from environment variables on top of the
// defaults. A .env file in the working directory is read first if present;
// variables already set in the environment win over it.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	// a missing .env file is fine
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		return errors.Wrap(errors.NewValidationError(err.Error()), "failed to parse environment")
	}
	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the defaults
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.NewValidationError(err.Error()), "failed to parse JSON config file")
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.NewValidationError(err.Error()), "failed to parse YAML config file")
		}
	default:
		return nil, errors.NewValidationError("unsupported config file format: " + ext)
	}

	return cfg, nil
}

// MergeConfigs merges two configurations, with the second taking precedence.
// Only non-zero values of override are applied, so a boolean can be switched
// on by an override but not off.
func MergeConfigs(base, override *Config) *Config {
	result := *base

	if override == nil {
		return &result
	}

	// Correlation config
	o := override.Correlation
	if o.RequestIDHeader != "" {
		result.Correlation.RequestIDHeader = o.RequestIDHeader
	}
	if o.GenerateIfMissing {
		result.Correlation.GenerateIfMissing = true
	}
	if o.NoRequestID != "" {
		result.Correlation.NoRequestID = o.NoRequestID
	}
	if o.ResponseHeader != "" {
		result.Correlation.ResponseHeader = o.ResponseHeader
	}
	if o.OutgoingHeader != "" {
		result.Correlation.OutgoingHeader = o.OutgoingHeader
	}
	if o.LogRequests {
		result.Correlation.LogRequests = true
	}
	if o.LogUserAttribute != "" {
		result.Correlation.LogUserAttribute = o.LogUserAttribute
	}
	if o.DisableUserLogging {
		result.Correlation.DisableUserLogging = true
	}
	if len(o.ExcludePaths) > 0 {
		result.Correlation.ExcludePaths = o.ExcludePaths
	}
	if o.LogUserID {
		result.Correlation.LogUserID = true
	}
	if o.NoUserID != "" {
		result.Correlation.NoUserID = o.NoUserID
	}

	// Server config
	s := override.Server
	if s.Port != 0 {
		result.Server.Port = s.Port
	}
	if s.LogLevel != "" {
		result.Server.LogLevel = s.LogLevel
	}
	if s.LogFormat != "" {
		result.Server.LogFormat = s.LogFormat
	}
	if s.LogFile != "" {
		result.Server.LogFile = s.LogFile
	}
	if s.RequestTimeout != 0 {
		result.Server.RequestTimeout = s.RequestTimeout
	}
	if s.ReadTimeout != 0 {
		result.Server.ReadTimeout = s.ReadTimeout
	}
	if s.WriteTimeout != 0 {
		result.Server.WriteTimeout = s.WriteTimeout
	}
	if s.IdleTimeout != 0 {
		result.Server.IdleTimeout = s.IdleTimeout
	}
	if s.UpstreamURL != "" {
		result.Server.UpstreamURL = s.UpstreamURL
	}
	if s.UpstreamTimeout != 0 {
		result.Server.UpstreamTimeout = s.UpstreamTimeout
	}

	// Security config
	if override.Security.RateLimit != 0 {
		result.Security.RateLimit = override.Security.RateLimit
	}
	if override.Security.IPRateLimit != 0 {
		result.Security.IPRateLimit = override.Security.IPRateLimit
	}
	if len(override.Security.AllowedOrigins) > 0 {
		result.Security.AllowedOrigins = override.Security.AllowedOrigins
	}
	if len(override.Security.AllowedMethods) > 0 {
		result.Security.AllowedMethods = override.Security.AllowedMethods
	}
	if len(override.Security.AllowedHeaders) > 0 {
		result.Security.AllowedHeaders = override.Security.AllowedHeaders
	}

	// Sink config
	if override.Sink.Enabled {
		result.Sink.Enabled = true
	}
	if override.Sink.ProjectID != "" {
		result.Sink.ProjectID = override.Sink.ProjectID
	}
	if override.Sink.TopicID != "" {
		result.Sink.TopicID = override.Sink.TopicID
	}
	if override.Sink.CredentialsFile != "" {
		result.Sink.CredentialsFile = override.Sink.CredentialsFile
	}
	if override.Sink.BreakerFailures != 0 {
		result.Sink.BreakerFailures = override.Sink.BreakerFailures
	}
	if override.Sink.BreakerTimeout != 0 {
		result.Sink.BreakerTimeout = override.Sink.BreakerTimeout
	}

	// Telemetry config
	if override.Telemetry.EnableTracing {
		result.Telemetry.EnableTracing = true
	}
	if override.Telemetry.OTLPEndpoint != "" {
		result.Telemetry.OTLPEndpoint = override.Telemetry.OTLPEndpoint
	}
	if override.Telemetry.TraceSamplingRatio != 0 {
		result.Telemetry.TraceSamplingRatio = override.Telemetry.TraceSamplingRatio
	}

	return &result
}

// Load loads the configuration from multiple sources with the following precedence:
// 1. Override (highest precedence)
// 2. Environment variables
// 3. Config file
// 4. Default values (lowest precedence)
func Load(configFile string, override *Config) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		fileCfg, err := LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	// Only variables that are actually set touch cfg
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if override != nil {
		cfg = MergeConfigs(cfg, override)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// String returns a string representation of the configuration
// with sensitive fields masked
func (c *Config) String() string {
	copy := *c

	if copy.Server.UpstreamURL != "" {
		if u, err := url.Parse(copy.Server.UpstreamURL); err == nil {
			copy.Server.UpstreamURL = u.Redacted()
		}
	}

	bytes, err := json.MarshalIndent(copy, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling config: %v", err)
	}

	return string(bytes)
}
