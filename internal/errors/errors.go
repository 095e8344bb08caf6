// Package errors defines the error kinds used across the service. Errors carry
// a sentinel kind, a message, an optional cause and optional details, and can
// be classified with errors.Is or the Is* helpers.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error kinds
var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrRateLimit     = errors.New("rate limit error")
	ErrPublish       = errors.New("publish error")
	ErrConnection    = errors.New("connection error")
	ErrUpstream      = errors.New("upstream error")
	ErrInternal      = errors.New("internal error")
)

type kindError struct {
	kind      error
	msg       string
	cause     error
	details   map[string]interface{}
	retryable bool
}

// ErrorWithDetails is implemented by errors carrying structured details
type ErrorWithDetails interface {
	Error() string
	Details() map[string]interface{}
}

func (e *kindError) Error() string {
	if e == nil {
		return ""
	}

	s := fmt.Sprintf("%s: %s", e.kind.Error(), e.msg)

	if len(e.details) > 0 {
		if b, err := json.Marshal(e.details); err == nil {
			s += fmt.Sprintf(" - details: %s", b)
		}
	}

	if e.cause != nil {
		s += fmt.Sprintf(" - caused by: %v", e.cause)
	}

	return s
}

func (e *kindError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func (e *kindError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	return errors.Is(e.kind, target)
}

// Details returns the structured details attached to the error
func (e *kindError) Details() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.details
}

func newKind(kind error, msg string, cause error, retryable bool) error {
	return &kindError{kind: kind, msg: msg, cause: cause, retryable: retryable}
}

// NewValidationError creates a new validation error
func NewValidationError(msg string) error {
	return newKind(ErrValidation, msg, nil, false)
}

// NewConfigurationError creates a new configuration error. These are raised
// while components are being constructed, never while serving requests.
func NewConfigurationError(msg string) error {
	return newKind(ErrConfiguration, msg, nil, false)
}

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(msg string) error {
	return newKind(ErrRateLimit, msg, nil, true)
}

// NewPublishError creates a new publish error
func NewPublishError(msg string, cause error) error {
	return newKind(ErrPublish, msg, cause, true)
}

// NewConnectionError creates a new connection error
func NewConnectionError(msg string) error {
	return newKind(ErrConnection, msg, nil, true)
}

// NewUpstreamError creates a new error for a failed call to an upstream service
func NewUpstreamError(msg string, cause error) error {
	return newKind(ErrUpstream, msg, cause, true)
}

// NewInternalError creates a new internal error
func NewInternalError(msg string) error {
	return newKind(ErrInternal, msg, nil, false)
}

// Wrap adds context to err. Errors of a known kind keep their kind; anything
// else becomes an internal error with err as the cause.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}

	var ke *kindError
	if errors.As(err, &ke) {
		return &kindError{
			kind:      ke.kind,
			msg:       msg + ": " + ke.msg,
			cause:     ke.cause,
			details:   ke.details,
			retryable: ke.retryable,
		}
	}

	return &kindError{kind: ErrInternal, msg: msg, cause: err}
}

// WithDetails attaches details to err
func WithDetails(err error, details map[string]interface{}) error {
	if err == nil {
		return nil
	}

	var ke *kindError
	if errors.As(err, &ke) {
		return &kindError{
			kind:      ke.kind,
			msg:       ke.msg,
			cause:     ke.cause,
			details:   details,
			retryable: ke.retryable,
		}
	}

	return &kindError{kind: ErrInternal, msg: err.Error(), details: details}
}

// GetDetails returns error details if available, nil otherwise
func GetDetails(err error) map[string]interface{} {
	var d ErrorWithDetails
	if errors.As(err, &d) {
		return d.Details()
	}
	return nil
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return err != nil && errors.Is(err, ErrValidation)
}

// IsConfigurationError checks if the error is a configuration error
func IsConfigurationError(err error) bool {
	return err != nil && errors.Is(err, ErrConfiguration)
}

// IsRateLimitError checks if the error is a rate limit error
func IsRateLimitError(err error) bool {
	return err != nil && errors.Is(err, ErrRateLimit)
}

// IsPublishError checks if the error is a publish error
func IsPublishError(err error) bool {
	return err != nil && errors.Is(err, ErrPublish)
}

// IsConnectionError checks if the error is a connection error
func IsConnectionError(err error) bool {
	return err != nil && errors.Is(err, ErrConnection)
}

// IsUpstreamError checks if the error is an upstream error
func IsUpstreamError(err error) bool {
	return err != nil && errors.Is(err, ErrUpstream)
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.retryable
	}
	return false
}

// Format returns err as a string, or "" for nil
func Format(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ErrorResponse is the JSON body written for failed requests
type ErrorResponse struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	ErrorType string                 `json:"error_type"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ToErrorResponse converts an error to an ErrorResponse
func ToErrorResponse(err error) ErrorResponse {
	if err == nil {
		return ErrorResponse{Status: "error", Message: "Unknown error", ErrorType: "internal"}
	}

	response := ErrorResponse{
		Status:  "error",
		Message: Format(err),
		Details: GetDetails(err),
	}

	switch {
	case IsValidationError(err):
		response.ErrorType = "validation"
	case IsConfigurationError(err):
		response.ErrorType = "configuration"
	case IsRateLimitError(err):
		response.ErrorType = "rate_limit"
	case IsConnectionError(err):
		response.ErrorType = "connection"
	case IsUpstreamError(err):
		response.ErrorType = "upstream"
	case IsPublishError(err):
		response.ErrorType = "publish"
	default:
		response.ErrorType = "internal"
	}

	return response
}

// StatusCode maps an error to the HTTP status used when it reaches a client
func StatusCode(err error) int {
	switch {
	case IsValidationError(err):
		return 400
	case IsRateLimitError(err):
		return 429
	case IsUpstreamError(err):
		return 502
	case IsConnectionError(err):
		return 503
	default:
		return 500
	}
}
