package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies per-item failures.
type ErrorKind string

const (
	KindInput     ErrorKind = "input"
	KindNetwork   ErrorKind = "network"
	KindRateLimit ErrorKind = "rate_limit"
	KindSchema    ErrorKind = "schema"
	KindUpstream  ErrorKind = "upstream"
	KindCancelled ErrorKind = "cancelled"
)

// CancelledMessage is the reason recorded on slots that were never dispatched.
const CancelledMessage = "cancelled"

// ItemError is a failure attached to a single analysis result.
type ItemError struct {
	Kind       ErrorKind     `json:"kind" yaml:"kind"`
	Message    string        `json:"message" yaml:"message"`
	StatusCode int           `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	RetryAfter time.Duration `json:"-" yaml:"-"`
}

func (e *ItemError) Error() string {
	if e == nil {
		return "item error"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether another attempt may succeed.
func (e *ItemError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindNetwork || e.Kind == KindRateLimit
}

// Reason renders the error for tabular reports.
func (e *ItemError) Reason() string {
	if e == nil {
		return ""
	}
	if e.Kind == KindCancelled {
		return CancelledMessage
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ParseReason is the inverse of Reason.
func ParseReason(reason string) *ItemError {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil
	}
	if reason == CancelledMessage {
		return Cancelled()
	}
	kind, message, ok := strings.Cut(reason, ": ")
	if !ok {
		return &ItemError{Kind: KindUpstream, Message: reason}
	}
	switch ErrorKind(kind) {
	case KindInput, KindNetwork, KindRateLimit, KindSchema, KindUpstream, KindCancelled:
		return &ItemError{Kind: ErrorKind(kind), Message: message}
	default:
		return &ItemError{Kind: KindUpstream, Message: reason}
	}
}

// InputError reports an invalid request text.
func InputError(message string) *ItemError {
	return &ItemError{Kind: KindInput, Message: message}
}

// NetworkError reports a transport failure.
func NetworkError(err error) *ItemError {
	return &ItemError{Kind: KindNetwork, Message: errMessage(err)}
}

// SchemaError reports an unexpected response shape.
func SchemaError(format string, args ...any) *ItemError {
	return &ItemError{Kind: KindSchema, Message: fmt.Sprintf(format, args...)}
}

// Cancelled reports a request abandoned because the batch was cancelled.
func Cancelled() *ItemError {
	return &ItemError{Kind: KindCancelled, Message: CancelledMessage}
}

// AsItemError extracts an ItemError from err.
func AsItemError(err error) (*ItemError, bool) {
	var itemErr *ItemError
	if errors.As(err, &itemErr) {
		return itemErr, true
	}
	return nil, false
}

// ConfigError aborts a batch before any request is dispatched.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid configuration"
	}
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
