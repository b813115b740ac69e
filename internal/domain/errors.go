package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// Tool errors
	ErrToolNotFound    = errors.New("tool not found")
	ErrInvalidCall     = errors.New("invalid tool call")
	ErrInvalidToolArgs = errors.New("invalid tool arguments")
	ErrResultTooLarge  = errors.New("tool result exceeds size limit")

	// Server errors
	ErrServerNotFound     = errors.New("server not found")
	ErrServerExists       = errors.New("server already exists")
	ErrServerNotConnected = errors.New("server not connected")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrHubShuttingDown    = errors.New("hub is shutting down")

	// Configuration errors
	ErrInvalidConfig    = errors.New("invalid server configuration")
	ErrInvalidTransport = errors.New("invalid transport type")

	// Execution errors
	ErrExecutionTimeout   = errors.New("tool execution timed out")
	ErrExecutionCancelled = errors.New("tool execution cancelled")

	// Router errors
	ErrRouterClosed = errors.New("router is closed")

	// Validation errors
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotFound     = errors.New("resource not found")
)

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}

func NewDomainErrorWithCode(err error, message, code string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// NewConfigError reports a malformed server descriptor. Configuration errors
// are surfaced synchronously and never retried.
func NewConfigError(field, format string, args ...any) *DomainError {
	return &DomainError{
		Err:     ErrInvalidConfig,
		Message: field + ": " + fmt.Sprintf(format, args...),
		Code:    "config",
	}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrInvalidTransport)
}

// ErrorCategory classifies a failed tool execution.
type ErrorCategory string

const (
	CategoryTimeout    ErrorCategory = "timeout"
	CategoryNetwork    ErrorCategory = "network"
	CategoryValidation ErrorCategory = "validation"
	CategoryRemote     ErrorCategory = "remote"
	CategoryCancelled  ErrorCategory = "cancelled"
)

// Recoverable reports whether failures of this category may be retried on
// another tool instance.
func (c ErrorCategory) Recoverable() bool {
	return c == CategoryTimeout || c == CategoryNetwork
}

// ExecutionError is the categorized failure carried inside a tool execution
// result.
type ExecutionError struct {
	Category    ErrorCategory `json:"category"`
	Message     string        `json:"message"`
	Code        int           `json:"code,omitempty"`
	Recoverable bool          `json:"recoverable"`
	Err         error         `json:"-"`
}

func (e *ExecutionError) Error() string {
	if e.Message != "" {
		return string(e.Category) + ": " + e.Message
	}
	if e.Err != nil {
		return string(e.Category) + ": " + e.Err.Error()
	}
	return string(e.Category)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func NewExecutionError(category ErrorCategory, err error) *ExecutionError {
	e := &ExecutionError{
		Category:    category,
		Recoverable: category.Recoverable(),
		Err:         err,
	}
	if err != nil {
		e.Message = err.Error()
	}
	return e
}

// NewRemoteError builds a remote-category error from a server supplied
// message and JSON-RPC code.
func NewRemoteError(code int, message string) *ExecutionError {
	return &ExecutionError{
		Category: CategoryRemote,
		Message:  message,
		Code:     code,
	}
}

// AsExecutionError extracts an ExecutionError from an error chain.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr, true
	}
	return nil, false
}
