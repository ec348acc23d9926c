package tools

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotFound indicates a requested tool doesn't exist in the set.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")

	// ErrKilled indicates the ToolSet was killed mid-execution.
	ErrKilled = errors.New("toolset killed")
)

// ErrorType categorizes tool execution errors.
type ErrorType string

const (
	ErrorNotFound     ErrorType = "not_found"
	ErrorInvalidInput ErrorType = "invalid_input"
	ErrorTimeout      ErrorType = "timeout"
	ErrorExecution    ErrorType = "execution"
	ErrorPanic        ErrorType = "panic"
	ErrorCancelled    ErrorType = "cancelled"
)

// Error is a structured tool execution failure. It reaches the model as
// text, so Error() reads like a diagnostic rather than a stack trace.
type Error struct {
	Type     ErrorType
	ToolName string
	CallID   string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a structured tool error wrapping cause.
func NewError(toolName string, typ ErrorType, cause error) *Error {
	return &Error{
		Type:     typ,
		ToolName: toolName,
		Cause:    cause,
	}
}

// AsError extracts a structured tool error from an error chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
