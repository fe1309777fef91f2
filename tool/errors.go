package tool

import (
	"fmt"
	"strings"
)

// Execution error codes. Every failed execution maps to exactly one code.
const (
	// CodeValidationError is returned when arguments fail schema validation.
	CodeValidationError = "VALIDATION_ERROR"
	// CodeToolNotFound is returned when no registered server exposes the tool.
	CodeToolNotFound = "TOOL_NOT_FOUND"
	// CodeTransportError is returned when the owning server cannot be
	// reached or the protocol exchange fails.
	CodeTransportError = "TRANSPORT_ERROR"
	// CodeToolError is returned when the tool itself reported failure.
	CodeToolError = "TOOL_ERROR"
	// CodeTimeoutError is returned when invocation exceeds its bound.
	CodeTimeoutError = "TIMEOUT_ERROR"
	// CodeUnknownError is the fallback for any uncaught failure.
	CodeUnknownError = "UNKNOWN_ERROR"
)

// ToolError is a structured invocation error that can flow across the
// executor API and logging/notification collaborators without losing
// machine-readable codes.
type ToolError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	msg := strings.TrimSpace(e.Message)
	switch {
	case code == "" && msg == "":
		return CodeUnknownError
	case code == "":
		return msg
	case msg == "":
		return code
	default:
		return fmt.Sprintf("%s: %s", code, msg)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *ToolError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newToolError(code, message string, cause error) *ToolError {
	cleanCode := strings.TrimSpace(code)
	if cleanCode == "" {
		cleanCode = CodeUnknownError
	}
	cleanMsg := strings.TrimSpace(message)
	if cleanMsg == "" && cause != nil {
		cleanMsg = cause.Error()
	}
	return &ToolError{
		Code:    cleanCode,
		Message: cleanMsg,
		Cause:   cause,
	}
}

func withDetails(err *ToolError, details map[string]any) *ToolError {
	if err == nil {
		return nil
	}
	if len(details) == 0 {
		return err
	}
	if err.Details == nil {
		err.Details = make(map[string]any, len(details))
	}
	for key, value := range details {
		err.Details[key] = value
	}
	return err
}

// SchemaParseError indicates a tool's declared input shape could not be
// interpreted.
type SchemaParseError struct {
	Tool string
	Err  error
}

func (e *SchemaParseError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("tool: parsing schema for %q: %v", e.Tool, e.Err)
}

func (e *SchemaParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
