package fabric

import (
	"errors"
	"fmt"
)

// Sentinel errors for Registry lookups, matching internal/agent/errors.go's
// style of exported Err* values for expected failure modes.
var (
	ErrUnknownTool       = errors.New("fabric: unknown tool")
	ErrDuplicateTool     = errors.New("fabric: tool already registered")
	ErrAccessDenied      = errors.New("fabric: access denied")
	ErrSchemaViolation   = errors.New("fabric: schema violation")
)

// ErrorCode categorizes a ToolError for callers that need to branch on
// failure kind rather than match a sentinel.
type ErrorCode string

const (
	CodeUnknownTool     ErrorCode = "unknown_tool"
	CodeSchemaViolation ErrorCode = "schema_violation"
	CodeExecutionFailed ErrorCode = "execution_failure"
	CodeAccessDenied    ErrorCode = "access_denied"
)

// ToolError is a machine-readable tool execution failure, grounded on
// internal/agent/errors.go's ToolError struct.
type ToolError struct {
	Code     ErrorCode
	ToolName string
	Message  string
	Cause    error
}

func (e *ToolError) Error() string {
	if e.ToolName != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.ToolName, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ToolError) Unwrap() error { return e.Cause }

func newToolError(code ErrorCode, toolName string, cause error) *ToolError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &ToolError{Code: code, ToolName: toolName, Message: msg, Cause: cause}
}
