// Package apierr defines the gateway's stable numeric error-code catalogue
// and the envelope used to surface it to MCP clients.
//
// Grounded on original_source/db_mcp/errors.py's ErrorCode enum and
// MCPError type; the families and numeric ranges are unchanged.
package apierr

import (
	"fmt"
	"strings"
)

// Code is a stable, small integer identifying an error family and cause.
type Code int

// Error code catalogue. Ranges per spec.md §6.
const (
	// Generic 1000-1099.
	CodeUnknown             Code = 1000
	CodeInvalidParams       Code = 1001
	CodeMissingRequiredParam Code = 1002
	CodeTimeout             Code = 1003

	// Auth 2000-2099.
	CodeUnauthorized Code = 2000
	CodeInvalidAPIKey Code = 2001
	CodeAccessDenied Code = 2002

	// DB 3000-3099.
	CodeDBConnectionError Code = 3000
	CodeDBQueryError      Code = 3001
	CodeDBTimeout         Code = 3002
	CodeDBConfigError     Code = 3003
	CodeDBEngineError     Code = 3004

	// SQL safety 4000-4099.
	CodeSQLInjectionDetected Code = 4000
	CodeSQLInvalidStatement  Code = 4001
	CodeSQLValidationError   Code = 4002
	CodeSQLStructureError    Code = 4003

	// Configuration 5000-5099.
	CodeMissingDBConfig Code = 5000
	CodeInvalidDBConfig Code = 5001

	// Controller 6000-6099.
	CodeAgentError        Code = 6000
	CodeLLMError          Code = 6001
	CodeToolExecutionError Code = 6002
	CodePlanError          Code = 6003
	CodeExecError          Code = 6004
	CodeReplanError        Code = 6005
	CodeClientCancelled    Code = 6006
)

// names maps each Code to its symbolic name, surfaced to clients as code_name.
var names = map[Code]string{
	CodeUnknown:              "UNKNOWN_ERROR",
	CodeInvalidParams:        "INVALID_PARAMS",
	CodeMissingRequiredParam: "MISSING_REQUIRED_PARAM",
	CodeTimeout:              "TIMEOUT",
	CodeUnauthorized:         "UNAUTHORIZED",
	CodeInvalidAPIKey:        "INVALID_API_KEY",
	CodeAccessDenied:         "ACCESS_DENIED",
	CodeDBConnectionError:    "DB_CONNECTION_ERROR",
	CodeDBQueryError:         "DB_QUERY_ERROR",
	CodeDBTimeout:            "DB_TIMEOUT",
	CodeDBConfigError:        "DB_CONFIG_ERROR",
	CodeDBEngineError:        "DB_ENGINE_ERROR",
	CodeSQLInjectionDetected: "SQL_INJECTION_DETECTED",
	CodeSQLInvalidStatement:  "SQL_INVALID_STATEMENT",
	CodeSQLValidationError:   "SQL_VALIDATION_ERROR",
	CodeSQLStructureError:    "SQL_STRUCTURE_ERROR",
	CodeMissingDBConfig:      "MISSING_DB_CONFIG",
	CodeInvalidDBConfig:      "INVALID_DB_CONFIG",
	CodeAgentError:           "AGENT_ERROR",
	CodeLLMError:             "LLM_ERROR",
	CodeToolExecutionError:   "TOOL_EXECUTION_ERROR",
	CodePlanError:            "PLAN_ERROR",
	CodeExecError:            "EXEC_ERROR",
	CodeReplanError:          "REPLAN_ERROR",
	CodeClientCancelled:      "CLIENT_CANCELLED",
}

// Name returns the symbolic name for a code, or "UNKNOWN_ERROR" if unrecognized.
func (c Code) Name() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "UNKNOWN_ERROR"
}

// Error is the gateway's typed error, carrying a stable code alongside a
// human-readable message and optional structured detail.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code.Name(), e.Message)
}

// New constructs an Error with no extra detail.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured detail to an Error and returns it.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// From classifies a plain error into an Error using substring heuristics on
// its message, matching the database-error mapping rule in spec.md §4.5 step 6.
func From(err error, fallback Code) *Error {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*Error); ok {
		return ae
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return New(CodeDBTimeout, msg)
	case strings.Contains(lower, "connection"):
		return New(CodeDBConnectionError, msg)
	default:
		return New(fallback, msg)
	}
}
