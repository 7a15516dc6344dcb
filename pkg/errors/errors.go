// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed error taxonomy shared by the broker,
// the agents and the pipeline.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrorCode classifies errors for monitoring, recovery and HTTP mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeToolNotFound indicates the requested tool is not registered.
	CodeToolNotFound ErrorCode = "TOOL_NOT_FOUND"

	// CodeToolExecution indicates every attempt of a tool call failed.
	CodeToolExecution ErrorCode = "TOOL_EXECUTION"

	// CodeSecurity indicates a permission or security policy check failed.
	CodeSecurity ErrorCode = "SECURITY_VIOLATION"

	// CodeAgent indicates an agent-level validation or lifecycle failure.
	CodeAgent ErrorCode = "AGENT_ERROR"

	// CodeContextLost indicates the caller's context was cancelled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnauthorized indicates authorization failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeLLMError indicates a text generation backend error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeStorage indicates a persistence backend error.
	CodeStorage ErrorCode = "STORAGE_ERROR"
)

// Error is a typed error with context for logs, traces and API responses.
// It can be matched with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the error for structured logs and API payloads.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Cause       string                 `json:"cause,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Cause:       cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL spans.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be retried.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// As returns the first *Error in err's chain, wrapping unknown errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "unclassified error", err)
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ToolNotFound reports an unregistered tool. It is never retried.
func ToolNotFound(tool string) *Error {
	return New(CodeToolNotFound, fmt.Sprintf("tool %q not registered", tool), nil).
		WithContext("tool", tool).
		WithAttribute("tool.name", tool)
}

// ToolExecution reports that all attempts of a tool call failed.
func ToolExecution(tool string, attempts int, cause error) *Error {
	return New(CodeToolExecution, fmt.Sprintf("tool %q failed after %d attempts", tool, attempts), cause).
		WithContext("tool", tool).
		WithContext("attempts", attempts).
		WithAttribute("tool.name", tool).
		WithAttribute("retry.attempts", strconv.Itoa(attempts))
}

// Security reports a failed permission or security policy check.
func Security(msg string) *Error {
	return New(CodeSecurity, msg, nil)
}

// Permission reports that agent is not allowed to call tool.
func Permission(agent, tool string) *Error {
	return Security(fmt.Sprintf("agent %q is not permitted to call tool %q", agent, tool)).
		WithContext("agent", agent).
		WithContext("tool", tool).
		WithAttribute("agent.name", agent).
		WithAttribute("tool.name", tool)
}

// Agent reports an agent-level failure.
func Agent(agent, msg string, cause error) *Error {
	return New(CodeAgent, msg, cause).
		WithContext("agent", agent).
		WithAttribute("agent.name", agent)
}

// MissingKeys reports the payload keys an agent requires but did not receive.
func MissingKeys(agent string, keys []string) *Error {
	return Agent(agent, "missing required fields: "+strings.Join(keys, ", "), nil).
		WithContext("missing", keys)
}

// IsToolNotFound reports whether err is a TOOL_NOT_FOUND error.
func IsToolNotFound(err error) bool { return CodeOf(err) == CodeToolNotFound }

// IsToolExecution reports whether err is a TOOL_EXECUTION error.
func IsToolExecution(err error) bool { return CodeOf(err) == CodeToolExecution }

// IsSecurity reports whether err is a SECURITY_VIOLATION error.
func IsSecurity(err error) bool { return CodeOf(err) == CodeSecurity }

// IsAgent reports whether err is an AGENT_ERROR error.
func IsAgent(err error) bool { return CodeOf(err) == CodeAgent }

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound, CodeToolNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeSecurity:
		return http.StatusForbidden
	case CodeInvalidInput, CodeAgent:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
