// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
	"github.com/garantiatsverga/master-of-tg-ads/pkg/pipeline"
)

// CLIError wraps an errors.Error with a hint for the operator.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Err: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap returns the wrapped error.
func (e *CLIError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(e, "run 'tgads help' for usage information")
}

// WrapPipelineError adds a hint naming the failed stage.
func WrapPipelineError(err error) *CLIError {
	var stageErr *pipeline.StageError
	if !stderrors.As(err, &stageErr) {
		return NewCLIError(errors.As(err), "")
	}
	e := errors.As(stageErr.Err).WithContext("stage", stageErr.Stage)
	switch e.Code {
	case errors.CodeTimeout:
		return NewCLIError(e, fmt.Sprintf("raise agents.%s timeout or check the backing service", timeoutKey(stageErr.Stage)))
	case errors.CodeSecurity, errors.CodeAgent:
		return NewCLIError(e, "check the brief fields")
	default:
		return NewCLIError(e, "this may be a transient error; try again later")
	}
}

func timeoutKey(stage string) string {
	switch stage {
	case "prompt_architect":
		return "prompt_timeout"
	case "copywriter":
		return "copywriter_timeout"
	case "banner_designer":
		return "banner_timeout"
	case "qa_inspector":
		return "qa_timeout"
	default:
		return "total_timeout"
	}
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeRateLimit:
		return "Rate Limited"
	case errors.CodeToolExecution:
		return "Tool Failure"
	case errors.CodeToolNotFound:
		return "Unknown Tool"
	case errors.CodeLLMError:
		return "LLM Error"
	case errors.CodeStorage:
		return "Storage Error"
	case errors.CodeSecurity:
		return "Security Violation"
	case errors.CodeAgent:
		return "Agent Error"
	case errors.CodeContextLost:
		return "Context Lost"
	default:
		return string(code)
	}
}

func printError(err error, asJSON bool) {
	var cliErr *CLIError
	if !stderrors.As(err, &cliErr) {
		cliErr = NewCLIError(errors.As(err), "")
	}
	if asJSON {
		out := map[string]any{"error": map[string]string{
			"code":    string(cliErr.Err.Code),
			"message": cliErr.Err.Message,
			"hint":    cliErr.Hint,
		}}
		_ = json.NewEncoder(os.Stderr).Encode(out)
		return
	}
	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", FormatErrorCode(cliErr.Err.Code), cliErr.Err.Error())
	if cliErr.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", cliErr.Hint)
	}
}
