// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/garantiatsverga/master-of-tg-ads/pkg/errors"
)

// WrapToolError wraps a failed broker call made by an agent.
func WrapToolError(err error, agentName, toolName string) *errors.Error {
	if err == nil {
		return nil
	}
	return errors.Agent(agentName, "tool call failed", err).
		WithContext("tool", toolName).
		WithAttribute("tool.name", toolName).
		WithRecoverable(errors.As(err).Recoverable)
}

// NewInvalidInputError creates a new invalid input error.
func NewInvalidInputError(msg string) *errors.Error {
	return errors.New(errors.CodeInvalidInput, msg, nil).
		WithRecoverable(false)
}
