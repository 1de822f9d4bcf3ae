// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for Hubmate.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies Hubmate errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeConfig indicates required configuration is missing or invalid at startup.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeLookup indicates the planner named an action that is not in the catalog.
	CodeLookup ErrorCode = "LOOKUP_ERROR"

	// CodeActionFailure indicates an action execution failed.
	CodeActionFailure ErrorCode = "ACTION_FAILURE"

	// CodeExternalService indicates a collaborator service returned an error.
	CodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"

	// CodeMalformedContent indicates generated content failed to parse as expected.
	CodeMalformedContent ErrorCode = "MALFORMED_CONTENT"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeSessionClosed indicates a chat session was used after End.
	CodeSessionClosed ErrorCode = "SESSION_CLOSED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// HubError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type HubError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int // For HTTP responses
}

// Error implements the error interface.
func (e *HubError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *HubError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *HubError) MarshalJSON() ([]byte, error) {
	type Alias HubError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new HubError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *HubError {
	return &HubError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *HubError) WithContext(key string, value interface{}) *HubError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *HubError) WithRecoverable(recoverable bool) *HubError {
	e.Recoverable = recoverable
	return e
}

// AsHubError attempts to convert an error to a HubError.
// Returns the error as HubError if it is one, or wraps it otherwise.
func AsHubError(err error) *HubError {
	if err == nil {
		return nil
	}
	if he, ok := err.(*HubError); ok {
		return he
	}
	// Wrap unknown error as internal
	return New(CodeInternal, "wrapped error", err)
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound, CodeLookup:
		return 404
	case CodeInvalidInput, CodeMalformedContent:
		return 400
	case CodeSessionClosed:
		return 409
	case CodeTimeout:
		return 408
	case CodeExternalService:
		return 502
	default:
		return 500
	}
}
