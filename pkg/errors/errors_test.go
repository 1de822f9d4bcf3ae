package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestHubError_Error(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New(CodeExternalService, "reward service unreachable", cause)

	msg := err.Error()
	if !strings.Contains(msg, string(CodeExternalService)) {
		t.Errorf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("expected cause in message, got %q", msg)
	}
}

func TestHubError_Unwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := New(CodeInternal, "wrapper", cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}

	var he *HubError
	if !stderrors.As(err, &he) {
		t.Fatal("errors.As should match *HubError")
	}
	if he.Code != CodeInternal {
		t.Errorf("expected CodeInternal, got %s", he.Code)
	}
}

func TestHubError_Chaining(t *testing.T) {
	err := New(CodeLookup, "action not found", nil).
		WithContext("action", "judge_projects").
		WithRecoverable(false)

	if err.Context["action"] != "judge_projects" {
		t.Errorf("context not set: %v", err.Context)
	}
	if err.Recoverable {
		t.Error("expected not recoverable")
	}
}

func TestAsHubError(t *testing.T) {
	he := New(CodeTimeout, "slow", nil)
	if got := AsHubError(he); got != he {
		t.Error("expected identity for HubError")
	}

	plain := stderrors.New("plain")
	wrapped := AsHubError(plain)
	if wrapped.Code != CodeInternal {
		t.Errorf("expected CodeInternal wrap, got %s", wrapped.Code)
	}

	if AsHubError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestCodeToStatusCode(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeLookup, 404},
		{CodeInvalidInput, 400},
		{CodeMalformedContent, 400},
		{CodeSessionClosed, 409},
		{CodeTimeout, 408},
		{CodeExternalService, 502},
		{CodeInternal, 500},
		{CodeConfig, 500},
	}
	for _, tt := range tests {
		if got := New(tt.code, "x", nil).StatusCode; got != tt.want {
			t.Errorf("%s: expected status %d, got %d", tt.code, tt.want, got)
		}
	}
}
