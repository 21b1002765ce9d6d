package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSentinelClassification(t *testing.T) {
	cause := errors.New("disk full")
	tests := []struct {
		name     string
		err      error
		sentinel error
		status   int
		code     string
	}{
		{"validation", Validation("value", "サイズは正の数で指定してください。"), ErrValidation, http.StatusBadRequest, CodeInvalidInput},
		{"not found", NotFound(CodeJobNotFound, "job 3 not found"), ErrNotFound, http.StatusNotFound, CodeJobNotFound},
		{"conflict", Conflict(CodeJobRunning, "running"), ErrConflict, http.StatusConflict, CodeJobRunning},
		{"busy", Busy(CodeExportBusy, "busy"), ErrBusy, http.StatusConflict, CodeExportBusy},
		{"internal", Internal(CodeBundlingFailed, "zip failed", cause), ErrInternal, http.StatusInternalServerError, CodeBundlingFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Fatalf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if got := StatusCode(tt.err); got != tt.status {
				t.Fatalf("StatusCode = %d, want %d", got, tt.status)
			}
			if got := CodeOf(tt.err); got != tt.code {
				t.Fatalf("CodeOf = %s, want %s", got, tt.code)
			}
		})
	}
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("export: %w", Internal("", "zip failed", cause))

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if CodeOf(err) != CodeInternal {
		t.Fatalf("CodeOf = %s, want %s", CodeOf(err), CodeInternal)
	}
}

func TestLimitExceededMapsTo413(t *testing.T) {
	err := LimitExceeded("files", "too large")
	if got := StatusCode(err); got != http.StatusRequestEntityTooLarge {
		t.Fatalf("StatusCode = %d, want 413", got)
	}
}

func TestUnknownErrorIsInternal(t *testing.T) {
	err := errors.New("boom")
	if StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("unexpected status for plain error")
	}
	if CodeOf(err) != CodeInternal {
		t.Fatalf("unexpected code for plain error")
	}
}
