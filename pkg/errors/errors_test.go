package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without underlying error",
			appErr:   Conflict("slot already booked"),
			expected: "CONFLICT: slot already booked",
		},
		{
			name:     "with underlying error",
			appErr:   Gateway("refund failed", errors.New("connection reset")),
			expected: "GATEWAY_ERROR: refund failed (caused by: connection reset)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appErr.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestConstructorsStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		code   string
		status int
	}{
		{"not found", NotFound("Appointment"), CodeNotFound, http.StatusNotFound},
		{"validation", Validation("bad request", nil), CodeValidation, http.StatusUnprocessableEntity},
		{"slot unavailable", SlotUnavailable("outside availability", nil), CodeSlotUnavailable, http.StatusUnprocessableEntity},
		{"invalid input", InvalidInput("invalid json"), CodeInvalidInput, http.StatusBadRequest},
		{"unauthorized", Unauthorized("missing token"), CodeUnauthorized, http.StatusUnauthorized},
		{"forbidden", Forbidden("admins only"), CodeForbidden, http.StatusForbidden},
		{"conflict", Conflict("already cancelled"), CodeConflict, http.StatusConflict},
		{"gateway", Gateway("verify failed", nil), CodeGateway, http.StatusBadGateway},
		{"internal", Internal("db down", nil), CodeInternal, http.StatusInternalServerError},
		{"timeout", Timeout("too slow"), CodeTimeout, http.StatusGatewayTimeout},
		{"unavailable", Unavailable("Payment gateway"), CodeUnavailable, http.StatusServiceUnavailable},
		{"rate limited", RateLimited("slow down"), CodeRateLimited, http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, tt.err.Code)
			}
			if tt.err.StatusCode() != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, tt.err.StatusCode())
			}
		})
	}
}

func TestNotFoundWithID(t *testing.T) {
	err := NotFoundWithID("Appointment", "abc")

	if err.Message != "Appointment not found" {
		t.Errorf("unexpected message %q", err.Message)
	}
	if err.Details["id"] != "abc" || err.Details["resource"] != "Appointment" {
		t.Errorf("unexpected details %v", err.Details)
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	appErr := Gateway("initialize failed", cause)

	if !errors.Is(appErr, cause) {
		t.Errorf("errors.Is should find the cause through Unwrap")
	}
}

func TestIsAppError_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("booking: %w", Conflict("taken"))

	if !IsAppError(wrapped) {
		t.Errorf("IsAppError() should see through fmt.Errorf wrapping")
	}
	if IsAppError(errors.New("plain")) {
		t.Errorf("IsAppError() should be false for a plain error")
	}
	if !HasCode(wrapped, CodeConflict) {
		t.Errorf("HasCode() should match CONFLICT")
	}
	if HasCode(wrapped, CodeGateway) {
		t.Errorf("HasCode() should not match GATEWAY_ERROR")
	}
}

func TestAsAppError(t *testing.T) {
	appErr := Forbidden("not yours")
	if got := AsAppError(appErr); got != appErr {
		t.Errorf("AsAppError() should return the same AppError")
	}

	plain := errors.New("boom")
	got := AsAppError(plain)
	if got.Code != CodeInternal {
		t.Errorf("AsAppError() should map plain errors to INTERNAL_ERROR, got %s", got.Code)
	}
	if got.Err != plain {
		t.Errorf("AsAppError() should keep the original error")
	}
}

func TestAppError_ToJSON(t *testing.T) {
	body := string(SlotUnavailable("start time is not offered", map[string]any{"start": "09:10"}).ToJSON())

	for _, want := range []string{"SLOT_UNAVAILABLE", "start time is not offered", "09:10"} {
		if !strings.Contains(body, want) {
			t.Errorf("ToJSON() = %s, missing %q", body, want)
		}
	}
}
