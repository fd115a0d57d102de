package middleware

import (
	"medislot/pkg/logger"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestContentTypeValidation(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		body        string
		contentType string
		wantStatus  int
	}{
		{"json post", http.MethodPost, `{}`, "application/json; charset=utf-8", http.StatusOK},
		{"form post", http.MethodPost, `a=b`, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
		{"bodyless post", http.MethodPost, "", "", http.StatusOK},
		{"get ignores header", http.MethodGet, "", "text/plain", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/appointments", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			ContentTypeValidation(logger.Discard())(okHandler()).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestMaxRequestSize(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 100)))
	rec := httptest.NewRecorder()
	MaxRequestSize(10)(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status %d, got %d", http.StatusRequestEntityTooLarge, rec.Code)
	}
}

func TestRecovery(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set(RequestIDHeader, "req-1")
	Recovery(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"INTERNAL_ERROR"`) {
		t.Errorf("expected API error body, got %s", rec.Body.String())
	}
}

func TestRecovery_AbortsStartedResponse(t *testing.T) {
	rec := httptest.NewRecorder()

	defer func() {
		if p := recover(); p != http.ErrAbortHandler {
			t.Fatalf("expected http.ErrAbortHandler, got %v", p)
		}
		if rec.Code != http.StatusCreated {
			t.Errorf("the started response must not be overwritten, got %d", rec.Code)
		}
	}()

	Recovery(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":`))
		panic("boom")
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil))
}

func TestRequestTimeout(t *testing.T) {
	rec := httptest.NewRecorder()
	RequestTimeout(20*time.Millisecond, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		time.Sleep(10 * time.Millisecond)
		w.Header().Set("X-Late", "1")
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected status %d, got %d", http.StatusGatewayTimeout, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":"TIMEOUT"`) {
		t.Errorf("expected API error body, got %s", rec.Body.String())
	}
	if rec.Header().Get("X-Late") != "" {
		t.Error("headers set after the deadline must not leak")
	}
}

func TestRequestTimeout_PassesFinishedResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	RequestTimeout(time.Second, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"appt-1"}}`))
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" || rec.Body.String() != `{"data":{"id":"appt-1"}}` {
		t.Errorf("unexpected response %q %s", rec.Header().Get("Content-Type"), rec.Body.String())
	}
}

func TestRequestTimeout_PanicReachesRecovery(t *testing.T) {
	rec := httptest.NewRecorder()
	handler := Recovery(logger.Discard())(RequestTimeout(time.Second, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
	}
}

func TestRequestLogging_PropagatesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc123")
	rec := httptest.NewRecorder()

	var seen string
	RequestLogging(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = requestIDFrom(r)
	})).ServeHTTP(rec, req)

	if seen != "abc123" || rec.Header().Get(RequestIDHeader) != "abc123" {
		t.Errorf("expected request id to propagate, got %q / %q", seen, rec.Header().Get(RequestIDHeader))
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}
