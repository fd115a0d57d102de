package app

import (
	"context"
	"medislot/pkg/client"
	"medislot/pkg/config"
	"medislot/pkg/contracts"
	"medislot/pkg/identity"
	"medislot/pkg/logger"
	"medislot/pkg/middleware"
	"medislot/pkg/model"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type stubResolver map[string]model.Actor

func (s stubResolver) GetActor(_ context.Context, id string) (model.Actor, error) {
	if actor, ok := s[id]; ok {
		return actor, nil
	}
	return model.Actor{}, identity.ErrNotFound
}

type echoHandler struct{}

func (echoHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/api/v1/whoami", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		actor, _ := middleware.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(actor.ID))
	})
	router.GET("/payments/callback", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusFound)
	})
}

func newTestApplication(t *testing.T) *Application {
	t.Helper()
	cfg := &config.Config{
		Port:              "0",
		JWTSecret:         testSecret,
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		RequestTimeout:    5 * time.Second,
		IdempotencyTTL:    time.Minute,
		MaxRequestSize:    1 << 20,
		ShutdownTimeout:   time.Second,
		Log:               logger.Discard(),
		Client:            client.NewClient(),
	}
	application := NewApplication(cfg, nil)
	application.SetApp(
		contracts.Handlers{echoHandler{}},
		stubResolver{"patient-1": {ID: "patient-1", Role: model.RolePatient}},
		"/payments",
	)
	t.Cleanup(func() {
		application.idempotencyStore.Stop()
		application.rateLimiter.Stop()
	})
	return application
}

func token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestApplication_Routing(t *testing.T) {
	handler := newTestApplication(t).Handler()

	tests := []struct {
		name   string
		path   string
		auth   string
		status int
		body   string
	}{
		{name: "liveness", path: "/health", status: http.StatusOK},
		{name: "readiness without database", path: "/ready", status: http.StatusServiceUnavailable},
		{name: "api without token", path: "/api/v1/whoami", status: http.StatusUnauthorized},
		{name: "api with token", path: "/api/v1/whoami", auth: "patient-1", status: http.StatusOK, body: "patient-1"},
		{name: "unknown subject", path: "/api/v1/whoami", auth: "ghost", status: http.StatusUnauthorized},
		{name: "public callback", path: "/payments/callback?reference=r", status: http.StatusFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", "Bearer "+token(t, tt.auth))
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestApplication_ShutdownHooksRun(t *testing.T) {
	application := newTestApplication(t)
	ran := false
	application.OnShutdown(func() { ran = true })

	application.gracefulShutdown()

	assert.True(t, ran)
}
