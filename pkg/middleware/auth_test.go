package middleware

import (
	"context"
	"errors"
	"medislot/pkg/identity"
	"medislot/pkg/logger"
	"medislot/pkg/model"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type stubResolver struct {
	actors map[string]model.Actor
	err    error
}

func (s *stubResolver) GetActor(_ context.Context, id string) (model.Actor, error) {
	if s.err != nil {
		return model.Actor{}, s.err
	}
	actor, ok := s.actors[id]
	if !ok {
		return model.Actor{}, identity.ErrNotFound
	}
	return actor, nil
}

func signedToken(t *testing.T, secret, subject string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    "medislot-test",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func runAuth(t *testing.T, resolver ActorResolver, path, authHeader string) (*httptest.ResponseRecorder, *model.Actor) {
	t.Helper()
	mw := Authentication("secret", "medislot-test", resolver, logger.Discard(), "/api/v1/payments/callback")
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()

	var seen *model.Actor
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := ActorFromContext(r.Context()); ok {
			seen = &actor
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec, seen
}

func TestAuthentication_MissingHeader(t *testing.T) {
	rec, _ := runAuth(t, &stubResolver{}, "/api/v1/appointments", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAuthentication_WrongSecret(t *testing.T) {
	rec, _ := runAuth(t, &stubResolver{}, "/api/v1/appointments", "Bearer "+signedToken(t, "other", "p1", time.Minute))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAuthentication_ExpiredToken(t *testing.T) {
	rec, _ := runAuth(t, &stubResolver{}, "/api/v1/appointments", "Bearer "+signedToken(t, "secret", "p1", -time.Minute))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAuthentication_UnknownSubject(t *testing.T) {
	rec, _ := runAuth(t, &stubResolver{}, "/api/v1/appointments", "Bearer "+signedToken(t, "secret", "ghost", time.Minute))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestAuthentication_DirectoryDown(t *testing.T) {
	resolver := &stubResolver{err: errors.New("mongo down")}
	rec, _ := runAuth(t, resolver, "/api/v1/appointments", "Bearer "+signedToken(t, "secret", "p1", time.Minute))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestAuthentication_RoleComesFromDirectory(t *testing.T) {
	resolver := &stubResolver{actors: map[string]model.Actor{
		"doc-1": {ID: "doc-1", Role: model.RoleProvider},
	}}
	rec, actor := runAuth(t, resolver, "/api/v1/appointments", "Bearer "+signedToken(t, "secret", "doc-1", time.Minute))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if actor == nil || actor.Role != model.RoleProvider {
		t.Fatalf("expected provider actor in context, got %+v", actor)
	}
}

func TestAuthentication_PublicPathSkipsToken(t *testing.T) {
	rec, actor := runAuth(t, &stubResolver{}, "/api/v1/payments/callback?reference=abc", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if actor != nil {
		t.Fatalf("public path should not carry an actor")
	}
}

func TestParseSubject_DisabledWithoutSecret(t *testing.T) {
	if _, err := ParseSubject("anything", "", ""); err == nil {
		t.Fatalf("expected error when no secret is configured")
	}
}
