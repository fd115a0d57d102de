package middleware

import (
	"context"
	"errors"
	"medislot/pkg/identity"
	"medislot/pkg/logger"
	"medislot/pkg/model"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const actorKey contextKey = "actor"

// ActorResolver maps a verified token subject to the caller's identity.
type ActorResolver interface {
	GetActor(ctx context.Context, id string) (model.Actor, error)
}

// Authentication verifies an HS256 bearer token and stores the resolved actor in the
// request context. The token only carries the subject; the role comes from the resolver.
// Requests whose path starts with one of publicPrefixes pass through untouched.
func Authentication(secret, issuer string, resolver ActorResolver, log *logger.Logger, publicPrefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path, publicPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, ok := bearerToken(r)
			if !ok {
				rejectUnauthorized(w, log, r, "missing bearer token")
				return
			}

			subject, err := ParseSubject(tokenString, secret, issuer)
			if err != nil {
				rejectUnauthorized(w, log, r, err.Error())
				return
			}

			actor, err := resolver.GetActor(r.Context(), subject)
			if err != nil {
				if errors.Is(err, identity.ErrNotFound) {
					rejectUnauthorized(w, log, r, "unknown subject")
					return
				}
				log.Error("Failed to resolve actor",
					"request_id", requestIDFrom(r),
					"subject", subject,
					"error", err,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"Identity service unavailable","code":"SERVICE_UNAVAILABLE"}`))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// ParseSubject validates the token signature, expiry and optional issuer and returns its subject.
func ParseSubject(tokenString, secret, issuer string) (string, error) {
	if secret == "" {
		return "", errors.New("authentication disabled")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(model.Actor)
	return actor, ok && actor.ID != ""
}

func bearerToken(r *http.Request) (string, bool) {
	token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, found && token != ""
}

func isPublicPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func requestIDFrom(r *http.Request) string {
	if rid, ok := r.Context().Value(RequestIDKey).(string); ok {
		return rid
	}
	return ""
}

func rejectUnauthorized(w http.ResponseWriter, log *logger.Logger, r *http.Request, reason string) {
	log.Warn("Authentication failed",
		"request_id", requestIDFrom(r),
		"reason", reason,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Unauthorized","code":"UNAUTHORIZED"}`))
}
