// Package auth guards the API with a static bearer token and tags each
// request with a request ID.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type Middleware func(next http.Handler) http.Handler

type contextKey string

const requestIDKey contextKey = "request_id"

// NewMiddleware authenticates requests against a single configured token.
// An empty token is a deployment error, not an open door.
func NewMiddleware(token string) Middleware {
	tokenHash := sha256.Sum256([]byte(token))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			if token == "" {
				http.Error(w, "ingest token not configured on server", http.StatusInternalServerError)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Unauthorized: missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			presented := strings.TrimPrefix(authHeader, "Bearer ")

			presentedHash := sha256.Sum256([]byte(presented))
			if subtle.ConstantTimeCompare(presentedHash[:], tokenHash[:]) != 1 {
				http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID is a test helper.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
