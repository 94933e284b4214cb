// ABOUTME: HTTP middleware for bearer token authentication.
// ABOUTME: Verifies JWTs on incoming requests and attaches the client ID to the context.

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// HTTPAuthMiddleware wraps an HTTP handler with bearer token authentication.
// When verifier is nil authentication is disabled and requests pass through.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				next.ServeHTTP(w, r)
				return
			}

			token, err := extractBearerToken(r)
			if err != nil {
				logger.Debug("missing bearer token", "path", r.URL.Path, "error", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			clientID, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("token verification failed", "path", r.URL.Path, "error", err)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), clientID)))
		})
	}
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrInvalidToken
	}

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", ErrInvalidToken
	}

	return token, nil
}
