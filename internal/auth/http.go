// ABOUTME: HTTP middleware and credential extraction for chat endpoints
// ABOUTME: REST calls use the Authorization header; live connections prefer a token parameter

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// TokenQueryParam is the connection-level auth parameter for live connections
const TokenQueryParam = "token"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// CredentialFromRequest returns the credential for a live connection.
// The token query parameter wins; the Authorization header is the fallback.
// A "Bearer " prefix is optional in both places.
func CredentialFromRequest(r *http.Request) (string, error) {
	raw := r.URL.Query().Get(TokenQueryParam)
	if raw == "" {
		raw = r.Header.Get("Authorization")
	}
	token := stripBearer(raw)
	if token == "" {
		return "", ErrMissingCredential
	}
	return token, nil
}

// stripBearer trims raw and removes a leading "Bearer" scheme in any case
func stripBearer(raw string) string {
	raw = strings.TrimSpace(raw)
	const scheme = "Bearer"
	if len(raw) >= len(scheme) && strings.EqualFold(raw[:len(scheme)], scheme) {
		rest := raw[len(scheme):]
		if rest == "" || rest[0] == ' ' || rest[0] == '\t' {
			return strings.TrimSpace(rest)
		}
	}
	return raw
}

// writeUnauthorized writes a 401 with the same JSON error shape as the API
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": "unauthorized"})
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates
// JWT bearer tokens and adds the AuthContext to the request context.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http-auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeUnauthorized(w, errMsg)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("rejected token", "path", r.URL.Path, "error", err)
				writeUnauthorized(w, "invalid token")
				return
			}

			authCtx := &AuthContext{UserID: userID}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
