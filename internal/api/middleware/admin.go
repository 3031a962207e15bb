package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// RequireAdminToken guards operator endpoints with a static bearer token.
// An empty token rejects every request.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "AuthenticationRequired", "Missing Authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, "AuthenticationRequired", "Invalid Authorization header format. Expected: Bearer <token>")
				return
			}

			presented := strings.TrimPrefix(authHeader, "Bearer ")
			if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				slog.Warn("[EMBED] rejected admin request",
					"path", r.URL.Path,
					"remote_addr", getClientIP(r),
				)
				writeJSONError(w, http.StatusForbidden, "Forbidden", "Invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeJSONError writes the same {"error","message"} body as handlers.WriteError
func writeJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   errorType,
		"message": message,
	}); err != nil {
		slog.Warn("failed to write error response", "status", status, "error", err)
	}
}
