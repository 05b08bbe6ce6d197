package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/modelmux/modelmux/pkg/logger"
)

// authMiddleware enforces the static bearer token. An empty configured key
// disables auth entirely; the startup warning is the only guard rail.
func authMiddleware(apiKey string, next http.Handler) http.Handler {
	if apiKey == "" {
		logger.WarnC("api", "MODELMUX_API_KEY is empty; authentication is disabled")
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		token := extractToken(r)
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"error": map[string]interface{}{
					"code":    "unauthorized",
					"message": "invalid or missing API key",
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isPublicPath exempts probes so orchestrators can check liveness without a
// credential.
func isPublicPath(path string) bool {
	return path == "/api/health" || path == "/api/ready"
}

// extractToken accepts the credential as a bearer token, an X-API-Key
// header, or a query parameter (for WebSocket clients that cannot set
// headers).
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return auth
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("token")
}
