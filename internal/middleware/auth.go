package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
)

const (
	// APIKeyHeader carries the operator key.
	APIKeyHeader = "X-API-Key"

	minAPIKeyLength = 10
	adminKeyPrefix  = "admin_"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// APIKey rejects requests without a plausible X-API-Key and stores the key in
// the request context for RequireAdmin.
func APIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if key == "" {
			log.Printf("[auth] request missing API key path=%s", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}
		if len(key) < minAPIKeyLength {
			log.Printf("[auth] invalid API key path=%s", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin only lets admin keys through. It must run after APIKey.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := APIKeyFromContext(r.Context())
		if !strings.HasPrefix(key, adminKeyPrefix) {
			log.Printf("[auth] admin access denied path=%s key=%s", r.URL.Path, maskKey(key))
			writeError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// APIKeyFromContext returns the key stored by APIKey, or "".
func APIKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(apiKeyContextKey).(string)
	return key
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
