package handlers

import (
	"net/http"
	"time"
)

const serviceName = "subscription-lifecycle"

// Health reports liveness. It does not touch the store or providers.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   serviceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
