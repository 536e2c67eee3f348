package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/billing"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/payments"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/store"
	"github.com/PortNumber53/subscription-lifecycle/backend/internal/worker"
)

// errInvalidSignature is returned by webhook verification.
var errInvalidSignature = errors.New("invalid webhook signature")

type errorBody struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
	Detail string   `json:"detail,omitempty"`
}

// ErrorWriter translates service errors into JSON error responses. Detail
// carries the underlying error text and is meant for non-production use.
type ErrorWriter struct {
	ShowDetail bool
}

func (e ErrorWriter) Write(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if e.ShowDetail && status >= http.StatusInternalServerError {
		body.Detail = err.Error()
	}
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorBody) {
	var verr *billing.ValidationError
	var perr *store.PersistenceError

	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, errorBody{Error: "validation failed", Fields: verr.Fields}
	case errors.Is(err, errInvalidSignature):
		return http.StatusBadRequest, errorBody{Error: "invalid signature"}
	case errors.Is(err, billing.ErrSubscriptionNotFound):
		return http.StatusNotFound, errorBody{Error: "Subscription not found"}
	case errors.Is(err, billing.ErrUserNotFound):
		return http.StatusNotFound, errorBody{Error: "User not found"}
	case errors.Is(err, worker.ErrUnknownJob):
		return http.StatusNotFound, errorBody{Error: "Job not found"}
	case errors.Is(err, payments.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, errorBody{Error: "payment provider unavailable"}
	case errors.As(err, &perr):
		return http.StatusInternalServerError, errorBody{Error: "failed to persist changes"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal server error"}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// writeData wraps v in the {"data": ...} envelope.
func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, map[string]any{"data": v})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
