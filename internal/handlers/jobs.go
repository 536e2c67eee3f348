package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

// JobRunner runs lifecycle jobs and reports their statistics.
type JobRunner interface {
	Run(ctx context.Context, name string, now time.Time) (models.JobSummary, error)
	Stats() []models.JobStats
}

// JobStats lists every registered job with its last run.
func JobStats(runner JobRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, runner.Stats())
	}
}

// RunJob triggers a job immediately. The optional now query parameter
// (RFC 3339) runs the sweep as of that instant.
func RunJob(runner JobRunner, errs ErrorWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var now time.Time
		if raw := r.URL.Query().Get("now"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				badRequest(w, "now must be an RFC 3339 timestamp")
				return
			}
			now = parsed.UTC()
		}

		summary, err := runner.Run(r.Context(), chi.URLParam(r, "name"), now)
		if err != nil {
			errs.Write(w, r, err)
			return
		}
		writeData(w, http.StatusOK, summary)
	}
}
