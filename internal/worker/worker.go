// Package worker runs the subscription lifecycle jobs: one job at a time,
// triggered by the cron scheduler, the admin API or the operator CLI.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

// ErrUnknownJob is returned when no handler is registered under a job name.
var ErrUnknownJob = errors.New("unknown job")

// Handler runs one sweep as of now.
type Handler func(ctx context.Context, now time.Time) (models.JobSummary, error)

// Config holds runner configuration
type Config struct {
	// JobTimeout is the maximum time allowed for a single run
	JobTimeout time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{JobTimeout: 5 * time.Minute}
}

// Runner serialises job runs so no two lifecycle jobs overlap, and keeps
// per-job statistics.
type Runner struct {
	config Config
	now    func() time.Time

	runMu sync.Mutex

	mu        sync.RWMutex
	handlers  map[string]Handler
	schedules map[string]string
	stats     map[string]*models.JobStats
}

// NewRunner creates a Runner with no handlers.
func NewRunner(config Config) *Runner {
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultConfig().JobTimeout
	}
	return &Runner{
		config:    config,
		now:       func() time.Time { return time.Now().UTC() },
		handlers:  make(map[string]Handler),
		schedules: make(map[string]string),
		stats:     make(map[string]*models.JobStats),
	}
}

// RegisterHandler adds a job under name.
func (r *Runner) RegisterHandler(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	if _, ok := r.stats[name]; !ok {
		r.stats[name] = &models.JobStats{Job: name}
	}
}

// Has reports whether a job is registered under name.
func (r *Runner) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

func (r *Runner) setSchedule(name, spec string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[name] = spec
}

// Run executes the named job as of now, waiting for any run in progress to
// finish first. A zero now uses the current time.
func (r *Runner) Run(ctx context.Context, name string, now time.Time) (models.JobSummary, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return models.JobSummary{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if now.IsZero() {
		now = r.now()
	}

	r.runMu.Lock()
	defer r.runMu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	defer cancel()

	start := time.Now()
	log.Printf("[worker] Running %s as of %s", name, now.Format(time.RFC3339))

	summary, err := handler(jobCtx, now)
	summary.Job = name
	if summary.StartedAt.IsZero() {
		summary.StartedAt = now
	}
	summary.FinishedAt = now.Add(time.Since(start))

	r.record(name, summary, err)

	if err != nil {
		log.Printf("[worker] %s failed after %v: %v", name, time.Since(start), err)
		return summary, err
	}
	log.Printf("[worker] %s completed in %v: %d candidates, %d succeeded, %d failed %v",
		name, time.Since(start), summary.Candidates, summary.Succeeded, summary.Failed, summary.Outcomes)
	return summary, nil
}

func (r *Runner) record(name string, summary models.JobSummary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.stats[name]
	if !ok {
		st = &models.JobStats{Job: name}
		r.stats[name] = st
	}
	ranAt := summary.StartedAt
	st.Runs++
	st.LastRunAt = &ranAt
	st.LastSummary = &summary
	st.LastError = nil
	if err != nil {
		msg := err.Error()
		st.Failures++
		st.LastError = &msg
	}
}

// Stats returns a snapshot of every registered job ordered by name.
func (r *Runner) Stats() []models.JobStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.JobStats, 0, len(r.stats))
	for name, st := range r.stats {
		snapshot := *st
		snapshot.Schedule = r.schedules[name]
		out = append(out, snapshot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}
