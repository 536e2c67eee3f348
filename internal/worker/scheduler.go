package worker

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/PortNumber53/subscription-lifecycle/backend/internal/models"
)

// Schedules maps job names to cron specs.
type Schedules map[string]string

// DefaultSchedules is the reference cadence of the lifecycle jobs.
func DefaultSchedules() Schedules {
	return Schedules{
		models.JobRenewalReminders: "0 9 * * *",
		models.JobExpirySweep:      "0 0 * * *",
		models.JobPaymentRetry:     "0 */6 * * *",
	}
}

// Scheduler triggers runner jobs on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
}

// NewScheduler creates a scheduler. A tick that fires while the previous run
// of the same job is still going is skipped.
func NewScheduler(runner *Runner) *Scheduler {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	return &Scheduler{cron: c, runner: runner}
}

// Register schedules every job in schedules. Unknown jobs and invalid specs
// are reported as an error and nothing after them is registered.
func (s *Scheduler) Register(schedules Schedules) error {
	for name, spec := range schedules {
		if !s.runner.Has(name) {
			return fmt.Errorf("schedule %s: %w", name, ErrUnknownJob)
		}
		job := name
		if _, err := s.cron.AddFunc(spec, func() {
			if _, err := s.runner.Run(context.Background(), job, s.runner.now()); err != nil {
				log.Printf("[scheduler] %s run failed: %v", job, err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
		}
		s.runner.setSchedule(name, spec)
		log.Printf("[scheduler] Scheduled %s at %q", name, spec)
	}
	return nil
}

// Start begins firing scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops new runs and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
