package models

import "time"

// Job names understood by the lifecycle runner.
const (
	JobExpirySweep      = "expiry_sweep"
	JobRenewalReminders = "renewal_reminders"
	JobPaymentRetry     = "payment_retry"
)

// JobSummary reports what a single sweep did.
type JobSummary struct {
	Job        string         `json:"job"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Candidates int            `json:"candidates"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Outcomes   map[string]int `json:"outcomes,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

// NewJobSummary starts a summary for job at now.
func NewJobSummary(job string, now time.Time) JobSummary {
	return JobSummary{Job: job, StartedAt: now, Outcomes: map[string]int{}}
}

// Record counts one processed candidate under outcome.
func (s *JobSummary) Record(outcome string) {
	s.Succeeded++
	s.Outcomes[outcome]++
}

// Fail counts one candidate whose processing returned err.
func (s *JobSummary) Fail(id string, err error) {
	s.Failed++
	s.Errors = append(s.Errors, id+": "+err.Error())
}

// JobStats holds runner statistics for one job.
type JobStats struct {
	Job         string      `json:"job"`
	Schedule    string      `json:"schedule,omitempty"`
	Runs        int64       `json:"runs"`
	Failures    int64       `json:"failures"`
	LastRunAt   *time.Time  `json:"lastRunAt,omitempty"`
	LastError   *string     `json:"lastError,omitempty"`
	LastSummary *JobSummary `json:"lastSummary,omitempty"`
}
