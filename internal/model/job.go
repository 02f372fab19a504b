// Package model defines the job record shared by the store, repository,
// executor, worker and CLI layers.
package model

import "time"

// State is the lifecycle state of a job.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateDead       State = "dead"
)

// Job is the only first-class entity in the queue.
type Job struct {
	ID             string     `json:"id"`
	Command        string     `json:"command"`
	State          State      `json:"state"`
	Attempts       int        `json:"attempts"`
	MaxRetries     int        `json:"max_retries"`
	BaseBackoff    float64    `json:"base_backoff"`
	Priority       int        `json:"priority"`
	TimeoutSeconds *float64   `json:"timeout_seconds,omitempty"`
	StdoutLog      string     `json:"stdout_log"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AvailableAt    time.Time  `json:"available_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// StatusCounts is the per-state aggregate returned by status_summary.
type StatusCounts struct {
	Pending    int
	Processing int
	Completed  int
	Dead       int
}

// Metrics is the aggregate snapshot returned by the metrics operation.
type Metrics struct {
	Total        int
	Completed    int
	Dead         int
	MeanAttempts float64
	MeanDuration float64 // seconds
}

// LogPath derives the per-job log file path from the job id.
func LogPath(id string) string {
	return "logs/job_" + id + ".log"
}
