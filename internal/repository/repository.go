// Package repository is the typed façade over the store: job CRUD, the
// atomic claim query, and the aggregate queries the CLI surface needs.
package repository

import (
	"context"
	"time"

	"jobctl/internal/model"
)

// EnqueueSpec is the input to Enqueue. ID and Command are required;
// everything else defaults from the config snapshot passed alongside.
type EnqueueSpec struct {
	ID             string
	Command        string
	MaxRetries     *int
	BaseBackoff    *float64
	Priority       int
	TimeoutSeconds *float64
	RunAt          *time.Time
}

// ListFilter selects which jobs List returns. A zero value (empty
// State) means "all states".
type ListFilter struct {
	State model.State
}

// Repository is the job persistence façade. sqliteRepository is the
// only production implementation; tests may supply their own against
// the same interface.
type Repository interface {
	Enqueue(ctx context.Context, spec EnqueueSpec, defaults Defaults) (*model.Job, error)
	ClaimOne(ctx context.Context, workerID string, now time.Time) (*model.Job, error)
	Complete(ctx context.Context, id string, now time.Time) error
	Fail(ctx context.Context, id string, now time.Time, errMsg string) error
	DLQRetry(ctx context.Context, id string, now time.Time) error
	List(ctx context.Context, filter ListFilter) ([]*model.Job, error)
	StatusSummary(ctx context.Context) (model.StatusCounts, error)
	Metrics(ctx context.Context) (model.Metrics, error)
	ReapZombieProcessing(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error)
	Get(ctx context.Context, id string) (*model.Job, error)
}

// Defaults supplies the config-derived fallbacks Enqueue uses when a
// spec field is omitted.
type Defaults struct {
	MaxRetries            int
	BaseBackoff           float64
	DefaultTimeoutSeconds *float64
}

// maxBackoffDelay clamps the exponential backoff ceiling so a long run
// of failures cannot schedule a retry absurdly far in the future.
const maxBackoffDelay = 24 * time.Hour
