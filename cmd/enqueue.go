package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"jobctl/internal/config"
	"jobctl/internal/repository"

	"github.com/spf13/cobra"
)

// enqueueInput mirrors the JSON object spec.md §6 accepts on the
// command line: id and command are required; omitted max_retries,
// base_backoff and timeout_seconds default from config, priority to 0,
// and run_at to the enqueue time.
type enqueueInput struct {
	ID             string   `json:"id"`
	Command        string   `json:"command"`
	MaxRetries     *int     `json:"max_retries,omitempty"`
	BaseBackoff    *float64 `json:"base_backoff,omitempty"`
	Priority       int      `json:"priority,omitempty"`
	TimeoutSeconds *float64 `json:"timeout_seconds,omitempty"`
	RunAt          *string  `json:"run_at,omitempty"`
}

func enqueueCmd(repo repository.Repository, cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <job-json>",
		Short: "Add a job to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in enqueueInput
			if err := json.Unmarshal([]byte(args[0]), &in); err != nil {
				return fmt.Errorf("%w: invalid json: %v", repository.ErrInvalidSpec, err)
			}

			spec := repository.EnqueueSpec{
				ID:             in.ID,
				Command:        in.Command,
				MaxRetries:     in.MaxRetries,
				BaseBackoff:    in.BaseBackoff,
				Priority:       in.Priority,
				TimeoutSeconds: in.TimeoutSeconds,
			}
			if in.RunAt != nil {
				t, err := time.Parse(time.RFC3339, *in.RunAt)
				if err != nil {
					return fmt.Errorf("%w: invalid run_at: %v", repository.ErrInvalidSpec, err)
				}
				spec.RunAt = &t
			}

			defaults := repository.Defaults{
				MaxRetries:            cfg.MaxRetries,
				BaseBackoff:           cfg.BaseBackoff,
				DefaultTimeoutSeconds: cfg.DefaultTimeoutSeconds,
			}
			job, err := repo.Enqueue(cmd.Context(), spec, defaults)
			if err != nil {
				return err
			}
			fmt.Printf("enqueued job %s (available_at=%s)\n", job.ID, job.AvailableAt.Format(time.RFC3339))
			return nil
		},
	}
}
