package cmd

import (
	"fmt"

	"jobctl/internal/model"
	"jobctl/internal/repository"

	"github.com/spf13/cobra"
)

func listCmd(repo repository.Repository) *cobra.Command {
	lCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, _ := cmd.Flags().GetString("state")
			filter := repository.ListFilter{}
			if state != "" {
				filter.State = model.State(state)
			}

			jobs, err := repo.List(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs found")
				return nil
			}

			fmt.Println("ID\tSTATE\t\tATTEMPTS\tCOMMAND")
			for _, job := range jobs {
				fmt.Printf("%s\t%s\t%d\t\t%s\n", job.ID, job.State, job.Attempts, job.Command)
			}
			return nil
		},
	}
	lCmd.Flags().String("state", "", "filter by state (pending, processing, completed, dead)")
	return lCmd
}

func statusCmd(repo repository.Repository) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a summary of job states",
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := repo.StatusSummary(cmd.Context())
			if err != nil {
				return fmt.Errorf("get status summary: %w", err)
			}
			fmt.Println("pending:   ", counts.Pending)
			fmt.Println("processing:", counts.Processing)
			fmt.Println("completed: ", counts.Completed)
			fmt.Println("dead:      ", counts.Dead)
			fmt.Println()
			fmt.Println("note: worker process count is not persisted; check the OS process list")
			return nil
		},
	}
}
