package cmd

import (
	"fmt"
	"time"

	"jobctl/internal/model"
	"jobctl/internal/repository"

	"github.com/spf13/cobra"
)

func dlqCmd(repo repository.Repository) *cobra.Command {
	dCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and retry dead-lettered jobs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the dead state",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := repo.List(cmd.Context(), repository.ListFilter{State: model.StateDead})
			if err != nil {
				return fmt.Errorf("list dead jobs: %w", err)
			}
			if len(jobs) == 0 {
				fmt.Println("DLQ is empty")
				return nil
			}
			fmt.Println("ID\tATTEMPTS\tLAST_ERROR")
			for _, job := range jobs {
				lastErr := ""
				if job.LastError != nil {
					lastErr = *job.LastError
				}
				fmt.Printf("%s\t%d\t%s\n", job.ID, job.Attempts, lastErr)
			}
			return nil
		},
	}

	retryCmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Move a dead job back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := repo.DLQRetry(cmd.Context(), id, time.Now().UTC()); err != nil {
				return err
			}
			fmt.Printf("job %s returned to pending\n", id)
			return nil
		},
	}

	dCmd.AddCommand(listCmd, retryCmd)
	return dCmd
}
