package cmd

import (
	"fmt"

	"jobctl/internal/repository"

	"github.com/spf13/cobra"
)

func metricsCmd(repo repository.Repository) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show aggregate queue metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := repo.Metrics(cmd.Context())
			if err != nil {
				return fmt.Errorf("compute metrics: %w", err)
			}
			fmt.Println("total:        ", m.Total)
			fmt.Println("completed:    ", m.Completed)
			fmt.Println("dead:         ", m.Dead)
			fmt.Printf("mean attempts: %.2f\n", m.MeanAttempts)
			fmt.Printf("mean duration: %.2fs\n", m.MeanDuration)
			return nil
		},
	}
}
