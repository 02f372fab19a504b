// Package cmd is the thin cobra CLI control surface: every command is
// a short call into internal/repository, internal/supervisor or
// internal/config. Business logic lives below this package.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"jobctl/internal/config"
	"jobctl/internal/repository"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "jobctl",
	Short:         "A durable CLI job queue",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute wires every subcommand to repo/cfg and returns the process
// exit code spec.md's CLI table specifies.
func Execute(repo repository.Repository, cfg *config.Config) int {
	rootCmd.AddCommand(enqueueCmd(repo, cfg))
	rootCmd.AddCommand(workerCmd(repo, cfg))
	rootCmd.AddCommand(statusCmd(repo))
	rootCmd.AddCommand(listCmd(repo))
	rootCmd.AddCommand(dlqCmd(repo))
	rootCmd.AddCommand(logsCmd(repo))
	rootCmd.AddCommand(metricsCmd(repo))
	rootCmd.AddCommand(configCmd(cfg))
	rootCmd.AddCommand(resetCmd())

	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	return exitCodeFor(err)
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrInvalidSpec):
		return 2
	case errors.Is(err, repository.ErrDuplicateID):
		return 3
	case errors.Is(err, repository.ErrNotDead):
		return 4
	case errors.Is(err, repository.ErrNotFound):
		return 5
	default:
		return 1
	}
}
