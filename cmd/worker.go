package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobctl/internal/config"
	"jobctl/internal/repository"
	"jobctl/internal/supervisor"
	"jobctl/internal/worker"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func workerCmd(repo repository.Repository, cfg *config.Config) *cobra.Command {
	wCmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage worker processes",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start one or more worker processes and block until they exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			idleTimeout, _ := cmd.Flags().GetFloat64("idle-timeout")
			if count < 1 {
				return fmt.Errorf("%w: --count must be at least 1", repository.ErrInvalidSpec)
			}

			log.Printf("starting %d worker(s), idle-timeout=%gs", count, idleTimeout)
			code := supervisor.Run(count, supervisor.WorkerArgs(idleTimeout))
			if code != 0 {
				os.Exit(code)
			}
			return nil
		},
	}
	startCmd.Flags().Int("count", 1, "number of worker processes to start")
	startCmd.Flags().Float64("idle-timeout", cfg.IdleTimeout, "seconds of idle polling before a worker exits")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Advisory: workers run in the foreground and stop on SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("workers run in the foreground; send SIGINT/SIGTERM to the worker start process to stop them")
			return nil
		},
	}

	// runOneCmd is the hidden entry point the supervisor re-execs as a
	// child OS process; it is not part of the public CLI surface.
	runOneCmd := &cobra.Command{
		Use:    "run-one",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			idleTimeout, _ := cmd.Flags().GetFloat64("idle-timeout")
			return runSingleWorker(repo, cfg, idleTimeout)
		},
	}
	runOneCmd.Flags().Float64("idle-timeout", cfg.IdleTimeout, "seconds of idle polling before this worker exits")

	wCmd.AddCommand(startCmd, stopCmd, runOneCmd)
	return wCmd
}

// runSingleWorker is the body of one worker OS process: reap any
// zombie processing rows left by a prior crash, then run the
// claim/execute/retry loop until shutdown or idle exit.
func runSingleWorker(repo repository.Repository, cfg *config.Config, idleTimeoutSeconds float64) error {
	id := uuid.NewString()
	ctx := context.Background()

	if n, err := repo.ReapZombieProcessing(ctx, time.Now().UTC(), 10*time.Minute); err != nil {
		log.Printf("worker %s: zombie reap failed: %v", id, err)
	} else if n > 0 {
		log.Printf("worker %s: reaped %d zombie processing job(s)", id, n)
	}

	w := worker.New(id, repo,
		time.Duration(cfg.PollInterval*float64(time.Second)),
		time.Duration(idleTimeoutSeconds*float64(time.Second)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("worker %s: shutdown signal received", id)
		w.RequestShutdown()
	}()

	code := w.Run(ctx)
	signal.Stop(sigCh)
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
