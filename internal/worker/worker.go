// Package worker implements the claim/execute/retry loop a single long
// -lived OS process runs, generalizing the teacher's ticker-poll loop
// (internal/worker/worker.go) to the spec's richer state machine:
// IDLE/CLAIMING/EXECUTING/FINALIZING with a shutdown flag and idle exit.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"jobctl/internal/executor"
	"jobctl/internal/model"
	"jobctl/internal/repository"
)

// Worker is one long-lived process's claim/execute/retry loop. It is
// safe to call RequestShutdown from a signal handler: shuttingDown is
// an atomic flag, not a mutex-guarded field.
type Worker struct {
	ID           string
	Repo         repository.Repository
	PollInterval time.Duration
	IdleTimeout  time.Duration

	shuttingDown atomic.Bool
}

func New(id string, repo repository.Repository, pollInterval, idleTimeout time.Duration) *Worker {
	return &Worker{
		ID:           id,
		Repo:         repo,
		PollInterval: pollInterval,
		IdleTimeout:  idleTimeout,
	}
}

// RequestShutdown sets the shutdown flag. Safe to call from an async
// signal context (see os/signal wiring in cmd/worker.go).
func (w *Worker) RequestShutdown() {
	w.shuttingDown.Store(true)
}

func (w *Worker) shuttingDownNow() bool {
	return w.shuttingDown.Load()
}

// Run is the main loop. It returns the process exit code: 0 on a clean
// shutdown (signal or idle timeout), 1 if a persistent store error
// (STORE_CORRUPT or anything else unrecognized) makes the store
// unusable.
func (w *Worker) Run(ctx context.Context) int {
	log.Printf("worker %s: starting", w.ID)
	lastClaim := time.Now()

	for {
		if w.shuttingDownNow() {
			log.Printf("worker %s: shutdown requested, exiting", w.ID)
			return 0
		}

		job, err := w.Repo.ClaimOne(ctx, w.ID, time.Now().UTC())
		if err != nil {
			if errors.Is(err, repository.ErrStoreBusy) {
				// Transient write-lock contention: treat as "no claim
				// this tick" and fall through to the poll sleep.
				log.Printf("worker %s: claim busy, retrying: %v", w.ID, err)
				job = nil
			} else {
				log.Printf("worker %s: fatal store error, exiting: %v", w.ID, err)
				return 1
			}
		}

		if job == nil {
			if time.Since(lastClaim) >= w.IdleTimeout {
				log.Printf("worker %s: idle for %s, exiting", w.ID, w.IdleTimeout)
				return 0
			}
			if w.sleepPoll() {
				return 0
			}
			continue
		}

		lastClaim = time.Now()
		log.Printf("worker %s: claimed job %s", w.ID, job.ID)
		w.execute(ctx, job)
	}
}

// sleepPoll sleeps for PollInterval with small jitter to decorrelate
// multiple workers, checking shutdown before and after. It returns true
// if the caller should exit immediately.
func (w *Worker) sleepPoll() bool {
	if w.shuttingDownNow() {
		return true
	}
	jitter := time.Duration(rand.Int63n(int64(w.PollInterval) / 4+1))
	time.Sleep(w.PollInterval + jitter)
	return w.shuttingDownNow()
}

// execute runs the job to completion and finalizes it. A shutdown
// signal received while a child is running does not abort it: the
// worker always finishes the current execution and finalizes before
// checking shutdown again in Run.
func (w *Worker) execute(ctx context.Context, job *model.Job) {
	if err := os.MkdirAll(filepath.Dir(job.StdoutLog), 0755); err != nil {
		log.Printf("worker %s: job %s: cannot create log dir: %v", w.ID, job.ID, err)
	}

	outcome := executor.Execute(ctx, job, job.StdoutLog)
	now := time.Now().UTC()

	if !outcome.Failed() {
		if err := w.Repo.Complete(ctx, job.ID, now); err != nil {
			log.Printf("worker %s: job %s: complete failed: %v", w.ID, job.ID, err)
		} else {
			log.Printf("worker %s: job %s completed", w.ID, job.ID)
		}
		return
	}

	errMsg := briefError(outcome)
	if err := w.Repo.Fail(ctx, job.ID, now, errMsg); err != nil {
		log.Printf("worker %s: job %s: fail failed: %v", w.ID, job.ID, err)
		return
	}
	log.Printf("worker %s: job %s failed: %s", w.ID, job.ID, errMsg)
}

func briefError(o executor.Outcome) string {
	switch o.Kind {
	case executor.Timeout:
		return "execution timed out"
	case executor.SpawnError:
		return fmt.Sprintf("spawn error: %s", o.Brief)
	default:
		return fmt.Sprintf("non-zero exit: %s", o.Brief)
	}
}
