package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"jobctl/internal/model"
	"jobctl/internal/store"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s)
}

func defaults() Defaults {
	return Defaults{MaxRetries: 3, BaseBackoff: 2.0}
}

func TestEnqueue_AppliesDefaultsAndReturnsJob(t *testing.T) {
	repo := newTestRepo(t)
	job, err := repo.Enqueue(context.Background(), EnqueueSpec{ID: "a", Command: "echo hi"}, defaults())
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.State != model.StatePending {
		t.Errorf("expected pending state, got %s", job.State)
	}
	if job.MaxRetries != 3 || job.BaseBackoff != 2.0 {
		t.Errorf("expected defaults to be applied, got max_retries=%d base_backoff=%v", job.MaxRetries, job.BaseBackoff)
	}
	if job.StdoutLog != "logs/job_a.log" {
		t.Errorf("expected derived log path, got %s", job.StdoutLog)
	}
}

func TestEnqueue_AppliesDefaultTimeoutWhenOmitted(t *testing.T) {
	repo := newTestRepo(t)
	defaultTimeout := 30.0
	d := Defaults{MaxRetries: 3, BaseBackoff: 2.0, DefaultTimeoutSeconds: &defaultTimeout}

	job, err := repo.Enqueue(context.Background(), EnqueueSpec{ID: "with-default-timeout", Command: "echo hi"}, d)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.TimeoutSeconds == nil || *job.TimeoutSeconds != 30.0 {
		t.Errorf("expected default_timeout_seconds to be applied, got %v", job.TimeoutSeconds)
	}

	explicit := 5.0
	job2, err := repo.Enqueue(context.Background(), EnqueueSpec{ID: "with-explicit-timeout", Command: "echo hi", TimeoutSeconds: &explicit}, d)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job2.TimeoutSeconds == nil || *job2.TimeoutSeconds != 5.0 {
		t.Errorf("expected explicit timeout_seconds to override the config default, got %v", job2.TimeoutSeconds)
	}
}

func TestEnqueue_RejectsBlankIDOrCommand(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.Enqueue(context.Background(), EnqueueSpec{ID: "", Command: "echo hi"}, defaults()); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("expected ErrInvalidSpec for blank id, got %v", err)
	}
	if _, err := repo.Enqueue(context.Background(), EnqueueSpec{ID: "x", Command: "  "}, defaults()); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("expected ErrInvalidSpec for blank command, got %v", err)
	}
}

func TestEnqueue_DuplicateIDFails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "dup", Command: "echo hi"}, defaults()); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	_, err := repo.Enqueue(ctx, EnqueueSpec{ID: "dup", Command: "echo hi"}, defaults())
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID on re-enqueue, got %v", err)
	}
}

func TestClaimOne_ReturnsNilWhenEmpty(t *testing.T) {
	repo := newTestRepo(t)
	job, err := repo.ClaimOne(context.Background(), "w1", time.Now().UTC())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil claim on an empty queue, got %+v", job)
	}
}

func TestClaimOne_OrdersByPriority(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "lo", Command: "echo lo", Priority: 0}, defaults()); err != nil {
		t.Fatalf("enqueue lo: %v", err)
	}
	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "hi", Command: "echo hi", Priority: 10}, defaults()); err != nil {
		t.Fatalf("enqueue hi: %v", err)
	}

	job, err := repo.ClaimOne(ctx, "w1", time.Now().UTC())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != "hi" {
		t.Fatalf("expected to claim the higher-priority job first, got %+v", job)
	}
}

func TestClaimOne_SkipsJobsNotYetAvailable(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	future := time.Now().UTC().Add(time.Hour)

	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "future", Command: "echo later", RunAt: &future}, defaults()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := repo.ClaimOne(ctx, "w1", time.Now().UTC())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job != nil {
		t.Errorf("expected no claim before available_at, got %+v", job)
	}
}

func TestFail_SchedulesBackoffUntilMaxRetriesThenDies(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "b", Command: "false"}, Defaults{MaxRetries: 2, BaseBackoff: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	now := time.Now().UTC()

	for attempt := 1; attempt <= 2; attempt++ {
		job, err := repo.ClaimOne(ctx, "w1", now)
		if err != nil || job == nil {
			t.Fatalf("claim attempt %d: job=%v err=%v", attempt, job, err)
		}
		if err := repo.Fail(ctx, "b", now, "boom"); err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		got, err := repo.Get(ctx, "b")
		if err != nil {
			t.Fatalf("get after attempt %d: %v", attempt, err)
		}
		if got.State != model.StatePending {
			t.Fatalf("expected pending after attempt %d (attempts=%d, max_retries=2), got %s", attempt, attempt, got.State)
		}
		now = got.AvailableAt
	}

	job, err := repo.ClaimOne(ctx, "w1", now)
	if err != nil || job == nil {
		t.Fatalf("claim final attempt: job=%v err=%v", job, err)
	}
	if err := repo.Fail(ctx, "b", now, "fatal"); err != nil {
		t.Fatalf("final fail: %v", err)
	}

	got, err := repo.Get(ctx, "b")
	if err != nil {
		t.Fatalf("get dead job: %v", err)
	}
	if got.State != model.StateDead {
		t.Fatalf("expected dead state after exceeding max_retries, got %s", got.State)
	}
	if got.Attempts != 3 {
		t.Errorf("expected attempts=3, got %d", got.Attempts)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at to be set on dead job")
	}
	if got.LastError == nil || *got.LastError != "fatal" {
		t.Errorf("expected last_error to be recorded, got %v", got.LastError)
	}
}

func TestFail_MaxRetriesZeroDiesOnFirstFailure(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "z", Command: "false"}, Defaults{MaxRetries: 0, BaseBackoff: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	now := time.Now().UTC()
	if _, err := repo.ClaimOne(ctx, "w1", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.Fail(ctx, "z", now, "dead on arrival"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, err := repo.Get(ctx, "z")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.StateDead {
		t.Errorf("expected max_retries=0 to dead-letter on first failure, got %s", got.State)
	}
}

func TestDLQRetry_ResetsAttemptsAndClearsTimestamps(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "d", Command: "false"}, Defaults{MaxRetries: 0, BaseBackoff: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	now := time.Now().UTC()
	if _, err := repo.ClaimOne(ctx, "w1", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.Fail(ctx, "d", now, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := repo.DLQRetry(ctx, "d", now); err != nil {
		t.Fatalf("dlq retry: %v", err)
	}

	got, err := repo.Get(ctx, "d")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.StatePending {
		t.Errorf("expected pending after dlq retry, got %s", got.State)
	}
	if got.Attempts != 0 {
		t.Errorf("expected attempts reset to 0, got %d", got.Attempts)
	}
	if got.StartedAt != nil || got.FinishedAt != nil {
		t.Errorf("expected started_at/finished_at cleared, got started=%v finished=%v", got.StartedAt, got.FinishedAt)
	}
	if got.LastError != nil {
		t.Errorf("expected last_error cleared, got %v", *got.LastError)
	}
}

func TestDLQRetry_TwiceFailsNotDead(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "e", Command: "false"}, Defaults{MaxRetries: 0, BaseBackoff: 2}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	now := time.Now().UTC()
	if _, err := repo.ClaimOne(ctx, "w1", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.Fail(ctx, "e", now, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := repo.DLQRetry(ctx, "e", now); err != nil {
		t.Fatalf("first dlq retry: %v", err)
	}
	if err := repo.DLQRetry(ctx, "e", now); !errors.Is(err, ErrNotDead) {
		t.Errorf("expected ErrNotDead on second dlq retry, got %v", err)
	}
}

func TestDLQRetry_UnknownIDFailsNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.DLQRetry(context.Background(), "missing", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestComplete_TransitionsProcessingToCompleted(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "c", Command: "echo hi"}, defaults()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	now := time.Now().UTC()
	if _, err := repo.ClaimOne(ctx, "w1", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.Complete(ctx, "c", now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := repo.Get(ctx, "c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.StateCompleted {
		t.Errorf("expected completed state, got %s", got.State)
	}
	if got.FinishedAt == nil {
		t.Error("expected finished_at to be set")
	}
}

func TestStatusSummary_CountsPerState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"p1", "p2"} {
		if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: id, Command: "echo hi"}, defaults()); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "done", Command: "echo hi", Priority: 1}, defaults()); err != nil {
		t.Fatalf("enqueue done: %v", err)
	}
	now := time.Now().UTC()
	if _, err := repo.ClaimOne(ctx, "w1", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.Complete(ctx, "done", now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	counts, err := repo.StatusSummary(ctx)
	if err != nil {
		t.Fatalf("status summary: %v", err)
	}
	if counts.Pending != 2 {
		t.Errorf("expected 2 pending jobs, got %d", counts.Pending)
	}
	if counts.Completed != 1 {
		t.Errorf("expected 1 completed job, got %d", counts.Completed)
	}
}

func TestReapZombieProcessing_ResetsStaleRows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.Enqueue(ctx, EnqueueSpec{ID: "zombie", Command: "sleep 100"}, defaults()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	claimTime := time.Now().UTC()
	if _, err := repo.ClaimOne(ctx, "w1", claimTime); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := repo.ReapZombieProcessing(ctx, claimTime.Add(time.Hour), 10*time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped row, got %d", n)
	}

	got, err := repo.Get(ctx, "zombie")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.StatePending {
		t.Errorf("expected reaped job back in pending, got %s", got.State)
	}
}

// TestClaimOne_ExactlyOneWinnerUnderConcurrentContention is the
// multi-process exclusivity property in miniature: several independent
// store.Store/Repository handles onto the same database file, each
// standing in for a separate worker process, hammer ClaimOne from many
// goroutines over a shared pool of pending jobs. No job may ever be
// returned to more than one caller.
func TestClaimOne_ExactlyOneWinnerUnderConcurrentContention(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	const numJobs = 100
	const numWorkers = 4

	seed, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open seed store: %v", err)
	}
	seedRepo := New(seed)
	ctx := context.Background()
	for i := 0; i < numJobs; i++ {
		id := fmt.Sprintf("job-%03d", i)
		if _, err := seedRepo.Enqueue(ctx, EnqueueSpec{ID: id, Command: "echo hi"}, defaults()); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("close seed store: %v", err)
	}

	repos := make([]Repository, numWorkers)
	for i := range repos {
		s, err := store.Open(dbPath)
		if err != nil {
			t.Fatalf("open worker store %d: %v", i, err)
		}
		t.Cleanup(func() { _ = s.Close() })
		repos[i] = New(s)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]string) // job id -> claiming worker
		wg      sync.WaitGroup
	)

	for w, repo := range repos {
		wg.Add(1)
		go func(workerID string, repo Repository) {
			defer wg.Done()
			for {
				job, err := repo.ClaimOne(ctx, workerID, time.Now().UTC())
				if err != nil {
					if errors.Is(err, ErrStoreBusy) {
						continue
					}
					t.Errorf("worker %s: claim: %v", workerID, err)
					return
				}
				if job == nil {
					return
				}

				mu.Lock()
				if prior, ok := claimed[job.ID]; ok {
					mu.Unlock()
					t.Errorf("job %s claimed by both %s and %s", job.ID, prior, workerID)
					continue
				}
				claimed[job.ID] = workerID
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w), repo)
	}
	wg.Wait()

	if len(claimed) != numJobs {
		t.Fatalf("expected all %d jobs claimed exactly once, got %d", numJobs, len(claimed))
	}
}

func TestClampBackoff_CeilsAtMaxBackoffDelay(t *testing.T) {
	if got := clampBackoff(1e18); got != maxBackoffDelay {
		t.Errorf("expected an overflowing delay to clamp to %s, got %s", maxBackoffDelay, got)
	}
	if got := clampBackoff(4); got != 4*time.Second {
		t.Errorf("expected a small delay to pass through unclamped, got %s", got)
	}
}
