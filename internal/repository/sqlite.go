package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"jobctl/internal/model"
	"jobctl/internal/store"
)

const timeLayout = time.RFC3339Nano

// sqliteRepository is the production Repository, generalizing the
// teacher's FindAndLock/UpdateJob/RetryDeadJob/ListJobsByState/
// GetJobStats over the spec's richer job schema and the BSN2000-style
// immediate-transaction claim pattern.
type sqliteRepository struct {
	store *store.Store
}

// New returns a Repository backed by s.
func New(s *store.Store) Repository {
	return &sqliteRepository{store: s}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func (r *sqliteRepository) Enqueue(ctx context.Context, spec EnqueueSpec, defaults Defaults) (*model.Job, error) {
	if strings.TrimSpace(spec.ID) == "" || strings.TrimSpace(spec.Command) == "" {
		return nil, fmt.Errorf("%w: id and command are required", ErrInvalidSpec)
	}

	maxRetries := defaults.MaxRetries
	if spec.MaxRetries != nil {
		if *spec.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max_retries must be non-negative", ErrInvalidSpec)
		}
		maxRetries = *spec.MaxRetries
	}

	baseBackoff := defaults.BaseBackoff
	if spec.BaseBackoff != nil {
		if *spec.BaseBackoff <= 0 {
			return nil, fmt.Errorf("%w: base_backoff must be positive", ErrInvalidSpec)
		}
		baseBackoff = *spec.BaseBackoff
	}

	if spec.TimeoutSeconds != nil && *spec.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("%w: timeout_seconds must be positive", ErrInvalidSpec)
	}

	timeoutSeconds := spec.TimeoutSeconds
	if timeoutSeconds == nil {
		timeoutSeconds = defaults.DefaultTimeoutSeconds
	}

	now := time.Now().UTC()
	availableAt := now
	if spec.RunAt != nil {
		availableAt = spec.RunAt.UTC()
	}

	job := &model.Job{
		ID:             spec.ID,
		Command:        spec.Command,
		State:          model.StatePending,
		Attempts:       0,
		MaxRetries:     maxRetries,
		BaseBackoff:    baseBackoff,
		Priority:       spec.Priority,
		TimeoutSeconds: timeoutSeconds,
		StdoutLog:      model.LogPath(spec.ID),
		CreatedAt:      now,
		UpdatedAt:      now,
		AvailableAt:    availableAt,
	}

	_, err := r.store.DB.ExecContext(ctx, `
		INSERT INTO jobs (
			id, command, state, attempts, max_retries, base_backoff, priority,
			timeout_seconds, stdout_log, created_at, updated_at, available_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		job.ID, job.Command, job.State, job.Attempts, job.MaxRetries, job.BaseBackoff,
		job.Priority, job.TimeoutSeconds, job.StdoutLog,
		formatTime(job.CreatedAt), formatTime(job.UpdatedAt), formatTime(job.AvailableAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, job.ID)
		}
		return nil, wrapStoreErr("enqueue job", err)
	}
	return job, nil
}

// ClaimOne atomically selects and claims the highest-priority eligible
// pending job inside one immediate write transaction: the SELECT and
// the state transition to processing are the same UPDATE ... RETURNING
// statement, so no other worker process can observe the row between
// selection and claim.
func (r *sqliteRepository) ClaimOne(ctx context.Context, workerID string, now time.Time) (*model.Job, error) {
	tx, err := r.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapStoreErr("begin claim transaction", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		UPDATE jobs SET state = ?, started_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = ? AND available_at <= ?
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
		)
		RETURNING id, command, state, attempts, max_retries, base_backoff, priority,
			timeout_seconds, stdout_log, last_error, created_at, updated_at,
			available_at, started_at, finished_at`,
		model.StateProcessing, formatTime(now), formatTime(now),
		model.StatePending, formatTime(now),
	)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapStoreErr("claim job", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapStoreErr("commit claim", err)
	}
	return job, nil
}

func (r *sqliteRepository) Complete(ctx context.Context, id string, now time.Time) error {
	res, err := r.store.DB.ExecContext(ctx, `
		UPDATE jobs SET state = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		model.StateCompleted, formatTime(now), formatTime(now), id, model.StateProcessing,
	)
	if err != nil {
		return wrapStoreErr("complete job", err)
	}
	return requireRowsAffected(res, id)
}

// Fail increments attempts and either dead-letters the job (attempts >
// max_retries) or schedules a backoff retry. It is called exactly once
// per execution attempt.
func (r *sqliteRepository) Fail(ctx context.Context, id string, now time.Time, errMsg string) error {
	tx, err := r.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr("begin fail transaction", err)
	}
	defer tx.Rollback()

	var attempts, maxRetries int
	var baseBackoff float64
	err = tx.QueryRowContext(ctx, `SELECT attempts, max_retries, base_backoff FROM jobs WHERE id = ?`, id).
		Scan(&attempts, &maxRetries, &baseBackoff)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return wrapStoreErr("fail job", err)
	}

	attempts++

	if attempts > maxRetries {
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET state = ?, attempts = ?, finished_at = ?, updated_at = ?, last_error = ?
			WHERE id = ?`,
			model.StateDead, attempts, formatTime(now), formatTime(now), errMsg, id,
		)
	} else {
		delay := clampBackoff(math.Pow(baseBackoff, float64(attempts)))
		availableAt := now.Add(delay)
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET state = ?, attempts = ?, available_at = ?, updated_at = ?,
				last_error = ?, started_at = NULL
			WHERE id = ?`,
			model.StatePending, attempts, formatTime(availableAt), formatTime(now), errMsg, id,
		)
	}
	if err != nil {
		return wrapStoreErr("fail job", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreErr("commit fail", err)
	}
	return nil
}

func clampBackoff(delaySeconds float64) time.Duration {
	if delaySeconds <= 0 || math.IsInf(delaySeconds, 1) || math.IsNaN(delaySeconds) {
		return maxBackoffDelay
	}
	d := time.Duration(delaySeconds * float64(time.Second))
	if d > maxBackoffDelay || d < 0 {
		return maxBackoffDelay
	}
	return d
}

// DLQRetry is idempotent under concurrent callers because the WHERE
// clause only matches rows currently in the dead state; a second
// concurrent caller affects zero rows and gets ErrNotDead.
func (r *sqliteRepository) DLQRetry(ctx context.Context, id string, now time.Time) error {
	res, err := r.store.DB.ExecContext(ctx, `
		UPDATE jobs SET state = ?, attempts = 0, available_at = ?, updated_at = ?,
			started_at = NULL, finished_at = NULL, last_error = NULL
		WHERE id = ? AND state = ?`,
		model.StatePending, formatTime(now), formatTime(now), id, model.StateDead,
	)
	if err != nil {
		return wrapStoreErr("dlq retry", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("dlq retry", err)
	}
	if n == 0 {
		exists, err := r.exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: %s", ErrNotDead, id)
	}
	return nil
}

func (r *sqliteRepository) exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&n)
	return n > 0, wrapStoreErr("check job exists", err)
}

func (r *sqliteRepository) Get(ctx context.Context, id string) (*model.Job, error) {
	row := r.store.DB.QueryRowContext(ctx, `
		SELECT id, command, state, attempts, max_retries, base_backoff, priority,
			timeout_seconds, stdout_log, last_error, created_at, updated_at,
			available_at, started_at, finished_at
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, wrapStoreErr("get job", err)
	}
	return job, nil
}

func (r *sqliteRepository) List(ctx context.Context, filter ListFilter) ([]*model.Job, error) {
	query := `
		SELECT id, command, state, attempts, max_retries, base_backoff, priority,
			timeout_seconds, stdout_log, last_error, created_at, updated_at,
			available_at, started_at, finished_at
		FROM jobs`
	args := []any{}
	if filter.State != "" {
		query += ` WHERE state = ?`
		args = append(args, filter.State)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.store.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreErr("list jobs", err)
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, wrapStoreErr("scan job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, wrapStoreErr("list jobs", rows.Err())
}

func (r *sqliteRepository) StatusSummary(ctx context.Context) (model.StatusCounts, error) {
	rows, err := r.store.DB.QueryContext(ctx, `SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return model.StatusCounts{}, wrapStoreErr("status summary", err)
	}
	defer rows.Close()

	var counts model.StatusCounts
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return model.StatusCounts{}, wrapStoreErr("scan status summary", err)
		}
		switch model.State(state) {
		case model.StatePending:
			counts.Pending = n
		case model.StateProcessing:
			counts.Processing = n
		case model.StateCompleted:
			counts.Completed = n
		case model.StateDead:
			counts.Dead = n
		}
	}
	return counts, wrapStoreErr("status summary", rows.Err())
}

func (r *sqliteRepository) Metrics(ctx context.Context) (model.Metrics, error) {
	var m model.Metrics

	err := r.store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&m.Total)
	if err != nil {
		return m, wrapStoreErr("metrics total", err)
	}
	err = r.store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE state = ?`, model.StateCompleted).Scan(&m.Completed)
	if err != nil {
		return m, wrapStoreErr("metrics completed", err)
	}
	err = r.store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE state = ?`, model.StateDead).Scan(&m.Dead)
	if err != nil {
		return m, wrapStoreErr("metrics dead", err)
	}

	var meanAttempts sql.NullFloat64
	err = r.store.DB.QueryRowContext(ctx, `SELECT AVG(attempts) FROM jobs WHERE state != ?`, model.StatePending).Scan(&meanAttempts)
	if err != nil {
		return m, wrapStoreErr("metrics mean attempts", err)
	}
	if meanAttempts.Valid {
		m.MeanAttempts = meanAttempts.Float64
	}

	rows, err := r.store.DB.QueryContext(ctx, `
		SELECT started_at, finished_at FROM jobs
		WHERE state = ? AND started_at IS NOT NULL AND finished_at IS NOT NULL`, model.StateCompleted)
	if err != nil {
		return m, wrapStoreErr("metrics durations", err)
	}
	defer rows.Close()

	var totalDur float64
	var count int
	for rows.Next() {
		var startedStr, finishedStr string
		if err := rows.Scan(&startedStr, &finishedStr); err != nil {
			return m, wrapStoreErr("scan duration", err)
		}
		started, err1 := parseTime(startedStr)
		finished, err2 := parseTime(finishedStr)
		if err1 != nil || err2 != nil {
			continue
		}
		totalDur += finished.Sub(started).Seconds()
		count++
	}
	if count > 0 {
		m.MeanDuration = totalDur / float64(count)
	}
	return m, wrapStoreErr("metrics durations", rows.Err())
}

// ReapZombieProcessing resets rows that have been in processing since
// before now-staleAfter back to pending. A worker that was killed
// (SIGKILL) mid-execution leaks its claimed row until this runs. Rows
// are selected by started_at age alone: whether the claiming worker is
// still alive is not checked, so a job running longer than staleAfter
// is reset as well.
func (r *sqliteRepository) ReapZombieProcessing(ctx context.Context, now time.Time, staleAfter time.Duration) (int, error) {
	cutoff := formatTime(now.Add(-staleAfter))
	res, err := r.store.DB.ExecContext(ctx, `
		UPDATE jobs SET state = ?, started_at = NULL, updated_at = ?
		WHERE state = ? AND started_at IS NOT NULL AND started_at < ?`,
		model.StatePending, formatTime(now), model.StateProcessing, cutoff,
	)
	if err != nil {
		return 0, wrapStoreErr("reap zombie processing", err)
	}
	n, err := res.RowsAffected()
	return int(n), wrapStoreErr("reap zombie processing", err)
}

func requireRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapStoreErr("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows so scanJob works for both
// QueryRow and Query call sites.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var job model.Job
	var state string
	var timeoutSeconds sql.NullFloat64
	var lastError sql.NullString
	var createdAt, updatedAt, availableAt string
	var startedAt, finishedAt sql.NullString

	err := row.Scan(
		&job.ID, &job.Command, &state, &job.Attempts, &job.MaxRetries, &job.BaseBackoff,
		&job.Priority, &timeoutSeconds, &job.StdoutLog, &lastError,
		&createdAt, &updatedAt, &availableAt, &startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.State = model.State(state)
	if timeoutSeconds.Valid {
		v := timeoutSeconds.Float64
		job.TimeoutSeconds = &v
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}

	job.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	job.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	job.AvailableAt, err = parseTime(availableAt)
	if err != nil {
		return nil, fmt.Errorf("parse available_at: %w", err)
	}
	if startedAt.Valid {
		t, err := parseTime(startedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		job.FinishedAt = &t
	}
	return &job, nil
}
