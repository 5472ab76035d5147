package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"newsportal/internal/domain"

	"github.com/google/uuid"
)

func (d *Database) EnqueueTask(ctx context.Context, task *domain.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	if task.MaxAttempts <= 0 {
		return errors.New("task max attempts must be positive")
	}

	now := time.Now()
	if task.RunAt.IsZero() {
		task.RunAt = now
	}
	task.Status = domain.TaskPending

	query := `insert into tasks (id, kind, payload, status, max_attempts, run_at, created_at, updated_at)
	values (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		task.ID,
		task.Kind,
		task.Payload,
		string(task.Status),
		task.MaxAttempts,
		toMicros(task.RunAt),
		toMicros(now),
		toMicros(now))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	return nil
}

// ClaimTask leases the next due task until now+lease. A running task whose
// lease expired is claimable again. Returns nil when nothing is due.
func (d *Database) ClaimTask(ctx context.Context, now time.Time, lease time.Duration) (*domain.Task, error) {
	query := `update tasks
	set status = 'running',
	attempts = attempts + 1,
	leased_until = ?,
	lease_token = ?,
	updated_at = ?
	where id = (
		select id from tasks
		where (status = 'pending' and run_at <= ?)
		or (status = 'running' and leased_until <= ?)
		order by run_at, created_at
		limit 1
	)
	returning id, kind, payload, status, attempts, max_attempts, run_at, lease_token, last_error`

	nowUs := toMicros(now)
	token := uuid.NewString()

	var (
		t      domain.Task
		status string
		runAt  int64
	)

	err := d.db.QueryRowContext(ctx, query,
		toMicros(now.Add(lease)), token, nowUs, nowUs, nowUs).Scan(
		&t.ID,
		&t.Kind,
		&t.Payload,
		&status,
		&t.Attempts,
		&t.MaxAttempts,
		&runAt,
		&t.LeaseToken,
		&t.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	t.Status = domain.TaskStatus(status)
	t.RunAt = fromMicros(runAt)

	return &t, nil
}

func (d *Database) CompleteTask(ctx context.Context, task *domain.Task) error {
	query := `update tasks
	set status = 'done', leased_until = 0, updated_at = ?
	where id = ? and lease_token = ?`

	return d.finishTask(ctx, query, task, toMicros(time.Now()), task.ID, task.LeaseToken)
}

// RetryTask puts the task back to pending, due at runAt.
func (d *Database) RetryTask(ctx context.Context, task *domain.Task, runAt time.Time, lastError string) error {
	query := `update tasks
	set status = 'pending', run_at = ?, leased_until = 0, last_error = ?, updated_at = ?
	where id = ? and lease_token = ?`

	return d.finishTask(ctx, query, task,
		toMicros(runAt), lastError, toMicros(time.Now()), task.ID, task.LeaseToken)
}

// BuryTask dead-letters the task.
func (d *Database) BuryTask(ctx context.Context, task *domain.Task, lastError string) error {
	query := `update tasks
	set status = 'dead', leased_until = 0, last_error = ?, updated_at = ?
	where id = ? and lease_token = ?`

	return d.finishTask(ctx, query, task, lastError, toMicros(time.Now()), task.ID, task.LeaseToken)
}

func (d *Database) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	query := `select id, kind, payload, status, attempts, max_attempts, run_at, lease_token, last_error
	from tasks
	where id = ?`

	var (
		t      domain.Task
		status string
		runAt  int64
	)

	err := d.db.QueryRowContext(ctx, query, taskID).Scan(
		&t.ID,
		&t.Kind,
		&t.Payload,
		&status,
		&t.Attempts,
		&t.MaxAttempts,
		&runAt,
		&t.LeaseToken,
		&t.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	t.Status = domain.TaskStatus(status)
	t.RunAt = fromMicros(runAt)

	return &t, nil
}

func (d *Database) CountTasks(ctx context.Context, status domain.TaskStatus) (int, error) {
	query := "select count(*) from tasks where status = ?"

	var n int
	if err := d.db.QueryRowContext(ctx, query, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to scan row: %w", err)
	}

	return n, nil
}

func (d *Database) finishTask(ctx context.Context, query string, task *domain.Task, args ...any) error {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		d.log.WarnContext(ctx, "Task lease is lost",
			"taskID", task.ID,
			"attempts", task.Attempts)

		return fmt.Errorf("task %s: %w", task.ID, ErrLeaseLost)
	}

	return nil
}
