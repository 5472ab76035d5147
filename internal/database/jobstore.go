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

// StoredJob is a row of scheduled_jobs. The table records the definitions the
// scheduler registered; schedules are never loaded back from it. Jobs are
// registered from code and config on every start, and the rows only back the
// ErrJobExists check across restarts and inspection through GetJob/ListJobs.
type StoredJob struct {
	domain.JobDefinition
	UpdatedAt time.Time
}

// SaveJob persists a job definition. When replace is false an existing row
// with the same ID yields ErrJobExists.
func (d *Database) SaveJob(ctx context.Context, def domain.JobDefinition, replace bool) error {
	now := toMicros(time.Now())

	if !replace {
		query := `insert into scheduled_jobs (id, spec, max_instances, replace_existing, updated_at)
		values (?, ?, ?, ?, ?)
		on conflict (id) do nothing`

		res, err := d.db.ExecContext(ctx, query,
			def.ID, def.Spec, def.MaxInstances, def.ReplaceExisting, now)
		if err != nil {
			return fmt.Errorf("insert job: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("job %s: %w", def.ID, ErrJobExists)
		}

		return nil
	}

	query := `insert into scheduled_jobs (id, spec, max_instances, replace_existing, updated_at)
	values (?, ?, ?, ?, ?)
	on conflict (id) do update
	set spec = excluded.spec,
	max_instances = excluded.max_instances,
	replace_existing = excluded.replace_existing,
	updated_at = excluded.updated_at`

	if _, err := d.db.ExecContext(ctx, query,
		def.ID, def.Spec, def.MaxInstances, def.ReplaceExisting, now); err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}

	return nil
}

func (d *Database) GetJob(ctx context.Context, jobID string) (*StoredJob, error) {
	query := `select id, spec, max_instances, replace_existing, updated_at
	from scheduled_jobs
	where id = ?`

	var (
		j         StoredJob
		updatedAt int64
	)

	err := d.db.QueryRowContext(ctx, query, jobID).Scan(
		&j.ID, &j.Spec, &j.MaxInstances, &j.ReplaceExisting, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}

	j.UpdatedAt = fromMicros(updatedAt)

	return &j, nil
}

func (d *Database) ListJobs(ctx context.Context) ([]StoredJob, error) {
	query := `select id, spec, max_instances, replace_existing, updated_at
	from scheduled_jobs
	order by id`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "ListJobs")

	var jobs []StoredJob
	for rows.Next() {
		var (
			j         StoredJob
			updatedAt int64
		)

		if err = rows.Scan(&j.ID, &j.Spec, &j.MaxInstances, &j.ReplaceExisting, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		j.UpdatedAt = fromMicros(updatedAt)
		jobs = append(jobs, j)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return jobs, nil
}

func (d *Database) InsertJobExecution(ctx context.Context, exec *domain.JobExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}

	query := `insert into job_executions (id, job_id, status, fired_at, duration_us, error)
	values (?, ?, ?, ?, ?, ?)`

	_, err := d.db.ExecContext(ctx, query,
		exec.ID,
		exec.JobID,
		string(exec.Status),
		toMicros(exec.FiredAt),
		exec.Duration.Microseconds(),
		exec.Error)
	if err != nil {
		return fmt.Errorf("insert job execution: %w", err)
	}

	return nil
}

func (d *Database) ListJobExecutions(ctx context.Context, jobID string) ([]domain.JobExecution, error) {
	query := `select id, job_id, status, fired_at, duration_us, error
	from job_executions
	where job_id = ?
	order by fired_at`

	rows, err := d.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer d.closeRows(ctx, rows, "ListJobExecutions")

	var execs []domain.JobExecution
	for rows.Next() {
		var (
			e          domain.JobExecution
			status     string
			firedAt    int64
			durationUs int64
		)

		if err = rows.Scan(&e.ID, &e.JobID, &status, &firedAt, &durationUs, &e.Error); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		e.Status = domain.ExecutionStatus(status)
		e.FiredAt = fromMicros(firedAt)
		e.Duration = time.Duration(durationUs) * time.Microsecond
		execs = append(execs, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return execs, nil
}

// DeleteJobExecutionsBefore removes execution records fired strictly before cutoff.
func (d *Database) DeleteJobExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := "delete from job_executions where fired_at < ?"

	res, err := d.db.ExecContext(ctx, query, toMicros(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete job executions: %w", err)
	}

	return res.RowsAffected()
}
