package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newsportal/internal/database"
	"newsportal/internal/domain"

	"github.com/robfig/cron/v3"
)

const (
	PruneJobID             = "delete_old_job_executions"
	PruneSpec              = "0 0 * * mon"
	DefaultExecutionMaxAge = 604800 * time.Second
)

var ErrJobExists = database.ErrJobExists

type Store interface {
	SaveJob(ctx context.Context, def domain.JobDefinition, replace bool) error
	InsertJobExecution(ctx context.Context, exec *domain.JobExecution) error
	DeleteJobExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type JobFunc func(ctx context.Context) error

type job struct {
	def     domain.JobDefinition
	fn      JobFunc
	entryID cron.EntryID
}

func (j *job) maxInstances() int {
	if j.def.MaxInstances < 1 {
		return 1
	}

	return j.def.MaxInstances
}

// Scheduler fires registered jobs on cron triggers. Each job runs at most
// MaxInstances times concurrently; firings beyond that are skipped.
type Scheduler struct {
	mu      sync.Mutex
	ctx     context.Context
	cron    *cron.Cron
	jobs    map[string]*job
	running map[string]int
	store   Store
	maxAge  time.Duration
	now     func() time.Time
	log     *slog.Logger
}

func New(store Store, loc *time.Location, maxAge time.Duration, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if maxAge <= 0 {
		maxAge = DefaultExecutionMaxAge
	}

	logger := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)

	return &Scheduler{
		ctx:     context.Background(),
		cron:    c,
		jobs:    make(map[string]*job),
		running: make(map[string]int),
		store:   store,
		maxAge:  maxAge,
		now:     time.Now,
		log:     log,
	}
}

// Register adds a job. A duplicate ID fails with ErrJobExists unless
// def.ReplaceExisting is set, in which case the previous definition is
// swapped out in one step.
func (s *Scheduler) Register(ctx context.Context, def domain.JobDefinition, fn JobFunc) error {
	if def.ID == "" {
		return fmt.Errorf("register job: empty id")
	}
	if fn == nil {
		return fmt.Errorf("register job %s: nil func", def.ID)
	}
	if _, err := cron.ParseStandard(def.Spec); err != nil {
		return fmt.Errorf("parse spec of job %s: %w", def.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.jobs[def.ID]
	if exists && !def.ReplaceExisting {
		return fmt.Errorf("register job %s: %w", def.ID, ErrJobExists)
	}

	if err := s.store.SaveJob(ctx, def, def.ReplaceExisting); err != nil {
		return fmt.Errorf("save job %s: %w", def.ID, err)
	}

	jobID := def.ID
	entryID, err := s.cron.AddFunc(def.Spec, func() { s.fire(jobID) })
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", def.ID, err)
	}

	if exists {
		s.cron.Remove(prev.entryID)
	}

	s.jobs[def.ID] = &job{
		def:     def,
		fn:      fn,
		entryID: entryID,
	}

	s.log.InfoContext(ctx, "Job is registered",
		"jobID", def.ID,
		"spec", def.Spec,
		"maxInstances", def.MaxInstances,
		"replaced", exists)

	return nil
}

// Start begins firing jobs. Jobs receive a context derived from ctx that is
// not cancelled with it, so in-flight executions run to completion.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()

	s.log.InfoContext(ctx, "Scheduler is started",
		"jobs", len(s.Jobs()))
}

// Stop prevents new firings and waits for running executions.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.log.Info("Scheduler is stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)

	<-ctx.Done()

	s.log.InfoContext(ctx, "Scheduler is shutting down",
		"cause", context.Cause(ctx))

	s.Stop()

	return nil
}

func (s *Scheduler) Jobs() []domain.JobDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	defs := make([]domain.JobDefinition, 0, len(s.jobs))
	for _, j := range s.jobs {
		defs = append(defs, j.def)
	}

	return defs
}

func (s *Scheduler) fire(jobID string) {
	firedAt := s.now()

	s.mu.Lock()
	ctx := s.ctx
	j, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}

	if s.running[jobID] >= j.maxInstances() {
		s.mu.Unlock()

		s.log.WarnContext(ctx, "Job firing is skipped, max instances reached",
			"jobID", jobID,
			"maxInstances", j.maxInstances())

		s.record(ctx, &domain.JobExecution{
			JobID:   jobID,
			Status:  domain.ExecutionSkipped,
			FiredAt: firedAt,
		})

		return
	}

	s.running[jobID]++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[jobID]--
		s.mu.Unlock()
	}()

	err := s.execute(ctx, j)

	exec := &domain.JobExecution{
		JobID:    jobID,
		Status:   domain.ExecutionExecuted,
		FiredAt:  firedAt,
		Duration: s.now().Sub(firedAt),
	}

	if err != nil {
		exec.Status = domain.ExecutionError
		exec.Error = err.Error()

		s.log.ErrorContext(ctx, "Job execution failed",
			"error", err,
			"jobID", jobID,
			"duration", exec.Duration)
	} else {
		s.log.InfoContext(ctx, "Job is executed",
			"jobID", jobID,
			"duration", exec.Duration)
	}

	s.record(ctx, exec)
}

func (s *Scheduler) execute(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.def.ID, r)
		}
	}()

	return j.fn(ctx)
}

func (s *Scheduler) record(ctx context.Context, exec *domain.JobExecution) {
	if err := s.store.InsertJobExecution(ctx, exec); err != nil {
		s.log.ErrorContext(ctx, "Failed to record job execution",
			"error", err,
			"jobID", exec.JobID,
			"status", exec.Status)
	}
}

// DeleteOldJobExecutions removes execution records fired more than maxAge ago.
func (s *Scheduler) DeleteOldJobExecutions(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge)

	deleted, err := s.store.DeleteJobExecutionsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete job executions before %s: %w", cutoff, err)
	}

	s.log.InfoContext(ctx, "Old job executions are deleted",
		"deleted", deleted,
		"maxAge", maxAge)

	return deleted, nil
}

// PruneJob is the JobFunc for PruneJobID using the configured retention.
func (s *Scheduler) PruneJob(ctx context.Context) error {
	_, err := s.DeleteOldJobExecutions(ctx, s.maxAge)
	return err
}
