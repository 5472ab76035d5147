package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"newsportal/internal/domain"
)

const (
	DefaultWorkers     = 4
	DefaultMaxAttempts = 5
	DefaultLease       = 2 * time.Minute
	DefaultPoll        = time.Second
	DefaultBaseBackoff = 10 * time.Second
	DefaultMaxBackoff  = 30 * time.Minute
)

var (
	ErrNoHandler = errors.New("no handler for task kind")
	// ErrPermanent marks a failure that retrying cannot fix. Handlers wrap it
	// to have the task dead-lettered at once.
	ErrPermanent = errors.New("permanent task failure")
)

// Store persists tasks. Claimed tasks carry a lease; a task whose lease
// expires is handed out again, so handlers may run more than once.
type Store interface {
	EnqueueTask(ctx context.Context, task *domain.Task) error
	ClaimTask(ctx context.Context, now time.Time, lease time.Duration) (*domain.Task, error)
	CompleteTask(ctx context.Context, task *domain.Task) error
	RetryTask(ctx context.Context, task *domain.Task, runAt time.Time, lastError string) error
	BuryTask(ctx context.Context, task *domain.Task, lastError string) error
}

type Handler func(ctx context.Context, task *domain.Task) error

type Config struct {
	Workers     int
	MaxAttempts int
	Lease       time.Duration
	Poll        time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Lease <= 0 {
		c.Lease = DefaultLease
	}
	if c.Poll <= 0 {
		c.Poll = DefaultPoll
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}

	return c
}

type Queue struct {
	store    Store
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
	wake     chan struct{}
	mu       sync.RWMutex
	handlers map[string]Handler
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func New(store Store, cfg Config, log *slog.Logger) *Queue {
	return &Queue{
		store:    store,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		handlers: make(map[string]Handler),
	}
}

func (q *Queue) Handle(kind string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[kind] = handler
}

// Enqueue persists the payload as a new task and returns without waiting
// for it to run.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	task := &domain.Task{
		Kind:        kind,
		Payload:     data,
		MaxAttempts: q.cfg.MaxAttempts,
		RunAt:       q.now(),
	}

	if err = q.store.EnqueueTask(ctx, task); err != nil {
		return "", fmt.Errorf("enqueue task: %w", err)
	}

	select {
	case q.wake <- struct{}{}:
	default:
	}

	return task.ID, nil
}

func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)

	for i := range q.cfg.Workers {
		q.wg.Add(1)

		go func(workerID int) {
			defer q.wg.Done()
			q.work(ctx, workerID)
		}(i)
	}

	q.log.InfoContext(ctx, "Queue workers are started",
		"workers", q.cfg.Workers,
		"maxAttempts", q.cfg.MaxAttempts,
		"lease", q.cfg.Lease)
}

// Stop cancels the workers and waits for them. A task cut short keeps its
// lease and is redelivered after the lease expires.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}

	q.wg.Wait()
}

// Drain runs due tasks on the calling goroutine until none is left and
// returns how many were processed.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	processed := 0

	for {
		task, err := q.store.ClaimTask(ctx, q.now(), q.cfg.Lease)
		if err != nil {
			return processed, fmt.Errorf("claim task: %w", err)
		}
		if task == nil {
			return processed, nil
		}

		q.process(ctx, task)
		processed++
	}
}

func (q *Queue) work(ctx context.Context, workerID int) {
	timer := time.NewTimer(q.cfg.Poll)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		task, err := q.store.ClaimTask(ctx, q.now(), q.cfg.Lease)
		if err != nil && ctx.Err() == nil {
			q.log.ErrorContext(ctx, "Failed to claim task",
				"error", err,
				"workerID", workerID)
		}

		if task != nil {
			q.process(ctx, task)
			continue
		}

		timer.Reset(q.cfg.Poll)

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

func (q *Queue) process(ctx context.Context, task *domain.Task) {
	// Bookkeeping must land even if the worker is being stopped.
	storeCtx := context.WithoutCancel(ctx)

	err := q.run(ctx, task)
	if err != nil && ctx.Err() != nil {
		q.log.InfoContext(storeCtx, "Task is interrupted by shutdown, lease is kept",
			"error", err,
			"taskID", task.ID,
			"kind", task.Kind,
			"attempts", task.Attempts)

		return
	}

	if err == nil {
		if completeErr := q.store.CompleteTask(storeCtx, task); completeErr != nil {
			q.log.ErrorContext(ctx, "Failed to complete task",
				"error", completeErr,
				"taskID", task.ID,
				"kind", task.Kind)
		}

		return
	}

	if errors.Is(err, ErrNoHandler) || errors.Is(err, ErrPermanent) || task.Attempts >= task.MaxAttempts {
		q.log.ErrorContext(ctx, "Task is dead-lettered",
			"error", err,
			"taskID", task.ID,
			"kind", task.Kind,
			"attempts", task.Attempts)

		if buryErr := q.store.BuryTask(storeCtx, task, err.Error()); buryErr != nil {
			q.log.ErrorContext(ctx, "Failed to bury task",
				"error", buryErr,
				"taskID", task.ID)
		}

		return
	}

	delay := Backoff(task.Attempts, q.cfg.BaseBackoff, q.cfg.MaxBackoff)
	q.log.WarnContext(ctx, "Task failed, will retry",
		"error", err,
		"taskID", task.ID,
		"kind", task.Kind,
		"attempts", task.Attempts,
		"retryIn", delay)

	if retryErr := q.store.RetryTask(storeCtx, task, q.now().Add(delay), err.Error()); retryErr != nil {
		q.log.ErrorContext(ctx, "Failed to reschedule task",
			"error", retryErr,
			"taskID", task.ID)
	}
}

func (q *Queue) run(ctx context.Context, task *domain.Task) (err error) {
	q.mu.RLock()
	handler, ok := q.handlers[task.Kind]
	q.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, task.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(ctx, task)
}

// Backoff returns base * 2^(attempt-1), capped at limit.
func Backoff(attempt int, base time.Duration, limit time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}

	return min(delay, limit)
}
