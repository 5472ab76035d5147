// Package app assembles the portal's background process: content store,
// post cache, notification queue and recurring jobs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"newsportal/internal/cache"
	"newsportal/internal/config"
	"newsportal/internal/content"
	"newsportal/internal/database"
	"newsportal/internal/digest"
	"newsportal/internal/domain"
	"newsportal/internal/mail"
	"newsportal/internal/notify"
	"newsportal/internal/queue"
	"newsportal/internal/ratelimiter"
	"newsportal/internal/scheduler"
)

type App struct {
	DB        *database.Database
	Content   *content.Service
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
	Digest    *digest.Builder

	cfg config.Config
	log *slog.Logger
}

func New(ctx context.Context, cfg config.Config, provider mail.Provider, log *slog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	overrides, err := cfg.JobOverrides()
	if err != nil {
		return nil, err
	}

	db, err := database.New(ctx, cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}

	renderer, err := notify.NewRenderer()
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}

	q := queue.New(db, queue.Config{
		Workers:     cfg.Workers,
		MaxAttempts: cfg.TaskMaxAttempts,
		Lease:       cfg.TaskLease,
		Poll:        cfg.TaskPoll,
	}, log)

	limiter := ratelimiter.New(provider, cfg.RecipientRate, log)
	q.Handle(notify.EmailTaskKind, notify.DeliveryHandler(limiter, log))

	dispatcher := notify.NewDispatcher(q, renderer, cfg.SiteURL, log)
	postCache := cache.NewPostCache(cache.NewLRU(cfg.CacheMaxEntries), log)

	a := &App{
		DB:        db,
		Content:   content.New(db, postCache, log, notify.NewNewPostHook(db, dispatcher, log)),
		Queue:     q,
		Scheduler: scheduler.New(db, loc, cfg.ExecutionMaxAge, log),
		Digest:    digest.New(db, dispatcher, loc, log),
		cfg:       cfg,
		log:       log,
	}

	if err = a.registerJobs(ctx, overrides); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	return a, nil
}

func (a *App) registerJobs(ctx context.Context, overrides map[string]domain.JobDefinition) error {
	jobs := []struct {
		def domain.JobDefinition
		fn  scheduler.JobFunc
	}{
		{
			domain.JobDefinition{
				ID:              digest.JobID,
				Spec:            a.cfg.DigestSpec,
				MaxInstances:    1,
				ReplaceExisting: true,
			},
			a.Digest.Run,
		},
		{
			domain.JobDefinition{
				ID:              scheduler.PruneJobID,
				Spec:            a.cfg.PruneSpec,
				MaxInstances:    1,
				ReplaceExisting: true,
			},
			a.Scheduler.PruneJob,
		},
	}

	for _, job := range jobs {
		def := config.ApplyOverride(job.def, overrides)

		if err := a.Scheduler.Register(ctx, def, job.fn); err != nil {
			return fmt.Errorf("register job: %w", err)
		}
	}

	return nil
}

// Run starts queue workers and the scheduler and blocks until ctx is done.
// Tasks left pending at shutdown stay in the store for the next run.
func (a *App) Run(ctx context.Context) error {
	a.Queue.Start(ctx)
	defer a.Queue.Stop()

	if err := a.Scheduler.Run(ctx); err != nil {
		return fmt.Errorf("run scheduler: %w", err)
	}

	return nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
