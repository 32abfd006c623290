package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
)

const queueDepthInterval = 15 * time.Second

// NewClient creates the River client on the vector store's pool. With a nil
// worker the client is insert-only and runs no queues.
func NewClient(pool *pgxpool.Pool, cfg *config.IngestConfig, worker *IngestWorker) (*river.Client[pgx.Tx], error) {
	riverCfg := &river.Config{
		MaxAttempts:  cfg.MaxAttempts,
		RetryPolicy:  NewRetryPolicy(cfg.BackoffBase, cfg.BackoffMax),
		ErrorHandler: &ErrorHandler{},
		JobTimeout:   cfg.TaskTimeLimit,
		Logger:       slog.Default(),
	}

	if worker != nil {
		workers := river.NewWorkers()
		if err := river.AddWorkerSafely(workers, worker); err != nil {
			return nil, fmt.Errorf("register ingest worker: %w", err)
		}
		riverCfg.Workers = workers
		riverCfg.Queues = map[string]river.QueueConfig{
			cfg.Queue: {MaxWorkers: max(cfg.Workers, 1)},
		}
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		return nil, fmt.Errorf("create River client: %w", err)
	}
	return client, nil
}

// Migrate applies River's queue schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create River migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("migrate River schema: %w", err)
	}
	for _, v := range res.Versions {
		slog.Info("applied queue migration", "version", v.Version, "name", v.Name)
	}
	return nil
}

// QueueDepthRecorder receives the number of waiting jobs.
type QueueDepthRecorder interface {
	SetIngestQueueDepth(ctx context.Context, depth int64)
}

// RunQueueDepthPoller periodically updates the ingest queue depth gauge until ctx is done.
func RunQueueDepthPoller(ctx context.Context, pool *pgxpool.Pool, queue string, recorder QueueDepthRecorder) {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()

	update := func() {
		var count int64

		err := pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM river_job WHERE queue = $1 AND state IN ($2, $3, $4)`,
			queue,
			rivertype.JobStateAvailable, rivertype.JobStateRetryable, rivertype.JobStateScheduled,
		).Scan(&count)
		if err != nil {
			slog.WarnContext(ctx, "ingest queue depth poll failed", "error", err)

			return
		}

		recorder.SetIngestQueueDepth(ctx, count)
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
