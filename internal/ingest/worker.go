package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
)

// Metrics records ingestion metrics. *observability.FacepassMetrics
// implements it; nil disables recording.
type Metrics interface {
	RecordJobsEnqueued(ctx context.Context, count int64)
	RecordIngestOutcome(ctx context.Context, status string, duration time.Duration)
}

// SessionValidator reports whether a session accepts ingestion.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) error
}

// BlobReader fetches image bytes by key.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// IngestWorker runs the pipeline for one queued photo.
type IngestWorker struct {
	river.WorkerDefaults[IngestArgs]

	pipeline  *Pipeline
	blobs     BlobReader
	sessions  SessionValidator
	timeLimit time.Duration
	metrics   Metrics
}

// NewIngestWorker creates the worker. metrics may be nil when metrics are disabled.
func NewIngestWorker(pipeline *Pipeline, blobs BlobReader, sessions SessionValidator, cfg *config.IngestConfig, metrics Metrics) *IngestWorker {
	return &IngestWorker{
		pipeline:  pipeline,
		blobs:     blobs,
		sessions:  sessions,
		timeLimit: cfg.TaskTimeLimit,
		metrics:   metrics,
	}
}

// Timeout is the hard wall-clock ceiling of one attempt.
func (w *IngestWorker) Timeout(*river.Job[IngestArgs]) time.Duration {
	return w.timeLimit
}

// Outcome statuses of one attempt, also used as metric labels.
const (
	outcomeSuccess     = "success"
	outcomeRetry       = "retry"
	outcomeFailedFinal = "failed_final"
	outcomeNoFace      = "no_face"
	outcomeRejected    = "rejected"
	outcomeFatal       = "fatal"
)

// Work fetches the image and ingests it. Content and fatal failures cancel
// the job; anything else is returned so River retries it until the attempt
// cap, after which the job is discarded.
func (w *IngestWorker) Work(ctx context.Context, job *river.Job[IngestArgs]) error {
	start := time.Now()
	logger := slog.With(
		"photo_id", job.Args.PhotoID,
		"session_id", job.Args.SessionID,
		"job_id", job.ID,
		"attempt", job.Attempt,
	)

	outcome, err := w.process(ctx, job)
	if w.metrics != nil {
		w.metrics.RecordIngestOutcome(ctx, outcome, time.Since(start))
	}

	switch outcome {
	case outcomeSuccess:
		logger.InfoContext(ctx, "ingest: photo indexed", "duration_ms", time.Since(start).Milliseconds())
		return nil
	case outcomeRetry:
		logger.WarnContext(ctx, "ingest: attempt failed, will retry", "error", err)
		return err
	case outcomeFailedFinal:
		logger.ErrorContext(ctx, "ingest: failed (final attempt)", "error", err)
		return err
	case outcomeFatal:
		logger.ErrorContext(ctx, "ingest: fatal error", "error", err)
		return river.JobCancel(err)
	default:
		logger.InfoContext(ctx, "ingest: photo not indexable", "reason", outcome, "error", err)
		return river.JobCancel(err)
	}
}

// process runs one attempt and reports its outcome.
func (w *IngestWorker) process(ctx context.Context, job *river.Job[IngestArgs]) (string, error) {
	args := job.Args

	if err := w.sessions.ValidateSession(ctx, args.SessionID); err != nil {
		return w.classify(job, fmt.Errorf("validate session: %w", err))
	}

	if args.BlobKey == "" {
		return outcomeRejected, fmt.Errorf("%w: blob key is empty", ErrInvalidInput)
	}

	image, err := w.blobs.Get(ctx, args.BlobKey)
	if err != nil {
		// Every blob failure is retried, including a missing key.
		return w.retryOrFinal(job, fmt.Errorf("fetch blob %s: %w", args.BlobKey, err))
	}

	if _, err := w.pipeline.Ingest(ctx, args.PhotoID, args.SessionID, image); err != nil {
		return w.classify(job, err)
	}
	return outcomeSuccess, nil
}

func (w *IngestWorker) classify(job *river.Job[IngestArgs], err error) (string, error) {
	switch Classify(err) {
	case ClassContent:
		if errors.Is(err, ErrNoFaceDetected) {
			return outcomeNoFace, err
		}
		return outcomeRejected, err
	case ClassFatal:
		return outcomeFatal, err
	default:
		return w.retryOrFinal(job, err)
	}
}

func (w *IngestWorker) retryOrFinal(job *river.Job[IngestArgs], err error) (string, error) {
	if job.Attempt >= job.MaxAttempts {
		return outcomeFailedFinal, err
	}
	return outcomeRetry, err
}
