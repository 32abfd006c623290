package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// RetryPolicy schedules retries with capped exponential backoff:
// base * 2^(attempt-1), at most max.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration

	now func() time.Time
}

// NewRetryPolicy creates a policy with the given base and ceiling.
func NewRetryPolicy(base, ceiling time.Duration) *RetryPolicy {
	return &RetryPolicy{Base: base, Max: ceiling, now: time.Now}
}

// Backoff returns the delay before the retry following attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max || d <= 0 {
			return p.Max
		}
	}
	return min(d, p.Max)
}

// NextRetry implements river.ClientRetryPolicy. job.Attempt is the attempt
// that just failed.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return now().Add(p.Backoff(job.Attempt))
}

var _ river.ClientRetryPolicy = (*RetryPolicy)(nil)

// ErrorHandler handles job errors and panics for logging.
type ErrorHandler struct{}

// HandleError is called when a job returns an error.
func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	level := slog.LevelWarn
	if job.Attempt >= job.MaxAttempts {
		level = slog.LevelError
	}
	slog.Log(ctx, level, "ingest job failed",
		"job_kind", job.Kind,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
		"error", err,
	)

	// Return nil to use default retry behavior
	return nil
}

// HandlePanic is called when a job panics.
func (h *ErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	slog.ErrorContext(ctx, "ingest job panicked",
		"job_kind", job.Kind,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"panic_value", panicVal,
		"stack_trace", trace,
	)

	// Return nil to use default behavior (mark as errored, will retry)
	return nil
}

var _ river.ErrorHandler = (*ErrorHandler)(nil)
