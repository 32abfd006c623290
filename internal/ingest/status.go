package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river/rivertype"
)

// Ingestion status values exposed by the API.
const (
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusRetrying = "retrying"
	StatusIndexed  = "indexed"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// IngestStatus is the externally visible state of one ingestion job.
type IngestStatus struct {
	JobID       int64      `json:"job_id"`
	PhotoID     string     `json:"photo_id"`
	SessionID   string     `json:"session_id"`
	State       string     `json:"state"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	Errors      []string   `json:"errors"`
	CreatedAt   time.Time  `json:"created_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// StatusFromState maps a queue state to an ingestion status.
func StatusFromState(state rivertype.JobState) string {
	switch state {
	case rivertype.JobStateRunning:
		return StatusRunning
	case rivertype.JobStateRetryable:
		return StatusRetrying
	case rivertype.JobStateCompleted:
		return StatusIndexed
	case rivertype.JobStateCancelled:
		return StatusRejected
	case rivertype.JobStateDiscarded:
		return StatusFailed
	default:
		// available, scheduled, pending
		return StatusQueued
	}
}

// JobStatus looks up an ingestion job by id.
func (s *Submitter) JobStatus(ctx context.Context, jobID int64) (IngestStatus, error) {
	job, err := s.jobs.JobGet(ctx, jobID)
	if errors.Is(err, rivertype.ErrNotFound) {
		return IngestStatus{}, fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
	}
	if err != nil {
		return IngestStatus{}, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}
	if job.Kind != ingestKind {
		return IngestStatus{}, fmt.Errorf("%w: %d", ErrJobNotFound, jobID)
	}
	return statusFromJob(job), nil
}

func statusFromJob(job *rivertype.JobRow) IngestStatus {
	st := IngestStatus{
		JobID:       job.ID,
		State:       StatusFromState(job.State),
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		Errors:      make([]string, 0, len(job.Errors)),
		CreatedAt:   job.CreatedAt,
		FinalizedAt: job.FinalizedAt,
	}

	var args IngestArgs
	if err := json.Unmarshal(job.EncodedArgs, &args); err == nil {
		st.PhotoID = args.PhotoID
		st.SessionID = args.SessionID
	}

	for _, e := range job.Errors {
		st.Errors = append(st.Errors, e.Error)
	}
	return st
}
