// Package ingest turns photos into stored face embeddings. The synchronous
// Pipeline does one extraction and upsert; the River worker around it owns
// retries, time limits and terminal job states.
package ingest

import (
	"errors"

	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/extractor"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
)

var (
	// ErrInvalidInput is returned for missing or malformed ids and empty images
	ErrInvalidInput = errors.New("invalid ingestion input")
	// ErrStoreWrite is returned when the upsert fails or times out
	ErrStoreWrite = errors.New("vector store write failed")
	// ErrQueueUnavailable is returned when a job cannot be inserted
	ErrQueueUnavailable = errors.New("ingestion queue unavailable")
	// ErrJobNotFound is returned by JobStatus for unknown job ids
	ErrJobNotFound = errors.New("ingestion job not found")

	// Re-exported so callers can classify without importing the lower layers.
	ErrNoFaceDetected    = extractor.ErrNoFaceDetected
	ErrExtractionFailed  = extractor.ErrExtractionFailed
	ErrInvalidImage      = extractor.ErrInvalidImage
	ErrDimensionMismatch = database.ErrDimensionMismatch
)

// Class tells the worker what to do with a failed ingestion.
type Class int

const (
	// ClassRetryable failures are transient and retried with backoff
	ClassRetryable Class = iota
	// ClassContent failures are properties of the input and never retried
	ClassContent
	// ClassFatal failures are configuration faults, never retried
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassContent:
		return "content"
	case ClassFatal:
		return "fatal"
	default:
		return "retryable"
	}
}

// Classify maps an ingestion error to its class. Unknown errors are retryable.
func Classify(err error) Class {
	switch {
	case errors.Is(err, ErrDimensionMismatch):
		return ClassFatal
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNoFaceDetected),
		errors.Is(err, ErrInvalidImage),
		errors.Is(err, database.ErrInvalidRecord),
		errors.Is(err, metadata.ErrInvalidID),
		errors.Is(err, metadata.ErrSessionNotFound),
		errors.Is(err, metadata.ErrSessionInactive),
		errors.Is(err, metadata.ErrPhotoNotFound):
		return ClassContent
	default:
		return ClassRetryable
	}
}
