package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
	"github.com/aukanara2010-dot/facepass-sub001/internal/constants"
	"github.com/aukanara2010-dot/facepass-sub001/internal/extractor"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
)

// JobClient is the part of the River client used to enqueue and inspect jobs.
type JobClient interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error)
	JobGet(ctx context.Context, id int64) (*rivertype.JobRow, error)
}

// PairValidator checks sessions and, when configured, photo membership.
type PairValidator interface {
	ValidateSession(ctx context.Context, sessionID string) error
	ValidatePair(ctx context.Context, photoID, sessionID string) error
}

// BlobWriter stores uploaded images.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// IngestRequest asks for one photo to be indexed. Either Image or BlobKey
// must be set. An empty PhotoID is only allowed with Image, in which case a
// UUID is assigned.
type IngestRequest struct {
	PhotoID   string
	SessionID string
	BlobKey   string
	Image     []byte
}

// Accepted describes an enqueued ingestion.
type Accepted struct {
	JobID     int64
	PhotoID   string
	SessionID string
	BlobKey   string
	// Duplicate is set when a live job for the same pair already existed;
	// JobID is then that job's id.
	Duplicate bool
}

// BatchItem is one photo of a batch request.
type BatchItem struct {
	PhotoID string `json:"photo_id"`
	BlobKey string `json:"s3_key"`
}

// BatchAccepted summarizes a batch request.
type BatchAccepted struct {
	Accepted   int      `json:"accepted"`
	Duplicates int      `json:"duplicates"`
	Rejected   int      `json:"rejected"`
	Total      int      `json:"total"`
	Errors     []string `json:"errors"`
}

// Submitter validates ingestion requests and enqueues them.
type Submitter struct {
	jobs        JobClient
	validator   PairValidator
	blobs       BlobWriter
	queue       string
	maxAttempts int
	metrics     Metrics
}

// NewSubmitter creates a submitter. metrics may be nil.
func NewSubmitter(jobs JobClient, validator PairValidator, blobs BlobWriter, cfg *config.IngestConfig, metrics Metrics) *Submitter {
	return &Submitter{
		jobs:        jobs,
		validator:   validator,
		blobs:       blobs,
		queue:       cfg.Queue,
		maxAttempts: cfg.MaxAttempts,
		metrics:     metrics,
	}
}

// UploadKey is the blob key of an image uploaded through the API. Both ids
// must have passed metadata validation, which keeps the key under
// photos/{session}/.
func UploadKey(sessionID, photoID string) string {
	return path.Join(constants.UploadKeyPrefix, sessionID, photoID)
}

// Submit validates the request, stores the image when one is given and
// inserts the job. It returns before any extraction happens.
func (s *Submitter) Submit(ctx context.Context, req IngestRequest) (Accepted, error) {
	if req.PhotoID == "" && len(req.Image) > 0 {
		req.PhotoID = uuid.NewString()
	}
	if err := metadata.ValidatePhotoID(req.PhotoID); err != nil {
		return Accepted{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := metadata.ValidateSessionID(req.SessionID); err != nil {
		return Accepted{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if len(req.Image) == 0 && req.BlobKey == "" {
		return Accepted{}, fmt.Errorf("%w: either an image or a blob key is required", ErrInvalidInput)
	}

	if err := s.validator.ValidatePair(ctx, req.PhotoID, req.SessionID); err != nil {
		return Accepted{}, err
	}

	if len(req.Image) > 0 {
		contentType, err := extractor.ValidateImage(req.Image)
		if err != nil {
			return Accepted{}, err
		}
		if req.BlobKey == "" {
			req.BlobKey = UploadKey(req.SessionID, req.PhotoID)
		}
		if _, err := s.blobs.Put(ctx, req.BlobKey, req.Image, contentType); err != nil {
			return Accepted{}, fmt.Errorf("store upload: %w", err)
		}
	}

	args := IngestArgs{PhotoID: req.PhotoID, SessionID: req.SessionID, BlobKey: req.BlobKey}
	res, err := s.jobs.Insert(ctx, args, insertOpts(s.queue, s.maxAttempts))
	if err != nil {
		return Accepted{}, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	if !res.UniqueSkippedAsDuplicate && s.metrics != nil {
		s.metrics.RecordJobsEnqueued(ctx, 1)
	}

	return Accepted{
		JobID:     res.Job.ID,
		PhotoID:   req.PhotoID,
		SessionID: req.SessionID,
		BlobKey:   req.BlobKey,
		Duplicate: res.UniqueSkippedAsDuplicate,
	}, nil
}

// SubmitBatch enqueues photos already present in the blob store. An invalid
// session rejects the whole batch; invalid items are counted and reported,
// up to constants.MaxBatchErrors messages.
func (s *Submitter) SubmitBatch(ctx context.Context, sessionID string, items []BatchItem) (BatchAccepted, error) {
	if err := metadata.ValidateSessionID(sessionID); err != nil {
		return BatchAccepted{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if len(items) == 0 {
		return BatchAccepted{}, fmt.Errorf("%w: batch is empty", ErrInvalidInput)
	}
	if len(items) > constants.MaxBatchSize {
		return BatchAccepted{}, fmt.Errorf("%w: batch exceeds %d photos", ErrInvalidInput, constants.MaxBatchSize)
	}
	if err := s.validator.ValidateSession(ctx, sessionID); err != nil {
		return BatchAccepted{}, err
	}

	out := BatchAccepted{Total: len(items), Errors: []string{}}
	reject := func(msg string) {
		out.Rejected++
		if len(out.Errors) < constants.MaxBatchErrors {
			out.Errors = append(out.Errors, msg)
		}
	}

	opts := insertOpts(s.queue, s.maxAttempts)
	params := make([]river.InsertManyParams, 0, len(items))
	for i, item := range items {
		if err := metadata.ValidatePhotoID(item.PhotoID); err != nil {
			reject(fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		if item.BlobKey == "" {
			reject(fmt.Sprintf("item %d (%s): s3_key is required", i, item.PhotoID))
			continue
		}
		if err := s.validator.ValidatePair(ctx, item.PhotoID, sessionID); err != nil {
			if errors.Is(err, metadata.ErrPhotoNotFound) {
				reject(fmt.Sprintf("item %d (%s): %v", i, item.PhotoID, err))
				continue
			}
			return BatchAccepted{}, err
		}
		params = append(params, river.InsertManyParams{
			Args:       IngestArgs{PhotoID: item.PhotoID, SessionID: sessionID, BlobKey: item.BlobKey},
			InsertOpts: opts,
		})
	}

	if len(params) == 0 {
		return out, nil
	}

	results, err := s.jobs.InsertMany(ctx, params)
	if err != nil {
		return BatchAccepted{}, fmt.Errorf("%w: %w", ErrQueueUnavailable, err)
	}

	var inserted int64
	for _, r := range results {
		out.Accepted++
		if r.UniqueSkippedAsDuplicate {
			out.Duplicates++
		} else {
			inserted++
		}
	}
	if inserted > 0 && s.metrics != nil {
		s.metrics.RecordJobsEnqueued(ctx, inserted)
	}

	return out, nil
}
