package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/extractor"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
)

// Pipeline extracts the embedding of one photo and upserts it. It holds no
// per-photo state and is safe for concurrent use.
type Pipeline struct {
	extractor      extractor.Extractor
	store          database.VectorWriter
	dim            int
	extractTimeout time.Duration
	writeTimeout   time.Duration
}

// NewPipeline creates a pipeline writing to store.
func NewPipeline(ext extractor.Extractor, store database.VectorWriter, cfg *config.Config) *Pipeline {
	return &Pipeline{
		extractor:      ext,
		store:          store,
		dim:            cfg.Embedding.Dim,
		extractTimeout: cfg.Extractor.Timeout,
		writeTimeout:   cfg.Ingest.StoreWriteTimeout,
	}
}

// Ingest runs extraction, the dimension check and the upsert. Re-running it
// for the same pair replaces the stored record.
func (p *Pipeline) Ingest(ctx context.Context, photoID, sessionID string, image []byte) (database.EmbeddingRecord, error) {
	if err := metadata.ValidatePhotoID(photoID); err != nil {
		return database.EmbeddingRecord{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := metadata.ValidateSessionID(sessionID); err != nil {
		return database.EmbeddingRecord{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if len(image) == 0 {
		return database.EmbeddingRecord{}, fmt.Errorf("%w: image is empty", ErrInvalidInput)
	}

	res, err := p.extract(ctx, image)
	if err != nil {
		return database.EmbeddingRecord{}, err
	}

	if err := database.CheckDimension(res.Embedding, p.dim); err != nil {
		slog.ErrorContext(ctx, "extractor returned embedding of unexpected dimension",
			"photo_id", photoID,
			"session_id", sessionID,
			"got_dim", len(res.Embedding),
			"want_dim", p.dim,
		)
		return database.EmbeddingRecord{}, err
	}

	rec := database.EmbeddingRecord{
		PhotoID:    photoID,
		SessionID:  sessionID,
		Embedding:  res.Embedding,
		Confidence: res.Confidence,
	}

	wctx, cancel := p.withTimeout(ctx, p.writeTimeout)
	defer cancel()

	if err := p.store.Upsert(wctx, rec); err != nil {
		if errors.Is(err, database.ErrInvalidRecord) {
			return database.EmbeddingRecord{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return database.EmbeddingRecord{}, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	return rec, nil
}

func (p *Pipeline) extract(ctx context.Context, image []byte) (extractor.Result, error) {
	ectx, cancel := p.withTimeout(ctx, p.extractTimeout)
	defer cancel()

	res, err := p.extractor.Extract(ectx, image)
	switch {
	case err == nil:
		return res, nil
	case errors.Is(err, ErrNoFaceDetected), errors.Is(err, ErrInvalidImage), errors.Is(err, ErrExtractionFailed):
		return extractor.Result{}, err
	default:
		// Deadline and transport errors from other Extractor implementations.
		return extractor.Result{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
}

func (p *Pipeline) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
