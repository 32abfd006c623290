// Package search ranks a session's indexed faces against a probe embedding.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/extractor"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
)

var (
	// ErrInvalidThreshold is returned for thresholds outside [0, 1]
	ErrInvalidThreshold = errors.New("threshold must be between 0 and 1")
	// ErrInvalidLimit is returned for negative limits or limits above the configured maximum
	ErrInvalidLimit = errors.New("invalid limit")
	// ErrStoreUnavailable wraps failures of the vector store
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrDimensionMismatch is returned for probes of the wrong width
	ErrDimensionMismatch = database.ErrDimensionMismatch
)

// Search outcomes, also used as metric labels.
const (
	outcomeSuccess  = "success"
	outcomeNoFace   = "no_face"
	outcomeInvalid  = "invalid"
	outcomeNotFound = "not_found"
	outcomeInactive = "inactive"
	outcomeError    = "error"
)

// SessionValidator reports whether a session is known and searchable.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) error
}

// Metrics records search metrics. *observability.FacepassMetrics implements it.
type Metrics interface {
	RecordSearch(ctx context.Context, outcome string, duration time.Duration)
}

// Request is one similarity query. A nil Threshold and a zero Limit select
// the configured defaults.
type Request struct {
	SessionID string
	Probe     []float32
	Threshold *float64
	Limit     int
}

// Result is the ranked answer to a Request.
type Result struct {
	SessionID     string           `json:"session_id"`
	Matches       []database.Match `json:"matches"`
	IndexedPhotos int              `json:"indexed_photos"`
	// MaxSimilarity is the best similarity in the whole session, including
	// photos below the threshold.
	MaxSimilarity float64 `json:"max_similarity"`
	Threshold     float64 `json:"threshold"`
	Limit         int     `json:"limit"`
	// NoFace is set by SearchImage when the selfie has no usable face.
	NoFace bool `json:"no_face"`
}

// ranker scores a session against a probe. Implementations must agree with
// database.RankRecords.
type ranker interface {
	rank(ctx context.Context, sessionID string, probe []float32, threshold float64, limit int) ([]database.Match, float64, error)
}

// Engine answers similarity queries. It never writes to the store.
type Engine struct {
	reader    database.VectorReader
	ranker    ranker
	index     *database.SessionIndex
	sessions  SessionValidator
	extractor extractor.Extractor
	metrics   Metrics

	dim              int
	defaultThreshold float64
	defaultLimit     int
	maxLimit         int
	extractTimeout   time.Duration
}

// NewEngine creates an engine over reader. With cfg.Search.Index set to
// "hnsw" queries go through an in-process HNSW index; otherwise stores that
// implement database.VectorSearcher rank in the database and the rest are
// ranked exactly in memory. ext and metrics may be nil.
func NewEngine(reader database.VectorReader, sessions SessionValidator, ext extractor.Extractor, cfg *config.Config, metrics Metrics) (*Engine, error) {
	e := &Engine{
		reader:           reader,
		sessions:         sessions,
		extractor:        ext,
		metrics:          metrics,
		dim:              cfg.Embedding.Dim,
		defaultThreshold: cfg.Search.DefaultThreshold,
		defaultLimit:     cfg.Search.DefaultLimit,
		maxLimit:         cfg.Search.MaxLimit,
		extractTimeout:   cfg.Extractor.Timeout,
	}

	switch {
	case cfg.Search.Index == "hnsw":
		index, err := database.NewSessionIndex(reader, cfg.Search.HNSWExactBelow, cfg.Search.HNSWMaxSessions)
		if err != nil {
			return nil, err
		}
		e.index = index
		e.ranker = indexRanker{index: index}
	default:
		if s, ok := reader.(database.VectorSearcher); ok {
			e.ranker = storeRanker{searcher: s}
		} else {
			e.ranker = exactRanker{reader: reader}
		}
	}
	return e, nil
}

// Search validates the request and the session, then ranks the session.
func (e *Engine) Search(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, err := e.search(ctx, req)
	e.record(ctx, start, res, err)
	return res, err
}

// SearchImage extracts the face embedding of a selfie and searches with it.
// A selfie without a face yields an empty result with NoFace set.
func (e *Engine) SearchImage(ctx context.Context, sessionID string, image []byte, threshold *float64, limit int) (Result, error) {
	start := time.Now()
	res, err := e.searchImage(ctx, sessionID, image, threshold, limit)
	e.record(ctx, start, res, err)
	return res, err
}

// Invalidate drops any cached index state of a session.
func (e *Engine) Invalidate(sessionID string) {
	if e.index != nil {
		e.index.Invalidate(sessionID)
	}
}

func (e *Engine) searchImage(ctx context.Context, sessionID string, image []byte, threshold *float64, limit int) (Result, error) {
	if e.extractor == nil {
		return Result{}, fmt.Errorf("%w: no extractor configured", extractor.ErrExtractionFailed)
	}

	res, err := e.prepare(ctx, Request{SessionID: sessionID, Threshold: threshold, Limit: limit})
	if err != nil {
		return Result{}, err
	}
	if _, err := extractor.ValidateImage(image); err != nil {
		return Result{}, err
	}

	ectx, cancel := context.WithTimeout(ctx, e.extractTimeout)
	defer cancel()
	face, err := e.extractor.Extract(ectx, image)
	if errors.Is(err, extractor.ErrNoFaceDetected) {
		res.NoFace = true
		return res, nil
	}
	if err != nil {
		return Result{}, err
	}
	if err := database.CheckDimension(face.Embedding, e.dim); err != nil {
		// Misconfigured extractor, not a client error.
		slog.ErrorContext(ctx, "extractor returned embedding of unexpected dimension",
			"got_dim", len(face.Embedding), "want_dim", e.dim)
		return Result{}, fmt.Errorf("%w: %v", extractor.ErrExtractionFailed, err)
	}

	return e.rank(ctx, res, face.Embedding)
}

func (e *Engine) search(ctx context.Context, req Request) (Result, error) {
	if err := database.CheckDimension(req.Probe, e.dim); err != nil {
		return Result{}, err
	}
	res, err := e.prepare(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return e.rank(ctx, res, req.Probe)
}

// prepare resolves defaults, validates parameters and the session, and
// counts the session's records.
func (e *Engine) prepare(ctx context.Context, req Request) (Result, error) {
	threshold := e.defaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, threshold)
	}

	limit := req.Limit
	if limit == 0 {
		limit = e.defaultLimit
	}
	if limit < 1 || limit > e.maxLimit {
		return Result{}, fmt.Errorf("%w: must be between 1 and %d", ErrInvalidLimit, e.maxLimit)
	}

	if err := metadata.ValidateSessionID(req.SessionID); err != nil {
		return Result{}, err
	}
	if err := e.sessions.ValidateSession(ctx, req.SessionID); err != nil {
		return Result{}, err
	}

	count, err := e.reader.CountBySession(ctx, req.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return Result{
		SessionID:     req.SessionID,
		Matches:       []database.Match{},
		IndexedPhotos: count,
		Threshold:     threshold,
		Limit:         limit,
	}, nil
}

func (e *Engine) rank(ctx context.Context, res Result, probe []float32) (Result, error) {
	if res.IndexedPhotos == 0 {
		return res, nil
	}
	matches, best, err := e.ranker.rank(ctx, res.SessionID, probe, res.Threshold, res.Limit)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if matches == nil {
		matches = []database.Match{}
	}
	res.Matches = matches
	res.MaxSimilarity = best
	return res, nil
}

func (e *Engine) record(ctx context.Context, start time.Time, res Result, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordSearch(ctx, outcomeOf(res, err), time.Since(start))
}

func outcomeOf(res Result, err error) string {
	switch {
	case err == nil && res.NoFace:
		return outcomeNoFace
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, metadata.ErrSessionNotFound):
		return outcomeNotFound
	case errors.Is(err, metadata.ErrSessionInactive):
		return outcomeInactive
	case IsInvalid(err):
		return outcomeInvalid
	default:
		return outcomeError
	}
}

// IsInvalid reports whether err is caused by the request rather than by a
// dependency.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidThreshold) ||
		errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, metadata.ErrInvalidID) ||
		errors.Is(err, extractor.ErrInvalidImage)
}
