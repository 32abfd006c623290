package database

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidRecord is returned by Upsert for records missing a mandatory field
	ErrInvalidRecord = errors.New("invalid embedding record")
	// ErrDimensionMismatch is returned when a vector does not have the deployment dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// VectorReader provides read-only access to embedding records
type VectorReader interface {
	// Get retrieves the record for a (photo, session) pair, returns nil if not found
	Get(ctx context.Context, photoID, sessionID string) (*EmbeddingRecord, error)
	// QueryBySession returns every record of a session ordered by created_at, photo_id
	QueryBySession(ctx context.Context, sessionID string) ([]EmbeddingRecord, error)
	// CountBySession returns the number of records in a session
	CountBySession(ctx context.Context, sessionID string) (int, error)
	// SessionStats returns the record count and latest ingestion time of a session
	SessionStats(ctx context.Context, sessionID string) (SessionStats, error)
	// Ping checks that the backing store is reachable
	Ping(ctx context.Context) error
}

// VectorWriter provides write access to embedding records.
// It is used only by the ingestion pipeline and administrative cleanup.
type VectorWriter interface {
	// Upsert atomically inserts the record or replaces the one stored for the
	// same (photo_id, session_id)
	Upsert(ctx context.Context, record EmbeddingRecord) error
	// DeleteBySession removes all records of a session and returns how many were removed
	DeleteBySession(ctx context.Context, sessionID string) (int, error)
	// DeleteByPhoto removes the record of one (photo, session) pair
	DeleteByPhoto(ctx context.Context, photoID, sessionID string) (bool, error)
}

// VectorStore is the full record store
type VectorStore interface {
	VectorReader
	VectorWriter
}

// VectorSearcher is implemented by stores that rank inside the storage engine.
// Results must follow the same contract as RankRecords.
type VectorSearcher interface {
	// SearchSession returns matches with similarity >= threshold, sorted by
	// similarity desc, created_at asc, photo_id asc, truncated to limit
	SearchSession(ctx context.Context, sessionID string, probe []float32, threshold float64, limit int) ([]Match, error)
	// MaxSimilarity returns the best similarity in the session, 0 for an empty session
	MaxSimilarity(ctx context.Context, sessionID string, probe []float32) (float64, error)
}

// ValidateRecord checks the non-null invariants of a record before it is written.
func ValidateRecord(rec EmbeddingRecord) error {
	switch {
	case rec.PhotoID == "":
		return fmt.Errorf("%w: photo_id is required", ErrInvalidRecord)
	case rec.SessionID == "":
		return fmt.Errorf("%w: session_id is required", ErrInvalidRecord)
	case len(rec.Embedding) == 0:
		return fmt.Errorf("%w: embedding is required", ErrInvalidRecord)
	case math.IsNaN(rec.Confidence) || math.IsInf(rec.Confidence, 0):
		return fmt.Errorf("%w: confidence must be finite", ErrInvalidRecord)
	}
	return nil
}

// CheckDimension returns ErrDimensionMismatch when len(vec) != dim.
func CheckDimension(vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), dim)
	}
	return nil
}
