package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
)

// similarityExpr is the inner product of the stored vector and $2, clamped to
// [0, 1]. pgvector's <#> operator returns the negative inner product.
const similarityExpr = `GREATEST(LEAST(-(embedding <#> $2), 1), 0)`

// VectorRepository provides PostgreSQL-backed storage of embedding records
type VectorRepository struct {
	pool *Pool
}

// NewVectorRepository creates a new PostgreSQL vector repository
func NewVectorRepository(pool *Pool) *VectorRepository {
	return &VectorRepository{pool: pool}
}

// Upsert inserts the record or atomically replaces the row of the same
// (photo_id, session_id). A single statement means concurrent re-ingestions
// of one pair converge on one row.
func (r *VectorRepository) Upsert(ctx context.Context, rec database.EmbeddingRecord) error {
	if err := database.ValidateRecord(rec); err != nil {
		return err
	}

	query := `
		INSERT INTO face_embeddings (photo_id, session_id, embedding, confidence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (photo_id, session_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			confidence = EXCLUDED.confidence,
			created_at = NOW()
	`

	_, err := r.pool.pool.Exec(ctx, query, rec.PhotoID, rec.SessionID, pgvector.NewVector(rec.Embedding), rec.Confidence)
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Get retrieves the record of a (photo, session) pair, returns nil if not found
func (r *VectorRepository) Get(ctx context.Context, photoID, sessionID string) (*database.EmbeddingRecord, error) {
	query := `
		SELECT photo_id, session_id, embedding, confidence, created_at
		FROM face_embeddings
		WHERE photo_id = $1 AND session_id = $2
	`

	rec, err := scanRecord(r.pool.pool.QueryRow(ctx, query, photoID, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	return &rec, nil
}

// QueryBySession returns every record of a session ordered by created_at, photo_id
func (r *VectorRepository) QueryBySession(ctx context.Context, sessionID string) ([]database.EmbeddingRecord, error) {
	query := `
		SELECT photo_id, session_id, embedding, confidence, created_at
		FROM face_embeddings
		WHERE session_id = $1
		ORDER BY created_at ASC, photo_id ASC
	`

	rows, err := r.pool.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session embeddings: %w", err)
	}
	defer rows.Close()

	records := make([]database.EmbeddingRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embeddings: %w", err)
	}
	return records, nil
}

// CountBySession returns the number of records in a session
func (r *VectorRepository) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := r.pool.pool.QueryRow(ctx, "SELECT COUNT(*) FROM face_embeddings WHERE session_id = $1", sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return count, nil
}

// SessionStats returns the record count, latest ingestion time and created_at
// checksum of a session
func (r *VectorRepository) SessionStats(ctx context.Context, sessionID string) (database.SessionStats, error) {
	stats := database.SessionStats{SessionID: sessionID}
	// SUM over bigint is numeric, so the modulo keeps the checksum in range
	// without losing the contribution of any row.
	err := r.pool.pool.QueryRow(ctx, `
		SELECT COUNT(*), MAX(created_at),
			COALESCE(SUM((EXTRACT(EPOCH FROM created_at) * 1000000)::bigint) % 9223372036854775807, 0)::bigint
		FROM face_embeddings
		WHERE session_id = $1
	`, sessionID).Scan(&stats.PhotoCount, &stats.LastIndexed, &stats.Checksum)
	if err != nil {
		return database.SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

// SearchSession ranks the session inside PostgreSQL. Filtering, ordering and
// truncation follow database.RankRecords.
func (r *VectorRepository) SearchSession(ctx context.Context, sessionID string, probe []float32, threshold float64, limit int) ([]database.Match, error) {
	query := `
		SELECT photo_id, confidence, created_at, ` + similarityExpr + ` AS similarity
		FROM face_embeddings
		WHERE session_id = $1 AND ` + similarityExpr + ` >= $3
		ORDER BY similarity DESC, created_at ASC, photo_id ASC
		LIMIT $4
	`

	rows, err := r.pool.pool.Query(ctx, query, sessionID, pgvector.NewVector(probe), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("query similar embeddings: %w", err)
	}
	defer rows.Close()

	matches := make([]database.Match, 0)
	for rows.Next() {
		var m database.Match
		if err := rows.Scan(&m.PhotoID, &m.Confidence, &m.CreatedAt, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}

// MaxSimilarity returns the best similarity in the session, 0 for an empty session
func (r *VectorRepository) MaxSimilarity(ctx context.Context, sessionID string, probe []float32) (float64, error) {
	var best *float64
	err := r.pool.pool.QueryRow(ctx, `
		SELECT MAX(`+similarityExpr+`)
		FROM face_embeddings
		WHERE session_id = $1
	`, sessionID, pgvector.NewVector(probe)).Scan(&best)
	if err != nil {
		return 0, fmt.Errorf("max similarity: %w", err)
	}
	if best == nil {
		return 0, nil
	}
	return *best, nil
}

// DeleteBySession removes all records of a session
func (r *VectorRepository) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	tag, err := r.pool.pool.Exec(ctx, "DELETE FROM face_embeddings WHERE session_id = $1", sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session embeddings: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByPhoto removes the record of one (photo, session) pair
func (r *VectorRepository) DeleteByPhoto(ctx context.Context, photoID, sessionID string) (bool, error) {
	tag, err := r.pool.pool.Exec(ctx, "DELETE FROM face_embeddings WHERE photo_id = $1 AND session_id = $2", photoID, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete embedding: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Ping checks that the database is reachable
func (r *VectorRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanRecord(row pgx.Row) (database.EmbeddingRecord, error) {
	var rec database.EmbeddingRecord
	var vec pgvector.Vector
	if err := row.Scan(&rec.PhotoID, &rec.SessionID, &vec, &rec.Confidence, &rec.CreatedAt); err != nil {
		return database.EmbeddingRecord{}, err //nolint:wrapcheck // callers wrap
	}
	rec.Embedding = vec.Slice()
	return rec, nil
}

var (
	_ database.VectorStore    = (*VectorRepository)(nil)
	_ database.VectorSearcher = (*VectorRepository)(nil)
)
