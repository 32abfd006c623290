// Package sqlite implements the vector store on a local SQLite file for
// single-node deployments. Vectors are stored as little-endian float32 BLOBs
// and ranked in Go.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS face_embeddings (
	photo_id   TEXT    NOT NULL,
	session_id TEXT    NOT NULL,
	embedding  BLOB    NOT NULL,
	confidence REAL    NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (photo_id, session_id)
);
CREATE INDEX IF NOT EXISTS idx_face_embeddings_session
	ON face_embeddings (session_id, created_at, photo_id);
`

// Store is a SQLite-backed database.VectorStore.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database file at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing sqlite: %w", err)
	}
	return nil
}

// Upsert inserts the record or replaces the row of the same pair.
func (s *Store) Upsert(ctx context.Context, rec database.EmbeddingRecord) error {
	if err := database.ValidateRecord(rec); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO face_embeddings (photo_id, session_id, embedding, confidence, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (photo_id, session_id) DO UPDATE SET
			embedding = excluded.embedding,
			confidence = excluded.confidence,
			created_at = excluded.created_at
	`, rec.PhotoID, rec.SessionID, encodeEmbedding(rec.Embedding), rec.Confidence, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Get retrieves the record of a pair, returns nil if not found
func (s *Store) Get(ctx context.Context, photoID, sessionID string) (*database.EmbeddingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT photo_id, session_id, embedding, confidence, created_at
		FROM face_embeddings WHERE photo_id = ? AND session_id = ?
	`, photoID, sessionID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	return &rec, nil
}

// QueryBySession returns the session's records ordered by created_at, photo_id
func (s *Store) QueryBySession(ctx context.Context, sessionID string) ([]database.EmbeddingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT photo_id, session_id, embedding, confidence, created_at
		FROM face_embeddings WHERE session_id = ?
		ORDER BY created_at ASC, photo_id ASC
	`, sessionID)
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
func (s *Store) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM face_embeddings WHERE session_id = ?", sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// checksumBase splits created_at sums so neither part overflows int64.
const checksumBase = 1_000_000_007

// SessionStats returns the record count, latest ingestion time and created_at
// checksum of a session
func (s *Store) SessionStats(ctx context.Context, sessionID string) (database.SessionStats, error) {
	var count int
	var last sql.NullInt64
	var quot, rem int64
	// SQLite's SUM fails on integer overflow, so the nanosecond sum is split
	// into quotient and remainder sums and recombined with wrapping in Go.
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(created_at),
			COALESCE(SUM(created_at / ?), 0), COALESCE(SUM(created_at % ?), 0)
		FROM face_embeddings WHERE session_id = ?
	`, checksumBase, checksumBase, sessionID).Scan(&count, &last, &quot, &rem)
	if err != nil {
		return database.SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	stats := database.SessionStats{
		SessionID:  sessionID,
		PhotoCount: count,
		Checksum:   int64(uint64(quot)*checksumBase + uint64(rem)), //nolint:gosec // wrapping is intended
	}
	if last.Valid {
		t := time.Unix(0, last.Int64).UTC()
		stats.LastIndexed = &t
	}
	return stats, nil
}

// DeleteBySession removes all records of a session
func (s *Store) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM face_embeddings WHERE session_id = ?", sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session embeddings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// DeleteByPhoto removes the record of one pair
func (s *Store) DeleteByPhoto(ctx context.Context, photoID, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM face_embeddings WHERE photo_id = ? AND session_id = ?", photoID, sessionID)
	if err != nil {
		return false, fmt.Errorf("delete embedding: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (database.EmbeddingRecord, error) {
	var rec database.EmbeddingRecord
	var blob []byte
	var created int64
	if err := row.Scan(&rec.PhotoID, &rec.SessionID, &blob, &rec.Confidence, &created); err != nil {
		return database.EmbeddingRecord{}, err
	}
	emb, err := decodeEmbedding(blob)
	if err != nil {
		return database.EmbeddingRecord{}, err
	}
	rec.Embedding = emb
	rec.CreatedAt = time.Unix(0, created).UTC()
	return rec, nil
}

// encodeEmbedding writes the vector as little-endian IEEE 754 float32 values.
func encodeEmbedding(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}

var _ database.VectorStore = (*Store)(nil)
