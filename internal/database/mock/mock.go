// Package mock provides an in-memory implementation of the vector store for
// tests and single-process development runs.
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
)

type recordKey struct {
	photoID   string
	sessionID string
}

// VectorStore is a mutex-guarded map implementing database.VectorStore.
type VectorStore struct {
	mu      sync.RWMutex
	records map[recordKey]database.EmbeddingRecord

	// Now stamps CreatedAt on upsert; tests replace it to control ordering
	Now func() time.Time

	// Error injection, read under mu
	UpsertError  error
	QueryError   error
	StatsError   error
	DeleteError  error
	PingError    error
	UpsertCalls  int
	QueryCalls   int
	failUpserts  int
	upsertFailer error
}

// NewVectorStore creates an empty store.
func NewVectorStore() *VectorStore {
	return &VectorStore{
		records: make(map[recordKey]database.EmbeddingRecord),
		Now:     time.Now,
	}
}

// FailUpserts makes the next n upserts fail with err before succeeding again.
func (m *VectorStore) FailUpserts(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failUpserts = n
	m.upsertFailer = err
}

// SetQueryError changes QueryError while other goroutines may be querying.
func (m *VectorStore) SetQueryError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryError = err
}

// Put stores a record as-is, keeping its CreatedAt. Used to seed tests.
func (m *VectorStore) Put(rec database.EmbeddingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Embedding = slices.Clone(rec.Embedding)
	m.records[recordKey{rec.PhotoID, rec.SessionID}] = rec
}

// Len returns the number of stored records across all sessions.
func (m *VectorStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Upsert inserts or replaces the record of a (photo, session) pair.
func (m *VectorStore) Upsert(ctx context.Context, rec database.EmbeddingRecord) error {
	if err := database.ValidateRecord(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertError != nil {
		return m.UpsertError
	}
	if m.failUpserts > 0 {
		m.failUpserts--
		return m.upsertFailer
	}

	rec.Embedding = slices.Clone(rec.Embedding)
	rec.CreatedAt = m.Now()
	m.records[recordKey{rec.PhotoID, rec.SessionID}] = rec
	return nil
}

// Get retrieves the record for a pair, returns nil if not found
func (m *VectorStore) Get(ctx context.Context, photoID, sessionID string) (*database.EmbeddingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.QueryError != nil {
		return nil, m.QueryError
	}
	rec, ok := m.records[recordKey{photoID, sessionID}]
	if !ok {
		return nil, nil
	}
	rec.Embedding = slices.Clone(rec.Embedding)
	return &rec, nil
}

// QueryBySession returns the session's records ordered by created_at, photo_id.
func (m *VectorStore) QueryBySession(ctx context.Context, sessionID string) ([]database.EmbeddingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryCalls++
	if m.QueryError != nil {
		return nil, m.QueryError
	}

	out := make([]database.EmbeddingRecord, 0)
	for k, rec := range m.records {
		if k.sessionID != sessionID {
			continue
		}
		rec.Embedding = slices.Clone(rec.Embedding)
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b database.EmbeddingRecord) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.PhotoID, b.PhotoID)
	})
	return out, nil
}

// CountBySession returns the number of records in a session
func (m *VectorStore) CountBySession(ctx context.Context, sessionID string) (int, error) {
	stats, err := m.SessionStats(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return stats.PhotoCount, nil
}

// SessionStats returns the record count, latest ingestion time and created_at
// checksum of a session
func (m *VectorStore) SessionStats(ctx context.Context, sessionID string) (database.SessionStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.StatsError != nil {
		return database.SessionStats{}, m.StatsError
	}

	stats := database.SessionStats{SessionID: sessionID}
	for k, rec := range m.records {
		if k.sessionID != sessionID {
			continue
		}
		stats.PhotoCount++
		stats.Checksum += rec.CreatedAt.UnixNano()
		if stats.LastIndexed == nil || rec.CreatedAt.After(*stats.LastIndexed) {
			t := rec.CreatedAt
			stats.LastIndexed = &t
		}
	}
	return stats, nil
}

// DeleteBySession removes all records of a session
func (m *VectorStore) DeleteBySession(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	removed := 0
	for k := range m.records {
		if k.sessionID == sessionID {
			delete(m.records, k)
			removed++
		}
	}
	return removed, nil
}

// DeleteByPhoto removes the record of one pair
func (m *VectorStore) DeleteByPhoto(ctx context.Context, photoID, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteError != nil {
		return false, m.DeleteError
	}
	k := recordKey{photoID, sessionID}
	if _, ok := m.records[k]; !ok {
		return false, nil
	}
	delete(m.records, k)
	return true, nil
}

// Ping reports PingError, if set
func (m *VectorStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PingError
}

var _ database.VectorStore = (*VectorStore)(nil)
