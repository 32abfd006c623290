package database

import (
	"time"
)

// EmbeddingRecord is one face embedding for a (photo, session) pair
type EmbeddingRecord struct {
	PhotoID    string
	SessionID  string
	Embedding  []float32 // L2-normalized by the extractor, not re-verified here
	Confidence float64   // face detection score
	CreatedAt  time.Time
}

// Match is a scored record returned by a similarity search
type Match struct {
	PhotoID    string    `json:"photo_id"`
	Similarity float64   `json:"similarity"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// SessionStats summarizes the indexed records of a session
type SessionStats struct {
	SessionID   string
	PhotoCount  int
	LastIndexed *time.Time // nil when the session has no records
	// Checksum is an order-independent sum of the records' created_at
	// values, wrapping on overflow. Replacing a record changes it even when
	// neither the count nor the latest timestamp moves.
	Checksum int64
}

// Fingerprint identifies a session's record set cheaply. It changes whenever a
// record is added, replaced or removed.
type Fingerprint struct {
	Count       int
	LastIndexed time.Time
	Checksum    int64
}

// Fingerprint returns the cache key for the stats.
func (s SessionStats) Fingerprint() Fingerprint {
	fp := Fingerprint{Count: s.PhotoCount, Checksum: s.Checksum}
	if s.LastIndexed != nil {
		fp.LastIndexed = *s.LastIndexed
	}
	return fp
}
