package database

import (
	"context"
	"fmt"

	"github.com/coder/hnsw"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// sessionGraph is an HNSW graph over one session's records, tagged with the
// store fingerprint it was built from.
type sessionGraph struct {
	fp      Fingerprint
	graph   *hnsw.Graph[string]
	records map[string]*EmbeddingRecord
}

// SessionIndex answers similarity searches from per-session in-memory HNSW
// graphs built lazily from a VectorReader.
//
// Before every search the cached graph is compared with the store's session
// fingerprint and rebuilt when stale, so a completed upsert is visible on the
// next query. Candidates from the graph are re-scored exactly, so returned
// similarities are always true inner products; only recall is approximate.
type SessionIndex struct {
	reader     VectorReader
	exactBelow int
	graphs     *lru.Cache[string, *sessionGraph]
	builds     singleflight.Group
}

// NewSessionIndex creates an index that keeps at most maxSessions graphs in
// memory. Sessions with at most exactBelow records are scored exactly.
func NewSessionIndex(reader VectorReader, exactBelow, maxSessions int) (*SessionIndex, error) {
	if maxSessions <= 0 {
		maxSessions = 1
	}
	cache, err := lru.New[string, *sessionGraph](maxSessions)
	if err != nil {
		return nil, fmt.Errorf("create graph cache: %w", err)
	}
	return &SessionIndex{
		reader:     reader,
		exactBelow: exactBelow,
		graphs:     cache,
	}, nil
}

// Search ranks the session's records against probe. It returns the matches
// and the highest similarity observed among the scored candidates.
func (x *SessionIndex) Search(ctx context.Context, sessionID string, probe []float32, threshold float64, limit int) ([]Match, float64, error) {
	stats, err := x.reader.SessionStats(ctx, sessionID)
	if err != nil {
		return nil, 0, fmt.Errorf("session stats: %w", err)
	}
	if stats.PhotoCount == 0 {
		x.graphs.Remove(sessionID)
		return []Match{}, 0, nil
	}

	if stats.PhotoCount <= x.exactBelow {
		records, err := x.reader.QueryBySession(ctx, sessionID)
		if err != nil {
			return nil, 0, fmt.Errorf("query session: %w", err)
		}
		matches, best := RankRecords(records, probe, threshold, limit)
		return matches, best, nil
	}

	sg, err := x.graphFor(ctx, sessionID, stats.Fingerprint())
	if err != nil {
		return nil, 0, err
	}

	// Request more candidates to ensure we have enough after threshold filtering
	k := max(limit*HNSWSearchMultiplier, HNSWMinCandidates)
	neighbors := sg.graph.Search(probe, k)

	candidates := make([]EmbeddingRecord, 0, len(neighbors))
	for _, n := range neighbors {
		if rec, ok := sg.records[n.Key]; ok {
			candidates = append(candidates, *rec)
		}
	}
	matches, best := RankRecords(candidates, probe, threshold, limit)
	return matches, best, nil
}

// Invalidate drops the cached graph of a session.
func (x *SessionIndex) Invalidate(sessionID string) {
	x.graphs.Remove(sessionID)
}

// Len returns the number of cached session graphs.
func (x *SessionIndex) Len() int {
	return x.graphs.Len()
}

// graphFor returns a graph matching fp, building it when the cached one is
// missing or stale. Concurrent builds of the same session are collapsed.
func (x *SessionIndex) graphFor(ctx context.Context, sessionID string, fp Fingerprint) (*sessionGraph, error) {
	if sg, ok := x.graphs.Get(sessionID); ok && sg.fp == fp {
		return sg, nil
	}

	v, err, _ := x.builds.Do(sessionID, func() (any, error) {
		if sg, ok := x.graphs.Get(sessionID); ok && sg.fp == fp {
			return sg, nil
		}
		records, err := x.reader.QueryBySession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("query session: %w", err)
		}
		sg := buildSessionGraph(records)
		// The fingerprint is taken before the read, so a write racing the
		// build only makes the next query rebuild again.
		sg.fp = fp
		x.graphs.Add(sessionID, sg)
		return sg, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sessionGraph), nil
}

func buildSessionGraph(records []EmbeddingRecord) *sessionGraph {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance

	byID := make(map[string]*EmbeddingRecord, len(records))
	for i := range records {
		rec := &records[i]
		if len(rec.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(rec.PhotoID, rec.Embedding))
		byID[rec.PhotoID] = rec
	}
	return &sessionGraph{graph: g, records: byID}
}
