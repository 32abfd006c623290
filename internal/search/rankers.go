package search

import (
	"context"

	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
)

// storeRanker ranks inside the storage engine.
type storeRanker struct {
	searcher database.VectorSearcher
}

func (r storeRanker) rank(ctx context.Context, sessionID string, probe []float32, threshold float64, limit int) ([]database.Match, float64, error) {
	matches, err := r.searcher.SearchSession(ctx, sessionID, probe, threshold, limit)
	if err != nil {
		return nil, 0, err
	}
	best, err := r.searcher.MaxSimilarity(ctx, sessionID, probe)
	if err != nil {
		return nil, 0, err
	}
	return matches, best, nil
}

// exactRanker loads the session and scores every record.
type exactRanker struct {
	reader database.VectorReader
}

func (r exactRanker) rank(ctx context.Context, sessionID string, probe []float32, threshold float64, limit int) ([]database.Match, float64, error) {
	records, err := r.reader.QueryBySession(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	matches, best := database.RankRecords(records, probe, threshold, limit)
	return matches, best, nil
}

// indexRanker goes through the per-session HNSW graphs.
type indexRanker struct {
	index *database.SessionIndex
}

func (r indexRanker) rank(ctx context.Context, sessionID string, probe []float32, threshold float64, limit int) ([]database.Match, float64, error) {
	return r.index.Search(ctx, sessionID, probe, threshold, limit)
}
