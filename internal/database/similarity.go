package database

import (
	"cmp"
	"slices"
)

// InnerProduct returns the dot product of two vectors accumulated in float64.
// Vectors of different length yield 0.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// Similarity scores two unit vectors as their inner product clamped to [0, 1].
// Identical vectors score 1 and orthogonal or opposed vectors score 0.
// For vectors that are not unit length the value is not a cosine similarity.
func Similarity(a, b []float32) float64 {
	return ClampSimilarity(InnerProduct(a, b))
}

// ClampSimilarity clamps a raw inner product into [0, 1].
func ClampSimilarity(dot float64) float64 {
	if dot < 0 {
		return 0
	}
	if dot > 1 {
		return 1
	}
	return dot
}

// CompareMatches orders by similarity desc, then created_at asc, then photo_id asc.
func CompareMatches(a, b Match) int {
	if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.PhotoID, b.PhotoID)
}

// SortMatches sorts matches in place with CompareMatches.
func SortMatches(matches []Match) {
	slices.SortFunc(matches, CompareMatches)
}

// RankRecords scores every record against the probe, keeps those with
// similarity >= threshold, sorts them and truncates to limit. It also returns
// the highest similarity seen, including records below the threshold.
func RankRecords(records []EmbeddingRecord, probe []float32, threshold float64, limit int) ([]Match, float64) {
	matches := make([]Match, 0, min(len(records), max(limit, 0)))
	var best float64
	for i := range records {
		rec := &records[i]
		sim := Similarity(probe, rec.Embedding)
		best = max(best, sim)
		if sim < threshold {
			continue
		}
		matches = append(matches, Match{
			PhotoID:    rec.PhotoID,
			Similarity: sim,
			Confidence: rec.Confidence,
			CreatedAt:  rec.CreatedAt,
		})
	}
	SortMatches(matches)
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, best
}
