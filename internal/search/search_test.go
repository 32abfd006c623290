package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database/mock"
	"github.com/aukanara2010-dot/facepass-sub001/internal/extractor"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
)

const testDim = 4

type fakeSessions map[string]error

func (f fakeSessions) ValidateSession(_ context.Context, sessionID string) error {
	return f[sessionID]
}

type fakeExtractor struct {
	res extractor.Result
	err error
}

func (f fakeExtractor) Extract(context.Context, []byte) (extractor.Result, error) {
	return f.res, f.err
}

// sqlLike mimics a store that ranks in the database.
type sqlLike struct {
	*mock.VectorStore
	searches int
}

func (s *sqlLike) SearchSession(ctx context.Context, sessionID string, probe []float32, threshold float64, limit int) ([]database.Match, error) {
	s.searches++
	records, err := s.QueryBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	matches, _ := database.RankRecords(records, probe, threshold, limit)
	return matches, nil
}

func (s *sqlLike) MaxSimilarity(ctx context.Context, sessionID string, probe []float32) (float64, error) {
	records, err := s.QueryBySession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	_, best := database.RankRecords(records, probe, 2, 0)
	return best, nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingMetrics) RecordSearch(_ context.Context, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Embedding.Dim = testDim
	cfg.Search.HNSWExactBelow = 0
	return cfg
}

func unit(v ...float32) []float32 {
	return extractor.Normalize(v)
}

func ptr(f float64) *float64 { return &f }

// seedScenario stores photo1=[1,0,0,0], photo2=[0,1,0,0] and
// photo3 close to photo1, ingested in that order.
func seedScenario(store *mock.VectorStore) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, v := range [][]float32{unit(1, 0, 0, 0), unit(0, 1, 0, 0), unit(0.9, 0.1, 0, 0)} {
		store.Put(database.EmbeddingRecord{
			PhotoID:    fmt.Sprintf("photo%d", i+1),
			SessionID:  "S1",
			Embedding:  v,
			Confidence: 0.9,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}
}

func engines(t *testing.T, store *mock.VectorStore, sessions SessionValidator) map[string]*Engine {
	t.Helper()
	out := map[string]*Engine{}

	exact, err := NewEngine(store, sessions, nil, testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	out["exact"] = exact

	sql, err := NewEngine(&sqlLike{VectorStore: store}, sessions, nil, testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	out["store"] = sql

	cfg := testConfig()
	cfg.Search.Index = "hnsw"
	hnsw, err := NewEngine(store, sessions, nil, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	out["hnsw"] = hnsw
	return out
}

func TestEngine_Search(t *testing.T) {
	store := mock.NewVectorStore()
	seedScenario(store)
	sessions := fakeSessions{"S3": metadata.ErrSessionNotFound, "S4": metadata.ErrSessionInactive}

	for name, e := range engines(t, store, sessions) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			res, err := e.Search(ctx, Request{SessionID: "S1", Probe: unit(1, 0, 0, 0), Threshold: ptr(0.5), Limit: 10})
			if err != nil {
				t.Fatalf("Search() error = %v", err)
			}
			if len(res.Matches) != 2 || res.Matches[0].PhotoID != "photo1" || res.Matches[1].PhotoID != "photo3" {
				t.Fatalf("matches = %+v, want [photo1 photo3]", res.Matches)
			}
			if math.Abs(res.Matches[0].Similarity-1) > 1e-6 {
				t.Errorf("self similarity = %v", res.Matches[0].Similarity)
			}
			if res.IndexedPhotos != 3 || res.Threshold != 0.5 || res.Limit != 10 {
				t.Errorf("result = %+v", res)
			}

			// photo2 is excluded by the threshold but still counts for MaxSimilarity.
			res, err = e.Search(ctx, Request{SessionID: "S1", Probe: unit(0, 1, 0, 0), Threshold: ptr(1.0)})
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(res.MaxSimilarity-1) > 1e-6 {
				t.Errorf("MaxSimilarity = %v, want 1", res.MaxSimilarity)
			}

			res, err = e.Search(ctx, Request{SessionID: "S1", Probe: unit(0, 0, 1, 0), Threshold: ptr(0.9)})
			if err != nil {
				t.Fatal(err)
			}
			if res.Matches == nil || len(res.Matches) != 0 {
				t.Errorf("matches = %#v, want empty non-nil", res.Matches)
			}

			res, err = e.Search(ctx, Request{SessionID: "S2", Probe: unit(1, 0, 0, 0)})
			if err != nil {
				t.Fatal(err)
			}
			if res.Matches == nil || len(res.Matches) != 0 || res.IndexedPhotos != 0 {
				t.Errorf("empty session result = %+v", res)
			}
			if res.Threshold != 0.5 || res.Limit != 1000 {
				t.Errorf("defaults = %v, %d", res.Threshold, res.Limit)
			}
		})
	}
}

func TestEngine_SearchLimitAndTies(t *testing.T) {
	store := mock.NewVectorStore()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"c", "a", "b"} {
		store.Put(database.EmbeddingRecord{PhotoID: id, SessionID: "S1", Embedding: unit(1, 0, 0, 0), Confidence: 0.9, CreatedAt: base})
	}
	store.Put(database.EmbeddingRecord{PhotoID: "early", SessionID: "S1", Embedding: unit(1, 0, 0, 0), CreatedAt: base.Add(-time.Hour)})

	for name, e := range engines(t, store, fakeSessions{}) {
		t.Run(name, func(t *testing.T) {
			res, err := e.Search(context.Background(), Request{SessionID: "S1", Probe: unit(1, 0, 0, 0), Limit: 3})
			if err != nil {
				t.Fatal(err)
			}
			got := make([]string, len(res.Matches))
			for i, m := range res.Matches {
				got[i] = m.PhotoID
			}
			if fmt.Sprint(got) != "[early a b]" {
				t.Errorf("order = %v, want [early a b]", got)
			}
		})
	}
}

func TestEngine_SearchErrors(t *testing.T) {
	store := mock.NewVectorStore()
	seedScenario(store)
	sessions := fakeSessions{"S3": metadata.ErrSessionNotFound, "S4": metadata.ErrSessionInactive}
	e, err := NewEngine(store, sessions, nil, testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"threshold above one", Request{SessionID: "S1", Probe: unit(1, 0, 0, 0), Threshold: ptr(1.5)}, ErrInvalidThreshold},
		{"negative threshold", Request{SessionID: "S1", Probe: unit(1, 0, 0, 0), Threshold: ptr(-0.1)}, ErrInvalidThreshold},
		{"NaN threshold", Request{SessionID: "S1", Probe: unit(1, 0, 0, 0), Threshold: ptr(math.NaN())}, ErrInvalidThreshold},
		{"limit above max", Request{SessionID: "S1", Probe: unit(1, 0, 0, 0), Limit: 10001}, ErrInvalidLimit},
		{"negative limit", Request{SessionID: "S1", Probe: unit(1, 0, 0, 0), Limit: -1}, ErrInvalidLimit},
		{"wrong dimension", Request{SessionID: "S1", Probe: []float32{1, 0}}, ErrDimensionMismatch},
		{"empty session id", Request{Probe: unit(1, 0, 0, 0)}, metadata.ErrInvalidID},
		{"unknown session", Request{SessionID: "S3", Probe: unit(1, 0, 0, 0)}, metadata.ErrSessionNotFound},
		{"inactive session", Request{SessionID: "S4", Probe: unit(1, 0, 0, 0)}, metadata.ErrSessionInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Search(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Search() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("store failure", func(t *testing.T) {
		failing := mock.NewVectorStore()
		seedScenario(failing)
		e, err := NewEngine(failing, fakeSessions{}, nil, testConfig(), nil)
		if err != nil {
			t.Fatal(err)
		}
		failing.QueryError = errors.New("connection reset")
		res, err := e.Search(context.Background(), Request{SessionID: "S1", Probe: unit(1, 0, 0, 0)})
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Errorf("Search() error = %v, want ErrStoreUnavailable", err)
		}
		if res.Matches != nil {
			t.Errorf("partial result returned: %+v", res)
		}
	})
}

func TestEngine_SearchSeesNewRecords(t *testing.T) {
	store := mock.NewVectorStore()
	seedScenario(store)

	for name, e := range engines(t, store, fakeSessions{}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			probe := unit(0, 0, 0, 1)
			if res, _ := e.Search(ctx, Request{SessionID: "S1", Probe: probe, Threshold: ptr(0.9)}); len(res.Matches) != 0 {
				t.Fatalf("unexpected matches %+v", res.Matches)
			}

			id := "new-" + name
			if err := store.Upsert(ctx, database.EmbeddingRecord{PhotoID: id, SessionID: "S1", Embedding: probe, Confidence: 0.8}); err != nil {
				t.Fatal(err)
			}
			res, err := e.Search(ctx, Request{SessionID: "S1", Probe: probe, Threshold: ptr(0.9)})
			if err != nil {
				t.Fatal(err)
			}
			if len(res.Matches) != 1 || res.Matches[0].PhotoID != id {
				t.Errorf("matches = %+v, want [%s]", res.Matches, id)
			}
			if _, err := store.DeleteByPhoto(ctx, id, "S1"); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestEngine_SearchImage(t *testing.T) {
	store := mock.NewVectorStore()
	seedScenario(store)
	img := pngBytes(t)

	tests := []struct {
		name       string
		ext        fakeExtractor
		image      []byte
		wantErr    error
		wantNoFace bool
		wantFirst  string
	}{
		{
			name:      "match",
			ext:       fakeExtractor{res: extractor.Result{Embedding: unit(1, 0, 0, 0), Confidence: 0.95}},
			image:     img,
			wantFirst: "photo1",
		},
		{
			name:       "no face",
			ext:        fakeExtractor{err: fmt.Errorf("%w: 0 faces", extractor.ErrNoFaceDetected)},
			image:      img,
			wantNoFace: true,
		},
		{
			name:    "invalid image",
			ext:     fakeExtractor{res: extractor.Result{Embedding: unit(1, 0, 0, 0)}},
			image:   []byte("not an image"),
			wantErr: extractor.ErrInvalidImage,
		},
		{
			name:    "extractor down",
			ext:     fakeExtractor{err: fmt.Errorf("%w: status 503", extractor.ErrExtractionFailed)},
			image:   img,
			wantErr: extractor.ErrExtractionFailed,
		},
		{
			name:    "extractor dimension drift",
			ext:     fakeExtractor{res: extractor.Result{Embedding: []float32{1, 0}}},
			image:   img,
			wantErr: extractor.ErrExtractionFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := &recordingMetrics{}
			e, err := NewEngine(store, fakeSessions{}, tt.ext, testConfig(), metrics)
			if err != nil {
				t.Fatal(err)
			}
			res, err := e.SearchImage(context.Background(), "S1", tt.image, nil, 0)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SearchImage() error = %v, want %v", err, tt.wantErr)
				}
				if errors.Is(err, ErrDimensionMismatch) {
					t.Error("extractor drift must not look like a client error")
				}
				return
			}
			if err != nil {
				t.Fatalf("SearchImage() error = %v", err)
			}
			if res.NoFace != tt.wantNoFace {
				t.Errorf("NoFace = %v", res.NoFace)
			}
			if tt.wantNoFace {
				if res.Matches == nil || len(res.Matches) != 0 || res.IndexedPhotos != 3 {
					t.Errorf("no-face result = %+v", res)
				}
				if metrics.outcomes[0] != outcomeNoFace {
					t.Errorf("outcome = %v", metrics.outcomes)
				}
				return
			}
			if len(res.Matches) == 0 || res.Matches[0].PhotoID != tt.wantFirst {
				t.Errorf("matches = %+v", res.Matches)
			}
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		res  Result
		err  error
		want string
	}{
		{Result{}, nil, outcomeSuccess},
		{Result{NoFace: true}, nil, outcomeNoFace},
		{Result{}, fmt.Errorf("x: %w", metadata.ErrSessionNotFound), outcomeNotFound},
		{Result{}, metadata.ErrSessionInactive, outcomeInactive},
		{Result{}, ErrInvalidLimit, outcomeInvalid},
		{Result{}, extractor.ErrInvalidImage, outcomeInvalid},
		{Result{}, ErrStoreUnavailable, outcomeError},
	}
	for _, tt := range tests {
		if got := outcomeOf(tt.res, tt.err); got != tt.want {
			t.Errorf("outcomeOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
