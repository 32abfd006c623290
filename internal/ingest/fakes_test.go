package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/aukanara2010-dot/facepass-sub001/internal/blobstore"
	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
	"github.com/aukanara2010-dot/facepass-sub001/internal/extractor"
)

const testDim = 4

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Embedding.Dim = testDim
	cfg.Extractor.Timeout = 50 * time.Millisecond
	cfg.Ingest.StoreWriteTimeout = time.Second
	return cfg
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 32))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fakeExtractor calls fn, counting calls.
type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int) (extractor.Result, error)
}

func (f *fakeExtractor) Extract(ctx context.Context, _ []byte) (extractor.Result, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	return f.fn(ctx, call)
}

func faceResult() (extractor.Result, error) {
	return extractor.Result{Embedding: []float32{1, 0, 0, 0}, Confidence: 0.92}, nil
}

// fakeBlobs is an in-memory blob store.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	getErr  error
	putErr  error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.getErr != nil {
		return nil, b.getErr
	}
	data, ok := b.objects[key]
	if !ok {
		return nil, blobstore.ErrNotFound
	}
	return data, nil
}

func (b *fakeBlobs) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return "", b.putErr
	}
	b.objects[key] = data
	b.types[key] = contentType
	return "mem://" + key, nil
}

func (b *fakeBlobs) List(_ context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// fakeValidator fails sessions and photos listed in its maps.
type fakeValidator struct {
	sessionErr map[string]error
	photoErr   map[string]error
}

func (v *fakeValidator) ValidateSession(_ context.Context, sessionID string) error {
	return v.sessionErr[sessionID]
}

func (v *fakeValidator) ValidatePair(ctx context.Context, photoID, sessionID string) error {
	if err := v.ValidateSession(ctx, sessionID); err != nil {
		return err
	}
	return v.photoErr[photoID]
}

// fakeJobs mimics River's unique insert over live jobs.
type fakeJobs struct {
	mu        sync.Mutex
	nextID    int64
	live      map[string]int64
	rows      map[int64]*rivertype.JobRow
	insertErr error
	getErr    error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{live: map[string]int64{}, rows: map[int64]*rivertype.JobRow{}}
}

func (f *fakeJobs) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}

	a := args.(IngestArgs)
	key := a.PhotoID + "|" + a.SessionID
	if id, ok := f.live[key]; ok {
		return &rivertype.JobInsertResult{Job: f.rows[id], UniqueSkippedAsDuplicate: true}, nil
	}

	f.nextID++
	encoded, _ := json.Marshal(a)
	row := &rivertype.JobRow{
		ID:          f.nextID,
		Kind:        a.Kind(),
		Queue:       opts.Queue,
		State:       rivertype.JobStateAvailable,
		EncodedArgs: encoded,
		MaxAttempts: opts.MaxAttempts,
		CreatedAt:   time.Now(),
	}
	f.rows[row.ID] = row
	f.live[key] = row.ID
	return &rivertype.JobInsertResult{Job: row}, nil
}

func (f *fakeJobs) InsertMany(ctx context.Context, params []river.InsertManyParams) ([]*rivertype.JobInsertResult, error) {
	out := make([]*rivertype.JobInsertResult, 0, len(params))
	for _, p := range params {
		res, err := f.Insert(ctx, p.Args, p.InsertOpts)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (f *fakeJobs) JobGet(_ context.Context, id int64) (*rivertype.JobRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	row, ok := f.rows[id]
	if !ok {
		return nil, rivertype.ErrNotFound
	}
	return row, nil
}

// recordingMetrics captures metric calls.
type recordingMetrics struct {
	mu       sync.Mutex
	enqueued int64
	outcomes []string
}

func (m *recordingMetrics) RecordJobsEnqueued(_ context.Context, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued += count
}

func (m *recordingMetrics) RecordIngestOutcome(_ context.Context, status string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, status)
}
