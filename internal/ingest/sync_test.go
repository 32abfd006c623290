package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database/mock"
)

func newTestSync(blobs *fakeBlobs, store *mock.VectorStore, jobs *fakeJobs, maxPhotos int) *SessionSync {
	v := &fakeValidator{}
	return NewSessionSync(blobs, store, newTestSubmitter(jobs, v, blobs, nil), v, maxPhotos)
}

func TestSessionSync(t *testing.T) {
	ctx := context.Background()

	seed := func() *fakeBlobs {
		b := newFakeBlobs()
		for _, k := range []string{
			"production/photos/S1/1700000000-aaa.jpg",
			"production/photos/S1/1700000001-bbb.jpg",
			"production/photos/S1/previews/1700000000-aaa.jpg",
			"production/photos/S1/previews/1700000001-bbb.jpg",
			"production/photos/S1/previews/1700000002-ccc.JPG",
			"production/photos/S1/previews/notes.txt",
			"production/photos/S1/previews/ab.jpg",
			"staging/photos/S2/3f6c2a52-62a4-4c4a-9a9c-0c8f8e3b1d11.png",
		} {
			b.objects[k] = []byte("x")
		}
		return b
	}

	t.Run("previews preferred", func(t *testing.T) {
		jobs := newFakeJobs()
		s := newTestSync(seed(), mock.NewVectorStore(), jobs, 100)

		var calls, lastTotal int
		report, err := s.Sync(ctx, "S1", SyncOptions{}, func(done, total int) {
			calls++
			lastTotal = total
		})
		if err != nil {
			t.Fatalf("Sync() error = %v", err)
		}
		if report.Prefix != "production/photos/S1/previews/" || report.Environment != "production" {
			t.Errorf("prefix = %q env = %q", report.Prefix, report.Environment)
		}
		if report.Found != 4 || report.Enqueued != 3 || report.Invalid != 1 {
			t.Errorf("report = %+v", report)
		}
		if calls != 4 || lastTotal != 4 {
			t.Errorf("progress calls = %d total = %d", calls, lastTotal)
		}
		if len(jobs.rows) != 3 {
			t.Errorf("enqueued %d jobs, want 3", len(jobs.rows))
		}
	})

	t.Run("indexed photos skipped unless forced", func(t *testing.T) {
		store := mock.NewVectorStore()
		store.Put(database.EmbeddingRecord{PhotoID: "1700000000-aaa", SessionID: "S1", Embedding: []float32{1, 0, 0, 0}})

		report, err := newTestSync(seed(), store, newFakeJobs(), 100).Sync(ctx, "S1", SyncOptions{}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if report.Enqueued != 2 || report.Skipped != 1 {
			t.Errorf("report = %+v", report)
		}

		report, err = newTestSync(seed(), store, newFakeJobs(), 100).Sync(ctx, "S1", SyncOptions{Force: true}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if report.Enqueued != 3 || report.Skipped != 0 {
			t.Errorf("forced report = %+v", report)
		}
	})

	t.Run("cap", func(t *testing.T) {
		report, err := newTestSync(seed(), mock.NewVectorStore(), newFakeJobs(), 100).Sync(ctx, "S1", SyncOptions{MaxPhotos: 2}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if report.Enqueued != 2 || !report.Capped {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("falls back to staging", func(t *testing.T) {
		report, err := newTestSync(seed(), mock.NewVectorStore(), newFakeJobs(), 100).Sync(ctx, "S2", SyncOptions{}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if report.Environment != "staging" || report.Enqueued != 1 {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("explicit environment without photos", func(t *testing.T) {
		report, err := newTestSync(seed(), mock.NewVectorStore(), newFakeJobs(), 100).Sync(ctx, "S1", SyncOptions{Environment: "staging"}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if report.Found != 0 || report.Enqueued != 0 {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("bad options", func(t *testing.T) {
		s := newTestSync(seed(), mock.NewVectorStore(), newFakeJobs(), 100)
		if _, err := s.Sync(ctx, "S1", SyncOptions{Environment: "qa"}, nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("unknown environment error = %v", err)
		}
		if _, err := s.Sync(ctx, "S1", SyncOptions{Pattern: "[a-"}, nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("bad pattern error = %v", err)
		}
		if _, err := s.Sync(ctx, "", SyncOptions{}, nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("empty session error = %v", err)
		}
	})
}

func TestPhotoIDFromKey(t *testing.T) {
	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{"photos/S1/1700000000-abc.jpg", "1700000000-abc", true},
		{"photos/S1/1700000000123-Zx9.jpeg", "1700000000123-Zx9", true},
		{"photos/S1/3f6c2a52-62a4-4c4a-9a9c-0c8f8e3b1d11.png", "3f6c2a52-62a4-4c4a-9a9c-0c8f8e3b1d11", true},
		{"photos/S1/IMG_4821.JPG", "IMG_4821", true},
		{"photos/S1/abc.jpg", "abc", false},
		{"photos/S1/.jpg", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := PhotoIDFromKey(tt.key)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("PhotoIDFromKey(%q) = %q, %v; want %q, %v", tt.key, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
