package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database/mock"
	"github.com/aukanara2010-dot/facepass-sub001/internal/extractor"
	"github.com/aukanara2010-dot/facepass-sub001/internal/ingest"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
)

func TestIndexHandler_Index(t *testing.T) {
	t.Run("upload accepted", func(t *testing.T) {
		sub := &fakeSubmitter{accepted: ingest.Accepted{JobID: 42, BlobKey: "photos/S1/p1"}}
		h := NewIndexHandler(sub, nil, mock.NewVectorStore())

		req := multipartRequest(t, "/api/v1/index", map[string]string{"photo_id": "p1", "session_id": "S1"}, []byte("image-bytes"))
		rec := httptest.NewRecorder()
		h.Index(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		body := decodeBody(t, rec)
		if body["job_id"] != float64(42) || body["photo_id"] != "p1" || body["accepted"] != true {
			t.Errorf("body = %v", body)
		}
		if string(sub.lastReq.Image) != "image-bytes" || sub.lastReq.SessionID != "S1" {
			t.Errorf("submitted %+v", sub.lastReq)
		}
	})

	t.Run("blob reference without file", func(t *testing.T) {
		sub := &fakeSubmitter{accepted: ingest.Accepted{JobID: 7}}
		h := NewIndexHandler(sub, nil, mock.NewVectorStore())

		req := multipartRequest(t, "/api/v1/index", map[string]string{"photo_id": "p1", "session_id": "S1", "s3_key": "production/S1/p1.jpg"}, nil)
		rec := httptest.NewRecorder()
		h.Index(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d", rec.Code)
		}
		if sub.lastReq.Image != nil || sub.lastReq.BlobKey != "production/S1/p1.jpg" {
			t.Errorf("submitted %+v", sub.lastReq)
		}
	})

	t.Run("not multipart", func(t *testing.T) {
		h := NewIndexHandler(&fakeSubmitter{}, nil, mock.NewVectorStore())
		req := httptest.NewRequest(http.MethodPost, "/api/v1/index", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.Index(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	errorCases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("%w: photo id required", ingest.ErrInvalidInput), http.StatusBadRequest},
		{"unknown session", fmt.Errorf("%w: S9", metadata.ErrSessionNotFound), http.StatusNotFound},
		{"inactive session", fmt.Errorf("%w: S1", metadata.ErrSessionInactive), http.StatusForbidden},
		{"unknown photo", metadata.ErrPhotoNotFound, http.StatusNotFound},
		{"queue full", fmt.Errorf("%w: insert", ingest.ErrQueueUnavailable), http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			h := NewIndexHandler(&fakeSubmitter{err: tt.err}, nil, mock.NewVectorStore())
			req := multipartRequest(t, "/api/v1/index", map[string]string{"photo_id": "p1", "session_id": "S1"}, []byte("x"))
			rec := httptest.NewRecorder()
			h.Index(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if body := decodeBody(t, rec); body["error"] == "" {
				t.Errorf("missing error message: %v", body)
			}
		})
	}

	t.Run("internal detail not leaked", func(t *testing.T) {
		h := NewIndexHandler(&fakeSubmitter{err: errors.New("dial tcp 10.0.0.5:5432")}, nil, mock.NewVectorStore())
		req := multipartRequest(t, "/api/v1/index", map[string]string{"photo_id": "p1", "session_id": "S1"}, []byte("x"))
		rec := httptest.NewRecorder()
		h.Index(rec, req)

		if strings.Contains(rec.Body.String(), "10.0.0.5") {
			t.Errorf("response leaks internal detail: %s", rec.Body)
		}
	})
}

func TestIndexHandler_Batch(t *testing.T) {
	sub := &fakeSubmitter{batch: ingest.BatchAccepted{Accepted: 2, Rejected: 1, Total: 3, Errors: []string{"bad id"}}}
	h := NewIndexHandler(sub, nil, mock.NewVectorStore())

	body := `{"session_id":"S1","photos":[{"photo_id":"a","s3_key":"k/a.jpg"},{"photo_id":"b","s3_key":"k/b.jpg"},{"photo_id":"","s3_key":"k/c.jpg"}]}`
	rec := httptest.NewRecorder()
	h.Batch(rec, httptest.NewRequest(http.MethodPost, "/api/v1/index/batch", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(sub.lastItems) != 3 || sub.lastItems[1].BlobKey != "k/b.jpg" {
		t.Errorf("items = %+v", sub.lastItems)
	}
	got := decodeBody(t, rec)
	if got["accepted"] != float64(2) || got["rejected"] != float64(1) {
		t.Errorf("body = %v", got)
	}

	rec = httptest.NewRecorder()
	h.Batch(rec, httptest.NewRequest(http.MethodPost, "/api/v1/index/batch", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestIndexHandler_JobStatus(t *testing.T) {
	tests := []struct {
		name string
		id   string
		err  error
		want int
	}{
		{"found", "12", nil, http.StatusOK},
		{"not a number", "abc", nil, http.StatusBadRequest},
		{"zero", "0", nil, http.StatusBadRequest},
		{"unknown", "99", ingest.ErrJobNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tt.err, status: ingest.IngestStatus{State: ingest.StatusIndexed, PhotoID: "p1"}}
			h := NewIndexHandler(sub, nil, mock.NewVectorStore())

			req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/api/v1/index/jobs/"+tt.id, nil), map[string]string{"job_id": tt.id})
			rec := httptest.NewRecorder()
			h.JobStatus(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK {
				body := decodeBody(t, rec)
				if body["state"] != ingest.StatusIndexed || body["job_id"] != float64(12) {
					t.Errorf("body = %v", body)
				}
			}
		})
	}
}

func seededStore() *mock.VectorStore {
	store := mock.NewVectorStore()
	for _, rec := range []database.EmbeddingRecord{
		{PhotoID: "p1", SessionID: "S1", Embedding: []float32{1, 0, 0, 0}, Confidence: 0.9},
		{PhotoID: "p2", SessionID: "S1", Embedding: []float32{0, 1, 0, 0}, Confidence: 0.9},
		{PhotoID: "p1", SessionID: "S2", Embedding: []float32{1, 0, 0, 0}, Confidence: 0.9},
	} {
		store.Put(rec)
	}
	return store
}

func TestIndexHandler_DeleteSession(t *testing.T) {
	store := seededStore()
	inv := &recordingInvalidator{}
	h := NewIndexHandler(&fakeSubmitter{}, nil, store, inv)

	req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/api/v1/index/S1", nil), map[string]string{"session_id": "S1"})
	rec := httptest.NewRecorder()
	h.DeleteSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["embeddings_removed"] != float64(2) || body["deleted"] != true {
		t.Errorf("body = %v", body)
	}
	if store.Len() != 1 {
		t.Errorf("other sessions affected, %d records left", store.Len())
	}
	if len(inv.sessions) != 1 || inv.sessions[0] != "S1" {
		t.Errorf("invalidated %v", inv.sessions)
	}

	store.DeleteError = errors.New("connection reset")
	rec = httptest.NewRecorder()
	h.DeleteSession(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("store failure status = %d, want 500", rec.Code)
	}
}

func TestIndexHandler_DeletePhoto(t *testing.T) {
	store := seededStore()
	inv := &recordingInvalidator{}
	h := NewIndexHandler(&fakeSubmitter{}, nil, store, inv)

	del := func(session, photo string) *httptest.ResponseRecorder {
		req := requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"session_id": session, "photo_id": photo})
		rec := httptest.NewRecorder()
		h.DeletePhoto(rec, req)
		return rec
	}

	rec := del("S1", "p1")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["deleted"] != true {
		t.Fatalf("first delete: %d %s", rec.Code, rec.Body)
	}
	rec = del("S1", "p1")
	if rec.Code != http.StatusOK || decodeBody(t, rec)["deleted"] != false {
		t.Errorf("second delete should report deleted=false")
	}
	if len(inv.sessions) != 1 {
		t.Errorf("invalidated %v, want once", inv.sessions)
	}
	if got, _ := store.Get(t.Context(), "p1", "S2"); got == nil {
		t.Error("same photo id in another session was removed")
	}
	if rec := del("S1", strings.Repeat("x", 300)); rec.Code != http.StatusBadRequest {
		t.Errorf("oversized photo id status = %d, want 400", rec.Code)
	}
}

func TestIndexHandler_Sync(t *testing.T) {
	t.Run("options forwarded", func(t *testing.T) {
		syncer := &fakeSyncer{report: ingest.SyncReport{SessionID: "S1", Found: 3, Enqueued: 3}}
		h := NewIndexHandler(&fakeSubmitter{}, syncer, mock.NewVectorStore())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/S1/sync", strings.NewReader(`{"environment":"staging","max_photos":5,"force":true}`))
		req = requestWithChiParams(req, map[string]string{"session_id": "S1"})
		rec := httptest.NewRecorder()
		h.Sync(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
		}
		if syncer.lastSession != "S1" || syncer.lastOpts.Environment != "staging" || syncer.lastOpts.MaxPhotos != 5 || !syncer.lastOpts.Force {
			t.Errorf("forwarded %q %+v", syncer.lastSession, syncer.lastOpts)
		}
		if decodeBody(t, rec)["enqueued"] != float64(3) {
			t.Error("report not returned")
		}
	})

	t.Run("empty body", func(t *testing.T) {
		syncer := &fakeSyncer{}
		h := NewIndexHandler(&fakeSubmitter{}, syncer, mock.NewVectorStore())
		req := requestWithChiParams(httptest.NewRequest(http.MethodPost, "/", http.NoBody), map[string]string{"session_id": "S1"})
		rec := httptest.NewRecorder()
		h.Sync(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("bad options", func(t *testing.T) {
		syncer := &fakeSyncer{err: fmt.Errorf("%w: unknown environment", ingest.ErrInvalidInput)}
		h := NewIndexHandler(&fakeSubmitter{}, syncer, mock.NewVectorStore())
		req := requestWithChiParams(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"environment":"dev"}`)), map[string]string{"session_id": "S1"})
		rec := httptest.NewRecorder()
		h.Sync(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("not configured", func(t *testing.T) {
		h := NewIndexHandler(&fakeSubmitter{}, nil, mock.NewVectorStore())
		rec := httptest.NewRecorder()
		h.Sync(rec, httptest.NewRequest(http.MethodPost, "/", http.NoBody))

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid id", metadata.ErrInvalidID, http.StatusBadRequest},
		{"invalid image", extractor.ErrInvalidImage, http.StatusBadRequest},
		{"extractor down", fmt.Errorf("%w: 500", extractor.ErrExtractionFailed), http.StatusBadGateway},
		{"job not found", ingest.ErrJobNotFound, http.StatusNotFound},
		{"wrapped not found", fmt.Errorf("lookup: %w", metadata.ErrSessionNotFound), http.StatusNotFound},
		{"unknown", errors.New("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := statusForError(tt.err); got != tt.want {
				t.Errorf("statusForError() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("S1\r\nforged=entry"); got != "S1forged=entry" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}
