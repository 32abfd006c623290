package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/aukanara2010-dot/facepass-sub001/internal/ingest"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
	"github.com/aukanara2010-dot/facepass-sub001/internal/search"
)

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// multipartRequest builds a multipart POST with the given fields and an
// optional "file" part.
func multipartRequest(t *testing.T, path string, fields map[string]string, file []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "selfie.png")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(file); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

// fakeSubmitter records requests and returns canned results.
type fakeSubmitter struct {
	lastReq   ingest.IngestRequest
	lastItems []ingest.BatchItem
	accepted  ingest.Accepted
	batch     ingest.BatchAccepted
	status    ingest.IngestStatus
	err       error
}

func (f *fakeSubmitter) Submit(_ context.Context, req ingest.IngestRequest) (ingest.Accepted, error) {
	f.lastReq = req
	if f.err != nil {
		return ingest.Accepted{}, f.err
	}
	acc := f.accepted
	acc.SessionID = req.SessionID
	if acc.PhotoID == "" {
		acc.PhotoID = req.PhotoID
	}
	return acc, nil
}

func (f *fakeSubmitter) SubmitBatch(_ context.Context, _ string, items []ingest.BatchItem) (ingest.BatchAccepted, error) {
	f.lastItems = items
	return f.batch, f.err
}

func (f *fakeSubmitter) JobStatus(_ context.Context, jobID int64) (ingest.IngestStatus, error) {
	if f.err != nil {
		return ingest.IngestStatus{}, f.err
	}
	st := f.status
	st.JobID = jobID
	return st, nil
}

type fakeSyncer struct {
	lastSession string
	lastOpts    ingest.SyncOptions
	report      ingest.SyncReport
	err         error
}

func (f *fakeSyncer) Sync(_ context.Context, sessionID string, opts ingest.SyncOptions, _ ingest.SyncProgress) (ingest.SyncReport, error) {
	f.lastSession = sessionID
	f.lastOpts = opts
	return f.report, f.err
}

type recordingInvalidator struct {
	sessions []string
}

func (r *recordingInvalidator) Invalidate(sessionID string) {
	r.sessions = append(r.sessions, sessionID)
}

// fakeSearcher records the last call.
type fakeSearcher struct {
	lastReq       search.Request
	lastImage     []byte
	lastThreshold *float64
	lastLimit     int
	result        search.Result
	err           error
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (search.Result, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeSearcher) SearchImage(_ context.Context, sessionID string, image []byte, threshold *float64, limit int) (search.Result, error) {
	f.lastReq = search.Request{SessionID: sessionID}
	f.lastImage = image
	f.lastThreshold = threshold
	f.lastLimit = limit
	return f.result, f.err
}

// fakeSessions serves sessions from a map through a real validator.
type fakeSessions map[string]*metadata.Session

func (f fakeSessions) Get(_ context.Context, id string) (*metadata.Session, error) {
	return f[id], nil
}

func (f fakeSessions) PhotoInSession(context.Context, string, string) (bool, error) {
	return true, nil
}

func (f fakeSessions) Ping(context.Context) error { return nil }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }
