package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aukanara2010-dot/facepass-sub001/internal/constants"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/ingest"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
)

// Submitter enqueues ingestion jobs and reports their state.
type Submitter interface {
	Submit(ctx context.Context, req ingest.IngestRequest) (ingest.Accepted, error)
	SubmitBatch(ctx context.Context, sessionID string, items []ingest.BatchItem) (ingest.BatchAccepted, error)
	JobStatus(ctx context.Context, jobID int64) (ingest.IngestStatus, error)
}

// Syncer enqueues a session's photos from the blob store.
type Syncer interface {
	Sync(ctx context.Context, sessionID string, opts ingest.SyncOptions, progress ingest.SyncProgress) (ingest.SyncReport, error)
}

// Invalidator drops cached state of a session.
type Invalidator interface {
	Invalidate(sessionID string)
}

// IndexHandler handles ingestion and administrative delete endpoints.
type IndexHandler struct {
	submitter    Submitter
	sync         Syncer
	store        database.VectorWriter
	invalidators []Invalidator
}

// NewIndexHandler creates a new index handler. invalidators are told about
// every deleted session or photo.
func NewIndexHandler(submitter Submitter, sync Syncer, store database.VectorWriter, invalidators ...Invalidator) *IndexHandler {
	return &IndexHandler{
		submitter:    submitter,
		sync:         sync,
		store:        store,
		invalidators: invalidators,
	}
}

type indexResponse struct {
	Accepted  bool   `json:"accepted"`
	JobID     int64  `json:"job_id"`
	PhotoID   string `json:"photo_id"`
	SessionID string `json:"session_id"`
	BlobKey   string `json:"blob_key"`
	Duplicate bool   `json:"duplicate"`
}

// Index handles POST /api/v1/index. The photo is either uploaded as "file"
// or referenced by "s3_key"; extraction happens asynchronously.
func (h *IndexHandler) Index(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondBodyError(w, err, "failed to parse multipart form")
		return
	}

	image, err := formFile(r, "file")
	if err != nil {
		respondDomainError(w, r, "index", err)
		return
	}

	acc, err := h.submitter.Submit(r.Context(), ingest.IngestRequest{
		PhotoID:   r.FormValue("photo_id"),
		SessionID: r.FormValue("session_id"),
		BlobKey:   r.FormValue("s3_key"),
		Image:     image,
	})
	if err != nil {
		respondDomainError(w, r, "index", err)
		return
	}

	slog.InfoContext(r.Context(), "photo queued for indexing",
		"photo_id", sanitizeForLog(acc.PhotoID),
		"session_id", sanitizeForLog(acc.SessionID),
		"job_id", acc.JobID,
		"duplicate", acc.Duplicate,
	)

	respondJSON(w, http.StatusAccepted, indexResponse{
		Accepted:  true,
		JobID:     acc.JobID,
		PhotoID:   acc.PhotoID,
		SessionID: acc.SessionID,
		BlobKey:   acc.BlobKey,
		Duplicate: acc.Duplicate,
	})
}

type batchRequest struct {
	SessionID string             `json:"session_id"`
	Photos    []ingest.BatchItem `json:"photos"`
}

// Batch handles POST /api/v1/index/batch.
func (h *IndexHandler) Batch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBodyError(w, err, errInvalidRequestBody)
		return
	}

	res, err := h.submitter.SubmitBatch(r.Context(), req.SessionID, req.Photos)
	if err != nil {
		respondDomainError(w, r, "batch index", err)
		return
	}
	respondJSON(w, http.StatusAccepted, res)
}

// JobStatus handles GET /api/v1/index/jobs/{job_id}.
func (h *IndexHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "job_id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	st, err := h.submitter.JobStatus(r.Context(), id)
	if err != nil {
		respondDomainError(w, r, "job status", err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// DeleteSession handles DELETE /api/v1/index/{session_id}.
func (h *IndexHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := metadata.ValidateSessionID(sessionID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed, err := h.store.DeleteBySession(r.Context(), sessionID)
	if err != nil {
		respondDomainError(w, r, "delete session", err)
		return
	}
	h.invalidate(sessionID)

	slog.InfoContext(r.Context(), "session embeddings deleted",
		"session_id", sanitizeForLog(sessionID), "removed", removed)

	respondJSON(w, http.StatusOK, map[string]any{
		"deleted":            true,
		"session_id":         sessionID,
		"embeddings_removed": removed,
	})
}

// DeletePhoto handles DELETE /api/v1/index/{session_id}/{photo_id}.
func (h *IndexHandler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	photoID := chi.URLParam(r, "photo_id")
	if err := metadata.ValidateSessionID(sessionID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := metadata.ValidatePhotoID(photoID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	deleted, err := h.store.DeleteByPhoto(r.Context(), photoID, sessionID)
	if err != nil {
		respondDomainError(w, r, "delete photo", err)
		return
	}
	if deleted {
		h.invalidate(sessionID)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"deleted":    deleted,
		"session_id": sessionID,
		"photo_id":   photoID,
	})
}

// Sync handles POST /api/v1/sessions/{session_id}/sync. The body is optional.
func (h *IndexHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		respondError(w, http.StatusServiceUnavailable, "session sync is not configured")
		return
	}

	var opts ingest.SyncOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	report, err := h.sync.Sync(r.Context(), chi.URLParam(r, "session_id"), opts, nil)
	if err != nil {
		respondDomainError(w, r, "session sync", err)
		return
	}
	respondJSON(w, http.StatusAccepted, report)
}

func (h *IndexHandler) invalidate(sessionID string) {
	for _, inv := range h.invalidators {
		inv.Invalidate(sessionID)
	}
}
