package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/aukanara2010-dot/facepass-sub001/internal/constants"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/extractor"
	"github.com/aukanara2010-dot/facepass-sub001/internal/ingest"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
	"github.com/aukanara2010-dot/facepass-sub001/internal/search"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// statusForError maps a domain error to a status code and the message shown
// to the client. Server-side failures get a generic message.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, metadata.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, metadata.ErrSessionInactive):
		return http.StatusForbidden, "face search is not enabled for this session"
	case errors.Is(err, metadata.ErrPhotoNotFound):
		return http.StatusNotFound, "photo not found in session"
	case errors.Is(err, ingest.ErrJobNotFound):
		return http.StatusNotFound, "job not found"
	case errors.Is(err, ingest.ErrInvalidInput),
		errors.Is(err, metadata.ErrInvalidID),
		errors.Is(err, extractor.ErrInvalidImage),
		search.IsInvalid(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, ingest.ErrQueueUnavailable):
		return http.StatusServiceUnavailable, "ingestion queue unavailable, retry later"
	case errors.Is(err, extractor.ErrExtractionFailed):
		return http.StatusBadGateway, "face extraction service failed"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// respondDomainError logs server-side failures with their detail and sends
// the mapped response.
func respondDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusForError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), op+" failed", "error", err, "status", status)
	}
	respondError(w, status, msg)
}

// respondBodyError answers a failed body read, 413 when the body was too large.
func respondBodyError(w http.ResponseWriter, err error, fallback string) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	respondError(w, http.StatusBadRequest, fallback)
}

// readUpload reads an uploaded image, rejecting files above constants.MaxImageSize.
func readUpload(file multipart.File) ([]byte, error) {
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, constants.MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > constants.MaxImageSize {
		return nil, fmt.Errorf("%w: file too large, maximum size %dMB", extractor.ErrInvalidImage, constants.MaxImageSize>>20)
	}
	return data, nil
}

// formFile returns the named multipart file, or nil when it is absent.
func formFile(r *http.Request, name string) ([]byte, error) {
	file, _, err := r.FormFile(name)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ingest.ErrInvalidInput, err)
	}
	return readUpload(file)
}

// matchResponse is one ranked photo.
type matchResponse struct {
	PhotoID    string  `json:"photo_id"`
	Similarity float64 `json:"similarity"`
	Confidence float64 `json:"confidence"`
}

func toMatchResponses(matches []database.Match) []matchResponse {
	out := make([]matchResponse, len(matches))
	for i, m := range matches {
		out[i] = matchResponse{PhotoID: m.PhotoID, Similarity: m.Similarity, Confidence: m.Confidence}
	}
	return out
}
