package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aukanara2010-dot/facepass-sub001/internal/constants"
	"github.com/aukanara2010-dot/facepass-sub001/internal/search"
)

const (
	msgNoFace      = "No face detected in uploaded image"
	msgNoIndexed   = "No indexed photos found for this session"
	errFileMissing = "file is required"
)

// Searcher runs similarity queries.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (search.Result, error)
	SearchImage(ctx context.Context, sessionID string, image []byte, threshold *float64, limit int) (search.Result, error)
}

// SearchHandler handles the selfie and embedding search endpoints.
type SearchHandler struct {
	engine Searcher
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(engine Searcher) *SearchHandler {
	return &SearchHandler{engine: engine}
}

type searchResponse struct {
	SessionID       string          `json:"session_id"`
	Matches         []matchResponse `json:"matches"`
	TotalMatches    int             `json:"total_matches"`
	IndexedPhotos   int             `json:"indexed_photos"`
	SearchThreshold float64         `json:"search_threshold"`
	MaxSimilarity   float64         `json:"max_similarity"`
	QueryTimeMS     float64         `json:"query_time_ms"`
	Message         string          `json:"message,omitempty"`
}

// Search handles POST /api/v1/search with a multipart selfie.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondBodyError(w, err, "failed to parse multipart form")
		return
	}

	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		sessionID = r.FormValue("sessionId")
	}

	threshold, err := parseThreshold(r.FormValue("threshold"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "threshold must be a number")
		return
	}
	limit, err := parseLimit(r.FormValue("limit"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	image, err := formFile(r, "file")
	if err != nil {
		respondDomainError(w, r, "search", err)
		return
	}
	if len(image) == 0 {
		respondError(w, http.StatusBadRequest, errFileMissing)
		return
	}

	res, err := h.engine.SearchImage(r.Context(), sessionID, image, threshold, limit)
	if err != nil {
		respondDomainError(w, r, "search", err)
		return
	}

	slog.InfoContext(r.Context(), "face search completed",
		"session_id", sanitizeForLog(sessionID),
		"matches", len(res.Matches),
		"indexed_photos", res.IndexedPhotos,
		"no_face", res.NoFace,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	respondJSON(w, http.StatusOK, newSearchResponse(res, start))
}

type embeddingSearchRequest struct {
	SessionID string    `json:"session_id"`
	Embedding []float32 `json:"embedding"`
	Threshold *float64  `json:"threshold"`
	Limit     int       `json:"limit"`
}

// SearchEmbedding handles POST /api/v1/search/embedding with a precomputed
// L2-normalized probe.
func (h *SearchHandler) SearchEmbedding(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	var req embeddingSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBodyError(w, err, errInvalidRequestBody)
		return
	}

	res, err := h.engine.Search(r.Context(), search.Request{
		SessionID: req.SessionID,
		Probe:     req.Embedding,
		Threshold: req.Threshold,
		Limit:     req.Limit,
	})
	if err != nil {
		respondDomainError(w, r, "embedding search", err)
		return
	}
	respondJSON(w, http.StatusOK, newSearchResponse(res, start))
}

func newSearchResponse(res search.Result, start time.Time) searchResponse {
	out := searchResponse{
		SessionID:       res.SessionID,
		Matches:         toMatchResponses(res.Matches),
		TotalMatches:    len(res.Matches),
		IndexedPhotos:   res.IndexedPhotos,
		SearchThreshold: res.Threshold,
		MaxSimilarity:   res.MaxSimilarity,
		QueryTimeMS:     float64(time.Since(start).Microseconds()) / 1000,
	}
	switch {
	case res.NoFace:
		out.Message = msgNoFace
	case res.IndexedPhotos == 0:
		out.Message = msgNoIndexed
	}
	return out
}

func parseThreshold(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err //nolint:wrapcheck // caller only reports the failure
	}
	return &v, nil
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s) //nolint:wrapcheck // caller only reports the failure
}
