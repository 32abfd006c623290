package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
)

// SessionLookup resolves session metadata.
type SessionLookup interface {
	Session(ctx context.Context, sessionID string) (*metadata.Session, error)
	ValidateSession(ctx context.Context, sessionID string) error
}

// SessionsHandler reports session indexing and FacePass status.
type SessionsHandler struct {
	sessions SessionLookup
	store    database.VectorReader
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(sessions SessionLookup, store database.VectorReader) *SessionsHandler {
	return &SessionsHandler{sessions: sessions, store: store}
}

type sessionStatusResponse struct {
	Indexed     bool       `json:"indexed"`
	SessionID   string     `json:"session_id"`
	PhotoCount  int        `json:"photo_count"`
	LastIndexed *time.Time `json:"last_indexed"`
}

// IndexStatus handles GET /api/v1/search/status/{session_id}.
func (h *SessionsHandler) IndexStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	if err := metadata.ValidateSessionID(sessionID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.store.SessionStats(r.Context(), sessionID)
	if err != nil {
		respondDomainError(w, r, "session status", err)
		return
	}

	respondJSON(w, http.StatusOK, sessionStatusResponse{
		Indexed:     stats.PhotoCount > 0,
		SessionID:   sessionID,
		PhotoCount:  stats.PhotoCount,
		LastIndexed: stats.LastIndexed,
	})
}

type sessionResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	FacepassEnabled bool   `json:"facepass_enabled"`
}

// Get handles GET /api/v1/sessions/{session_id}.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Session(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		respondDomainError(w, r, "get session", err)
		return
	}

	respondJSON(w, http.StatusOK, sessionResponse{
		ID:              sess.ID,
		Name:            sess.Name,
		Status:          sess.Status,
		FacepassEnabled: sess.FacepassEnabled,
	})
}

// FacepassStatus handles GET /api/v1/sessions/{session_id}/facepass-status.
func (h *SessionsHandler) FacepassStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	sess, err := h.sessions.Session(r.Context(), sessionID)
	if err != nil {
		respondDomainError(w, r, "facepass status", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":       sess.ID,
		"session_name":     sess.Name,
		"status":           sess.Status,
		"facepass_enabled": sess.FacepassEnabled,
	})
}

// Validate handles GET /api/v1/sessions/validate/{session_id}. Unknown and
// inactive sessions are reported in the body, not as error statuses.
func (h *SessionsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	err := h.sessions.ValidateSession(r.Context(), sessionID)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]any{"valid": true, "session_id": sessionID})
	case errors.Is(err, metadata.ErrSessionNotFound),
		errors.Is(err, metadata.ErrSessionInactive),
		errors.Is(err, metadata.ErrInvalidID):
		_, msg := statusForError(err)
		respondJSON(w, http.StatusOK, map[string]any{"valid": false, "session_id": sessionID, "error": msg})
	default:
		respondDomainError(w, r, "validate session", err)
	}
}
