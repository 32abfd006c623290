package metadata

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned for sessions unknown to the metadata store
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionInactive is returned for sessions with face search disabled
	ErrSessionInactive = errors.New("face search is not enabled for this session")
	// ErrPhotoNotFound is returned when a photo is not registered under the session
	ErrPhotoNotFound = errors.New("photo not found in session")
)

// Validator checks that ingestion and search requests target a known,
// enabled session. Referential integrity between the vector store and the
// metadata store is enforced only here, never by the storage layer.
type Validator struct {
	reader      Reader
	checkPhotos bool
}

// NewValidator creates a validator over reader. When checkPhotos is set,
// ValidatePair also requires the photo to be registered under the session.
func NewValidator(reader Reader, checkPhotos bool) *Validator {
	return &Validator{reader: reader, checkPhotos: checkPhotos}
}

// Session returns the session after checking it exists.
func (v *Validator) Session(ctx context.Context, sessionID string) (*Session, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	sess, err := v.reader.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// ValidateSession returns nil, ErrSessionNotFound or ErrSessionInactive.
func (v *Validator) ValidateSession(ctx context.Context, sessionID string) error {
	sess, err := v.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.FacepassEnabled {
		return fmt.Errorf("%w: %s", ErrSessionInactive, sessionID)
	}
	return nil
}

// ValidatePair validates the session and, when enabled, the photo.
func (v *Validator) ValidatePair(ctx context.Context, photoID, sessionID string) error {
	if err := ValidatePhotoID(photoID); err != nil {
		return err
	}
	if err := v.ValidateSession(ctx, sessionID); err != nil {
		return err
	}
	if !v.checkPhotos {
		return nil
	}
	ok, err := v.reader.PhotoInSession(ctx, photoID, sessionID)
	if err != nil {
		return fmt.Errorf("lookup photo: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrPhotoNotFound, photoID)
	}
	return nil
}

// Ping checks the underlying metadata store.
func (v *Validator) Ping(ctx context.Context) error {
	return v.reader.Ping(ctx)
}

// Invalidate forwards to the reader when it caches sessions.
func (v *Validator) Invalidate(sessionID string) {
	if c, ok := v.reader.(interface{ Invalidate(string) }); ok {
		c.Invalidate(sessionID)
	}
}
