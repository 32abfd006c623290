package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/aukanara2010-dot/facepass-sub001/internal/constants"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
)

// timestampHashID matches ids of the form 1700000000-3fa9c1.
var timestampHashID = regexp.MustCompile(`^\d{10,13}-[0-9A-Za-z]+$`)

// BlobLister lists keys in the blob store.
type BlobLister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// SyncOptions controls a session sync.
type SyncOptions struct {
	// Environment is "production", "staging" or "auto"/"" to try both in that order
	Environment string `json:"environment"`
	// Pattern filters keys relative to the scanned prefix (doublestar syntax)
	Pattern   string `json:"pattern"`
	MaxPhotos int    `json:"max_photos"`
	// Force re-enqueues photos that already have a stored embedding
	Force bool `json:"force"`
}

// SyncReport summarizes a session sync.
type SyncReport struct {
	SessionID   string `json:"session_id"`
	Environment string `json:"environment"`
	Prefix      string `json:"prefix"`
	Found       int    `json:"found"`
	Enqueued    int    `json:"enqueued"`
	Duplicates  int    `json:"duplicates"`
	Skipped     int    `json:"skipped"`
	Invalid     int    `json:"invalid"`
	Capped      bool   `json:"capped"`
}

// SyncProgress is called after each photo considered by Sync.
type SyncProgress func(done, total int)

// SessionSync enqueues every photo of a session found in the blob store.
type SessionSync struct {
	blobs       BlobLister
	store       database.VectorReader
	submitter   *Submitter
	validator   SessionValidator
	maxPhotos   int
	environment []string
}

// NewSessionSync creates a sync over blobs. maxPhotos caps a run when the
// request does not set its own cap.
func NewSessionSync(blobs BlobLister, store database.VectorReader, submitter *Submitter, validator SessionValidator, maxPhotos int) *SessionSync {
	return &SessionSync{
		blobs:       blobs,
		store:       store,
		submitter:   submitter,
		validator:   validator,
		maxPhotos:   maxPhotos,
		environment: []string{constants.SyncEnvironmentProduction, constants.SyncEnvironmentStaging},
	}
}

// Sync lists the session's photos, skips those already indexed unless
// opts.Force is set, and enqueues the rest.
func (s *SessionSync) Sync(ctx context.Context, sessionID string, opts SyncOptions, progress SyncProgress) (SyncReport, error) {
	if err := metadata.ValidateSessionID(sessionID); err != nil {
		return SyncReport{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := s.validator.ValidateSession(ctx, sessionID); err != nil {
		return SyncReport{}, err
	}

	pattern := opts.Pattern
	if pattern == "" {
		pattern = constants.DefaultSyncPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return SyncReport{}, fmt.Errorf("%w: invalid pattern %q", ErrInvalidInput, pattern)
	}
	maxPhotos := opts.MaxPhotos
	if maxPhotos <= 0 {
		maxPhotos = s.maxPhotos
	}

	envs, err := s.environments(opts.Environment)
	if err != nil {
		return SyncReport{}, err
	}

	report := SyncReport{SessionID: sessionID}
	keys, err := s.findKeys(ctx, sessionID, envs, pattern, &report)
	if err != nil {
		return SyncReport{}, err
	}
	report.Found = len(keys)

	seen := make(map[string]struct{}, len(keys))
	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if report.Enqueued >= maxPhotos {
			report.Capped = true
			break
		}

		s.syncKey(ctx, sessionID, key, opts.Force, seen, &report)
		if progress != nil {
			progress(i+1, len(keys))
		}
	}

	slog.InfoContext(ctx, "session sync finished",
		"session_id", sessionID,
		"prefix", report.Prefix,
		"found", report.Found,
		"enqueued", report.Enqueued,
		"skipped", report.Skipped,
		"invalid", report.Invalid,
	)
	return report, nil
}

func (s *SessionSync) syncKey(ctx context.Context, sessionID, key string, force bool, seen map[string]struct{}, report *SyncReport) {
	photoID, ok := PhotoIDFromKey(key)
	if !ok {
		report.Invalid++
		return
	}
	if _, dup := seen[photoID]; dup {
		report.Skipped++
		return
	}
	seen[photoID] = struct{}{}

	if !force {
		existing, err := s.store.Get(ctx, photoID, sessionID)
		if err != nil {
			slog.WarnContext(ctx, "sync: lookup failed, enqueueing anyway", "photo_id", photoID, "error", err)
		} else if existing != nil {
			report.Skipped++
			return
		}
	}

	acc, err := s.submitter.Submit(ctx, IngestRequest{PhotoID: photoID, SessionID: sessionID, BlobKey: key})
	if err != nil {
		if Classify(err) == ClassContent {
			report.Invalid++
		} else {
			report.Skipped++
		}
		slog.WarnContext(ctx, "sync: enqueue failed", "photo_id", photoID, "key", key, "error", err)
		return
	}
	if acc.Duplicate {
		report.Duplicates++
		return
	}
	report.Enqueued++
}

// findKeys returns the matching keys of the first prefix that has any:
// previews before originals, production before staging.
func (s *SessionSync) findKeys(ctx context.Context, sessionID string, envs []string, pattern string, report *SyncReport) ([]string, error) {
	for _, env := range envs {
		base := path.Join(env, constants.UploadKeyPrefix, sessionID) + "/"
		for _, prefix := range []string{base + "previews/", base} {
			listed, err := s.blobs.List(ctx, prefix)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", prefix, err)
			}
			var keys []string
			for _, key := range listed {
				if ok, _ := doublestar.Match(pattern, strings.TrimPrefix(key, prefix)); ok {
					keys = append(keys, key)
				}
			}
			if len(keys) > 0 {
				report.Environment = env
				report.Prefix = prefix
				return keys, nil
			}
		}
	}
	return nil, nil
}

func (s *SessionSync) environments(env string) ([]string, error) {
	switch env {
	case "", "auto":
		return s.environment, nil
	case constants.SyncEnvironmentProduction, constants.SyncEnvironmentStaging:
		return []string{env}, nil
	default:
		return nil, fmt.Errorf("%w: unknown environment %q", ErrInvalidInput, env)
	}
}

// PhotoIDFromKey derives a photo id from a blob key: the file name without
// extension. UUIDs and timestamp-hash ids are accepted as is; anything else
// must be at least constants.MinDerivedPhotoIDLength characters.
func PhotoIDFromKey(key string) (string, bool) {
	name := path.Base(key)
	id := strings.TrimSuffix(name, path.Ext(name))
	if id == "" || id == "." || id == "/" {
		return "", false
	}
	if err := metadata.ValidatePhotoID(id); err != nil {
		return "", false
	}
	if _, err := uuid.Parse(id); err == nil {
		return id, true
	}
	if timestampHashID.MatchString(id) {
		return id, true
	}
	return id, len(id) >= constants.MinDerivedPhotoIDLength
}
