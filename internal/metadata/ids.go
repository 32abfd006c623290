package metadata

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/aukanara2010-dot/facepass-sub001/internal/constants"
)

// ErrInvalidID is returned for identifiers that are empty, too long or
// contain characters that are never part of a generated identifier.
var ErrInvalidID = errors.New("invalid identifier")

// Identifiers become blob key segments, so path separators and dot segments
// are rejected along with SQL punctuation.
var forbiddenIDSequences = []string{"'", `"`, ";", "--", "/*", "*/", "/", `\`, ".."}

// ValidateSessionID checks the format of a session identifier.
func ValidateSessionID(id string) error {
	return validateID("session_id", id)
}

// ValidatePhotoID checks the format of a photo identifier. Photo identifiers
// are opaque strings; UUIDs and timestamp-hash ids are both accepted.
func ValidatePhotoID(id string) error {
	return validateID("photo_id", id)
}

func validateID(field, id string) error {
	if id == "" || len(id) > constants.MaxIdentifierLength {
		return fmt.Errorf("%w: %s must be 1-%d characters", ErrInvalidID, field, constants.MaxIdentifierLength)
	}
	for _, seq := range forbiddenIDSequences {
		if strings.Contains(id, seq) {
			return fmt.Errorf("%w: %s has invalid format", ErrInvalidID, field)
		}
	}
	if id == "." || strings.IndexFunc(id, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: %s has invalid format", ErrInvalidID, field)
	}
	return nil
}
