// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Identifier constants
const (
	// MaxIdentifierLength is the maximum length of a photo or session identifier
	MaxIdentifierLength = 255

	// MinDerivedPhotoIDLength is the shortest photo ID accepted when deriving
	// one from a blob key that is neither a UUID nor a timestamp-hash
	MinDerivedPhotoIDLength = 6
)

// Image validation constants
const (
	// MaxImageSize is the maximum accepted image payload in bytes (10MB)
	MaxImageSize = 10 << 20

	// MaxImageDimension is the maximum width or height of an accepted image
	MaxImageDimension = 4096

	// MinImageDimension is the minimum width or height of an accepted image
	MinImageDimension = 10

	// MaxUploadSize caps the whole multipart request, leaving room for form fields
	MaxUploadSize = MaxImageSize + 1<<20
)

// Batch constants
const (
	// MaxBatchErrors is the number of per-item errors echoed back by batch endpoints
	MaxBatchErrors = 10

	// MaxBatchSize is the largest accepted batch index request
	MaxBatchSize = 1000
)

// Rate limiting constants
const (
	// RateLimiterIdleTTL is how long an idle client keeps its limiter
	RateLimiterIdleTTL = 10 * time.Minute

	// RateLimiterSweepInterval is how often idle limiters are evicted
	RateLimiterSweepInterval = time.Minute
)

// Blob layout constants
const (
	// UploadKeyPrefix is the prefix for images uploaded through the index endpoint
	UploadKeyPrefix = "photos"

	// Deployment prefixes scanned by session sync, in order
	SyncEnvironmentProduction = "production"
	SyncEnvironmentStaging    = "staging"

	// DefaultSyncPattern selects image files during session sync
	DefaultSyncPattern = "**/*.{jpg,jpeg,png,webp,JPG,JPEG,PNG,WEBP}"
)
