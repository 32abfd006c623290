// Package extractor talks to the face embedding server and validates images
// before they are sent to it.
package extractor

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrNoFaceDetected is returned when no face reaches the detection threshold
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrExtractionFailed covers transport, status and decoding failures
	ErrExtractionFailed = errors.New("embedding extraction failed")
	// ErrInvalidImage is returned for payloads that are not an acceptable image
	ErrInvalidImage = errors.New("invalid image")
)

// Result is the embedding of the best face in an image.
type Result struct {
	Embedding  []float32
	Confidence float64 // detection score of the chosen face
}

// Extractor turns image bytes into a face embedding.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (Result, error)
}

// Normalize returns v scaled to unit L2 norm. A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
