package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"golang.org/x/time/rate"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
)

const defaultExtractorURL = "http://localhost:8000"

// Observer receives extractor failures by reason. FacepassMetrics satisfies it.
type Observer interface {
	ExtractorError(ctx context.Context, reason string)
}

// HTTPClient computes face embeddings using the embedding server
type HTTPClient struct {
	baseURL            string
	detectionThreshold float64
	client             *http.Client
	limiter            *rate.Limiter
	observer           Observer
}

// NewHTTPClient creates a new embedding server client. Per-call deadlines
// come from the caller's context.
func NewHTTPClient(cfg *config.ExtractorConfig) *HTTPClient {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = defaultExtractorURL
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(cfg.Burst, 1))
	}

	return &HTTPClient{
		baseURL:            strings.TrimSuffix(baseURL, "/"),
		detectionThreshold: cfg.DetectionThreshold,
		client:             &http.Client{},
		limiter:            limiter,
	}
}

// WithObserver reports failures to o.
func (c *HTTPClient) WithObserver(o Observer) *HTTPClient {
	c.observer = o
	return c
}

// faceDetection represents a single detected face
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// faceResponse represents the response from the face embedding endpoint
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Extract detects faces and returns the normalized embedding of the face
// with the highest detection score.
func (c *HTTPClient) Extract(ctx context.Context, image []byte) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		c.observe(ctx, "rate_limit")
		return Result{}, fmt.Errorf("%w: waiting for rate limiter: %w", ErrExtractionFailed, err)
	}

	body, status, err := c.postMultipartImage(ctx, "/embed/face", image)
	if err != nil {
		c.observe(ctx, "transport")
		return Result{}, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	if status != http.StatusOK {
		if (status == http.StatusBadRequest || status == http.StatusUnprocessableEntity) && mentionsInvalidImage(body) {
			c.observe(ctx, "invalid_image")
			return Result{}, fmt.Errorf("%w: %s", ErrInvalidImage, truncate(body))
		}
		c.observe(ctx, "status")
		return Result{}, fmt.Errorf("%w: API error (status %d): %s", ErrExtractionFailed, status, truncate(body))
	}

	var faceResp faceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		c.observe(ctx, "decode")
		return Result{}, fmt.Errorf("%w: failed to parse response: %w", ErrExtractionFailed, err)
	}

	face, ok := bestFace(faceResp.Faces, c.detectionThreshold)
	if !ok {
		return Result{}, ErrNoFaceDetected
	}

	return Result{
		Embedding:  Normalize(face.Embedding),
		Confidence: face.DetScore,
	}, nil
}

// bestFace picks the face with the highest detection score at or above
// threshold. Ties keep the earlier face.
func bestFace(faces []faceDetection, threshold float64) (faceDetection, bool) {
	var best faceDetection
	found := false
	for _, f := range faces {
		if f.DetScore < threshold || len(f.Embedding) == 0 {
			continue
		}
		if !found || f.DetScore > best.DetScore {
			best = f
			found = true
		}
	}
	return best, found
}

// postMultipartImage posts the image as the multipart "file" part with an
// explicit Content-Type based on magic byte detection.
func (c *HTTPClient) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, int, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", DetectContentType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, 0, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, 0, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}

	return body, resp.StatusCode, nil
}

func (c *HTTPClient) observe(ctx context.Context, reason string) {
	if c.observer != nil {
		c.observer.ExtractorError(ctx, reason)
	}
}

func mentionsInvalidImage(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "invalid image") ||
		strings.Contains(s, "cannot identify image") ||
		strings.Contains(s, "could not decode") ||
		strings.Contains(s, "unsupported image")
}

func truncate(body []byte) string {
	const maxBody = 512
	if len(body) > maxBody {
		return string(body[:maxBody]) + "..."
	}
	return string(body)
}

var _ Extractor = (*HTTPClient)(nil)
