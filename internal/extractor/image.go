package extractor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/aukanara2010-dot/facepass-sub001/internal/constants"
)

const octetStream = "application/octet-stream"

// DetectContentType detects the image MIME type from magic bytes
func DetectContentType(data []byte) string {
	if len(data) < 8 {
		return octetStream
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	if len(data) >= 12 {
		// WebP: 52 49 46 46 ... 57 45 42 50
		if bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
			return "image/webp"
		}
		// ISO BMFF: ....ftyp<brand>
		if bytes.Equal(data[4:8], []byte("ftyp")) {
			switch string(data[8:12]) {
			case "heic", "heix", "hevc", "hevx", "heim", "heis":
				return "image/heic"
			case "mif1", "msf1", "heif":
				return "image/heif"
			}
		}
	}
	return octetStream
}

// ValidateImage checks size, format and dimensions and returns the detected
// content type. HEIC and HEIF skip the dimension check since no decoder for
// them is linked in.
func ValidateImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidImage)
	}
	if len(data) > constants.MaxImageSize {
		return "", fmt.Errorf("%w: file too large, maximum size %.1fMB", ErrInvalidImage, float64(constants.MaxImageSize)/(1<<20))
	}

	contentType := DetectContentType(data)
	switch contentType {
	case "image/heic", "image/heif":
		return contentType, nil
	case octetStream:
		return "", fmt.Errorf("%w: unsupported image format", ErrInvalidImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidImage, err)
	}
	if cfg.Width > constants.MaxImageDimension || cfg.Height > constants.MaxImageDimension {
		return "", fmt.Errorf("%w: image dimensions too large, maximum %dx%d", ErrInvalidImage, constants.MaxImageDimension, constants.MaxImageDimension)
	}
	if cfg.Width < constants.MinImageDimension || cfg.Height < constants.MinImageDimension {
		return "", fmt.Errorf("%w: image dimensions too small, minimum %dx%d", ErrInvalidImage, constants.MinImageDimension, constants.MinImageDimension)
	}
	return contentType, nil
}
