// internal/vision/oracle.go

// Package vision turns a meal photo into detections or a caption.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"mcp-nutrition-engine/internal/models"
)

var (
	ErrEmptyImage       = errors.New("vision: image is empty")
	ErrUnsupportedMedia = errors.New("vision: unsupported media type")
	ErrInvalidImage     = errors.New("vision: image is not valid base64")
)

// Image is a base64 encoded photo and its media type.
type Image struct {
	Base64    string
	MediaType string
}

// Oracle identifies the foods in a meal photo. Implementations return
// either detections or a caption; the estimation engine handles both.
type Oracle interface {
	Observe(ctx context.Context, img Image) (*models.Observation, error)
}

var supportedMedia = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Validate normalizes the media type and checks the payload decodes.
func (img *Image) Validate() error {
	img.Base64 = strings.TrimSpace(img.Base64)
	if i := strings.Index(img.Base64, ";base64,"); i >= 0 && strings.HasPrefix(img.Base64, "data:") {
		if img.MediaType == "" {
			img.MediaType = img.Base64[len("data:"):i]
		}
		img.Base64 = img.Base64[i+len(";base64,"):]
	}
	if img.Base64 == "" {
		return ErrEmptyImage
	}

	img.MediaType = strings.ToLower(strings.TrimSpace(img.MediaType))
	if img.MediaType == "" {
		img.MediaType = "image/jpeg"
	}
	if img.MediaType == "image/jpg" {
		img.MediaType = "image/jpeg"
	}
	if !supportedMedia[img.MediaType] {
		return ErrUnsupportedMedia
	}

	if _, err := base64.StdEncoding.DecodeString(img.Base64); err != nil {
		return eris.Wrap(ErrInvalidImage, err.Error())
	}
	return nil
}

// Static always returns the same observation. It backs tests and the
// "none" provider.
type Static struct {
	Observation models.Observation
}

func (s Static) Observe(_ context.Context, img Image) (*models.Observation, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	obs := s.Observation
	return &obs, nil
}
