// Package uploads stores request payloads in object storage and records an
// asset row for each stored object.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/asset"
	"github.com/plantree-xyz/plantree-server/internal/app/storage"
	"github.com/plantree-xyz/plantree-server/internal/blob"
	"github.com/plantree-xyz/plantree-server/pkg/logger"
)

// ErrNotConfigured is returned when object storage credentials are absent.
var ErrNotConfigured = errors.New("object storage not configured")

// ErrBadRequest is returned for malformed upload requests.
var ErrBadRequest = errors.New("bad upload request")

// ObjectStore stores raw objects.
type ObjectStore interface {
	Put(ctx context.Context, objectPath, contentType string, body io.Reader) (*blob.PutResult, error)
}

// Service handles file uploads.
type Service struct {
	store  ObjectStore
	assets storage.AssetStore
	log    *logger.Logger
}

// New constructs an upload service. store may be nil when storage is not
// configured; Store then fails with ErrNotConfigured.
func New(store ObjectStore, assets storage.AssetStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("uploads")
	}
	return &Service{store: store, assets: assets, log: log}
}

// Store saves the payload under <hash>.<ext> where ext derives from the
// declared content type, records an Asset and returns the storage result.
func (s *Service) Store(ctx context.Context, hash, contentType string, body io.Reader) (*blob.PutResult, error) {
	if s.store == nil {
		return nil, ErrNotConfigured
	}
	if hash == "" {
		return nil, fmt.Errorf("%w: missing file hash", ErrBadRequest)
	}
	if contentType == "" {
		contentType = "text/plain"
	}

	filename := hash + extensionFor(contentType)
	result, err := s.store.Put(ctx, filename, contentType, body)
	if err != nil {
		return nil, fmt.Errorf("store object: %w", err)
	}

	if _, err := s.assets.CreateAsset(ctx, asset.Asset{
		URL:  result.URL,
		Type: contentType,
	}); err != nil {
		return nil, fmt.Errorf("record asset: %w", err)
	}

	s.log.WithField("pathname", result.Pathname).
		WithField("content_type", contentType).
		Info("object stored")
	return result, nil
}

// extensionFor maps a content type to a file extension including the dot.
// A handful of common types get fixed mappings so the extension choice does
// not depend on the platform's mime registry ordering.
func extensionFor(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "text/plain":
		return ".txt"
	case "application/json":
		return ".json"
	}

	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}
