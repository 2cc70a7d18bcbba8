package storage

import (
	"context"

	"skilllink/internal/domain"
)

// AssetStore keeps uploaded media on a remote host.
type AssetStore interface {
	// Upload sends the file at localPath and returns the stored asset. The
	// resource type is detected from the file content.
	Upload(ctx context.Context, localPath string) (domain.Asset, error)
	// Delete removes the asset identified by publicID.
	Delete(ctx context.Context, publicID string) error
}
