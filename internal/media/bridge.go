// Package media moves request temp files into the remote asset store.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"skilllink/internal/apperr"
	"skilllink/internal/domain"
	"skilllink/internal/storage"
)

// Status is the outcome class of an upload.
type Status string

const (
	// StatusUploaded means the asset is stored remotely.
	StatusUploaded Status = "uploaded"
	// StatusSkipped means no upload was attempted and nothing was touched.
	StatusSkipped Status = "skipped"
	// StatusFailed means the remote store rejected the upload.
	StatusFailed Status = "failed"
)

// UploadResult tells the caller what happened to a temp file.
type UploadResult struct {
	Status Status
	Asset  domain.Asset
	Reason string
	Err    error
}

// OK reports whether the asset was stored.
func (r UploadResult) OK() bool {
	return r.Status == StatusUploaded
}

// Bridge uploads local temp files and always removes them afterwards.
type Bridge struct {
	store   storage.AssetStore
	logger  *logrus.Logger
	metrics *Metrics

	remove func(string) error
}

// Option customizes a Bridge.
type Option func(*Bridge)

func WithLogger(logger *logrus.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

func NewBridge(store storage.AssetStore, opts ...Option) *Bridge {
	b := &Bridge{
		store:  store,
		remove: os.Remove,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logrus.New()
	}
	return b
}

// Upload sends the file at localPath to the asset store. Missing input is
// reported as StatusSkipped with no side effects. Once an upload is attempted
// the local file is removed whatever the outcome.
func (b *Bridge) Upload(ctx context.Context, localPath string) UploadResult {
	if strings.TrimSpace(localPath) == "" {
		return b.skip("no file given")
	}
	p := NormalizePath(localPath)
	logger := b.logger.WithField("path", p)

	info, err := os.Stat(p)
	if err != nil {
		logger.Debugf("upload skipped: %v", err)
		return b.skip("file does not exist")
	}
	if info.IsDir() {
		return b.skip("not a regular file")
	}

	defer b.cleanup(p, logger)

	asset, err := b.store.Upload(ctx, p)
	if err != nil {
		logger.Errorf("upload to asset store: %v", err)
		b.metrics.observeUpload(StatusFailed)
		return UploadResult{
			Status: StatusFailed,
			Reason: "upload failed",
			Err:    apperr.Wrap(apperr.KindRemoteStore, "upload failed", err),
		}
	}

	logger.WithField("public_id", asset.PublicID).Infof("uploaded %s (%s)", asset.ResourceType, formatBytes(asset.Bytes))
	b.metrics.observeUpload(StatusUploaded)
	return UploadResult{Status: StatusUploaded, Asset: asset}
}

// Remove deletes a remote asset. Failures are logged and never returned, so
// cleanup paths can call it unconditionally.
func (b *Bridge) Remove(ctx context.Context, publicID string) {
	publicID = strings.TrimSpace(publicID)
	if publicID == "" {
		return
	}
	logger := b.logger.WithField("public_id", publicID)
	if err := b.store.Delete(ctx, publicID); err != nil {
		logger.Warnf("remove remote asset: %v", err)
		b.metrics.observeRemoval(false)
		return
	}
	logger.Debug("remote asset removed")
	b.metrics.observeRemoval(true)
}

func (b *Bridge) skip(reason string) UploadResult {
	b.metrics.observeUpload(StatusSkipped)
	return UploadResult{Status: StatusSkipped, Reason: reason}
}

// cleanup deletes p if it is still there. A file that is already gone is
// not an error.
func (b *Bridge) cleanup(p string, logger *logrus.Entry) {
	if _, err := os.Stat(p); err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("stat temp file: %v", err)
		}
		return
	}
	if err := b.remove(p); err != nil && !os.IsNotExist(err) {
		logger.Warnf("remove temp file: %v", err)
	}
}

// NormalizePath turns backslash separated paths into clean local paths.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	return filepath.Clean(filepath.FromSlash(p))
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
