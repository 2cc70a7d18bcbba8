package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"skilllink/internal/domain"
)

// S3Options conveys upload destination metadata.
type S3Options struct {
	Bucket    string
	KeyPrefix string
	// PublicBaseURL, when set, replaces the S3 location in returned asset URLs
	// (for example a CDN in front of the bucket).
	PublicBaseURL string
	// ACL is sent with each upload only when set. Buckets with object
	// ownership enforced reject any canned ACL.
	ACL types.ObjectCannedACL
}

// S3AssetStore keeps assets in Amazon S3 (or compatible APIs).
type S3AssetStore struct {
	client   *s3.Client
	uploader *manager.Uploader
	opts     S3Options
}

func NewS3AssetStore(client *s3.Client, opts S3Options) *S3AssetStore {
	return &S3AssetStore{
		client:   client,
		uploader: manager.NewUploader(client),
		opts:     opts,
	}
}

func (s *S3AssetStore) Upload(ctx context.Context, localPath string) (domain.Asset, error) {
	if s.opts.Bucket == "" {
		return domain.Asset{}, fmt.Errorf("storage bucket is required")
	}

	mtype, err := mimetype.DetectFile(localPath)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("detect type of %s: %w", localPath, err)
	}
	resourceType := ResourceTypeOf(mtype.String())

	f, err := os.Open(localPath)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("open file %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return domain.Asset{}, fmt.Errorf("stat file %s: %w", localPath, err)
	}

	key := s.objectKey(resourceType, mtype.Extension())
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(mtype.String()),
	}
	if s.opts.ACL != "" {
		input.ACL = s.opts.ACL
	}
	out, err := s.uploader.Upload(ctx, input)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("upload %s: %w", localPath, err)
	}

	return domain.Asset{
		PublicID:     key,
		URL:          s.publicURL(key, out.Location),
		ResourceType: resourceType,
		Bytes:        info.Size(),
	}, nil
}

func (s *S3AssetStore) Delete(ctx context.Context, publicID string) error {
	if s.opts.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	key := strings.TrimSpace(publicID)
	if key == "" {
		return fmt.Errorf("public id is required")
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3AssetStore) objectKey(resourceType domain.ResourceType, ext string) string {
	name := uuid.NewString() + ext
	prefix := strings.Trim(s.opts.KeyPrefix, "/")
	if prefix == "" {
		return path.Join(string(resourceType), name)
	}
	return path.Join(prefix, string(resourceType), name)
}

func (s *S3AssetStore) publicURL(key, location string) string {
	if base := strings.TrimRight(s.opts.PublicBaseURL, "/"); base != "" {
		return base + "/" + key
	}
	return location
}

// ResourceTypeOf maps a MIME type onto the coarse asset class.
func ResourceTypeOf(mime string) domain.ResourceType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return domain.ResourceImage
	case strings.HasPrefix(mime, "video/"), strings.HasPrefix(mime, "audio/"):
		return domain.ResourceVideo
	default:
		return domain.ResourceRaw
	}
}

var _ AssetStore = (*S3AssetStore)(nil)
