package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"wikid/internal/config"
	"wikid/internal/wiki"
)

// S3Store stores attachment blobs in an S3 bucket under
// <prefix>/content/<hash>. Uploads go through the multipart upload manager
// so large blobs never require a single oversized request.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ wiki.AttachmentStore = (*S3Store)(nil)

// NewS3Store creates an S3 attachment store from configuration. Static
// credentials take precedence over the ambient AWS credential chain; a
// custom endpoint supports S3-compatible object stores.
func NewS3Store(cfg config.AttachmentsConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 attachment store requires s3_bucket to be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   cfg.S3Prefix,
	}, nil
}

func (s *S3Store) key(hash string) string {
	return path.Join(s.prefix, "content", hash)
}

// Put stores the payload under its content hash.
// Idempotent: re-uploading the same hash overwrites identical bytes.
func (s *S3Store) Put(data []byte, mimeType string) (string, error) {
	hash := ContentHash(data)
	return hash, s.PutAs(hash, data, mimeType)
}

// PutAs stores the payload under a caller-chosen hash.
func (s *S3Store) PutAs(hash string, data []byte, mimeType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
		Body:   bytes.NewReader(data),
	}
	if mimeType != "" {
		input.ContentType = aws.String(mimeType)
	}

	if _, err := s.uploader.Upload(context.Background(), input); err != nil {
		return fmt.Errorf("uploading blob: %w", err)
	}
	return nil
}

// Get retrieves a payload by content hash.
func (s *S3Store) Get(hash string) ([]byte, error) {
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("attachment %s: %w", hash, wiki.ErrNotFound)
		}
		return nil, fmt.Errorf("fetching blob: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return data, nil
}

// Size returns the stored size for a content hash.
func (s *S3Store) Size(hash string) (int64, error) {
	out, err := s.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(hash)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return 0, fmt.Errorf("attachment %s: %w", hash, wiki.ErrNotFound)
		}
		return 0, fmt.Errorf("statting blob: %w", err)
	}
	return aws.ToInt64(out.ContentLength), nil
}
