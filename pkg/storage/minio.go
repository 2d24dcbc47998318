package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig holds connection settings for an S3-compatible MinIO server.
type MinIOConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinIO provides the same object operations as S3 against a MinIO server (local runs).
type MinIO struct {
	client *minio.Client
	logger *zap.Logger
}

// NewMinIO connects to MinIO and makes sure the given buckets exist.
func NewMinIO(ctx context.Context, cfg MinIOConfig, logger *zap.Logger, buckets ...string) (*MinIO, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	for _, bucket := range buckets {
		if bucket == "" {
			continue
		}
		exists, err := cli.BucketExists(ctx, bucket)
		if err != nil {
			return nil, fmt.Errorf("bucket exists %s: %w", bucket, err)
		}
		if !exists {
			if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, fmt.Errorf("make bucket %s: %w", bucket, err)
			}
			logger.Info("created bucket", zap.String("bucket", bucket))
		}
	}
	return &MinIO{client: cli, logger: logger}, nil
}

// PresignUpload returns a pre-signed PUT URL for direct upload.
func (m *MinIO) PresignUpload(ctx context.Context, bucket, key, _ string, expires time.Duration) (string, error) {
	u, err := m.client.PresignedPutObject(ctx, bucket, key, expires)
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return u.String(), nil
}

// GetObject reads a whole object. Missing objects yield ErrObjectNotFound.
func (m *MinIO) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.mapErr(err, bucket, key)
	}
	defer obj.Close()
	body, err := io.ReadAll(io.LimitReader(obj, MaxObjectSize+1))
	if err != nil {
		return nil, m.mapErr(err, bucket, key)
	}
	if len(body) > MaxObjectSize {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectTooLarge, bucket, key)
	}
	return body, nil
}

func (m *MinIO) mapErr(err error, bucket, key string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return fmt.Errorf("get object: %w", err)
}
