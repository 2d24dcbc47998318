package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store is the object store surface shared by the S3 and MinIO drivers.
type Store interface {
	PresignUpload(ctx context.Context, bucket, key, contentType string, expires time.Duration) (string, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// Driver names accepted by Open.
const (
	DriverS3    = "s3"
	DriverMinIO = "minio"
)

// Open returns the object store for driver. MinIO buckets are created when missing.
func Open(ctx context.Context, driver string, s3cfg S3Config, minioCfg MinIOConfig, logger *zap.Logger, buckets ...string) (Store, error) {
	switch driver {
	case DriverS3, "":
		s, err := NewS3(ctx, s3cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMinIO:
		m, err := NewMinIO(ctx, minioCfg, logger, buckets...)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
