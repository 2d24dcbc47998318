package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const (
	// MaxObjectSize caps how much of an object GetObject reads into memory (transcripts are small JSON documents).
	MaxObjectSize = 32 * 1024 * 1024
	// TranscriptFile is the object name the transcription job writes under the recording prefix.
	TranscriptFile = "transcript.json"
)

var (
	// ErrObjectNotFound is returned when the requested object does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrObjectTooLarge is returned for objects over MaxObjectSize.
	ErrObjectTooLarge = errors.New("object too large")
)

// S3Config holds S3 client configuration.
type S3Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // optional, e.g. localstack
}

// S3 provides the object operations the pipeline needs on AWS S3.
type S3 struct {
	client     *s3.Client
	downloader *manager.Downloader
	cfg        S3Config
	logger     *zap.Logger
}

// NewS3 creates an S3 client using credentials from config or .env (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY).
func NewS3(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	awsCfg, err := LoadAWSConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 5 * 1024 * 1024
	})
	return &S3{client: client, downloader: downloader, cfg: cfg, logger: logger}, nil
}

// LoadAWSConfig resolves the shared AWS configuration, preferring static credentials when set.
func LoadAWSConfig(ctx context.Context, cfg S3Config, logger *zap.Logger) (aws.Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
		logger.Info("AWS client using static credentials", zap.String("region", cfg.Region))
	} else {
		logger.Warn("AWS client using default credential chain (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY not set)")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

// AudioKey returns the object key of an uploaded recording: {user_id}/{recording_id}/{file_name}.
func AudioKey(userID, recordingID, fileName string) string {
	return path.Join(userID, recordingID, path.Base(fileName))
}

// TranscriptKey returns the object key the transcription job writes: {recording_id}/transcript.json.
func TranscriptKey(recordingID string) string {
	return path.Join(recordingID, TranscriptFile)
}

// PresignUpload returns a pre-signed PUT URL for direct upload.
func (s *S3) PresignUpload(ctx context.Context, bucket, key, contentType string, expires time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)
	req, err := presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign put: %w", err)
	}
	return req.URL, nil
}

// GetObject reads a whole object. Missing objects yield ErrObjectNotFound; objects over
// MaxObjectSize are refused before any body is downloaded.
func (s *S3) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s.mapErr(err, bucket, key)
	}
	size := aws.ToInt64(head.ContentLength)
	if size > MaxObjectSize {
		return nil, fmt.Errorf("%w: s3://%s/%s is %d bytes", ErrObjectTooLarge, bucket, key, size)
	}

	buf := manager.NewWriteAtBuffer(make([]byte, 0, size))
	if _, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return nil, s.mapErr(err, bucket, key)
	}
	return buf.Bytes(), nil
}

func (s *S3) mapErr(err error, bucket, key string) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	var re *awshttp.ResponseError
	if errors.As(err, &nsk) || errors.As(err, &nf) || (errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound) {
		return fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, bucket, key)
	}
	return fmt.Errorf("get object: %w", err)
}
