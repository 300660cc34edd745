package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// Archiver copies the results files of a run to object storage
type Archiver interface {
	Archive(ctx context.Context, runID string, paths []string) ([]string, error)
	DownloadURL(ctx context.Context, key string) (string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
}

type s3Archiver struct {
	client    *s3.Client
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

// S3Config holds configuration for the S3 archiver
type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// NewS3Archiver creates an archiver for AWS S3, or for a MinIO compatible
// endpoint when Endpoint is set
func NewS3Archiver(ctx context.Context, cfg S3Config) (Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	region := cfg.Region
	if region == "" || cfg.Endpoint != "" {
		region = "us-east-1" // MinIO ignores the region
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "http://" + endpoint
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
			o.UsePathStyle = true // MinIO requires path-style URLs
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &s3Archiver{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		urlExpiry: 24 * time.Hour,
	}, nil
}

// ObjectKey returns the key a results file of a run is stored under
func ObjectKey(prefix, runID, file string) string {
	return path.Join(prefix, runID, filepath.Base(file))
}

// Archive uploads every file and returns the keys written. It stops at the
// first failure.
func (s *s3Archiver) Archive(ctx context.Context, runID string, paths []string) ([]string, error) {
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		key := ObjectKey(s.prefix, runID, p)
		size, err := s.upload(ctx, key, p)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
		log.Info().
			Str("bucket", s.bucket).
			Str("key", key).
			Str("size", humanize.Bytes(uint64(size))).
			Msg("Results file archived")
	}
	return keys, nil
}

func (s *s3Archiver) upload(ctx context.Context, key, file string) (int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", file, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("text/csv"),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return info.Size(), nil
}

// DownloadURL generates a pre-signed URL for an archived file
func (s *s3Archiver) DownloadURL(ctx context.Context, key string) (string, error) {
	presignClient := s3.NewPresignClient(s.client)

	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate download URL: %w", err)
	}

	return request.URL, nil
}

// Fetch downloads an archived file
func (s *s3Archiver) Fetch(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer result.Body.Close()

	return io.ReadAll(result.Body)
}

// EnsureBucket creates the bucket if it does not exist yet
func EnsureBucket(ctx context.Context, a Archiver) error {
	s, ok := a.(*s3Archiver)
	if !ok {
		return nil
	}
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}
