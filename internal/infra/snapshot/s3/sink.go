// Package s3 stores the snapshot blob as a single object in an S3-compatible
// bucket (AWS S3 or MinIO).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"pocketdb/internal/snapshot"
)

// DefaultKey is the object key used when none is configured.
const DefaultKey = "pocketdb/snapshot"

// Client is the subset of *s3.Client the sink calls.
type Client interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds explicit construction parameters. Credentials fall back to
// the default AWS chain when AccessKeyID is empty.
type Config struct {
	Region          string
	Bucket          string
	Key             string
	Endpoint        string // optional; enables a custom endpoint such as MinIO
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
}

// Sink implements snapshot.Sink on one S3 object.
type Sink struct {
	client Client
	bucket string
	key    string
}

var _ snapshot.Sink = (*Sink)(nil)

// New builds an S3 client from cfg and returns a sink writing to cfg.Bucket/cfg.Key.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 sink: bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client Client, bucket, key string) *Sink {
	if key == "" {
		key = DefaultKey
	}
	return &Sink{client: client, bucket: bucket, key: key}
}

// OpenFromEnv constructs a sink from POCKETDB_S3_* variables plus the
// standard AWS_* credential variables.
func OpenFromEnv(ctx context.Context) (*Sink, error) {
	bucket := os.Getenv("POCKETDB_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("POCKETDB_S3_BUCKET required for s3 driver")
	}
	return New(ctx, Config{
		Bucket:    bucket,
		Key:       os.Getenv("POCKETDB_S3_KEY"),
		Region:    os.Getenv("POCKETDB_S3_REGION"),
		Endpoint:  os.Getenv("POCKETDB_S3_ENDPOINT"),
		PathStyle: strings.EqualFold(os.Getenv("POCKETDB_S3_PATH_STYLE"), "true"),
	})
}

func (s *Sink) Driver() snapshot.Driver { return snapshot.DriverS3 }

// Location returns bucket and key of the snapshot object.
func (s *Sink) Location() (bucket, key string) { return s.bucket, s.key }

func (s *Sink) Load(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &s.key})
	if err != nil {
		if isNotFound(err) {
			return nil, snapshot.ErrNotFound
		}
		return nil, fmt.Errorf("s3 sink: get %s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 sink: read %s/%s: %w", s.bucket, s.key, err)
	}
	return b, nil
}

func (s *Sink) Save(ctx context.Context, blob []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &s.bucket,
		Key:           &s.key,
		Body:          bytes.NewReader(blob),
		ContentLength: aws.Int64(int64(len(blob))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("s3 sink: put %s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

func (s *Sink) Remove(ctx context.Context) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &s.key}); err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 sink: delete %s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
