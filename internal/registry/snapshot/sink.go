package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"objectmap/internal/platform/config"
)

// Sink stores an encoded snapshot and returns where it was written.
type Sink interface {
	Put(ctx context.Context, name string, data []byte, digest string) (string, error)
}

// NewSink builds a sink from a target: "s3://bucket/prefix" or a directory path.
func NewSink(cfg config.SnapshotConfig, logger *slog.Logger) (Sink, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("snapshot target is empty")
	}
	if strings.HasPrefix(cfg.Target, "s3://") {
		u, err := url.Parse(cfg.Target)
		if err != nil {
			return nil, fmt.Errorf("parse snapshot target: %w", err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("snapshot target %q has no bucket", cfg.Target)
		}
		return NewS3Sink(u.Host, strings.TrimPrefix(u.Path, "/"), cfg, logger)
	}
	return NewFileSink(strings.TrimPrefix(cfg.Target, "file://")), nil
}

// FileSink writes snapshots into a directory.
type FileSink struct {
	dir string
}

func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Put writes atomically through a temporary file in the same directory.
func (f *FileSink) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(f.dir, ".snapshot-*")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close snapshot: %w", err)
	}
	path := filepath.Join(f.dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("move snapshot into place: %w", err)
	}
	return path, nil
}

// S3Sink uploads snapshots to an S3 or S3-compatible bucket.
type S3Sink struct {
	client *s3.S3
	bucket string
	prefix string
	log    *slog.Logger
}

func NewS3Sink(bucket, prefix string, cfg config.SnapshotConfig, logger *slog.Logger) (*S3Sink, error) {
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg := aws.Config{Region: aws.String(region)}
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, "")
	}
	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &S3Sink{
		client: s3.New(sess),
		bucket: bucket,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    logger,
	}, nil
}

func (s *S3Sink) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *S3Sink) Put(ctx context.Context, name string, data []byte, digest string) (string, error) {
	key := s.key(name)
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata:    map[string]*string{"Digest": aws.String(digest)},
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot to s3://%s/%s: %w", s.bucket, key, err)
	}
	s.log.Debug("snapshot uploaded", "bucket", s.bucket, "key", key, "bytes", len(data))
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
