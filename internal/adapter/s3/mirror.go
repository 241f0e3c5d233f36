package s3

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/couchcryptid/tide-gauge-imputation/internal/pipeline"
)

const parquetContentType = "application/vnd.apache.parquet"

// Config holds explicit construction parameters. Credentials come from the
// default AWS chain.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // optional, e.g. MinIO
	PathStyle bool
	Prefix    string
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Mirror uploads every written artifact to an S3-compatible bucket.
// It implements pipeline.ArtifactSink.
type Mirror struct {
	client putObjectAPI
	bucket string
	prefix string
}

// New creates a Mirror from Config.
func New(ctx context.Context, cfg Config, optFns ...func(*s3.Options)) (*Mirror, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		for _, fn := range optFns {
			fn(o)
		}
	})
	return &Mirror{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Name implements pipeline.ArtifactSink.
func (m *Mirror) Name() string { return "s3" }

// Key returns the object key for an artifact: <prefix>/<region>/<file name>.
func (m *Mirror) Key(a pipeline.Artifact) string {
	return path.Join(m.prefix, a.Region, filepath.Base(a.Path))
}

// Publish uploads the artifact file.
func (m *Mirror) Publish(ctx context.Context, a pipeline.Artifact) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	key := m.Key(a)
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(parquetContentType),
		Metadata: map[string]string{
			"region":       a.Region,
			"generated-at": a.GeneratedAt.UTC().Format(time.RFC3339),
			"records":      strconv.Itoa(a.Records),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", m.bucket, key, err)
	}
	return nil
}
