package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ewyt/proximity-pipeline/internal/pkg/logger"
)

// S3Mirror uploads written output tables to a bucket so field laptops can
// sync results off-site. Mirroring is best-effort from the pipeline's point
// of view: the local table is the source of truth.
type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Mirror creates a mirror over the given bucket.
func NewS3Mirror(ctx context.Context, bucket, prefix, region, profile string) (*S3Mirror, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
			awsconfig.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Mirror{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// UploadFile pushes one table file to the bucket under its base name.
func (m *S3Mirror) UploadFile(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("cannot open %s for mirroring: %w", localPath, err)
	}
	defer f.Close()

	key := path.Join(m.prefix, filepath.Base(localPath))
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("mirroring %s to s3://%s/%s: %w", localPath, m.bucket, key, err)
	}

	logger.Info("mirrored table to S3", "bucket", m.bucket, "key", key)
	return nil
}
