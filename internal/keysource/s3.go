package keysource

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/roach88/keysettle/internal/sensor"
)

// S3Config selects the S3 endpoint. Credentials come from the default
// AWS chain (environment, shared config, instance role).
type S3Config struct {
	Region       string
	Endpoint     string
	UsePathStyle bool

	// PageSize caps keys per ListObjectsV2 call. Zero uses the service default.
	PageSize int32
}

// S3Lister lists object keys under a prefix.
type S3Lister struct {
	client   s3.ListObjectsV2APIClient
	pageSize int32
}

// NewS3Lister loads the default AWS config and builds an S3 client.
func NewS3Lister(ctx context.Context, cfg S3Config) (*S3Lister, error) {
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3ListerFromClient(client, cfg.PageSize), nil
}

// NewS3ListerFromClient wraps an existing client.
func NewS3ListerFromClient(client s3.ListObjectsV2APIClient, pageSize int32) *S3Lister {
	return &S3Lister{client: client, pageSize: pageSize}
}

// ListKeys walks every page under prefix and returns the keys as a set.
func (l *S3Lister) ListKeys(ctx context.Context, bucket, prefix string) (sensor.KeySet, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if l.pageSize > 0 {
		input.MaxKeys = aws.Int32(l.pageSize)
	}

	keys := sensor.NewKeySet()
	paginator := s3.NewListObjectsV2Paginator(l.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects in s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys[*obj.Key] = struct{}{}
			}
		}
	}
	return keys, nil
}
