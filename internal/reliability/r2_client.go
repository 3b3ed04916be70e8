// Package reliability provides database backups and maintenance jobs.
package reliability

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// R2Config configures an S3-compatible bucket (Cloudflare R2, MinIO, AWS).
type R2Config struct {
	Bucket    string
	Endpoint  string // Empty for AWS S3
	Region    string
	AccessKey string // Empty uses the default credential chain
	SecretKey string
	Prefix    string // Prepended to every object key
}

// ObjectInfo describes a stored object. Keys are relative to the prefix.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// R2Client stores backup archives in an S3-compatible bucket
type R2Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	log      zerolog.Logger
}

// NewR2Client creates a new R2 client
func NewR2Client(ctx context.Context, cfg R2Config, log zerolog.Logger) (*R2Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &R2Client{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		log:      log.With().Str("client", "r2").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// Upload streams body to key with the multipart upload manager
func (c *R2Client) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.prefix + key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	c.log.Debug().Str("key", key).Int64("size_bytes", size).Msg("Uploaded object")
	return nil
}

// List returns every object whose key starts with prefix
func (c *R2Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix + prefix),
	})

	var objects []ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if len(key) < len(c.prefix) {
				continue
			}
			objects = append(objects, ObjectInfo{
				Key:          key[len(c.prefix):],
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// Delete removes key from the bucket
func (c *R2Client) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.prefix + key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
