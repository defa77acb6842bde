// Package storage keeps lead photos in an S3 compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/phbpx/leadadmin"
	"go.uber.org/zap"
)

type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
	// PublicBaseURL is prepended to object paths to build their public URL.
	// It defaults to <Endpoint>/<Bucket>.
	PublicBaseURL string
	CacheControl  string
}

// Client implements leadadmin.ObjectStore.
type Client struct {
	s3  *s3.Client
	cfg Config
	log *zap.SugaredLogger
	now func() time.Time
}

var _ leadadmin.ObjectStore = (*Client)(nil)

func New(ctx context.Context, cfg Config, log *zap.SugaredLogger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	if cfg.CacheControl == "" {
		cfg.CacheControl = "max-age=3600"
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.Endpoint != "" {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				HostnameImmutable: true,
				Source:            aws.EndpointSourceCustom,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	opts := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &Client{
		s3:  client,
		cfg: cfg,
		log: log,
		now: time.Now,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.cfg.Bucket),
	})
	if err == nil {
		return nil
	}

	c.log.Infow("storage", "status", "creating bucket", "bucket", c.cfg.Bucket)

	in := &s3.CreateBucketInput{Bucket: aws.String(c.cfg.Bucket)}
	if c.cfg.Region != "" && c.cfg.Region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(c.cfg.Region),
		}
	}

	if _, err := c.s3.CreateBucket(ctx, in); err != nil {
		return fmt.Errorf("creating bucket %s: %w", c.cfg.Bucket, err)
	}
	return nil
}

// Upload stores body under a fresh key inside folder and returns the key
// and its public URL.
func (c *Client) Upload(ctx context.Context, folder, name, contentType string, body io.Reader, size int64) (string, string, error) {
	key := ObjectKey(folder, name, c.now())

	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.cfg.Bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
		CacheControl:  aws.String(c.cfg.CacheControl),
	})
	if err != nil {
		return "", "", fmt.Errorf("uploading %s: %w", name, err)
	}

	c.log.Infow("storage", "status", "uploaded", "key", key, "size", size)
	return key, c.PublicURL(key), nil
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}

	c.log.Infow("storage", "status", "deleted", "key", key)
	return nil
}

func (c *Client) PublicURL(key string) string {
	return PublicURL(c.cfg, key)
}

// PublicURL joins the configured public base with key.
func PublicURL(cfg Config, key string) string {
	base := cfg.PublicBaseURL
	if base == "" {
		base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(key, "/")
}

// ObjectKey builds a collision free key that keeps the file extension:
// <folder>/<unix millis>-<random>.<ext>.
func ObjectKey(folder, name string, now time.Time) string {
	ext := strings.ToLower(path.Ext(name))
	id := strings.SplitN(uuid.NewString(), "-", 2)[0]
	key := fmt.Sprintf("%d-%s%s", now.UnixMilli(), id, ext)

	folder = strings.Trim(folder, "/")
	if folder == "" {
		return key
	}
	return folder + "/" + key
}
