package lode

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"
)

// S3Config locates the bucket that holds the message dataset.
// Credentials come from the AWS default chain.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every object key.
	Prefix string
	// Region overrides the region from the default chain.
	Region string
	// Endpoint targets an S3-compatible service such as MinIO or R2.
	Endpoint string
	// UsePathStyle puts the bucket in the path instead of the host name.
	UsePathStyle bool
}

// Validate reports a missing bucket.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ParseS3Path splits "bucket/prefix", with or without an s3:// scheme,
// into its bucket and key prefix. Surrounding slashes on the prefix are
// dropped.
func ParseS3Path(path string) (bucket, prefix string) {
	path = strings.TrimPrefix(path, "s3://")
	bucket, prefix, _ = strings.Cut(path, "/")
	return bucket, strings.Trim(prefix, "/")
}

// NewS3Factory returns a store factory over one shared S3 client.
func NewS3Factory(ctx context.Context, s3cfg S3Config) (lode.StoreFactory, error) {
	if err := s3cfg.Validate(); err != nil {
		return nil, err
	}

	var load []func(*config.LoadOptions) error
	if s3cfg.Region != "" {
		load = append(load, config.WithRegion(s3cfg.Region))
	}
	aws, err := config.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return nil, WrapInitError(err, "s3://"+s3cfg.Bucket)
	}

	client := s3.NewFromConfig(aws, func(o *s3.Options) {
		if s3cfg.Endpoint != "" {
			o.BaseEndpoint = &s3cfg.Endpoint
		}
		o.UsePathStyle = s3cfg.UsePathStyle
	})

	store := lodes3.Config{Bucket: s3cfg.Bucket, Prefix: s3cfg.Prefix}
	return func() (lode.Store, error) {
		return lodes3.New(client, store)
	}, nil
}

// NewS3Sink returns a message sink writing to S3.
func NewS3Sink(ctx context.Context, cfg Config, s3cfg S3Config) (*Sink, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewSinkWithFactory(cfg, factory)
}
