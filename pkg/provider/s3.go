package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-hclog"
)

// S3Config configures an S3-compatible object store provider.
type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`

	// Endpoint overrides the AWS endpoint for S3-compatible stores
	// (MinIO, Ceph RGW). Path-style addressing is used when set.
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey are optional; when empty the
	// default AWS credential chain applies.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// Validate validates the S3 provider configuration.
func (c S3Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Bucket, validation.Required),
		validation.Field(&c.Region, validation.Required),
	)
}

// s3API is the subset of the S3 client the provider uses.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Provider enumerates objects under a bucket prefix. Document ids are
// full object keys; etags are the store's native etags with the quoting
// stripped.
type S3Provider struct {
	name   string
	cfg    S3Config
	client s3API
	logger hclog.Logger
}

// NewS3Provider creates an S3 provider.
func NewS3Provider(name string, cfg S3Config, logger hclog.Logger) (*S3Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 provider settings: %w", err)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	return newS3Provider(name, cfg, client, logger), nil
}

func newS3Provider(name string, cfg S3Config, client s3API, logger hclog.Logger) *S3Provider {
	return &S3Provider{
		name:   name,
		cfg:    cfg,
		client: client,
		logger: logger.Named("provider.s3").With("provider_name", name, "bucket", cfg.Bucket),
	}
}

// Type implements Provider.
func (p *S3Provider) Type() string { return TypeS3 }

// Name implements Provider.
func (p *S3Provider) Name() string { return p.name }

// Enumerate lists all objects under the configured prefix, following
// continuation tokens. Zero-byte directory marker keys are skipped.
func (p *S3Provider) Enumerate(ctx context.Context) ([]Descriptor, error) {
	var descriptors []Descriptor
	var continuation *string

	for {
		out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            &p.cfg.Bucket,
			Prefix:            optionalString(p.cfg.Prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", p.cfg.Bucket, p.cfg.Prefix, err)
		}

		for _, obj := range out.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}

			key := *obj.Key
			d := Descriptor{
				DocumentID:   key,
				Filename:     path.Base(key),
				RelativePath: strings.TrimPrefix(key, p.cfg.Prefix),
				ProviderType: TypeS3,
				ProviderName: p.name,
			}
			if obj.ETag != nil {
				d.ETag = strings.Trim(*obj.ETag, `"`)
			}
			if obj.LastModified != nil {
				d.LastModified = obj.LastModified.UTC()
			}
			descriptors = append(descriptors, d)
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuation = out.NextContinuationToken
	}

	p.logger.Debug("enumerated s3 objects", "count", len(descriptors))
	return descriptors, nil
}

// Fetch implements Provider.
func (p *S3Provider) Fetch(ctx context.Context, documentID string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &p.cfg.Bucket,
		Key:    &documentID,
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", p.cfg.Bucket, documentID, err)
	}
	return out.Body, nil
}

// Describe implements Provider.
func (p *S3Provider) Describe() map[string]any {
	meta := map[string]any{
		"bucket": p.cfg.Bucket,
		"region": p.cfg.Region,
	}
	if p.cfg.Prefix != "" {
		meta["prefix"] = p.cfg.Prefix
	}
	if p.cfg.Endpoint != "" {
		meta["endpoint"] = p.cfg.Endpoint
	}
	return meta
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
