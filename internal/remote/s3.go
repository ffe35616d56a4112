package remote

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"backhaul/internal/config"
	"backhaul/internal/core"
)

// S3Remote stores objects in an S3-compatible bucket (AWS S3, MinIO,
// Wasabi, ...). Uploads go through the multipart upload manager; a returned
// nil error means the store acknowledged the complete object, which is the
// only signal the sync engine uses for confirmation.
type S3Remote struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
	sse      types.ServerSideEncryption
}

// NewS3Remote builds an S3 remote from configuration. When cfg.S3Endpoint
// is set (non-AWS stores) the client uses path-style addressing.
func NewS3Remote(ctx context.Context, cfg config.RemoteConfig) (*S3Remote, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 remote: s3_bucket is required")
	}

	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 remote: failed to load config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	prefix := cfg.S3Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Remote{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   prefix,
		sse:      types.ServerSideEncryption(cfg.S3SSE),
	}, nil
}

// Put uploads size bytes from r to the bucket under prefix+key.
func (v *S3Remote) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(v.bucket),
		Key:           aws.String(v.prefix + key),
		Body:          r,
		ContentLength: aws.Int64(size),
	}
	if v.sse != "" {
		input.ServerSideEncryption = v.sse
	}

	if _, err := v.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}

// Validate verifies bucket access.
func (v *S3Remote) Validate(ctx context.Context) error {
	_, err := v.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(v.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 remote: failed to access bucket %s: %w", v.bucket, err)
	}
	return nil
}

// Compile-time check that S3Remote implements core.Remote.
var _ core.Remote = (*S3Remote)(nil)
