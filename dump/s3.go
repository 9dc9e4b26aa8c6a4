package dump

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// defaultRegion is used when neither the flag nor the AWS configuration
// chain names a region.
const defaultRegion = "us-east-1"

// ObjectPutter is the part of the S3 client the sink needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes every request to one object key in a bucket.
type S3Sink struct {
	client ObjectPutter
	bucket string
	key    string
}

type S3Config struct {
	Bucket string
	Key    string
	// Region overrides the region resolved from AWS_REGION or the shared
	// config file.
	Region string
	// Endpoint overrides the AWS endpoint, for S3 compatible stores.
	Endpoint string
}

// NewS3Sink builds a client from the default AWS configuration chain:
// environment, shared config and credentials files, SSO, and instance
// roles.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("dump: s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dump: load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = defaultRegion
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3SinkWithClient(client, cfg.Bucket, cfg.Key), nil
}

func NewS3SinkWithClient(client ObjectPutter, bucket, key string) *S3Sink {
	if key == "" {
		key = "request.binary"
	}

	return &S3Sink{
		client: client,
		bucket: bucket,
		key:    key,
	}
}

func (sink *S3Sink) Store(ctx context.Context, raw []byte) error {
	_, err := sink.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(sink.bucket),
		Key:           aws.String(sink.key),
		Body:          bytes.NewReader(raw),
		ContentLength: aws.Int64(int64(len(raw))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("dump: put s3://%s/%s: %w", sink.bucket, sink.key, err)
	}

	return nil
}
