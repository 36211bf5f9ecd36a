package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 archives payloads as objects in a bucket.
type S3 struct {
	client putObjectAPI
	bucket string
	prefix string
}

// S3Options configures the S3 archiver.
type S3Options struct {
	Bucket  string
	Prefix  string
	Region  string
	Profile string // primarily for local development
}

// NewS3 loads the default AWS credential chain and returns an S3 archiver.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Profile != "" {
		loaders = append(loaders, config.WithSharedConfigProfile(opts.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("archive: load AWS config: %w", err)
	}
	return &S3{
		client: s3.NewFromConfig(awsCfg),
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}, nil
}

// Put uploads body to <prefix>/<key>.
func (s *S3) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path.Join(s.prefix, key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("archive: put s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
