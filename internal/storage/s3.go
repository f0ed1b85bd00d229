package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Config holds the configuration for the S3 transferer.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
	Transfer        TransferOptions
}

// S3Transferer uploads local files to a fixed S3 bucket. Files at or above
// the multipart threshold go through the SDK transfer manager; smaller files
// use a single PutObject call.
type S3Transferer struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	opts     TransferOptions
}

// NewS3Transferer creates an S3Transferer from configuration. Static
// credentials are used when provided, otherwise the default AWS chain applies.
func NewS3Transferer(ctx context.Context, cfg S3Config) (*S3Transferer, error) {
	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	return NewS3TransfererWithClient(client, cfg.Bucket, cfg.Transfer), nil
}

// NewS3TransfererWithClient wraps an existing S3 client. Used by tests and by
// callers that manage client construction themselves.
func NewS3TransfererWithClient(client *s3.Client, bucket string, opts TransferOptions) *S3Transferer {
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if opts.ChunkSizeBytes > 0 {
			u.PartSize = opts.ChunkSizeBytes
		}
		if opts.MaxConcurrency > 0 {
			u.Concurrency = opts.MaxConcurrency
		}
		u.LeavePartsOnError = false
	})

	return &S3Transferer{
		client:   client,
		uploader: uploader,
		bucket:   bucket,
		opts:     opts,
	}
}

// PutFile uploads the file at localPath under the given key.
func (t *S3Transferer) PutFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return Permanent(fmt.Errorf("open %s: %w", localPath, err))
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return Permanent(fmt.Errorf("stat %s: %w", localPath, err))
	}

	if t.opts.MultipartThresholdBytes > 0 && info.Size() >= t.opts.MultipartThresholdBytes {
		_, err = t.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(t.bucket),
			Key:    aws.String(key),
			Body:   f,
		})
	} else {
		_, err = t.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(t.bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
		})
	}
	if err != nil {
		return classify(fmt.Errorf("put s3://%s/%s: %w", t.bucket, key, err))
	}

	return nil
}

// CheckBucket confirms the configured bucket exists and is accessible.
func (t *S3Transferer) CheckBucket(ctx context.Context) error {
	_, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(t.bucket),
	})
	if err != nil {
		if isNoSuchBucket(err) {
			return fmt.Errorf("%w: %s", ErrBucketNotFound, t.bucket)
		}
		return fmt.Errorf("head bucket %s: %w", t.bucket, err)
	}
	return nil
}

// Bucket returns the destination bucket name.
func (t *S3Transferer) Bucket() string {
	return t.bucket
}

// classify wraps bucket-missing failures as permanent; every other transfer
// failure is treated as transient and left retryable.
func classify(err error) error {
	if isNoSuchBucket(err) {
		return Permanent(fmt.Errorf("%w: %v", ErrBucketNotFound, err))
	}
	return err
}

// isNoSuchBucket matches the modeled NoSuchBucket error as well as the
// generic API error code, which multipart operations surface instead.
func isNoSuchBucket(err error) bool {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchBucket" || code == "NotFound"
	}
	return false
}
