// Package s3 publishes finished output files to AWS S3 or an S3-compatible store.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// Config holds S3 client configuration.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1")
	Region string

	// Endpoint overrides the default S3 endpoint (for S3-compatible services)
	Endpoint string

	// UsePathStyle forces path-style addressing (for MinIO, LocalStack)
	UsePathStyle bool

	// Credentials (optional - uses default chain if not provided)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	UploadTimeout time.Duration

	// PartSize is the multipart threshold and part size in bytes.
	PartSize int64

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults for S3 configuration.
func DefaultConfig() Config {
	return Config{
		Region:        os.Getenv("AWS_REGION"),
		Endpoint:      os.Getenv("PHYSOBJ_S3_ENDPOINT"),
		UploadTimeout: 10 * time.Minute,
		PartSize:      16 * 1024 * 1024,
	}
}

// API is the subset of the S3 client used for uploads.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Client uploads files to S3.
type Client struct {
	cfg    Config
	api    API
	logger *zap.Logger
}

// NewClient creates a client from the default AWS credential chain.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewClientWithAPI(api, cfg), nil
}

// NewClientWithAPI wraps an existing S3 API implementation.
func NewClientWithAPI(api API, cfg Config) *Client {
	d := DefaultConfig()
	if cfg.PartSize <= 0 {
		cfg.PartSize = d.PartSize
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = d.UploadTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{cfg: cfg, api: api, logger: cfg.Logger}
}

// ParseURL splits s3://bucket/prefix into bucket and prefix.
func ParseURL(url string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(url, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URL: %q", url)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", url)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// PutFile uploads a local file to bucket/key. Files larger than PartSize use a
// multipart upload that is aborted on failure.
func (c *Client) PutFile(ctx context.Context, localPath, bucket, key string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()

	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	start := time.Now()
	if info.Size() <= c.cfg.PartSize {
		_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          f,
			ContentLength: aws.Int64(info.Size()),
			ContentType:   aws.String(contentType(localPath)),
		})
		if err != nil {
			return fmt.Errorf("failed to put s3://%s/%s: %w", bucket, key, err)
		}
	} else if err := c.multipart(ctx, f, bucket, key, localPath); err != nil {
		return err
	}

	c.logger.Debug("uploaded",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.Int64("bytes", info.Size()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (c *Client) multipart(ctx context.Context, r io.Reader, bucket, key, localPath string) error {
	created, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType(localPath)),
	})
	if err != nil {
		return fmt.Errorf("failed to create multipart upload: %w", err)
	}
	uploadID := created.UploadId

	abort := func(cause error) error {
		_, aerr := c.api.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		if aerr != nil {
			c.logger.Warn("abort multipart upload failed", zap.String("key", key), zap.Error(aerr))
		}
		return cause
	}

	var (
		parts   []types.CompletedPart
		partNum int32
		buf     = make([]byte, c.cfg.PartSize)
	)
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			partNum++
			out, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:        aws.String(bucket),
				Key:           aws.String(key),
				UploadId:      uploadID,
				PartNumber:    aws.Int32(partNum),
				Body:          bytes.NewReader(buf[:n]),
				ContentLength: aws.Int64(int64(n)),
			})
			if err != nil {
				return abort(fmt.Errorf("failed to upload part %d: %w", partNum, err))
			}
			parts = append(parts, types.CompletedPart{
				ETag:       out.ETag,
				PartNumber: aws.Int32(partNum),
			})
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return abort(fmt.Errorf("failed to read %s: %w", localPath, rerr))
		}
	}

	_, err = c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(fmt.Errorf("failed to complete multipart upload: %w", err))
	}
	return nil
}

func contentType(p string) string {
	switch filepath.Ext(p) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".arrow":
		return "application/vnd.apache.arrow.stream"
	default:
		return "application/octet-stream"
	}
}

// Uploader publishes files under one s3://bucket/prefix location.
type Uploader struct {
	client *Client
	bucket string
	prefix string
}

// NewUploader creates an uploader for an s3:// URL.
func NewUploader(client *Client, url string) (*Uploader, error) {
	bucket, prefix, err := ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Uploader{client: client, bucket: bucket, prefix: prefix}, nil
}

// Upload stores localPath under the prefix with its base name and returns the object URL.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	key := path.Join(u.prefix, filepath.Base(localPath))
	if err := u.client.PutFile(ctx, localPath, u.bucket, key); err != nil {
		return "", err
	}
	return "s3://" + u.bucket + "/" + key, nil
}
