package imagestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"eco-challenge-rewards-go/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const s3Scheme = "s3"

// objectAPI is the subset of the s3 client used here.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps images in an S3-compatible bucket (AWS, R2, MinIO).
// References look like s3://<bucket>/<key>.
type S3Store struct {
	client   objectAPI
	bucket   string
	maxBytes int64
}

var _ Store = (*S3Store)(nil)

func NewS3Store(ctx context.Context, cfg models.S3Config, maxBytes int64) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET is required for the s3 image store")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	zap.L().Info("S3 image store ready",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.Bool("custom_endpoint", cfg.Endpoint != ""))

	return &S3Store{client: client, bucket: cfg.Bucket, maxBytes: maxBytes}, nil
}

func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	if err := checkPut(data, s.maxBytes); err != nil {
		return "", err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(sniffContentType(contentType, data)),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image to S3: %w", err)
	}
	return fmt.Sprintf("%s://%s/%s", s3Scheme, s.bucket, key), nil
}

func (s *S3Store) Get(ctx context.Context, ref string) (*Image, error) {
	rest, ok := strings.CutPrefix(ref, s3Scheme+"://")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRef, ref)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRef, ref)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to fetch image from S3: %w", err)
	}
	defer func() {
		if closeErr := out.Body.Close(); closeErr != nil {
			zap.L().Warn("Failed to close S3 object body", zap.String("ref", ref), zap.Error(closeErr))
		}
	}()

	if out.ContentLength != nil && *out.ContentLength > s.maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrTooLarge, s.maxBytes)
	}
	data, err := readCapped(out.Body, s.maxBytes)
	if err != nil {
		return nil, err
	}
	return &Image{Data: data, ContentType: sniffContentType(aws.ToString(out.ContentType), data)}, nil
}
