package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

const s3Scheme = "s3://"

// S3Config는 S3 저장소 설정입니다.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

type uploader interface {
	Upload(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type downloader interface {
	Download(ctx context.Context, w io.WriterAt, params *s3.GetObjectInput, optFns ...func(*manager.Downloader)) (int64, error)
}

type deleter interface {
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store는 S3 호환 저장소에 blob을 저장합니다.
type S3Store struct {
	bucket     string
	uploader   uploader
	downloader downloader
	client     deleter
	logger     *zap.Logger
}

// NewS3Store는 기본 AWS 자격 증명 체인으로 S3Store를 생성합니다.
// Endpoint가 설정되면 path-style 주소를 사용합니다 (MinIO, LocalStack).
func NewS3Store(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: s3 bucket is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 blob store configured",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.String("endpoint", cfg.Endpoint),
	)

	return &S3Store{
		bucket:     cfg.Bucket,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		client:     client,
		logger:     logger,
	}, nil
}

// Put은 data를 업로드하고 s3://bucket/key URL을 반환합니다.
func (s *S3Store) Put(ctx context.Context, key, contentType string, data []byte) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("blob: upload %s: %w", key, err)
	}
	return s3Scheme + s.bucket + "/" + key, nil
}

// Read는 URL의 객체를 내려받습니다.
func (s *S3Store) Read(ctx context.Context, url string) ([]byte, error) {
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return nil, err
	}
	buf := manager.NewWriteAtBuffer(nil)
	if _, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blob: download %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// Delete는 URL의 객체를 삭제합니다.
func (s *S3Store) Delete(ctx context.Context, url string) error {
	bucket, key, err := ParseS3URL(url)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	return nil
}

// ParseS3URL은 s3://bucket/key를 분리합니다.
func ParseS3URL(url string) (bucket, key string, err error) {
	if !strings.HasPrefix(url, s3Scheme) {
		return "", "", fmt.Errorf("blob: unsupported url %q", url)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(url, s3Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("blob: malformed s3 url %q", url)
	}
	return bucket, key, nil
}
