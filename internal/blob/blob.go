// Package blob은 업로드된 문서 원본을 저장합니다.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/common"
	"go.uber.org/zap"
)

// ErrNotFound는 URL에 해당하는 blob이 없을 때 반환됩니다.
var ErrNotFound = errors.New("blob: object not found")

// Store는 blob 저장소입니다. Put이 돌려준 URL로 다시 읽고 지웁니다.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Read(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, url string) error
}

// NewFromConfig는 설정된 backend에 맞는 Store를 생성합니다.
func NewFromConfig(ctx context.Context, cfg common.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(common.GetBlobDir())
	case "s3":
		return NewS3Store(ctx, S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		}, logger)
	default:
		return nil, fmt.Errorf("blob: unknown backend %q", cfg.Backend)
	}
}

// ObjectKey는 사용자와 문서 단위의 저장 키를 만듭니다.
func ObjectKey(userID, documentID, name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return path.Join(userID, documentID, name)
}
