// Package controller는 HTTP로 호출되는 서버 측 함수를 구현합니다.
//
// 모든 함수는 호출자 userID로 소유권을 확인하고, 쓰기는 storage.Repository를 거쳐
// 변경 피드로 전파됩니다.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/blob"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/integration"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/mcpclient"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/provider"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/retrieval"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

// Controller는 서버 측 함수와 백그라운드 인덱스 빌드를 담당합니다.
type Controller struct {
	logger          *zap.Logger
	repo            *storage.Repository
	providers       provider.Resolver
	mcp             *mcpclient.Client
	blobs           blob.Store
	notifier        *integration.Notifier
	indexes         *retrieval.Cache
	chunkOptions    retrieval.ChunkOptions
	httpClient      *http.Client
	upstreamTimeout time.Duration

	buildMu sync.Mutex
	builds  map[string]*buildState

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option은 Controller 옵션입니다.
type Option func(*Controller)

// WithMCPClient는 MCP 클라이언트를 설정합니다.
func WithMCPClient(client *mcpclient.Client) Option {
	return func(c *Controller) {
		c.mcp = client
	}
}

// WithBlobStore는 문서 원본 저장소를 설정합니다.
func WithBlobStore(store blob.Store) Option {
	return func(c *Controller) {
		c.blobs = store
	}
}

// WithNotifier는 워크플로 완료 알림을 설정합니다.
func WithNotifier(n *integration.Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

// WithIndexCache는 검색 인덱스 캐시를 교체합니다.
func WithIndexCache(cache *retrieval.Cache) Option {
	return func(c *Controller) {
		c.indexes = cache
	}
}

// WithChunkOptions는 문서 분할 설정을 변경합니다.
func WithChunkOptions(opts retrieval.ChunkOptions) Option {
	return func(c *Controller) {
		c.chunkOptions = opts
	}
}

// WithHTTPClient는 URL 수집에 쓰는 HTTP 클라이언트를 설정합니다.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithUpstreamTimeout은 LLM, MCP, URL 호출 하나의 타임아웃입니다.
func WithUpstreamTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.upstreamTimeout = d
		}
	}
}

// NewController는 새로운 Controller를 생성합니다.
func NewController(logger *zap.Logger, repo *storage.Repository, providers provider.Resolver, opts ...Option) (*Controller, error) {
	if repo == nil {
		return nil, fmt.Errorf("controller: repository is not configured")
	}
	if providers == nil {
		return nil, fmt.Errorf("controller: provider resolver is not configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		logger:          logger,
		repo:            repo,
		providers:       providers,
		chunkOptions:    retrieval.DefaultChunkOptions(),
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		upstreamTimeout: 60 * time.Second,
		builds:          make(map[string]*buildState),
		baseCtx:         ctx,
		cancel:          cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.mcp == nil {
		c.mcp = mcpclient.New(mcpclient.WithTimeout(c.upstreamTimeout), mcpclient.WithLogger(logger.Named("mcp")))
	}
	if c.indexes == nil {
		cache, err := retrieval.NewCache(64)
		if err != nil {
			cancel()
			return nil, err
		}
		c.indexes = cache
	}
	return c, nil
}

// Repository는 내부 저장소를 반환합니다.
func (c *Controller) Repository() *storage.Repository {
	return c.repo
}

// ProviderMetrics는 프로바이더 Resolver가 메트릭을 수집하면 그 스냅샷을 반환합니다.
func (c *Controller) ProviderMetrics() (provider.MetricsSnapshot, bool) {
	src, ok := c.providers.(interface{ Metrics() *provider.Metrics })
	if !ok || src.Metrics() == nil {
		return provider.MetricsSnapshot{}, false
	}
	return src.Metrics().GetSnapshot(), true
}

// Wait는 진행 중인 백그라운드 작업이 끝날 때까지 기다립니다.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Stop은 백그라운드 작업을 취소하고 종료를 기다립니다.
func (c *Controller) Stop(ctx context.Context) error {
	c.logger.Info("Stopping controller")
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout exceeded")
	case <-done:
		c.logger.Info("Controller stopped")
		return nil
	}
}

// spawn은 요청 수명과 분리된 백그라운드 작업을 실행합니다.
func (c *Controller) spawn(name string, fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Background job panicked", zap.String("job", name), zap.Any("panic", r))
			}
		}()
		fn(c.baseCtx)
	}()
}

func (c *Controller) withUpstreamTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.upstreamTimeout)
}
