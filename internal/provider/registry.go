package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/common"
	"go.uber.org/zap"
)

// Registry는 API 키 설정에 따라 프로바이더를 선택하는 Resolver입니다.
// 각 프로바이더는 회로 차단기와 재시도로 감싸져 캐시됩니다.
type Registry struct {
	keys      common.APIKeysConfig
	endpoints common.ProvidersConfig

	httpClient  *http.Client
	logger      *zap.Logger
	metrics     *Metrics
	retryConfig RetryConfig
	maxFailures uint32
	openTimeout time.Duration

	mu        sync.Mutex
	providers map[string]Provider
}

// RegistryOption은 Registry 옵션입니다.
type RegistryOption func(*Registry)

// WithRegistryLogger는 로거를 설정합니다.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryHTTPClient는 모든 프로바이더가 공유할 HTTP 클라이언트를 설정합니다.
func WithRegistryHTTPClient(client *http.Client) RegistryOption {
	return func(r *Registry) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithRetryConfig는 재시도 설정을 지정합니다.
func WithRetryConfig(cfg RetryConfig) RegistryOption {
	return func(r *Registry) {
		r.retryConfig = cfg
	}
}

// WithBreaker는 연속 실패 임계값과 open 상태 유지 시간을 지정합니다.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) RegistryOption {
	return func(r *Registry) {
		if maxFailures > 0 {
			r.maxFailures = maxFailures
		}
		if openTimeout > 0 {
			r.openTimeout = openTimeout
		}
	}
}

// WithMetrics는 메트릭 수집기를 지정합니다.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRegistry는 새 Registry를 생성합니다.
func NewRegistry(keys common.APIKeysConfig, endpoints common.ProvidersConfig, opts ...RegistryOption) *Registry {
	r := &Registry{
		keys:        keys,
		endpoints:   endpoints,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		logger:      zap.NewNop(),
		metrics:     &Metrics{},
		retryConfig: DefaultRetryConfig(),
		maxFailures: 5,
		openTimeout: 30 * time.Second,
		providers:   make(map[string]Provider),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Metrics는 수집 중인 메트릭을 반환합니다.
func (r *Registry) Metrics() *Metrics {
	return r.metrics
}

func (r *Registry) keyFor(name string) string {
	switch name {
	case "openai":
		return r.keys.OpenAI
	case "anthropic":
		return r.keys.Anthropic
	case "gemini":
		return r.keys.Gemini
	}
	return ""
}

// Resolve는 name 프로바이더를 반환합니다. 해당 키가 없으면 OpenAI로 대체합니다.
func (r *Registry) Resolve(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "openai"
	}

	if r.keyFor(name) == "" {
		if r.keys.OpenAI == "" {
			return nil, ErrMissingCredentials
		}
		if name != "openai" {
			r.metrics.RecordFallback()
			r.logger.Info("Provider credential missing, falling back to OpenAI",
				zap.String("requested", name),
			)
		}
		name = "openai"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	p := r.guard(r.build(name))
	r.providers[name] = p
	return p, nil
}

func (r *Registry) build(name string) Provider {
	httpOpts := []HTTPOption{WithHTTPClient(r.httpClient), WithLogger(r.logger)}
	switch name {
	case "anthropic":
		return NewAnthropicProvider(r.keys.Anthropic, r.endpoints.AnthropicBaseURL, r.endpoints.AnthropicModel, httpOpts...)
	case "gemini":
		return NewGeminiProvider(r.keys.Gemini, r.endpoints.GeminiBaseURL, r.endpoints.GeminiModel, r.httpClient)
	default:
		return NewOpenAIProvider(r.keys.OpenAI, r.endpoints.OpenAIBaseURL, r.endpoints.OpenAIModel, httpOpts...)
	}
}

func (r *Registry) guard(inner Provider) Provider {
	logger := r.logger
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Timeout:     r.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Provider circuit breaker state changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &guardedProvider{
		inner:   inner,
		cb:      cb,
		retry:   r.retryConfig,
		logger:  logger,
		metrics: r.metrics,
	}
}

type guardedProvider struct {
	inner   Provider
	cb      *gobreaker.CircuitBreaker
	retry   RetryConfig
	logger  *zap.Logger
	metrics *Metrics
}

func (g *guardedProvider) Name() string { return g.inner.Name() }

func (g *guardedProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	out, err := g.cb.Execute(func() (interface{}, error) {
		var resp *ChatResponse
		err := retry(ctx, g.retry, g.logger, g.metrics, g.inner.Name()+".chat", func() error {
			r, err := g.inner.Chat(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		return resp, err
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.metrics.RecordBreakerRejection()
		g.metrics.RecordRequest(false, time.Since(start), Usage{})
		return nil, &UpstreamError{Provider: g.inner.Name(), Message: err.Error()}
	}
	if err != nil {
		g.metrics.RecordRequest(false, time.Since(start), Usage{})
		return nil, err
	}

	resp := out.(*ChatResponse)
	g.metrics.RecordRequest(true, time.Since(start), resp.Usage)
	return resp, nil
}
