package resource

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Option은 hook 옵션입니다.
type Option func(*config)

type config struct {
	logger   *zap.Logger
	notifier Notifier
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNotifier는 mutator 결과 알림을 설정합니다.
func WithNotifier(n Notifier) Option {
	return func(c *config) {
		if n != nil {
			c.notifier = n
		}
	}
}

func newConfig(opts []Option) config {
	cfg := config{logger: zap.NewNop(), notifier: nopNotifier{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

type closer interface {
	Close() error
}

// group은 hook 하나가 연 컬렉션 목록입니다.
type group []closer

// closeAll은 열린 컬렉션을 모두 닫습니다.
func (g group) closeAll() error {
	var errs []error
	for _, c := range g {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// waitAll은 모든 컬렉션의 초기 조회를 기다립니다.
func waitAll(ctx context.Context, waiters ...interface{ Wait(context.Context) error }) error {
	var errs []error
	for _, w := range waiters {
		if err := w.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openInto는 컬렉션을 열어 g에 추가합니다. 실패하면 이미 연 컬렉션을 닫습니다.
func openInto[T Row](ctx context.Context, g *group, backend Backend, table string, opts Options[T], logger *zap.Logger) (*Collection[T], error) {
	c, err := Open(ctx, backend, table, opts, logger)
	if err != nil {
		_ = g.closeAll()
		return nil, err
	}
	*g = append(*g, c)
	return c, nil
}
