package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryConfig는 업스트림 재시도 설정입니다.
type RetryConfig struct {
	MaxRetries     int           // 최대 재시도 횟수
	InitialBackoff time.Duration // 초기 백오프 시간
	MaxBackoff     time.Duration // 최대 백오프 시간
	BackoffFactor  float64       // 백오프 증가 계수
}

// DefaultRetryConfig는 기본 재시도 설정을 반환합니다.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// retry는 재시도 가능한 에러에 한해 op를 다시 실행합니다.
func retry(ctx context.Context, cfg RetryConfig, logger *zap.Logger, metrics *Metrics, opName string, op func() error) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Info("업스트림 재시도",
				zap.String("operation", opName),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
			)
			if metrics != nil {
				metrics.RecordRetry()
			}

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}

		logger.Warn("업스트림 실패, 재시도 예정",
			zap.String("operation", opName),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	logger.Error("최대 재시도 횟수 초과",
		zap.String("operation", opName),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Error(lastErr),
	)
	return lastErr
}
