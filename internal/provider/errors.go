package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingCredentials는 사용할 수 있는 API 키가 없을 때 반환됩니다.
	ErrMissingCredentials = errors.New("provider: no API key configured")
	// ErrUpstream은 외부 LLM 호출 실패를 나타냅니다.
	ErrUpstream = errors.New("provider: upstream request failed")
	// ErrEmptyResponse는 응답에 텍스트가 없을 때 반환됩니다.
	ErrEmptyResponse = errors.New("provider: empty completion")
)

// UpstreamError는 프로바이더 HTTP 오류를 래핑합니다.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider[%s] status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider[%s]: %s", e.Provider, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstream
}

// IsRetryable는 재시도 가능한 에러인지 확인합니다.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.StatusCode == 0 ||
			upstream.StatusCode == http.StatusTooManyRequests ||
			upstream.StatusCode >= http.StatusInternalServerError
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// isClientError는 요청 자체가 잘못된 에러인지 확인합니다. 회로 차단기 실패로 세지 않습니다.
func isClientError(err error) bool {
	if errors.Is(err, ErrMissingCredentials) || errors.Is(err, context.Canceled) {
		return true
	}
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.StatusCode >= 400 && upstream.StatusCode < 500 &&
			upstream.StatusCode != http.StatusTooManyRequests
	}
	return false
}
