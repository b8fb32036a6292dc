package provider

import (
	"sync/atomic"
	"time"
)

// Metrics는 프로바이더 호출 메트릭을 수집합니다.
type Metrics struct {
	Requests          int64
	Succeeded         int64
	Failed            int64
	Retries           int64
	Fallbacks         int64
	BreakerRejections int64

	PromptTokens     int64
	CompletionTokens int64

	TotalLatency int64 // 나노초
}

// RecordRequest는 호출 결과를 기록합니다.
func (m *Metrics) RecordRequest(success bool, duration time.Duration, usage Usage) {
	atomic.AddInt64(&m.Requests, 1)
	atomic.AddInt64(&m.TotalLatency, int64(duration))
	if success {
		atomic.AddInt64(&m.Succeeded, 1)
		atomic.AddInt64(&m.PromptTokens, int64(usage.PromptTokens))
		atomic.AddInt64(&m.CompletionTokens, int64(usage.CompletionTokens))
	} else {
		atomic.AddInt64(&m.Failed, 1)
	}
}

// RecordRetry는 재시도를 기록합니다.
func (m *Metrics) RecordRetry() {
	atomic.AddInt64(&m.Retries, 1)
}

// RecordFallback은 OpenAI 대체 사용을 기록합니다.
func (m *Metrics) RecordFallback() {
	atomic.AddInt64(&m.Fallbacks, 1)
}

// RecordBreakerRejection은 회로 차단으로 거절된 호출을 기록합니다.
func (m *Metrics) RecordBreakerRejection() {
	atomic.AddInt64(&m.BreakerRejections, 1)
}

// GetSnapshot은 현재 메트릭 스냅샷을 반환합니다.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Requests:          atomic.LoadInt64(&m.Requests),
		Succeeded:         atomic.LoadInt64(&m.Succeeded),
		Failed:            atomic.LoadInt64(&m.Failed),
		Retries:           atomic.LoadInt64(&m.Retries),
		Fallbacks:         atomic.LoadInt64(&m.Fallbacks),
		BreakerRejections: atomic.LoadInt64(&m.BreakerRejections),
		PromptTokens:      atomic.LoadInt64(&m.PromptTokens),
		CompletionTokens:  atomic.LoadInt64(&m.CompletionTokens),
		AvgLatencyMs:      m.calculateAvgLatency(),
	}
}

func (m *Metrics) calculateAvgLatency() float64 {
	requests := atomic.LoadInt64(&m.Requests)
	if requests == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&m.TotalLatency)) / float64(requests) / 1e6
}

// MetricsSnapshot은 메트릭 스냅샷입니다.
type MetricsSnapshot struct {
	Requests          int64   `json:"requests"`
	Succeeded         int64   `json:"succeeded"`
	Failed            int64   `json:"failed"`
	Retries           int64   `json:"retries"`
	Fallbacks         int64   `json:"fallbacks"`
	BreakerRejections int64   `json:"breaker_rejections"`
	PromptTokens      int64   `json:"prompt_tokens"`
	CompletionTokens  int64   `json:"completion_tokens"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
}

// SuccessRate는 성공률(%)을 반환합니다.
func (s MetricsSnapshot) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Requests) * 100
}
