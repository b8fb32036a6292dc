package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPOption은 HTTP 기반 프로바이더 옵션입니다.
type HTTPOption func(*httpBase)

// WithHTTPClient는 HTTP 클라이언트를 설정합니다.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(b *httpBase) {
		if client != nil {
			b.httpClient = client
		}
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger *zap.Logger) HTTPOption {
	return func(b *httpBase) {
		if logger != nil {
			b.logger = logger
		}
	}
}

type httpBase struct {
	name         string
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
	logger       *zap.Logger
}

func newHTTPBase(name, baseURL, apiKey, defaultModel string, opts []HTTPOption) httpBase {
	b := httpBase{
		name:         name,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		apiKey:       apiKey,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 120 * time.Second},
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// postJSON은 body를 JSON으로 보내고 성공 응답을 out에 디코딩합니다.
func (b *httpBase) postJSON(ctx context.Context, path string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("요청 바디 직렬화 실패: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("요청 생성 실패: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &UpstreamError{Provider: b.name, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &UpstreamError{Provider: b.name, StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode >= 400 {
		b.logger.Warn("Provider returned error status",
			zap.String("provider", b.name),
			zap.Int("status", resp.StatusCode),
		)
		return &UpstreamError{Provider: b.name, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &UpstreamError{Provider: b.name, StatusCode: resp.StatusCode, Message: "응답 파싱 실패: " + err.Error()}
	}
	return nil
}

// errorMessage는 {"error":{"message":...}} 또는 {"error":"..."} 형태의 메시지를 꺼냅니다.
func errorMessage(data []byte) string {
	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
