// Package client는 EchoSync HTTP API의 Go 클라이언트입니다.
// 오류 응답은 controller 오류 분류로 되돌려 errors.Is로 분기할 수 있습니다.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/provider"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

// ErrRateLimited는 429 응답입니다.
var ErrRateLimited = errors.New("rate limited")

// APIError는 오류 응답 하나입니다.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("echosync api: %d %s", e.StatusCode, e.Message)
}

// Unwrap은 상태 코드에 해당하는 오류 분류를 반환합니다.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return controller.ErrUnauthenticated
	case http.StatusBadRequest:
		return controller.ErrInvalidInput
	case http.StatusNotFound:
		return controller.ErrNotFound
	case http.StatusConflict:
		return controller.ErrConflict
	case http.StatusBadGateway:
		return controller.ErrUpstream
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// Client는 EchoSync API 클라이언트입니다.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *zap.Logger
	reconnect  ReconnectConfig
}

// Option은 Client 옵션입니다.
type Option func(*Client)

// WithHTTPClient는 HTTP 클라이언트를 교체합니다.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReconnect는 변경 알림 재연결 간격을 설정합니다.
func WithReconnect(cfg ReconnectConfig) Option {
	return func(c *Client) {
		c.reconnect = cfg
	}
}

// New는 baseURL과 bearer 토큰으로 Client를 생성합니다.
func New(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", baseURL)
	}
	c := &Client{
		baseURL:    u,
		token:      token,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		logger:     zap.NewNop(),
		reconnect:  DefaultReconnectConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do는 요청을 보내고 {data} 봉투를 out으로 디코딩합니다.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	var env struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("client: decode response: %w", err)
		}
	}
	if resp.StatusCode >= 300 {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("API error", zap.String("path", path), zap.Int("status", resp.StatusCode), zap.String("error", msg))
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("client: decode data: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	return c.do(ctx, method, path, nil, body, "application/json", out)
}

// Invoke는 POST /functions/v1/<name>을 호출합니다.
func (c *Client) Invoke(ctx context.Context, name string, in, out any) error {
	if in == nil {
		in = struct{}{}
	}
	return c.doJSON(ctx, http.MethodPost, "/functions/v1/"+url.PathEscape(name), in, out)
}

// List는 테이블 행을 created_at 역순으로 읽습니다.
func (c *Client) List(ctx context.Context, table string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, "/rest/v1/"+url.PathEscape(table), query, nil, "", out)
}

// Insert는 행을 추가합니다.
func (c *Client) Insert(ctx context.Context, table string, row, out any) error {
	return c.doJSON(ctx, http.MethodPost, "/rest/v1/"+url.PathEscape(table), row, out)
}

// Update는 id 행의 컬럼을 변경합니다.
func (c *Client) Update(ctx context.Context, table, id string, fields, out any) error {
	return c.doJSON(ctx, http.MethodPatch, "/rest/v1/"+url.PathEscape(table)+"/"+url.PathEscape(id), fields, out)
}

// Delete는 id 행을 삭제합니다.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, "/rest/v1/"+url.PathEscape(table)+"/"+url.PathEscape(id), nil, nil, "", nil)
}

// Upload는 문서를 업로드합니다. process가 true이면 텍스트 추출까지 요청합니다.
func (c *Client) Upload(ctx context.Context, name, contentType string, data []byte, process bool) (*storage.Document, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("client: build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("client: build upload: %w", err)
	}
	if err := w.WriteField("process", strconv.FormatBool(process)); err != nil {
		return nil, fmt.Errorf("client: build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("client: build upload: %w", err)
	}

	var doc storage.Document
	if err := c.do(ctx, http.MethodPost, "/storage/v1/documents", nil, &buf, w.FormDataContentType(), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// HealthStatus는 GET /healthz 응답입니다.
type HealthStatus struct {
	Status    string                    `json:"status"`
	Providers *provider.MetricsSnapshot `json:"providers,omitempty"`
}

// Health는 서버 상태와 LLM 호출 메트릭을 조회합니다.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, "", &status); err != nil {
		return nil, err
	}
	return &status, nil
}
