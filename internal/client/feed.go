package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"go.uber.org/zap"
)

// 변경 이벤트 한 건의 최대 크기
const feedReadLimit = 4 << 20

// ReconnectConfig는 변경 알림 재연결 backoff 설정입니다.
type ReconnectConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxElapsedTime이 0이면 Close 전까지 계속 재시도합니다.
	MaxElapsedTime time.Duration
}

// DefaultReconnectConfig는 기본 재연결 설정을 반환합니다.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
	}
}

// Feed는 websocket 변경 알림 구독입니다. realtime.Feed를 구현합니다.
// 연결이 끊겼다가 복구되면 RESYNC 이벤트를 한 번 보냅니다.
type Feed struct {
	table  string
	events chan realtime.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Events는 이벤트 채널을 반환합니다. 구독이 끝나면 닫힙니다.
func (f *Feed) Events() <-chan realtime.ChangeEvent {
	return f.events
}

// Close는 구독을 끝내고 수신 goroutine이 종료될 때까지 기다립니다.
func (f *Feed) Close() error {
	f.once.Do(f.cancel)
	<-f.done
	return nil
}

// Subscribe는 table 변경 알림을 구독합니다. 첫 연결은 반환 전에 확정됩니다.
func (c *Client) Subscribe(ctx context.Context, table string) (*Feed, error) {
	conn, err := c.dial(ctx, table)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		table:  table,
		events: make(chan realtime.ChangeEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(loopCtx, f, conn)
	return f, nil
}

func (c *Client) dial(ctx context.Context, table string) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.Dial(ctx, c.endpoint("/realtime/v1", url.Values{"table": {table}}), &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("subscribe %s: %v", table, err)}
		}
		return nil, fmt.Errorf("client: subscribe %s: %w", table, err)
	}
	conn.SetReadLimit(feedReadLimit)
	return conn, nil
}

func (c *Client) run(ctx context.Context, f *Feed, conn *websocket.Conn) {
	defer close(f.done)
	defer close(f.events)

	for {
		err := c.pump(ctx, f, conn)
		_ = conn.CloseNow()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("Change feed disconnected", zap.String("table", f.table), zap.Error(err))

		conn, err = c.redial(ctx, f.table)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("Change feed gave up reconnecting", zap.String("table", f.table), zap.Error(err))
			}
			return
		}
		c.logger.Info("Change feed reconnected", zap.String("table", f.table))

		resync := realtime.ChangeEvent{Table: f.table, Type: realtime.EventResync, CommitTimestamp: time.Now().UTC()}
		if !send(ctx, f.events, resync) {
			_ = conn.CloseNow()
			return
		}
	}
}

// pump는 연결이 끊길 때까지 이벤트를 읽어 전달합니다.
func (c *Client) pump(ctx context.Context, f *Feed, conn *websocket.Conn) error {
	for {
		var evt realtime.ChangeEvent
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			return err
		}
		if !send(ctx, f.events, evt) {
			return ctx.Err()
		}
	}
}

func (c *Client) redial(ctx context.Context, table string) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.reconnect.InitialInterval),
		backoff.WithMaxInterval(c.reconnect.MaxInterval),
		backoff.WithMaxElapsedTime(c.reconnect.MaxElapsedTime),
	)

	var conn *websocket.Conn
	operation := func() error {
		cn, err := c.dial(ctx, table)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = cn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("Change feed reconnect failed",
			zap.String("table", table),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

func send(ctx context.Context, ch chan<- realtime.ChangeEvent, evt realtime.ChangeEvent) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
