package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	feedWriteTimeout = 10 * time.Second
	feedPingInterval = 30 * time.Second
)

// WithOriginPatterns는 브라우저 websocket 연결을 허용할 Origin 패턴입니다.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.originPatterns = patterns
	}
}

// handleFeed는 GET /realtime/v1?table=<name> 입니다.
// 구독은 요청자 범위로 제한되고, 이전 이벤트는 재전송하지 않습니다.
func (s *Server) handleFeed(c *gin.Context) {
	name := c.Query("table")
	if _, ok := tables[name]; !ok {
		c.JSON(http.StatusNotFound, envelope{Error: "unknown table " + name})
		return
	}

	// 핸드셰이크가 끝나기 전에 구독해야 Dial 이후 커밋된 변경을 놓치지 않습니다
	uid := userID(c)
	feed := s.broker.Subscribe(name, uid)
	defer feed.Close()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		s.logger.Warn("Websocket accept failed", zap.String("table", name), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	s.logger.Debug("Change feed opened", zap.String("table", name), zap.String("user_id", uid))

	ctx := conn.CloseRead(c.Request.Context())
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-feed.Events():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "feed closed")
				return
			}
			if err := s.write(ctx, conn, evt); err != nil {
				s.logFeedError(name, uid, err)
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.logFeedError(name, uid, err)
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}

func (s *Server) logFeedError(table, uid string, err error) {
	if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 {
		return
	}
	s.logger.Debug("Change feed closed", zap.String("table", table), zap.String("user_id", uid), zap.Error(err))
}
