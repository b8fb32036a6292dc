// Package api는 EchoSync HTTP 인터페이스(함수 호출, 테이블 API, 변경 알림 websocket,
// 문서 업로드)를 gin으로 제공합니다.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"go.uber.org/zap"
)

// 컨텍스트 키
const ctxUserID = "echosync.user_id"

// Server는 gin 엔진과 http.Server를 묶은 API 서버입니다.
type Server struct {
	logger  *zap.Logger
	ctrl    *controller.Controller
	broker  realtime.Broker
	auth    *Authenticator
	limiter *userLimiter
	engine  *gin.Engine
	http    *http.Server

	originPatterns []string
}

// Option은 Server 옵션입니다.
type Option func(*Server)

// WithRateLimit은 사용자별 초당 요청 수와 burst를 설정합니다. 0이면 제한하지 않습니다.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.limiter = newUserLimiter(perSecond, burst)
	}
}

// WithLogger는 로거를 설정합니다.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer는 라우트가 등록된 Server를 생성합니다.
func NewServer(addr string, ctrl *controller.Controller, broker realtime.Broker, auth *Authenticator, opts ...Option) (*Server, error) {
	if ctrl == nil || broker == nil || auth == nil {
		return nil, fmt.Errorf("api: controller, broker and authenticator are required")
	}
	s := &Server{
		logger: zap.NewNop(),
		ctrl:   ctrl,
		broker: broker,
		auth:   auth,
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.engine = engine
	s.routes()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler는 테스트와 임베딩을 위한 http.Handler를 반환합니다.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if snap, ok := s.ctrl.ProviderMetrics(); ok {
			body["providers"] = snap
		}
		respond(c, http.StatusOK, body)
	})

	// websocket은 헤더를 붙일 수 없는 클라이언트를 위해 access_token 쿼리도 허용합니다.
	s.engine.GET("/realtime/v1", s.authenticate(true), s.handleFeed)

	authed := s.engine.Group("/", s.authenticate(false), s.rateLimit())
	authed.POST("/functions/v1/:name", s.handleFunction)
	authed.GET("/rest/v1/:table", s.handleList)
	authed.POST("/rest/v1/:table", s.handleInsert)
	authed.PATCH("/rest/v1/:table/:id", s.handleUpdate)
	authed.DELETE("/rest/v1/:table/:id", s.handleDelete)
	authed.POST("/storage/v1/documents", s.handleUpload)
}

// Start는 서버를 시작하고 ctx가 끝나면 정상 종료합니다.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting API server", zap.String("addr", s.http.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api: listen %s: %w", s.http.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("API server shutting down")
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

// Stop은 진행 중인 요청을 기다린 뒤 서버를 닫습니다.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down API server", zap.Error(err))
		return err
	}
	s.logger.Info("API server stopped")
	return nil
}

func (s *Server) authenticate(allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && allowQuery {
			token = c.Query("access_token")
		}
		userID, err := s.auth.Verify(token)
		if err != nil {
			s.logger.Debug("Rejected request", zap.String("path", c.FullPath()), zap.Error(err))
			respondError(c, fmt.Errorf("%w: %v", controller.ErrUnauthenticated, err))
			c.Abort()
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.GetString(ctxUserID)) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, envelope{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}

func userID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}
