package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/api"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/blob"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/client"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/common"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/controller"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/integration"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/mcpclient"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/provider"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/realtime"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/retrieval"
	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/storage"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := common.InitConfig(""); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logger 초기화
	logger, err := common.NewLogger("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	rootCmd := &cobra.Command{
		Use:     "echosync",
		Short:   "EchoSync - multi-tenant agent backend",
		Long:    `EchoSync serves role-scoped AI agents, MCP servers, RAG indexes and A2A workflows with realtime table sync.`,
		Version: fmt.Sprintf("%s (built at %s)", Version, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&remote.url, "url", envOr("ECHOSYNC_URL", "http://localhost:8080"), "EchoSync 서버 주소")
	rootCmd.PersistentFlags().StringVar(&remote.token, "token", os.Getenv("ECHOSYNC_TOKEN"), "Bearer 토큰")

	// serve 명령어
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  `Start the HTTP API, function endpoints and realtime feed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(logger)
		},
	}

	// migrate 명령어
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cleanup, err := initStorage(logger)
			if err != nil {
				return err
			}
			defer cleanup()
			fmt.Println("✓ 마이그레이션 완료")
			return nil
		},
	}

	// seed 명령어
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the built-in agent catalog",
		Long:  `Insert the built-in trader, student and founder agents. Existing agents with the same name and role are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(logger)
		},
	}

	// token 명령어
	var tokenTTL time.Duration
	tokenCmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue an access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(args[0], tokenTTL)
		},
	}
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "토큰 유효 기간")

	// health 명령어
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health status",
		Long:  `Check if the EchoSync server at --url is running and healthy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(logger)
		},
	}

	// 명령어 구성
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(buildAgentCommands(logger))
	rootCmd.AddCommand(buildChatCommand(logger))
	rootCmd.AddCommand(buildMCPCommands(logger))
	rootCmd.AddCommand(buildRAGCommands(logger))
	rootCmd.AddCommand(buildA2ACommands(logger))
	rootCmd.AddCommand(buildWorkflowCommands(logger))
	rootCmd.AddCommand(buildWatchCommand(logger))

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// runServe는 API 서버를 시작하고 종료 신호를 기다립니다.
func runServe(logger *zap.Logger) error {
	cfg := common.GetConfig()
	logger.Info("Starting EchoSync",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	// Context 생성
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker, err := initBroker(ctx, cfg.Realtime, logger.Named("realtime"))
	if err != nil {
		logger.Error("Failed to initialize realtime broker", zap.Error(err))
		return err
	}
	defer broker.Close()

	repo, cleanup, err := initStorage(logger, storage.WithPublisher(broker), storage.WithLogger(logger.Named("storage")))
	if err != nil {
		logger.Error("Failed to initialize storage", zap.Error(err))
		return err
	}
	defer cleanup()

	ctrl, err := newController(ctx, cfg, repo, logger)
	if err != nil {
		return err
	}

	auth, err := api.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.JWTIssuer)
	if err != nil {
		return err
	}
	server, err := api.NewServer(cfg.Server.Addr, ctrl, broker, auth,
		api.WithLogger(logger.Named("api")),
		api.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
	)
	if err != nil {
		return err
	}

	// Graceful shutdown을 위한 signal 처리
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("api error: %w", err)
		}
	}()

	// 종료 대기
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received")
		cancel()
	case err := <-errChan:
		logger.Error("Server error", zap.Error(err))
		cancel()
		return err
	}
	wg.Wait()

	// 백그라운드 인덱스 빌드가 끝날 때까지 기다립니다
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := ctrl.Stop(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}

	logger.Info("Servers stopped gracefully")
	return nil
}

// initBroker는 Redis 주소가 있으면 RedisBroker를, 없으면 MemoryBroker를 만듭니다.
func initBroker(ctx context.Context, cfg common.RealtimeConfig, logger *zap.Logger) (realtime.Broker, error) {
	if cfg.RedisAddr == "" {
		return realtime.NewMemoryBroker(logger), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	broker, err := realtime.NewRedisBroker(ctx, rdb, cfg.RedisChannel, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}
	logger.Info("Using Redis realtime broker", zap.String("addr", cfg.RedisAddr), zap.String("channel", cfg.RedisChannel))
	return broker, nil
}

func initStorage(logger *zap.Logger, opts ...storage.Option) (*storage.Repository, func(), error) {
	cfg, err := storage.ConfigFromEnv()
	if err != nil {
		return nil, func() {}, err
	}

	db, err := storage.Open(cfg)
	if err != nil {
		return nil, func() {}, err
	}

	if err := storage.AutoMigrate(db); err != nil {
		_ = storage.Close(db)
		return nil, func() {}, err
	}

	repo, err := storage.NewRepository(db, opts...)
	if err != nil {
		_ = storage.Close(db)
		return nil, func() {}, err
	}

	cleanup := func() {
		if err := storage.Close(db); err != nil {
			logger.Warn("Failed to close storage", zap.Error(err))
		}
	}

	return repo, cleanup, nil
}

func newController(ctx context.Context, cfg *common.Config, repo *storage.Repository, logger *zap.Logger) (*controller.Controller, error) {
	providers := provider.NewRegistry(cfg.APIKeys, cfg.Providers,
		provider.WithRegistryLogger(logger.Named("provider")),
		provider.WithBreaker(5, 30*time.Second),
	)

	store, err := blob.NewFromConfig(ctx, cfg.Storage, logger.Named("blob"))
	if err != nil {
		return nil, fmt.Errorf("blob 저장소 초기화 실패: %w", err)
	}

	cache, err := retrieval.NewCache(128)
	if err != nil {
		return nil, err
	}

	notifier, err := integration.NewNotifier(repo, integration.WithLogger(logger.Named("integration")))
	if err != nil {
		return nil, err
	}

	return controller.NewController(logger.Named("controller"), repo, providers,
		controller.WithBlobStore(store),
		controller.WithIndexCache(cache),
		controller.WithNotifier(notifier),
		controller.WithUpstreamTimeout(cfg.Server.UpstreamTimeout),
		controller.WithMCPClient(mcpclient.New(
			mcpclient.WithTimeout(cfg.Server.UpstreamTimeout),
			mcpclient.WithLogger(logger.Named("mcp")),
		)),
	)
}

func runToken(userID string, ttl time.Duration) error {
	cfg := common.GetConfig()
	auth, err := api.NewAuthenticator(cfg.Server.JWTSecret, cfg.Server.JWTIssuer)
	if err != nil {
		return err
	}
	token, err := auth.IssueToken(normalizeInput(userID), ttl)
	if err != nil {
		return fmt.Errorf("토큰 발급 실패: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runHealth(logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := client.New(remote.url, remote.token, client.WithLogger(logger.Named("client")))
	if err != nil {
		return err
	}
	health, err := c.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check 실패: %w", err)
	}
	fmt.Println(strings.ToUpper(health.Status))

	if p := health.Providers; p != nil {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "LLM requests\t%d (success %.1f%%)\n", p.Requests, p.SuccessRate())
		_, _ = fmt.Fprintf(w, "Retries / fallbacks\t%d / %d\n", p.Retries, p.Fallbacks)
		_, _ = fmt.Fprintf(w, "Breaker rejections\t%d\n", p.BreakerRejections)
		_, _ = fmt.Fprintf(w, "Tokens (prompt / completion)\t%d / %d\n", p.PromptTokens, p.CompletionTokens)
		_, _ = fmt.Fprintf(w, "Avg latency\t%.0fms\n", p.AvgLatencyMs)
		return w.Flush()
	}
	return nil
}
