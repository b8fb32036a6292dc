package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	gormlogger "gorm.io/gorm/logger"
)

// Config는 애플리케이션의 모든 설정을 관리합니다.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	APIKeys   APIKeysConfig   `yaml:"api_keys"`
	Providers ProvidersConfig `yaml:"providers"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Storage   StorageConfig   `yaml:"storage"`
	Directory DirectoryConfig `yaml:"directory"`
}

// AppConfig는 애플리케이션 기본 설정입니다.
type AppConfig struct {
	// ENV는 실행 환경입니다 (development, production)
	ENV string `yaml:"env"`
	// LogLevel은 애플리케이션 로그 레벨입니다 (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig는 데이터베이스 설정입니다.
type DatabaseConfig struct {
	// DSN은 데이터베이스 연결 문자열입니다 (postgres:// 또는 SQLite 파일 경로)
	DSN string `yaml:"dsn"`
	// LogLevel은 GORM 로그 레벨입니다
	LogLevel gormlogger.LogLevel `yaml:"log_level"`
	// MaxIdleConns는 연결 풀의 idle 연결 개수입니다
	MaxIdleConns int `yaml:"max_idle_conns"`
	// MaxOpenConns는 연결 풀의 최대 연결 개수입니다
	MaxOpenConns int `yaml:"max_open_conns"`
	// ConnMaxLifetime은 연결의 최대 수명입니다
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// SkipDefaultTxn은 기본 트랜잭션을 스킵할지 여부입니다
	SkipDefaultTxn bool `yaml:"skip_default_txn"`
	// PrepareStmt는 prepared statement 캐시를 사용할지 여부입니다
	PrepareStmt bool `yaml:"prepare_stmt"`
}

// ServerConfig는 HTTP API 서버 설정입니다.
type ServerConfig struct {
	// Addr은 수신 주소입니다 (기본값 :8080)
	Addr string `yaml:"addr"`
	// JWTSecret은 bearer 토큰 서명 키입니다
	JWTSecret string `yaml:"jwt_secret"`
	// JWTIssuer는 토큰 발급자입니다
	JWTIssuer string `yaml:"jwt_issuer"`
	// RateLimit은 사용자별 초당 함수 호출 수입니다 (0이면 제한 없음)
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst는 rate limiter burst 크기입니다
	RateBurst int `yaml:"rate_burst"`
	// UpstreamTimeout은 LLM/MCP 호출 타임아웃입니다
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
}

// APIKeysConfig는 외부 API 키 설정입니다.
type APIKeysConfig struct {
	OpenAI    string `yaml:"openai"`
	Anthropic string `yaml:"anthropic"`
	Gemini    string `yaml:"gemini"`
}

// ProvidersConfig는 LLM 프로바이더별 엔드포인트와 기본 모델입니다.
type ProvidersConfig struct {
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	OpenAIModel      string `yaml:"openai_model"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	AnthropicModel   string `yaml:"anthropic_model"`
	GeminiBaseURL    string `yaml:"gemini_base_url"`
	GeminiModel      string `yaml:"gemini_model"`
}

// RealtimeConfig는 변경 알림 브로커 설정입니다.
type RealtimeConfig struct {
	// RedisAddr이 설정되면 인스턴스 간 fan-out에 Redis pub/sub을 사용합니다
	RedisAddr string `yaml:"redis_addr"`
	// RedisChannel은 pub/sub 채널 이름입니다
	RedisChannel string `yaml:"redis_channel"`
}

// StorageConfig는 문서 blob 저장소 설정입니다.
type StorageConfig struct {
	// Backend는 "local" 또는 "s3"입니다
	Backend    string `yaml:"backend"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint"`
}

// DirectoryConfig는 디렉토리 경로 설정입니다.
type DirectoryConfig struct {
	// DataDir은 기본 데이터 디렉토리입니다 (환경 변수 ECHOSYNC_DIR로만 설정 가능, 기본값: $HOME/.echosync)
	DataDir string `yaml:"-"`
	// BlobDir은 로컬 blob 저장 디렉토리입니다
	BlobDir string `yaml:"blob_dir"`
	// SQLiteDatabase는 SQLite 데이터베이스 파일 경로입니다
	SQLiteDatabase string `yaml:"sqlite_database"`
}

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// InitConfig는 설정을 초기화합니다.
// configPath가 비어있으면 ${ECHOSYNC_DIR}/config.yaml에서 로드를 시도하고, 파일이 없으면 환경 변수에서 로드합니다.
// 파일에서 로드한 후 환경 변수로 오버라이드됩니다.
func InitConfig(configPath string) error {
	var err error
	once.Do(func() {
		// .env는 있을 때만 로드합니다
		_ = godotenv.Load()

		if configPath == "" {
			configPath = filepath.Join(getDataDir(), "config.yaml")
		}

		var cfg *Config
		if _, statErr := os.Stat(configPath); statErr == nil {
			cfg, err = LoadConfigFromFile(configPath)
		} else {
			cfg, err = LoadConfigFromEnv()
		}

		mu.Lock()
		instance = cfg
		mu.Unlock()
	})
	return err
}

// GetConfig는 싱글톤 Config 인스턴스를 반환합니다.
func GetConfig() *Config {
	mu.RLock()
	cfg := instance
	mu.RUnlock()
	if cfg == nil {
		// InitConfig가 호출되지 않은 경우 환경 변수에서 로드 시도
		_ = InitConfig("")
		mu.RLock()
		cfg = instance
		mu.RUnlock()
	}
	if cfg == nil {
		cfg, _ = LoadConfigFromEnv()
	}
	return cfg
}

// LoadConfig는 싱글톤 설정을 반환합니다.
func LoadConfig() (*Config, error) {
	return GetConfig(), nil
}

// LoadConfigFromFile은 YAML 파일에서 설정을 로드합니다.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("설정 파일 읽기 실패: %w", err)
	}

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("설정 파일 파싱 실패: %w", err)
	}

	// YAML에서 로드한 후 환경 변수로 오버라이드
	return mergeWithEnv(cfg), nil
}

// LoadConfigFromEnv는 환경 변수에서 설정을 로드합니다.
func LoadConfigFromEnv() (*Config, error) {
	cfg := &Config{
		App:       loadAppConfig(),
		Database:  loadDatabaseConfig(),
		Server:    loadServerConfig(),
		APIKeys:   loadAPIKeysConfig(),
		Providers: loadProvidersConfig(),
		Realtime:  loadRealtimeConfig(),
		Storage:   loadStorageConfig(),
		Directory: loadDirectoryConfig(),
	}
	return cfg, nil
}

// mergeWithEnv는 YAML 설정을 환경 변수로 오버라이드합니다.
func mergeWithEnv(cfg *Config) *Config {
	// App
	overrideString(&cfg.App.ENV, "ECHOSYNC_ENV")
	overrideString(&cfg.App.LogLevel, "ECHOSYNC_LOG_LEVEL")

	// Database
	overrideString(&cfg.Database.DSN, "ECHOSYNC_DATABASE_URL")
	if logLevel := os.Getenv("ECHOSYNC_DB_LOG_LEVEL"); logLevel != "" {
		cfg.Database.LogLevel = parseLogLevel(logLevel)
	}
	if maxIdle := os.Getenv("ECHOSYNC_DB_MAX_IDLE"); maxIdle != "" {
		cfg.Database.MaxIdleConns = parseIntWithDefault(maxIdle, cfg.Database.MaxIdleConns)
	}
	if maxOpen := os.Getenv("ECHOSYNC_DB_MAX_OPEN"); maxOpen != "" {
		cfg.Database.MaxOpenConns = parseIntWithDefault(maxOpen, cfg.Database.MaxOpenConns)
	}
	if lifetime := os.Getenv("ECHOSYNC_DB_CONN_LIFETIME"); lifetime != "" {
		cfg.Database.ConnMaxLifetime = parseDurationWithDefault(lifetime, cfg.Database.ConnMaxLifetime)
	}

	// Server
	overrideString(&cfg.Server.Addr, "ECHOSYNC_ADDR")
	overrideString(&cfg.Server.JWTSecret, "ECHOSYNC_JWT_SECRET")
	overrideString(&cfg.Server.JWTIssuer, "ECHOSYNC_JWT_ISSUER")
	if v := os.Getenv("ECHOSYNC_RATE_LIMIT"); v != "" {
		cfg.Server.RateLimit = parseFloatWithDefault(v, cfg.Server.RateLimit)
	}
	if v := os.Getenv("ECHOSYNC_RATE_BURST"); v != "" {
		cfg.Server.RateBurst = parseIntWithDefault(v, cfg.Server.RateBurst)
	}
	if v := os.Getenv("ECHOSYNC_UPSTREAM_TIMEOUT"); v != "" {
		cfg.Server.UpstreamTimeout = parseDurationWithDefault(v, cfg.Server.UpstreamTimeout)
	}

	// API Keys
	overrideString(&cfg.APIKeys.OpenAI, "ECHOSYNC_OPENAI_API_KEY")
	overrideString(&cfg.APIKeys.Anthropic, "ECHOSYNC_ANTHROPIC_API_KEY")
	overrideString(&cfg.APIKeys.Gemini, "ECHOSYNC_GEMINI_API_KEY")

	// Providers
	overrideString(&cfg.Providers.OpenAIBaseURL, "ECHOSYNC_OPENAI_BASE_URL")
	overrideString(&cfg.Providers.OpenAIModel, "ECHOSYNC_OPENAI_MODEL")
	overrideString(&cfg.Providers.AnthropicBaseURL, "ECHOSYNC_ANTHROPIC_BASE_URL")
	overrideString(&cfg.Providers.AnthropicModel, "ECHOSYNC_ANTHROPIC_MODEL")
	overrideString(&cfg.Providers.GeminiBaseURL, "ECHOSYNC_GEMINI_BASE_URL")
	overrideString(&cfg.Providers.GeminiModel, "ECHOSYNC_GEMINI_MODEL")

	// Realtime
	overrideString(&cfg.Realtime.RedisAddr, "ECHOSYNC_REDIS_ADDR")
	overrideString(&cfg.Realtime.RedisChannel, "ECHOSYNC_REDIS_CHANNEL")

	// Storage
	overrideString(&cfg.Storage.Backend, "ECHOSYNC_STORAGE_BACKEND")
	overrideString(&cfg.Storage.S3Bucket, "ECHOSYNC_S3_BUCKET")
	overrideString(&cfg.Storage.S3Region, "ECHOSYNC_S3_REGION")
	overrideString(&cfg.Storage.S3Endpoint, "ECHOSYNC_S3_ENDPOINT")

	// Directory
	overrideString(&cfg.Directory.DataDir, "ECHOSYNC_DIR")
	overrideString(&cfg.Directory.BlobDir, "ECHOSYNC_BLOB_DIR")
	overrideString(&cfg.Directory.SQLiteDatabase, "ECHOSYNC_SQLITE_DATABASE")

	return cfg
}

func loadAppConfig() AppConfig {
	return AppConfig{
		ENV:      getEnvOrDefault("ECHOSYNC_ENV", "production"),
		LogLevel: getEnvOrDefault("ECHOSYNC_LOG_LEVEL", "info"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	dsn := os.Getenv("ECHOSYNC_DATABASE_URL")
	if dsn == "" {
		// ECHOSYNC_DATABASE_URL이 없으면 SQLite 기본값 사용 (로컬 개발용)
		sqliteDB := os.Getenv("ECHOSYNC_SQLITE_DATABASE")
		if sqliteDB == "" {
			sqliteDB = filepath.Join(getDataDir(), "echosync.db")
		}
		dsn = sqliteDB
	}

	return DatabaseConfig{
		DSN:             dsn,
		LogLevel:        parseLogLevel(os.Getenv("ECHOSYNC_DB_LOG_LEVEL")),
		MaxIdleConns:    parseIntWithDefault(os.Getenv("ECHOSYNC_DB_MAX_IDLE"), 5),
		MaxOpenConns:    parseIntWithDefault(os.Getenv("ECHOSYNC_DB_MAX_OPEN"), 20),
		ConnMaxLifetime: parseDurationWithDefault(os.Getenv("ECHOSYNC_DB_CONN_LIFETIME"), 30*time.Minute),
		SkipDefaultTxn:  parseBoolWithDefault(os.Getenv("ECHOSYNC_DB_SKIP_DEFAULT_TXN"), true),
		PrepareStmt:     parseBoolWithDefault(os.Getenv("ECHOSYNC_DB_PREPARE_STMT"), false),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            getEnvOrDefault("ECHOSYNC_ADDR", ":8080"),
		JWTSecret:       os.Getenv("ECHOSYNC_JWT_SECRET"),
		JWTIssuer:       getEnvOrDefault("ECHOSYNC_JWT_ISSUER", "echosync"),
		RateLimit:       parseFloatWithDefault(os.Getenv("ECHOSYNC_RATE_LIMIT"), 10),
		RateBurst:       parseIntWithDefault(os.Getenv("ECHOSYNC_RATE_BURST"), 20),
		UpstreamTimeout: parseDurationWithDefault(os.Getenv("ECHOSYNC_UPSTREAM_TIMEOUT"), 60*time.Second),
	}
}

func loadAPIKeysConfig() APIKeysConfig {
	return APIKeysConfig{
		OpenAI:    os.Getenv("ECHOSYNC_OPENAI_API_KEY"),
		Anthropic: os.Getenv("ECHOSYNC_ANTHROPIC_API_KEY"),
		Gemini:    os.Getenv("ECHOSYNC_GEMINI_API_KEY"),
	}
}

func loadProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		OpenAIBaseURL:    getEnvOrDefault("ECHOSYNC_OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      getEnvOrDefault("ECHOSYNC_OPENAI_MODEL", "gpt-4o-mini"),
		AnthropicBaseURL: getEnvOrDefault("ECHOSYNC_ANTHROPIC_BASE_URL", "https://api.anthropic.com/v1"),
		AnthropicModel:   getEnvOrDefault("ECHOSYNC_ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		GeminiBaseURL:    os.Getenv("ECHOSYNC_GEMINI_BASE_URL"),
		GeminiModel:      getEnvOrDefault("ECHOSYNC_GEMINI_MODEL", "gemini-2.5-flash"),
	}
}

func loadRealtimeConfig() RealtimeConfig {
	return RealtimeConfig{
		RedisAddr:    os.Getenv("ECHOSYNC_REDIS_ADDR"),
		RedisChannel: getEnvOrDefault("ECHOSYNC_REDIS_CHANNEL", "echosync:changes"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Backend:    getEnvOrDefault("ECHOSYNC_STORAGE_BACKEND", "local"),
		S3Bucket:   os.Getenv("ECHOSYNC_S3_BUCKET"),
		S3Region:   getEnvOrDefault("ECHOSYNC_S3_REGION", "us-east-1"),
		S3Endpoint: os.Getenv("ECHOSYNC_S3_ENDPOINT"),
	}
}

func loadDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		DataDir:        getDataDir(),
		BlobDir:        os.Getenv("ECHOSYNC_BLOB_DIR"),
		SQLiteDatabase: os.Getenv("ECHOSYNC_SQLITE_DATABASE"),
	}
}

// getDataDir은 ECHOSYNC_DIR 환경 변수를 반환하거나 기본값을 계산합니다.
func getDataDir() string {
	if dir := os.Getenv("ECHOSYNC_DIR"); dir != "" {
		return dir
	}
	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".echosync")
	}
	return "./data"
}

// Helper functions

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseLogLevel(value string) gormlogger.LogLevel {
	switch value {
	case "silent", "SILENT":
		return gormlogger.Silent
	case "error", "ERROR":
		return gormlogger.Error
	case "warn", "WARN":
		return gormlogger.Warn
	case "info", "INFO":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func parseIntWithDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseFloatWithDefault(value string, def float64) float64 {
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseDurationWithDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func parseBoolWithDefault(value string, def bool) bool {
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

// Validate는 서버 실행에 필요한 필수 설정 값들을 검증합니다.
func (c *Config) Validate() error {
	if c.Server.JWTSecret == "" {
		return fmt.Errorf("ECHOSYNC_JWT_SECRET is required")
	}
	if c.APIKeys.OpenAI == "" && c.APIKeys.Anthropic == "" && c.APIKeys.Gemini == "" {
		return fmt.Errorf("at least one of ECHOSYNC_OPENAI_API_KEY, ECHOSYNC_ANTHROPIC_API_KEY, ECHOSYNC_GEMINI_API_KEY is required")
	}
	if c.Storage.Backend == "s3" && c.Storage.S3Bucket == "" {
		return fmt.Errorf("ECHOSYNC_S3_BUCKET is required for the s3 storage backend")
	}
	return nil
}
