package storage

import (
	"strings"
	"time"

	"github.com/vishnuhala/echo-sync-agents-unleashed-sub000/internal/common"
	gormlogger "gorm.io/gorm/logger"
)

// Config는 GORM 데이터베이스 설정 값을 보관합니다.
// common.DatabaseConfig를 래핑합니다.
type Config struct {
	DSN             string
	LogLevel        gormlogger.LogLevel
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	SkipDefaultTxn  bool
	PrepareStmt     bool
}

// ConfigFromEnv는 중앙화된 설정에서 Config를 구성합니다.
func ConfigFromEnv() (Config, error) {
	appConfig, err := common.LoadConfig()
	if err != nil {
		return Config{}, err
	}

	return Config{
		DSN:             appConfig.Database.DSN,
		LogLevel:        appConfig.Database.LogLevel,
		MaxIdleConns:    appConfig.Database.MaxIdleConns,
		MaxOpenConns:    appConfig.Database.MaxOpenConns,
		ConnMaxLifetime: appConfig.Database.ConnMaxLifetime,
		SkipDefaultTxn:  appConfig.Database.SkipDefaultTxn,
		PrepareStmt:     appConfig.Database.PrepareStmt,
	}, nil
}

// IsPostgresDSN은 dsn이 PostgreSQL 연결 문자열인지 판단합니다.
func IsPostgresDSN(dsn string) bool {
	for _, prefix := range []string{"postgres://", "postgresql://", "host="} {
		if strings.HasPrefix(dsn, prefix) {
			return true
		}
	}
	return false
}
