package common

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger는 전역 설정으로 name 로거를 만듭니다.
func NewLogger(name string) (*zap.Logger, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewLoggerWithConfig(name, cfg)
}

// NewLoggerWithConfig는 cfg.App 설정에 맞는 로거를 만듭니다.
// production은 JSON, 그 외에는 색상 콘솔 출력입니다.
func NewLoggerWithConfig(name string, cfg *Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if cfg.App.ENV == "production" {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	if cfg.App.LogLevel != "" {
		if level, err := zap.ParseAtomicLevel(cfg.App.LogLevel); err == nil {
			zcfg.Level = level
		}
	}

	logger, err := zcfg.Build(zap.Fields(zap.String("app", "echosync")))
	if err != nil {
		return nil, err
	}
	if name == "" {
		return logger, nil
	}
	return logger.Named(name), nil
}
