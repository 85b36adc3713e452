package logger

import (
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	ModeProduction  = "production"
	ModeDevelopment = "development"
)

type loggers struct {
	log   *zap.Logger
	sugar *zap.SugaredLogger
}

// current 为 nil 时回退到 zap 全局 logger
var current atomic.Pointer[loggers]

// Init 根据配置中的 logMode 选择 logger，未知模式按 production 处理
func Init(mode string) error {
	cfg := zap.NewProductionConfig()
	if mode == ModeDevelopment {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set installs l as the package and zap global logger and flushes the previous one.
func Set(l *zap.Logger) {
	prev := current.Swap(&loggers{log: l, sugar: l.Sugar()})
	zap.ReplaceGlobals(l)
	if prev != nil && prev.log != l {
		_ = prev.log.Sync()
	}
}

func Log() *zap.Logger {
	if c := current.Load(); c != nil {
		return c.log
	}
	return zap.L()
}

func S() *zap.SugaredLogger {
	if c := current.Load(); c != nil {
		return c.sugar
	}
	return zap.S()
}

// Sync flushes buffered entries. stdout/stderr sync errors are expected on
// some terminals and are returned as-is for the caller to ignore.
func Sync() error {
	if c := current.Load(); c != nil {
		return c.log.Sync()
	}
	return nil
}
