package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger for structured logging across all processes
type Logger struct {
	*zap.Logger
}

var (
	global *Logger
	once   sync.Once
)

// Config holds logger configuration
type Config struct {
	// Level is the minimum log level: debug, info, warn, error
	Level string
	// Development enables console encoding and stacktraces on warn
	Development bool
	// ServiceName is attached to every log entry
	ServiceName string
}

// Init initializes the global logger. Safe to call more than once; only the
// first call takes effect.
func Init(cfg *Config) (*Logger, error) {
	var initErr error
	once.Do(func() {
		if cfg == nil {
			cfg = &Config{Level: "info"}
		}

		level := zapcore.InfoLevel
		if err := level.Set(cfg.Level); err != nil {
			level = zapcore.InfoLevel
		}

		var zapCfg zap.Config
		if cfg.Development {
			zapCfg = zap.NewDevelopmentConfig()
		} else {
			zapCfg = zap.NewProductionConfig()
			zapCfg.EncoderConfig.TimeKey = "ts"
			zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)

		l, err := zapCfg.Build(zap.AddCallerSkip(0))
		if err != nil {
			initErr = err
			return
		}

		if cfg.ServiceName != "" {
			l = l.With(zap.String("service", cfg.ServiceName))
		}

		global = &Logger{Logger: l}
	})

	if initErr != nil {
		return nil, initErr
	}
	return global, nil
}

// Get returns the global logger, initializing a default one if needed
func Get() *Logger {
	if global == nil {
		Init(nil)
	}
	return global
}

// With returns a child logger with the given fields attached
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(fields...)}
}

// Sync flushes buffered log entries
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}
