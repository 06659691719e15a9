// Package logger wraps zap with the daemon's logging conventions: leveled
// structured output, console format on terminals, json in production, and
// field helpers for tagging a logger with its owning component.
package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig selects level, format, and destination.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is "json" or "console" ("text" is accepted as an alias).
	Format string `mapstructure:"format"`
	// OutputPath is stdout, stderr, or a file path.
	OutputPath string `mapstructure:"output_path"`
}

// Logger is a leveled structured logger. Copies share the underlying zap
// core; WithFields returns a tagged child.
type Logger struct {
	zl *zap.Logger
}

var (
	defaultMu  sync.RWMutex
	defaultLog *Logger
)

// Default returns the process-wide logger, creating a console info-level
// one on first use. SetDefault from main replaces it.
func Default() *Logger {
	defaultMu.RLock()
	log := defaultLog
	defaultMu.RUnlock()
	if log != nil {
		return log
	}

	log, err := NewLogger(LoggingConfig{Level: "info", Format: defaultFormat(), OutputPath: "stderr"})
	if err != nil {
		// zap.NewProduction cannot fail with default options.
		zl, _ := zap.NewProduction()
		log = &Logger{zl: zl}
	}
	SetDefault(log)
	return log
}

// SetDefault installs the process-wide logger.
func SetDefault(log *Logger) {
	defaultMu.Lock()
	defaultLog = log
	defaultMu.Unlock()
}

// defaultFormat picks json when AGOR_ENV says production, console otherwise.
func defaultFormat() string {
	if env := os.Getenv("AGOR_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "console"
}

// NewLogger builds a logger from config. An unknown level falls back to
// info rather than failing startup.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	sink, err := openSink(cfg.OutputPath)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(newEncoder(cfg.Format), sink, level)
	return &Logger{
		zl: zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
	}, nil
}

func newEncoder(format string) zapcore.Encoder {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	switch format {
	case "console", "text":
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encCfg)
	default:
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(encCfg)
	}
}

func openSink(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		return zapcore.AddSync(file), nil
	}
}

// WithFields returns a child logger carrying the extra fields on every
// entry. Components tag themselves once at construction.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{zl: l.zl.With(fields...)}
}

// WithError returns a child logger carrying the error field.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields(zap.Error(err))
}

// Sync flushes buffered entries. Called once from main on shutdown.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zl.Debug(msg, fields...) }

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...zap.Field) { l.zl.Info(msg, fields...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...zap.Field) { l.zl.Warn(msg, fields...) }

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zl.Error(msg, fields...) }

// Fatal logs at fatal level and exits.
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.zl.Fatal(msg, fields...) }

// Zap exposes the underlying zap.Logger for libraries that want one.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}
