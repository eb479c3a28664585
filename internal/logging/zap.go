package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arloliu/lifeline/types"
)

// ZapOptions configures the daemon logger.
type ZapOptions struct {
	// Level is the minimum level ("debug", "info", "warn", "error").
	Level string

	// Format is "json" or "console".
	Format string

	// File enables rotated file output when non-empty. Console output is kept.
	File string

	// MaxSizeMB is the size at which the log file rotates.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int

	// MaxAgeDays is the retention of rotated files.
	MaxAgeDays int

	// Compress gzips rotated files.
	Compress bool
}

// ZapLogger implements types.Logger on top of a zap.SugaredLogger.
//
// The sugared logger's plain Debug/Info methods are printf-style, so every call
// is routed to the structured "w" variants.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// Compile-time assertion that ZapLogger implements Logger.
var _ types.Logger = (*ZapLogger)(nil)

// NewZapLogger wraps an existing sugared logger.
func NewZapLogger(sugar *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{sugar: sugar}
}

// Debug logs a debug-level message with optional key-value pairs.
func (l *ZapLogger) Debug(msg string, keysAndValues ...any) { l.sugar.Debugw(msg, keysAndValues...) }

// Info logs an info-level message with optional key-value pairs.
func (l *ZapLogger) Info(msg string, keysAndValues ...any) { l.sugar.Infow(msg, keysAndValues...) }

// Warn logs a warning-level message with optional key-value pairs.
func (l *ZapLogger) Warn(msg string, keysAndValues ...any) { l.sugar.Warnw(msg, keysAndValues...) }

// Error logs an error-level message with optional key-value pairs.
func (l *ZapLogger) Error(msg string, keysAndValues ...any) { l.sugar.Errorw(msg, keysAndValues...) }

// Fatal logs a fatal-level message and calls os.Exit(1).
func (l *ZapLogger) Fatal(msg string, keysAndValues ...any) { l.sugar.Fatalw(msg, keysAndValues...) }

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

// NewZap builds the daemon logger.
//
// Parameters:
//   - opts: Output and rotation settings
//
// Returns:
//   - *ZapLogger: Logger ready for use; call Sync before exit
//   - error: If the level cannot be parsed
func NewZap(opts ZapOptions) (*ZapLogger, error) {
	level, err := zapcore.ParseLevel(defaultString(opts.Level, "info"))
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "time"

	var encoder zapcore.Encoder
	if strings.EqualFold(opts.Format, "json") {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level),
	}

	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    defaultInt(opts.MaxSizeMB, 100),
			MaxBackups: defaultInt(opts.MaxBackups, 5),
			MaxAge:     defaultInt(opts.MaxAgeDays, 30),
			Compress:   opts.Compress,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), level))
	}

	sugar := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()

	return NewZapLogger(sugar), nil
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}

	return v
}

func defaultInt(v, def int) int {
	if v <= 0 {
		return def
	}

	return v
}
