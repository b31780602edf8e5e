package observability

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a configured level name onto a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// EncoderConfig returns the JSON encoder layout used by diagcore loggers.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// NewCore builds a JSON zap core writing to w (stdout when nil).
func NewCore(level string, w io.Writer) zapcore.Core {
	if w == nil {
		w = os.Stdout
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(EncoderConfig()),
		zapcore.AddSync(w),
		ParseLevel(level),
	)
}

// NewZapLogger adapts a zap logger to the Logger interface.
func NewZapLogger(logger *zap.Logger) Logger {
	if logger == nil {
		return noopLogger{}
	}
	return zapLogger{logger: logger}
}

type zapLogger struct {
	logger *zap.Logger
}

func (l zapLogger) Debug(msg string, fields ...Field) { l.logger.Debug(msg, toZap(fields)...) }
func (l zapLogger) Info(msg string, fields ...Field)  { l.logger.Info(msg, toZap(fields)...) }
func (l zapLogger) Warn(msg string, fields ...Field)  { l.logger.Warn(msg, toZap(fields)...) }
func (l zapLogger) Error(msg string, fields ...Field) { l.logger.Error(msg, toZap(fields)...) }

func toZap(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			out = append(out, zap.NamedError(f.Key, err))
			continue
		}
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
