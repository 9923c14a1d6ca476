// Package cbltlog builds the single process-wide structured logger used
// throughout cblt. It is grounded in the teacher's zap-backed
// internal/log/driver/stdout logger, trimmed down to a direct *zap.Logger
// wrapper: cblt has one log sink (stdout) and no need for the teacher's
// driver-factory indirection, so that layer is not carried over.
package cbltlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process-wide logger. dev selects the human-readable
// console encoder (set via CBLT_DEV=1); production builds always emit JSON.
func New(dev bool, levelName string) *zap.Logger {
	level := parseLevel(levelName)

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if dev {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if dev {
		opts = append(opts, zap.Development())
	}

	return zap.New(core, opts...)
}

func parseLevel(name string) zapcore.Level {
	var level zapcore.Level
	if err := level.Set(name); err != nil {
		return zapcore.InfoLevel
	}
	return level
}
