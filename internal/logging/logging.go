// Package logging builds the process logger.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a level name to a zap level. Unknown names are info.
func ParseLevel(name string) zapcore.Level {
	switch name {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds a logger writing to outputs in json or console format. An
// unbuildable config falls back to zap's production logger.
func New(level, format string, outputs []string) *zap.Logger {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	var enc zapcore.EncoderConfig
	if format == "console" {
		enc = zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		format = "json"
		enc = zap.NewProductionEncoderConfig()
		enc.TimeKey = "timestamp"
	}
	enc.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(ParseLevel(level)),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    enc,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		fallback, ferr := zap.NewProduction()
		if ferr != nil {
			return zap.NewNop()
		}
		fallback.Warn("logger config rejected, using production defaults", zap.Error(err))
		return fallback
	}
	return logger
}
