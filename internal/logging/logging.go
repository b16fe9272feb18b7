// Package logging builds the process logger: a human-readable console core
// on stdout teed with an optional JSON file core.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vamsipavuluri9/Multi-Channel-Vehicular-Communication/internal/config"
)

// ParseLevel maps a config level name to a zap level. Unknown names mean info.
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(name) {
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

// New creates the logger described by cfg. If the log file cannot be
// opened the logger still writes to the console and the error is returned
// alongside it.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := ParseLevel(cfg.Level)

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			level,
		),
	}

	var fileErr error
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err != nil {
			fileErr = fmt.Errorf("opening log file: %w", err)
		} else {
			cores = append(cores, zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			))
		}
	}

	return zap.New(zapcore.NewTee(cores...)), fileErr
}
