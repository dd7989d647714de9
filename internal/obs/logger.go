// Copyright 2025 James Ross
package obs

import (
    "strings"
    "time"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

func NewLogger(level string) (*zap.Logger, error) {
    lvl := zapcore.InfoLevel
    switch strings.ToLower(level) {
    case "debug":
        lvl = zapcore.DebugLevel
    case "warn":
        lvl = zapcore.WarnLevel
    case "error":
        lvl = zapcore.ErrorLevel
    }
    cfg := zap.NewProductionConfig()
    cfg.Level = zap.NewAtomicLevelAt(lvl)
    cfg.Encoding = "json"
    return cfg.Build()
}

// Component returns logger with a "component" field set, distinguishing
// cmd/worker's and cmd/api's log streams when both ship to the same
// aggregator.
func Component(logger *zap.Logger, name string) *zap.Logger {
	return logger.With(zap.String("component", name))
}

// Convenience typed fields
func String(k, v string) zap.Field     { return zap.String(k, v) }
func Int(k string, v int) zap.Field    { return zap.Int(k, v) }
func Bool(k string, v bool) zap.Field  { return zap.Bool(k, v) }
func Err(err error) zap.Field          { return zap.Error(err) }
func Duration(k string, v time.Duration) zap.Field { return zap.Duration(k, v) }
