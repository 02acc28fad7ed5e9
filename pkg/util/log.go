package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the coordinator's zap.Logger at the given level
// ("debug", "info", "warn", or "error"; anything else falls back to
// info), matching pkg/params.Config.LogLevel's LOG_LEVEL env override.
// Every entry carries a "service":"coordinator" field so log aggregation
// can tell the coordinator's own lines apart from a colocated chain node
// or client tool sharing the same log stream.
func NewLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{"service": "coordinator"}
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zap.InfoLevel
	}
	return l
}
