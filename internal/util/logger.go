package util

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

// LoggerOptions describes the process-wide logger
type LoggerOptions struct {
	Service string
	Env     string
	Level   string // debug | info | warn | error; empty keeps the env default
}

// NewLogger builds a logger whose entries carry the service and env fields.
// Production gets JSON output at info level, anything else colored console
// output at debug level.
func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	var config zap.Config
	if opts.Env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "ts"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if opts.Level != "" {
		level, err := zap.ParseAtomicLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		config.Level = level
	}

	fields := []zap.Field{zap.String("env", opts.Env)}
	if opts.Service != "" {
		fields = append(fields, zap.String("service", opts.Service))
	}
	return config.Build(zap.Fields(fields...))
}

// InitLogger installs the global logger
func InitLogger(opts LoggerOptions) error {
	l, err := NewLogger(opts)
	if err != nil {
		return err
	}
	logger = l
	zap.ReplaceGlobals(logger)
	return nil
}

// GetLogger returns the global logger, a development logger until InitLogger runs
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewDevelopment()
	}
	return logger
}

// SyncLogger flushes any buffered log entries
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}
