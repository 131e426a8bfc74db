// Package main is the entry point for the ToolHive job watcher.
package main

import (
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stacklok/toolhive-jobwatch/cmd/thv-jobwatch/app"
	"github.com/stacklok/toolhive-jobwatch/internal/config"
)

// getLogLevel parses the THV_JOBWATCH_LOG_LEVEL environment variable and returns the corresponding zap level.
// Falls back to LOG_LEVEL for backward compatibility.
// Defaults to info if neither is set or if the value is invalid.
func getLogLevel() zapcore.Level {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}

	switch strings.ToLower(levelStr) {
	case "debug":
		return zapcore.DebugLevel
	case "info", "":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		zap.L().Warn("Invalid LOG_LEVEL, using INFO", zap.String("value", levelStr))
		return zapcore.InfoLevel
	}
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// stdout is reserved for command output
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func main() {
	logger, err := newLogger(getLogLevel())
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if err := app.NewRootCmd().Execute(); err != nil {
		_ = logger.Sync()
		os.Exit(1)
	}
}
