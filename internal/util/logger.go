// internal/util/logger.go
package util

import (
	"log/slog"
	"os"

	slogenv "github.com/cbrewster/slog-env"
)

var logger *slog.Logger

// InitLogger initializes the global structured logger.
// The level is read from GO_LOG (e.g. GO_LOG=debug), defaulting to info.
func InitLogger() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     slog.LevelDebug, // filtering is done by slogenv
	})
	logger = slog.New(slogenv.NewHandler(handler, slogenv.WithDefaultLevel(slog.LevelInfo)))
	slog.SetDefault(logger)
}

// GetLogger returns the initialized global logger.
func GetLogger() *slog.Logger {
	if logger == nil {
		InitLogger()
	}
	return logger
}
