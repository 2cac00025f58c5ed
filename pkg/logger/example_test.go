package logger_test

import (
	"log/slog"
	"os"

	"github.com/soundprediction/kpset/pkg/logger"
)

func ExampleNewDefaultLogger() {
	// Create a logger with default settings
	log := logger.NewDefaultLogger(slog.LevelDebug)

	log.Debug("This is a debug message")            // Gray in terminal
	log.Info("Evaluated batch", "batch", 3)          // Standard color
	log.Info("Loss evaluation finished", "ppl", 7.2) // Green in terminal
	log.Warn("Batch observer failed")                // Yellow in terminal
	log.Error("Model backend unavailable")           // Red in terminal
}

func ExampleNewHandler() {
	// JSON output for log shippers
	log := slog.New(logger.NewHandler(os.Stderr, "json", &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("Evaluated batch", "batch", 3)
}
