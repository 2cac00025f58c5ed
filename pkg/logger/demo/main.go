package main

import (
	"log/slog"

	"github.com/soundprediction/kpset/pkg/logger"
)

func main() {
	log := logger.NewDefaultLogger(slog.LevelDebug)

	log.Info("kpset colored logger demo")
	log.Debug("Debug message - gray")
	log.Info("Info message - standard color")
	log.Info("Evaluated batch", "batch", 12, "documents", 8, "loss", 31.7)
	log.Info("Loss evaluation finished", "xent", 1.92, "ppl", 6.8)
	log.Info("Prediction finished", "documents", 400)
	log.Warn("Warning message - yellow")
	log.Error("Error message - red")
}
