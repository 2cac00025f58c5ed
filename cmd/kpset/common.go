package kpset

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/soundprediction/kpset"
	"github.com/soundprediction/kpset/pkg/config"
	kpsetLogger "github.com/soundprediction/kpset/pkg/logger"
	"github.com/soundprediction/kpset/pkg/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// addModelFlags registers the flags shared by every command that talks to
// a model.
func addModelFlags(flags *pflag.FlagSet) {
	// Model flags
	flags.String("model-endpoint", "", "Model server URL")
	flags.String("model-api-key", "", "Model server API key")
	flags.Duration("model-timeout", 0, "Model request timeout")
	flags.String("generator", "", "Generator (remote, greedy)")

	// Data flags
	flags.String("vocab", "", "Vocabulary file")
	flags.Int("batch-size", 0, "Documents per batch")
	flags.Int("max-src-len", 0, "Truncate sources to this many words (0 keeps all)")
	flags.Bool("lowercase", true, "Lowercase documents")

	// Slot flags
	flags.Bool("fix-kp-num-len", true, "Predict keyphrases in fixed slots")
	flags.Int("max-kp-num", 0, "Number of slots")
	flags.Int("max-kp-len", 0, "Tokens per slot")
	flags.Bool("seperate-pre-ab", true, "Reserve the first half of the slots for present keyphrases")

	// Decode flags
	flags.Int("vocab-size", 0, "Vocabulary size used by the model")
	flags.Int("max-decode-len", 0, "Maximum decoding length in classic mode")
}

// addDatasetFlags registers the flags of commands that read a test set.
func addDatasetFlags(flags *pflag.FlagSet) {
	flags.String("test", "", "Test set (JSON lines)")
	flags.String("report-dir", "", "Directory for run reports")
	flags.String("report-format", "", "Run report format (json, yaml)")
}

// loadConfig loads the configuration, applies changed flags and validates
// the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	overrideConfigWithFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overrideConfigWithFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	changed := func(name string) bool {
		return flags.Lookup(name) != nil && flags.Changed(name)
	}

	// Global flags
	if changed("telemetry-parquet-path") {
		cfg.Telemetry.ParquetPath, _ = flags.GetString("telemetry-parquet-path")
	}

	// Model flags
	if changed("model-endpoint") {
		cfg.Model.Endpoint, _ = flags.GetString("model-endpoint")
	}
	if changed("model-api-key") {
		cfg.Model.APIKey, _ = flags.GetString("model-api-key")
	}
	if changed("model-timeout") {
		cfg.Model.Timeout, _ = flags.GetDuration("model-timeout")
	}
	if changed("generator") {
		cfg.Model.Generator, _ = flags.GetString("generator")
	}

	// Data flags
	if changed("vocab") {
		cfg.Data.VocabPath, _ = flags.GetString("vocab")
	}
	if changed("test") {
		cfg.Data.TestPath, _ = flags.GetString("test")
	}
	if changed("batch-size") {
		cfg.Data.BatchSize, _ = flags.GetInt("batch-size")
	}
	if changed("max-src-len") {
		cfg.Data.MaxSrcLen, _ = flags.GetInt("max-src-len")
	}
	if changed("lowercase") {
		cfg.Data.Lowercase, _ = flags.GetBool("lowercase")
	}

	// Slot flags
	if changed("fix-kp-num-len") {
		cfg.Slots.FixKpNumLen, _ = flags.GetBool("fix-kp-num-len")
	}
	if changed("max-kp-num") {
		cfg.Slots.MaxKpNum, _ = flags.GetInt("max-kp-num")
	}
	if changed("max-kp-len") {
		cfg.Slots.MaxKpLen, _ = flags.GetInt("max-kp-len")
	}
	if changed("assign-steps") {
		cfg.Slots.AssignSteps, _ = flags.GetInt("assign-steps")
	}
	if changed("seperate-pre-ab") {
		cfg.Slots.SeperatePreAb, _ = flags.GetBool("seperate-pre-ab")
	}

	// Loss flags
	if changed("set-loss") {
		cfg.Loss.SetLoss, _ = flags.GetBool("set-loss")
	}
	if changed("use-optimal-transport") {
		cfg.Loss.UseOptimalTransport, _ = flags.GetBool("use-optimal-transport")
	}
	if changed("adaptive-lr-scale") {
		cfg.Loss.AdaptiveLRScale, _ = flags.GetBool("adaptive-lr-scale")
	}
	if changed("loss-scale") {
		cfg.Loss.LossScale, _ = flags.GetFloat64("loss-scale")
	}
	if changed("loss-scale-pre") {
		cfg.Loss.LossScalePre, _ = flags.GetFloat64("loss-scale-pre")
	}
	if changed("loss-scale-ab") {
		cfg.Loss.LossScaleAb, _ = flags.GetFloat64("loss-scale-ab")
	}

	// Decode flags
	if changed("vocab-size") {
		cfg.Decode.VocabSize, _ = flags.GetInt("vocab-size")
	}
	if changed("copy-attention") {
		cfg.Decode.CopyAttention, _ = flags.GetBool("copy-attention")
	}
	if changed("replace-unk") {
		cfg.Decode.ReplaceUnk, _ = flags.GetBool("replace-unk")
	}
	if changed("max-decode-len") {
		cfg.Decode.MaxDecodeLen, _ = flags.GetInt("max-decode-len")
	}
	if changed("pred-path") {
		cfg.Decode.PredPath, _ = flags.GetString("pred-path")
	}

	// Output flags
	if changed("report-dir") {
		cfg.Output.ReportDir, _ = flags.GetString("report-dir")
	}
	if changed("report-format") {
		cfg.Output.Format, _ = flags.GetString("report-format")
	}
	if changed("stats-dir") {
		cfg.Output.StatsDir, _ = flags.GetString("stats-dir")
	}

	// Server flags
	if changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if changed("mode") {
		cfg.Server.Mode, _ = flags.GetString("mode")
	}
}

// setupLogger installs the configured handler as the default logger. When
// telemetry.parquet_path is set, error records are also written to parquet
// files; the returned function flushes them.
func setupLogger(cfg *config.Config) (*slog.Logger, func()) {
	var handler slog.Handler = kpsetLogger.NewHandler(os.Stderr, cfg.Log.Format, &slog.HandlerOptions{
		Level: kpsetLogger.ParseLevel(cfg.Log.Level),
	})

	cleanup := func() {}
	if path := cfg.Telemetry.ParquetPath; path != "" {
		parquetHandler, err := telemetry.NewParquetHandler(handler, path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to initialize error tracking: %v\n", err)
		} else {
			handler = parquetHandler
			cleanup = func() {
				if err := parquetHandler.Close(); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: Failed to flush error records: %v\n", err)
				}
			}
		}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, cleanup
}

// newClient builds the client used by every command.
func newClient(cfg *config.Config, logger *slog.Logger) (*kpset.Client, error) {
	client, err := kpset.New(cfg, &kpset.Options{Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize kpset: %w", err)
	}
	return client, nil
}
