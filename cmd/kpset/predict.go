package kpset

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/soundprediction/kpset/pkg/inference"
	"github.com/spf13/cobra"
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Write keyphrase predictions for a test set",
	Long: `Decode every document of a test set and write one line per document to
<pred-path>/predictions.txt, in dataset order, with the keyphrases of a
document separated by ';'.`,
	RunE: runPredict,
}

func init() {
	rootCmd.AddCommand(predictCmd)

	addModelFlags(predictCmd.Flags())
	addDatasetFlags(predictCmd.Flags())

	predictCmd.Flags().String("pred-path", "", "Directory for predictions.txt")
	predictCmd.Flags().Bool("replace-unk", true, "Replace <unk> with the most attended source word")
}

func runPredict(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, cleanup := setupLogger(cfg)
	defer cleanup()

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := client.Predict(ctx)
	if err != nil {
		return fmt.Errorf("prediction failed (run %s): %w", rep.RunID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:          %s\n", rep.RunID)
	fmt.Fprintf(out, "Documents:    %d\n", rep.Prediction.Documents)
	fmt.Fprintf(out, "Predictions:  %s\n", filepath.Join(cfg.Decode.PredPath, inference.PredictionsFile))
	if cfg.Slots.FixKpNumLen {
		fmt.Fprintf(out, "Null slots:   present %.3f, absent %.3f\n", rep.Prediction.PresentNullRatio, rep.Prediction.AbsentNullRatio)
	}
	return nil
}
