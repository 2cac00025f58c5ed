package kpset

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Compute the loss of a model on a test set",
	Long: `Compute the token-level loss, cross entropy and perplexity of a model on
a test set.

In fixed-slot mode with set loss, the target of every slot is chosen by
matching a short free-running decode against the gold keyphrases before the
loss is computed. A run report is written to the report directory.`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	addModelFlags(evaluateCmd.Flags())
	addDatasetFlags(evaluateCmd.Flags())

	// Loss flags
	evaluateCmd.Flags().Int("assign-steps", 0, "Decoding steps used to assign targets to slots")
	evaluateCmd.Flags().Bool("set-loss", true, "Assign targets to slots before computing the loss")
	evaluateCmd.Flags().Bool("use-optimal-transport", false, "Assign targets with optimal transport instead of the Hungarian algorithm")
	evaluateCmd.Flags().Bool("adaptive-lr-scale", false, "Scale the loss of <null> targets adaptively")
	evaluateCmd.Flags().Float64("loss-scale", 0, "Weight of <null> targets")
	evaluateCmd.Flags().Float64("loss-scale-pre", 0, "Weight of <null> targets among present keyphrases")
	evaluateCmd.Flags().Float64("loss-scale-ab", 0, "Weight of <null> targets among absent keyphrases")
	evaluateCmd.Flags().Bool("copy-attention", true, "Use copy targets for out-of-vocabulary words")
	evaluateCmd.Flags().String("stats-dir", "", "Directory for per-batch parquet statistics")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
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

	rep, err := client.Evaluate(ctx)
	if err != nil {
		return fmt.Errorf("evaluation failed (run %s): %w", rep.RunID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:        %s\n", rep.RunID)
	fmt.Fprintf(out, "Documents:  %d\n", rep.Loss.Documents)
	fmt.Fprintf(out, "Tokens:     %.0f\n", rep.Loss.TotalTokens)
	fmt.Fprintf(out, "Loss:       %.4f (%.4f per document)\n", rep.Loss.Loss, rep.Loss.PerDocument)
	fmt.Fprintf(out, "Xent:       %.4f\n", rep.Loss.Xent)
	fmt.Fprintf(out, "PPL:        %.4f\n", rep.Loss.PPL)
	fmt.Fprintf(out, "Time:       forward %s, loss %s\n", rep.Loss.ForwardTime, rep.Loss.LossComputeTime)
	return nil
}
