package kpset

import (
	"testing"
	"time"

	"github.com/soundprediction/kpset/pkg/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverrideConfigWithFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	addModelFlags(cmd.Flags())
	addDatasetFlags(cmd.Flags())
	cmd.Flags().Bool("set-loss", true, "")
	cmd.Flags().Float64("loss-scale-pre", 0, "")

	require.NoError(t, cmd.Flags().Parse([]string{
		"--model-endpoint", "http://model:9000",
		"--model-timeout", "5s",
		"--batch-size", "16",
		"--max-kp-num", "10",
		"--seperate-pre-ab=false",
		"--set-loss=false",
		"--loss-scale-pre", "0.5",
		"--test", "test.jsonl",
		"--report-format", "yaml",
	}))

	cfg := config.Default()
	overrideConfigWithFlags(cmd, cfg)

	assert.Equal(t, "http://model:9000", cfg.Model.Endpoint)
	assert.Equal(t, 5*time.Second, cfg.Model.Timeout)
	assert.Equal(t, 16, cfg.Data.BatchSize)
	assert.Equal(t, 10, cfg.Slots.MaxKpNum)
	assert.False(t, cfg.Slots.SeperatePreAb)
	assert.False(t, cfg.Loss.SetLoss)
	assert.Equal(t, 0.5, cfg.Loss.LossScalePre)
	assert.Equal(t, "test.jsonl", cfg.Data.TestPath)
	assert.Equal(t, "yaml", cfg.Output.Format)

	// Unchanged flags keep configured values.
	assert.Equal(t, 6, cfg.Slots.MaxKpLen)
	assert.True(t, cfg.Data.Lowercase)
	assert.Equal(t, 0.1, cfg.Loss.LossScaleAb)
}

func TestValidateServerConfig(t *testing.T) {
	assert.NoError(t, validateServerConfig(8080))
	assert.Error(t, validateServerConfig(0))
	assert.Error(t, validateServerConfig(70000))
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["evaluate"])
	assert.True(t, names["predict"])
	assert.True(t, names["server"])
}
