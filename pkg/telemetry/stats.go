package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/soundprediction/kpset/pkg/evaluate"
)

// BatchStat is the Parquet row of one evaluated batch.
type BatchStat struct {
	RunID           string    `parquet:"run_id"`
	Batch           int64     `parquet:"batch"`
	Timestamp       time.Time `parquet:"timestamp"`
	Documents       int64     `parquet:"documents"`
	Tokens          float64   `parquet:"tokens"`
	Loss            float64   `parquet:"loss"`
	Xent            float64   `parquet:"xent"`
	ForwardMillis   int64     `parquet:"forward_ms"`
	LossMillis      int64     `parquet:"loss_ms"`
	RealSlots       int64     `parquet:"real_slots"`
	NullSlots       int64     `parquet:"null_slots"`
	PadSlots        int64     `parquet:"pad_slots"`
	AssignScore     float64   `parquet:"assign_score"`
	UnderEstimation float64   `parquet:"under_estimation"`
}

// StatsWriter collects batch records of one run and writes them to
// <dir>/batch_stats_<run id>.parquet on Close.
type StatsWriter struct {
	mu    sync.Mutex
	runID string
	path  string
	rows  []BatchStat
}

var _ evaluate.BatchObserver = (*StatsWriter)(nil)

// NewStatsWriter creates dir and prepares a writer for runID.
func NewStatsWriter(dir, runID string) (*StatsWriter, error) {
	if runID == "" {
		return nil, errors.New("run ID is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}
	return &StatsWriter{
		runID: runID,
		path:  filepath.Join(dir, fmt.Sprintf("batch_stats_%s.parquet", runID)),
	}, nil
}

// Path returns the output file.
func (w *StatsWriter) Path() string {
	return w.path
}

// ObserveBatch implements evaluate.BatchObserver.
func (w *StatsWriter) ObserveBatch(_ context.Context, rec evaluate.BatchRecord) error {
	xent := 0.0
	if rec.Tokens > 0 {
		xent = rec.Loss / rec.Tokens
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = append(w.rows, BatchStat{
		RunID:           w.runID,
		Batch:           int64(rec.Index),
		Timestamp:       time.Now().UTC(),
		Documents:       int64(rec.Documents),
		Tokens:          rec.Tokens,
		Loss:            rec.Loss,
		Xent:            xent,
		ForwardMillis:   rec.ForwardTime.Milliseconds(),
		LossMillis:      rec.LossComputeTime.Milliseconds(),
		RealSlots:       int64(rec.RealSlots),
		NullSlots:       int64(rec.NullSlots),
		PadSlots:        int64(rec.PadSlots),
		AssignScore:     rec.AssignScore,
		UnderEstimation: rec.UnderEstimation,
	})
	return nil
}

// Close writes the collected rows. Nothing is written for an empty run.
func (w *StatsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.rows) == 0 {
		return nil
	}
	if err := parquet.WriteFile(w.path, w.rows); err != nil {
		return fmt.Errorf("failed to write batch stats: %w", err)
	}
	return nil
}

// ReadStats reads a file written by StatsWriter.
func ReadStats(path string) ([]BatchStat, error) {
	rows, err := parquet.ReadFile[BatchStat](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch stats: %w", err)
	}
	return rows, nil
}
