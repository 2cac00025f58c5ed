// Package report persists a summary of every evaluation and prediction run.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/soundprediction/kpset/pkg/evaluate"
	"github.com/soundprediction/kpset/pkg/inference"
	"gopkg.in/yaml.v3"
)

// ErrInvalidRunID is returned when a run ID contains invalid characters
var ErrInvalidRunID = errors.New("invalid run ID: contains path traversal or invalid characters")

// Kind is the command that produced a report.
type Kind string

const (
	KindEvaluate Kind = "evaluate"
	KindPredict  Kind = "predict"
)

// Status is the state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Format selects the encoding of report files.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// LossSummary is the loss statistics of an evaluation run with the derived
// values spelled out.
type LossSummary struct {
	evaluate.LossStatistics `yaml:",inline"`
	Xent                    float64 `json:"xent" yaml:"xent"`
	PPL                     float64 `json:"ppl" yaml:"ppl"`
	PerDocument             float64 `json:"per_document" yaml:"per_document"`
}

// Report describes one run
type Report struct {
	RunID  string `json:"run_id" yaml:"run_id"`
	Kind   Kind   `json:"kind" yaml:"kind"`
	Status Status `json:"status" yaml:"status"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`

	// Settings is a snapshot of the configuration the run used.
	Settings map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`

	Loss       *LossSummary       `json:"loss,omitempty" yaml:"loss,omitempty"`
	Prediction *inference.Summary `json:"prediction,omitempty" yaml:"prediction,omitempty"`

	LastError      string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	LastErrorStack string `json:"last_error_stack,omitempty" yaml:"last_error_stack,omitempty"`
}

// Store reads and writes reports in a directory
type Store struct {
	dir    string
	format Format
}

// NewStore creates a store. If dir is empty, uses os.TempDir()/kpset-reports.
func NewStore(dir string, format Format) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "kpset-reports")
	}
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("unsupported report format %q", format)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &Store{dir: dir, format: format}, nil
}

// Dir returns the report directory.
func (s *Store) Dir() string {
	return s.dir
}

// validateRunID checks that the run ID is safe for use in file paths.
func validateRunID(runID string) error {
	if runID == "" {
		return ErrInvalidRunID
	}
	if strings.Contains(runID, "..") {
		return ErrInvalidRunID
	}
	if strings.ContainsAny(runID, `/\`) {
		return ErrInvalidRunID
	}
	if strings.ContainsRune(runID, '\x00') {
		return ErrInvalidRunID
	}
	return nil
}

// isPathWithinDirectory checks that the resolved path is within the expected directory.
func isPathWithinDirectory(path, directory string) bool {
	cleanPath := filepath.Clean(path)
	cleanDir := filepath.Clean(directory)
	if !strings.HasSuffix(cleanDir, string(filepath.Separator)) {
		cleanDir += string(filepath.Separator)
	}
	return strings.HasPrefix(cleanPath, cleanDir)
}

// Path returns the file path of a run's report.
func (s *Store) Path(runID string) (string, error) {
	if err := validateRunID(runID); err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.dir, fmt.Sprintf("report_%s.%s", runID, s.format))
	if !isPathWithinDirectory(fullPath, s.dir) {
		return "", ErrInvalidRunID
	}
	return fullPath, nil
}

func (s *Store) marshal(r *Report) ([]byte, error) {
	if s.format == FormatYAML {
		return yaml.Marshal(r)
	}
	return json.MarshalIndent(r, "", "  ")
}

func (s *Store) unmarshal(data []byte, r *Report) error {
	if s.format == FormatYAML {
		return yaml.Unmarshal(data, r)
	}
	return json.Unmarshal(data, r)
}

// Save writes the report atomically.
func (s *Store) Save(ctx context.Context, r *Report) error {
	path, err := s.Path(r.RunID)
	if err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}
	data, err := s.marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	// Write to a temporary file first, then rename for atomic write
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename report file: %w", err)
	}
	return nil
}

// Load reads a report. It returns nil without error when none exists.
func (s *Store) Load(ctx context.Context, runID string) (*Report, error) {
	path, err := s.Path(runID)
	if err != nil {
		return nil, fmt.Errorf("invalid run ID: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}
	var r Report
	if err := s.unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}

// Delete removes a report.
func (s *Store) Delete(ctx context.Context, runID string) error {
	path, err := s.Path(runID)
	if err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete report file: %w", err)
	}
	return nil
}

// List returns every readable report in the directory
func (s *Store) List(ctx context.Context) ([]*Report, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read report directory: %w", err)
	}

	var reports []*Report
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != "."+string(s.format) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var r Report
		if err := s.unmarshal(data, &r); err != nil {
			continue
		}
		reports = append(reports, &r)
	}
	return reports, nil
}

// CleanOld removes finished reports older than maxAge.
func (s *Store) CleanOld(ctx context.Context, maxAge time.Duration) (int, error) {
	reports, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, r := range reports {
		if r.Status == StatusRunning || !r.StartedAt.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, r.RunID); err != nil {
			continue
		}
		removed++
	}
	return removed, nil
}
