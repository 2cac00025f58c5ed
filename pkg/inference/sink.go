package inference

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PredictionsFile is the file name FileSink writes inside the prediction
// directory.
const PredictionsFile = "predictions.txt"

// Prediction is the post-processed output of one document.
type Prediction struct {
	// Index is the position of the document in the dataset.
	Index      int        `json:"index"`
	Keyphrases [][]string `json:"keyphrases"`
}

// Sink receives predictions in dataset order.
type Sink interface {
	Write(ctx context.Context, p Prediction) error
	Close() error
}

// FileSink writes one line per document to <dir>/predictions.txt.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// NewFileSink creates dir if needed and truncates the predictions file.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create prediction directory: %w", err)
	}
	path := filepath.Join(dir, PredictionsFile)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create predictions file: %w", err)
	}
	return &FileSink{f: f, w: bufio.NewWriter(f), path: path}, nil
}

// Path returns the predictions file path.
func (s *FileSink) Path() string {
	return s.path
}

// Write appends the document's line.
func (s *FileSink) Write(_ context.Context, p Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.WriteString(FormatKeyphrases(p.Keyphrases) + "\n"); err != nil {
		return fmt.Errorf("failed to write prediction %d: %w", p.Index, err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return fmt.Errorf("failed to flush predictions: %w", err)
	}
	return s.f.Close()
}

// CollectSink keeps predictions in memory.
type CollectSink struct {
	mu          sync.Mutex
	predictions []Prediction
}

// Write records p.
func (s *CollectSink) Write(_ context.Context, p Prediction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.predictions = append(s.predictions, p)
	return nil
}

// Close is a no-op.
func (s *CollectSink) Close() error {
	return nil
}

// Predictions returns a copy of the collected predictions.
func (s *CollectSink) Predictions() []Prediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Prediction(nil), s.predictions...)
}
