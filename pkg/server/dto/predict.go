package dto

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soundprediction/kpset/pkg/data"
	"github.com/soundprediction/kpset/pkg/inference"
	"github.com/soundprediction/kpset/pkg/report"
)

// Validation errors
var (
	ErrEmptyDocuments   = errors.New("documents cannot be empty")
	ErrTooManyDocuments = errors.New("documents exceed maximum count (256)")
	ErrEmptySource      = errors.New("src cannot be empty")
	ErrSourceTooLong    = errors.New("src exceeds maximum length (4096 words)")
)

// Request limits
const (
	MaxDocumentsCount = 256
	MaxSourceWords    = 4096
)

// PredictRequest is the body of POST /api/v1/predict. Each document's src
// is a word list or a whitespace-tokenized string; trg is ignored.
type PredictRequest struct {
	Documents []data.Document `json:"documents"`
}

// Validate performs validation on PredictRequest
func (r *PredictRequest) Validate() error {
	if len(r.Documents) == 0 {
		return ErrEmptyDocuments
	}
	if len(r.Documents) > MaxDocumentsCount {
		return ErrTooManyDocuments
	}
	for i, doc := range r.Documents {
		if len(doc.Src) == 0 || strings.TrimSpace(strings.Join(doc.Src, "")) == "" {
			return fmt.Errorf("document %d: %w", i, ErrEmptySource)
		}
		if len(doc.Src) > MaxSourceWords {
			return fmt.Errorf("document %d: %w", i, ErrSourceTooLong)
		}
	}
	return nil
}

// PredictResponse holds one prediction per request document, in request
// order.
type PredictResponse struct {
	Predictions []inference.Prediction `json:"predictions"`
	Count       int                    `json:"count"`
}

// ReportListResponse is the body of GET /api/v1/reports.
type ReportListResponse struct {
	Reports []*report.Report `json:"reports"`
	Count   int              `json:"count"`
}
