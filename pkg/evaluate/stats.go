package evaluate

import (
	"fmt"
	"math"
	"time"
)

// maxXent caps the exponent of PPL.
const maxXent = 100

// LossStatistics accumulates the loss of a run.
type LossStatistics struct {
	Loss            float64       `json:"loss" yaml:"loss"`
	TotalTokens     float64       `json:"total_tokens" yaml:"total_tokens"`
	Documents       int           `json:"documents" yaml:"documents"`
	Batches         int           `json:"batches" yaml:"batches"`
	ForwardTime     time.Duration `json:"forward_time" yaml:"forward_time"`
	LossComputeTime time.Duration `json:"loss_compute_time" yaml:"loss_compute_time"`
}

// Merge adds other into s.
func (s *LossStatistics) Merge(other *LossStatistics) {
	if other == nil {
		return
	}
	s.Loss += other.Loss
	s.TotalTokens += other.TotalTokens
	s.Documents += other.Documents
	s.Batches += other.Batches
	s.ForwardTime += other.ForwardTime
	s.LossComputeTime += other.LossComputeTime
}

// Xent is the loss per target token.
func (s *LossStatistics) Xent() float64 {
	if s.TotalTokens == 0 {
		return 0
	}
	return s.Loss / s.TotalTokens
}

// PPL is the perplexity exp(Xent), with the exponent capped at 100.
func (s *LossStatistics) PPL() float64 {
	return math.Exp(min(s.Xent(), maxXent))
}

// PerDocument is the loss per document.
func (s *LossStatistics) PerDocument() float64 {
	if s.Documents == 0 {
		return 0
	}
	return s.Loss / float64(s.Documents)
}

func (s *LossStatistics) String() string {
	return fmt.Sprintf("loss=%.4f xent=%.4f ppl=%.2f docs=%d tokens=%.0f forward=%s loss_compute=%s",
		s.Loss, s.Xent(), s.PPL(), s.Documents, s.TotalTokens, s.ForwardTime, s.LossComputeTime)
}
