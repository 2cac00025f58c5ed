package report

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/soundprediction/kpset/pkg/evaluate"
	"github.com/soundprediction/kpset/pkg/utils"
)

// New starts a running report with a fresh run ID.
func New(kind Kind, settings map[string]any) *Report {
	return &Report{
		RunID:     uuid.New().String(),
		Kind:      kind,
		Status:    StatusRunning,
		StartedAt: time.Now(),
		Settings:  settings,
	}
}

// SetLoss stores evaluation statistics.
func (r *Report) SetLoss(stats *evaluate.LossStatistics) {
	if stats == nil {
		return
	}
	r.Loss = &LossSummary{
		LossStatistics: *stats,
		Xent:           stats.Xent(),
		PPL:            stats.PPL(),
		PerDocument:    stats.PerDocument(),
	}
}

// Finish marks the run completed, or failed when err is non-nil. The stack
// of a recovered panic is kept.
func (r *Report) Finish(err error) {
	r.FinishedAt = time.Now()
	if err == nil {
		r.Status = StatusCompleted
		return
	}
	r.Status = StatusFailed
	r.LastError = err.Error()
	var pe *utils.PanicError
	if errors.As(err, &pe) {
		r.LastErrorStack = pe.StackTrace
	}
}

// Duration is the wall time of a finished run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
