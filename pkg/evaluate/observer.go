package evaluate

import (
	"context"
	"time"
)

// BatchRecord summarises one evaluated batch.
type BatchRecord struct {
	Index           int
	Documents       int
	Tokens          float64
	Loss            float64
	ForwardTime     time.Duration
	LossComputeTime time.Duration

	// Slot counts after assignment; all zero when no assignment ran.
	RealSlots int
	NullSlots int
	PadSlots  int
	// AssignScore is the mean matched score per document.
	AssignScore float64
	// UnderEstimation is the mean document weight of the adaptive scaler,
	// or 1 when scaling is off.
	UnderEstimation float64
}

// BatchObserver receives a record after every successful batch. Observer
// errors are logged and do not stop the run.
type BatchObserver interface {
	ObserveBatch(ctx context.Context, rec BatchRecord) error
}

// BatchObserverFunc adapts a function to BatchObserver.
type BatchObserverFunc func(ctx context.Context, rec BatchRecord) error

// ObserveBatch calls f.
func (f BatchObserverFunc) ObserveBatch(ctx context.Context, rec BatchRecord) error {
	return f(ctx, rec)
}
