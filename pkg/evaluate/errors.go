package evaluate

import (
	"errors"
	"fmt"
)

// ErrNaNLoss is returned when a batch produces a NaN loss.
var ErrNaNLoss = errors.New("loss is NaN")

// Stage names the step of the per-batch pipeline that failed.
type Stage int

const (
	StageValidate Stage = iota
	StageEncode
	StageAssign
	StageForward
	StageScale
	StageLoss
)

// String returns the name of the stage.
func (s Stage) String() string {
	switch s {
	case StageValidate:
		return "validate"
	case StageEncode:
		return "encode"
	case StageAssign:
		return "assign"
	case StageForward:
		return "forward"
	case StageScale:
		return "scale"
	case StageLoss:
		return "loss"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// BatchError wraps an error with the batch and stage it came from.
type BatchError struct {
	// Index is the zero-based batch number within the run.
	Index int
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: %s failed: %v", e.Index, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *BatchError) Unwrap() error {
	return e.Err
}
