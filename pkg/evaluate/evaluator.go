// Package evaluate computes the keyphrase generation loss of a model over a
// dataset.
//
// In fixed-slot mode with set loss, every batch runs two decoder passes. A
// short free-running pass produces the distributions the assignment engine
// uses to match slots with the unordered ground-truth keyphrases. A
// target-fed pass over the reordered targets then produces the
// distributions the loss is computed on.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/soundprediction/kpset/pkg/assign"
	"github.com/soundprediction/kpset/pkg/loss"
	"github.com/soundprediction/kpset/pkg/lossscale"
	"github.com/soundprediction/kpset/pkg/model"
	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
	"github.com/soundprediction/kpset/pkg/utils"
)

// Options configures the evaluator.
type Options struct {
	Special   types.SpecialIDs
	VocabSize int

	FixKpNumLen           bool
	SeparatePresentAbsent bool
	// AssignSteps is the length of the free-running assignment pass.
	AssignSteps int

	SetLoss             bool
	UseOptimalTransport bool
	Epsilon             float64
	Iterations          int
	AdaptiveScale       bool

	CopyAttention bool

	// LossScale weights <null> targets in unsplit fixed-slot mode;
	// LossScalePre and LossScaleAb weight them per half when present and
	// absent keyphrases are separated.
	LossScale    float64
	LossScalePre float64
	LossScaleAb  float64
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	if o.VocabSize <= 0 {
		return fmt.Errorf("vocab size must be positive, got %d", o.VocabSize)
	}
	if o.FixKpNumLen && o.SetLoss && o.AssignSteps <= 0 {
		return fmt.Errorf("assign steps must be positive, got %d", o.AssignSteps)
	}
	if o.AdaptiveScale && !(o.FixKpNumLen && o.SetLoss) {
		return errors.New("adaptive loss scaling requires fixed slots and set loss")
	}
	return nil
}

// BatchSource yields batches until io.EOF. *data.Loader satisfies it.
type BatchSource interface {
	Next() (*types.Batch, error)
}

// Evaluator runs the loss computation over batches.
type Evaluator struct {
	model    model.Model
	opts     Options
	engine   *assign.Engine
	scaler   *lossscale.Scaler
	observer BatchObserver
	logger   *slog.Logger
}

// New creates an evaluator for m.
func New(m model.Model, opts Options, logger *slog.Logger) (*Evaluator, error) {
	if m == nil {
		return nil, errors.New("model is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		model: m,
		opts:  opts,
		engine: assign.New(assign.Options{
			Special:               opts.Special,
			SeparatePresentAbsent: opts.SeparatePresentAbsent,
			UseOptimalTransport:   opts.UseOptimalTransport,
			Epsilon:               opts.Epsilon,
			Iterations:            opts.Iterations,
		}),
		scaler: lossscale.New(opts.Special),
		logger: logger,
	}, nil
}

// SetObserver registers an observer for per-batch records.
func (e *Evaluator) SetObserver(o BatchObserver) {
	e.observer = o
}

// Run evaluates every batch of src and returns the accumulated statistics.
// The first failing batch stops the run; the statistics gathered so far are
// returned with the error.
func (e *Evaluator) Run(ctx context.Context, src BatchSource) (*LossStatistics, error) {
	total := &LossStatistics{}
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		batch, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, fmt.Errorf("failed to load batch %d: %w", i, err)
		}

		stats, err := e.EvaluateBatch(ctx, i, batch)
		if err != nil {
			return total, err
		}
		total.Merge(stats)
	}

	e.logger.Info("Loss evaluation finished",
		"batches", total.Batches,
		"documents", total.Documents,
		"xent", total.Xent(),
		"ppl", total.PPL(),
		"forward_time", total.ForwardTime,
		"loss_compute_time", total.LossComputeTime)
	return total, nil
}

// EvaluateBatch computes the loss of one batch. Errors, including recovered
// panics, are returned as *BatchError.
func (e *Evaluator) EvaluateBatch(ctx context.Context, index int, batch *types.Batch) (stats *LossStatistics, err error) {
	stage := StageValidate
	defer func() {
		if err != nil {
			stats = nil
			err = &BatchError{Index: index, Stage: stage, Err: err}
		}
	}()
	defer utils.RecoverAsError(&err)

	if batch == nil {
		return nil, fmt.Errorf("nil batch: %w", tensor.ErrShape)
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	rec := BatchRecord{Index: index, Documents: batch.Size(), UnderEstimation: 1}

	target := batch.Target(e.opts.CopyAttention)
	mask := batch.TrgMask
	start := time.Now()

	stage = StageEncode
	mem, err := e.model.Encode(ctx, batch.Src, batch.SrcLens, batch.SrcMask)
	if err != nil {
		return nil, err
	}

	assigning := e.opts.FixKpNumLen && e.opts.SetLoss
	var (
		predicted *tensor.Tokens
		result    *assign.Result
	)
	if assigning {
		stage = StageAssign
		var dists *tensor.Floats
		predicted, dists, err = e.assignmentPass(ctx, mem, batch)
		if err != nil {
			return nil, err
		}
		result, err = e.engine.Assign(dists, target, mask)
		if err != nil {
			return nil, err
		}
		target, mask = result.Targets, result.Masks
		countSlots(&rec, result)
	}

	stage = StageForward
	dist, err := e.lossPass(ctx, mem, batch, target)
	if err != nil {
		return nil, err
	}
	forwardTime := time.Since(start)

	lossStart := time.Now()
	stage = StageLoss
	perToken, err := e.tokenLoss(dist, target, mask)
	if err != nil {
		return nil, err
	}

	if e.opts.AdaptiveScale {
		stage = StageScale
		sig, err := e.scaler.Signals(lossscale.Input{
			Predicted: predicted,
			Targets:   target,
			Kinds:     result.Kinds,
			Dist:      dist,
			Halves:    result.Halves,
		})
		if err != nil {
			return nil, err
		}
		perToken, err = e.scaler.Apply(sig, perToken, target)
		if err != nil {
			return nil, err
		}
		rec.UnderEstimation = utils.Mean(sig.UnderEstimation)
	}

	stage = StageLoss
	total := perToken.Sum()
	if math.IsNaN(total) {
		return nil, ErrNaNLoss
	}
	lossTime := time.Since(lossStart)

	stats = &LossStatistics{
		Loss:            total,
		TotalTokens:     mask.Sum(),
		Documents:       batch.Size(),
		Batches:         1,
		ForwardTime:     forwardTime,
		LossComputeTime: lossTime,
	}

	rec.Tokens = stats.TotalTokens
	rec.Loss = total
	rec.ForwardTime = forwardTime
	rec.LossComputeTime = lossTime
	if result != nil {
		rec.AssignScore = utils.Mean(result.Score)
	}
	e.logger.Debug("Evaluated batch",
		"batch", index,
		"documents", rec.Documents,
		"loss", total,
		"tokens", rec.Tokens)
	if e.observer != nil {
		if oerr := e.observer.ObserveBatch(ctx, rec); oerr != nil {
			e.logger.Warn("Batch observer failed", "batch", index, "error", oerr)
		}
	}
	return stats, nil
}

// assignmentPass decodes AssignSteps tokens free-running from <bos> in every
// slot. It returns the argmax tokens [B, N, S] and the distributions
// [B, N, S, V]. Fed-back tokens outside the vocabulary become <unk>.
func (e *Evaluator) assignmentPass(ctx context.Context, mem model.Memory, batch *types.Batch) (*tensor.Tokens, *tensor.Floats, error) {
	state, err := e.model.InitState(ctx, mem, batch.SrcMask)
	if err != nil {
		return nil, nil, err
	}
	control, err := e.model.ForwardSeg(ctx, state)
	if err != nil {
		return nil, nil, err
	}

	bsz, numSlots, steps := batch.Size(), batch.NumSlots(), e.opts.AssignSteps
	predicted := tensor.New[int](bsz, numSlots, steps)
	var dists *tensor.Floats
	prefix := tensor.Full(e.opts.Special.Bos, bsz, numSlots, 1)

	for t := 0; t < steps; t++ {
		dist, _, err := e.model.Step(ctx, model.StepInput{
			Tokens:    prefix,
			State:     state,
			SrcOOV:    batch.SrcOOV,
			MaxNumOOV: batch.MaxNumOOV(),
			Control:   &control,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := tensor.CheckShape("decoder_dist", dist.Shape(), bsz, numSlots, t+1, -1); err != nil {
			return nil, nil, err
		}
		if dists == nil {
			dists = tensor.New[float64](bsz, numSlots, steps, dist.Dim(3))
		} else if err := tensor.CheckShape("decoder_dist", dist.Shape(), bsz, numSlots, t+1, dists.Dim(3)); err != nil {
			return nil, nil, err
		}

		next := tensor.New[int](bsz, numSlots, t+2)
		for b := 0; b < bsz; b++ {
			for n := 0; n < numSlots; n++ {
				row := dist.Row(b, n, t)
				copy(dists.Row(b, n, t), row)
				id := utils.ArgMax(row)
				predicted.Set(id, b, n, t)

				dst := next.Row(b, n)
				copy(dst, prefix.Row(b, n))
				dst[t+1] = e.feedback(id)
			}
		}
		prefix = next
	}
	return predicted, dists, nil
}

// lossPass runs the target-fed decoder over target from a fresh state
// and returns the distributions [B, N, L, V].
func (e *Evaluator) lossPass(ctx context.Context, mem model.Memory, batch *types.Batch, target *tensor.Tokens) (*tensor.Floats, error) {
	state, err := e.model.InitState(ctx, mem, batch.SrcMask)
	if err != nil {
		return nil, err
	}
	var control *model.Control
	if e.opts.FixKpNumLen {
		c, err := e.model.ForwardSeg(ctx, state)
		if err != nil {
			return nil, err
		}
		control = &c
	}

	bsz, numSlots, slotLen := target.Dim(0), target.Dim(1), target.Dim(2)
	input := tensor.New[int](bsz, numSlots, slotLen)
	for b := 0; b < bsz; b++ {
		for n := 0; n < numSlots; n++ {
			src, dst := target.Row(b, n), input.Row(b, n)
			dst[0] = e.opts.Special.Bos
			for t := 1; t < slotLen; t++ {
				dst[t] = e.feedback(src[t-1])
			}
		}
	}

	dist, _, err := e.model.Step(ctx, model.StepInput{
		Tokens:    input,
		State:     state,
		SrcOOV:    batch.SrcOOV,
		MaxNumOOV: batch.MaxNumOOV(),
		Control:   control,
	})
	if err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("decoder_dist", dist.Shape(), bsz, numSlots, slotLen, -1); err != nil {
		return nil, err
	}
	return dist, nil
}

// tokenLoss applies the <null> weighting of the current mode.
func (e *Evaluator) tokenLoss(dist *tensor.Floats, target *tensor.Tokens, mask *tensor.Floats) (*tensor.Floats, error) {
	null := e.opts.Special.Null
	switch {
	case !e.opts.FixKpNumLen:
		return loss.MaskedCrossEntropy(dist, target, mask)
	case !e.opts.SeparatePresentAbsent:
		return loss.MaskedCrossEntropy(dist, target, mask, loss.Scale{Token: null, Factor: e.opts.LossScale})
	}

	pre, err := loss.MaskedCrossEntropy(dist, target, mask, loss.Scale{Token: null, Factor: e.opts.LossScalePre})
	if err != nil {
		return nil, err
	}
	ab, err := loss.MaskedCrossEntropy(dist, target, mask, loss.Scale{Token: null, Factor: e.opts.LossScaleAb})
	if err != nil {
		return nil, err
	}
	halves := types.SplitHalves(target.Dim(1), true)
	absent := halves[1]
	for b := 0; b < target.Dim(0); b++ {
		for n := absent.Start; n < absent.End; n++ {
			copy(pre.Row(b, n), ab.Row(b, n))
		}
	}
	return pre, nil
}

func (e *Evaluator) feedback(id int) int {
	if id >= e.opts.VocabSize || id < 0 {
		return e.opts.Special.Unk
	}
	return id
}

func countSlots(rec *BatchRecord, res *assign.Result) {
	for _, kinds := range res.Kinds {
		for _, k := range kinds {
			switch k {
			case types.SlotReal:
				rec.RealSlots++
			case types.SlotNull:
				rec.NullSlots++
			default:
				rec.PadSlots++
			}
		}
	}
}
