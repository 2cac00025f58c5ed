// Package assign aligns decoder slots with unordered ground-truth
// keyphrases before the loss is computed.
package assign

import (
	"fmt"

	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
	"gonum.org/v1/gonum/mat"
)

// Synthetic marks the injected background target in Result.Working.
const Synthetic = -1

// Options configures an Engine.
type Options struct {
	Special               types.SpecialIDs
	SeparatePresentAbsent bool
	UseOptimalTransport   bool
	// Epsilon and Iterations tune the transport solver.
	Epsilon    float64
	Iterations int
}

// Engine reorders target slots so that each decoder slot is trained against
// the keyphrase it is most likely to produce.
type Engine struct {
	special  types.SpecialIDs
	separate bool
	ot       bool
	solver   Solver
}

// New creates an engine with the solver selected by opts.
func New(opts Options) *Engine {
	var solver Solver = Hungarian{}
	if opts.UseOptimalTransport {
		solver = Transport{Epsilon: opts.Epsilon, Iterations: opts.Iterations}
	}
	return NewWithSolver(opts, solver)
}

// NewWithSolver creates an engine with an explicit solver.
func NewWithSolver(opts Options, solver Solver) *Engine {
	return &Engine{
		special:  opts.Special,
		separate: opts.SeparatePresentAbsent,
		ot:       opts.UseOptimalTransport,
		solver:   solver,
	}
}

// Result is the reordered target grid of one batch.
type Result struct {
	Targets *tensor.Tokens // [B, N, L]
	Masks   *tensor.Floats // [B, N, L]
	Kinds   [][]types.SlotKind
	Halves  []types.Half

	// Working[b][h] lists the original slot index of every working target of
	// half h, or Synthetic for the injected background target.
	Working [][][]int
	// Perms[b][h][k] is the working-target index assigned to slot
	// Halves[h].Start+k, or -1 when the slot receives no target.
	Perms   [][][]int
	HasNull [][]bool
	// Score is the total matched score per document.
	Score []float64
}

// Source returns the original slot index whose target now sits in slot i of
// document b, or -1 for synthetic and pad slots.
func (r *Result) Source(b, i int) int {
	h := types.HalfOf(r.Halves, i)
	if h < 0 {
		return -1
	}
	k := r.Perms[b][h][i-r.Halves[h].Start]
	if k < 0 {
		return -1
	}
	return r.Working[b][h][k]
}

// Assign matches decoder slots to targets. dists is the assignment-phase
// distribution [B, N, S, V]; targets and masks are [B, N, L]. Only the first
// min(S, L) target tokens contribute to the score and <null>/<pad> tokens are
// ignored. The inputs are not modified.
func (e *Engine) Assign(dists *tensor.Floats, targets *tensor.Tokens, masks *tensor.Floats) (*Result, error) {
	if dists == nil || targets == nil || masks == nil {
		return nil, fmt.Errorf("assign: missing input: %w", tensor.ErrShape)
	}
	if err := tensor.CheckShape("trg", targets.Shape(), -1, -1, -1); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("trg_mask", masks.Shape(), targets.Shape()...); err != nil {
		return nil, err
	}
	bsz, numSlots, slotLen := targets.Dim(0), targets.Dim(1), targets.Dim(2)
	if err := tensor.CheckShape("decoder_dist", dists.Shape(), bsz, numSlots, -1, -1); err != nil {
		return nil, err
	}
	if e.separate && numSlots%2 != 0 {
		return nil, fmt.Errorf("cannot split %d slots into present and absent halves: %w", numSlots, tensor.ErrShape)
	}

	halves := types.SplitHalves(numSlots, e.separate)
	res := &Result{
		Targets: tensor.Full(e.special.Pad, bsz, numSlots, slotLen),
		Masks:   tensor.New[float64](bsz, numSlots, slotLen),
		Kinds:   make([][]types.SlotKind, bsz),
		Halves:  halves,
		Working: make([][][]int, bsz),
		Perms:   make([][][]int, bsz),
		HasNull: make([][]bool, bsz),
		Score:   make([]float64, bsz),
	}
	background, bgMask := e.special.Background(slotLen)

	for b := 0; b < bsz; b++ {
		res.Kinds[b] = make([]types.SlotKind, numSlots)
		res.Working[b] = make([][]int, len(halves))
		res.Perms[b] = make([][]int, len(halves))
		res.HasNull[b] = make([]bool, len(halves))

		for h, half := range halves {
			if half.Size() == 0 {
				continue
			}
			working, hasNull := e.workingSet(targets, b, half)
			score := e.scoreMatrix(dists, targets, b, half, working)
			perm, total, err := e.solver.Solve(score)
			if err != nil {
				return nil, fmt.Errorf("document %d, slots [%d,%d): %w", b, half.Start, half.End, err)
			}
			if err := checkPermutation(perm, half.Size(), len(working)); err != nil {
				return nil, fmt.Errorf("document %d, slots [%d,%d): %w", b, half.Start, half.End, err)
			}
			res.Working[b][h] = working
			res.Perms[b][h] = perm
			res.HasNull[b][h] = hasNull
			res.Score[b] += total

			for k, w := range perm {
				slot := half.Start + k
				dstIDs := res.Targets.Row(b, slot)
				dstMask := res.Masks.Row(b, slot)
				switch {
				case w < 0:
					res.Kinds[b][slot] = types.SlotPad
				case working[w] == Synthetic:
					copy(dstIDs, background)
					copy(dstMask, bgMask)
					res.Kinds[b][slot] = types.SlotNull
				default:
					copy(dstIDs, targets.Row(b, working[w]))
					copy(dstMask, masks.Row(b, working[w]))
					res.Kinds[b][slot] = types.ClassifySlot(dstIDs, e.special)
				}
			}
		}
	}
	return res, nil
}

// workingSet returns the targets of a half that take part in the matching.
// The Hungarian strategy permutes every slot of the half. The transport
// strategy keeps only real keyphrases and appends one synthetic background
// target when the half is not full.
func (e *Engine) workingSet(targets *tensor.Tokens, b int, half types.Half) ([]int, bool) {
	working := make([]int, 0, half.Size())
	if !e.ot {
		for i := half.Start; i < half.End; i++ {
			working = append(working, i)
		}
		return working, false
	}
	for i := half.Start; i < half.End; i++ {
		if types.ClassifySlot(targets.Row(b, i), e.special) == types.SlotReal {
			working = append(working, i)
		}
	}
	if len(working) < half.Size() {
		return append(working, Synthetic), true
	}
	return working, false
}

// scoreMatrix builds score[k][c] = sum over t of P(slot k, step t = target c
// token t), skipping <null> and <pad> target tokens. Ids outside the
// distribution's vocabulary contribute nothing.
func (e *Engine) scoreMatrix(dists *tensor.Floats, targets *tensor.Tokens, b int, half types.Half, working []int) *mat.Dense {
	steps := min(dists.Dim(2), targets.Dim(2))
	vocabSize := dists.Dim(3)
	score := mat.NewDense(half.Size(), len(working), nil)
	for k := 0; k < half.Size(); k++ {
		slot := half.Start + k
		for c, src := range working {
			if src == Synthetic {
				continue
			}
			ids := targets.Row(b, src)
			s := 0.0
			for t := 0; t < steps; t++ {
				id := ids[t]
				if id == e.special.Null || id == e.special.Pad || id < 0 || id >= vocabSize {
					continue
				}
				s += dists.At(b, slot, t, id)
			}
			score.Set(k, c, s)
		}
	}
	return score
}

func checkPermutation(perm []int, slots, working int) error {
	if len(perm) != slots {
		return fmt.Errorf("solver returned %d entries for %d slots: %w", len(perm), slots, tensor.ErrShape)
	}
	seen := make([]bool, working)
	for _, w := range perm {
		if w < 0 {
			continue
		}
		if w >= working || seen[w] {
			return fmt.Errorf("solver returned an invalid assignment %v: %w", perm, tensor.ErrShape)
		}
		seen[w] = true
	}
	for _, ok := range seen {
		if !ok {
			return fmt.Errorf("solver left a target unassigned in %v: %w", perm, tensor.ErrShape)
		}
	}
	return nil
}
