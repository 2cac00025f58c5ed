// Package lossscale derives per-slot weights for the loss of the <null>
// token.
//
// Null slots far outnumber keyphrase slots, so an unweighted loss pushes the
// model towards predicting <null>. The scaler down-weights that loss in two
// ways: a null slot whose free-running prediction already matches some
// target gets a zero weight, and every <null> position of a document is
// multiplied by how much the model under-estimates its real keyphrases.
package lossscale

import (
	"fmt"
	"slices"

	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
)

// Eps guards the probability ratio.
const Eps = 1e-8

// Signals holds the per-batch correctness bookkeeping. Slices are indexed
// [document][slot] unless noted.
type Signals struct {
	// CorrectSlots counts the targets of the whole document whose leading
	// tokens equal the slot's predicted tokens.
	CorrectSlots [][]float64
	// Null is set when the slot's target is the null keyphrase.
	Null [][]bool
	// KeyCorrectSlots counts matches where both the slot and the target are
	// real keyphrases.
	KeyCorrectSlots [][]float64
	// CorrectSlotsNum counts exact matches of a null slot within its own half.
	CorrectSlotsNum [][]float64
	// CorrectNullSlots is the weight applied to every position of the slot.
	CorrectNullSlots [][]float64
	// UnderEstimation is the document-level weight for <null> positions.
	UnderEstimation []float64
}

// Scaler computes Signals and applies them to a loss tensor.
type Scaler struct {
	special types.SpecialIDs
}

// New creates a scaler.
func New(special types.SpecialIDs) *Scaler {
	return &Scaler{special: special}
}

// Input gathers everything the scaler reads. Predicted is the
// assignment-phase output [B, N, S]; Targets are the reordered targets
// [B, N, L]; Dist is the loss-phase distribution [B, N, L, V].
type Input struct {
	Predicted *tensor.Tokens
	Targets   *tensor.Tokens
	Kinds     [][]types.SlotKind
	Dist      *tensor.Floats
	Halves    []types.Half
}

func (in Input) validate() error {
	if in.Predicted == nil || in.Targets == nil || in.Dist == nil {
		return fmt.Errorf("lossscale: missing input: %w", tensor.ErrShape)
	}
	if err := tensor.CheckShape("trg", in.Targets.Shape(), -1, -1, -1); err != nil {
		return err
	}
	bsz, numSlots, slotLen := in.Targets.Dim(0), in.Targets.Dim(1), in.Targets.Dim(2)
	if err := tensor.CheckShape("predicted", in.Predicted.Shape(), bsz, numSlots, -1); err != nil {
		return err
	}
	if err := tensor.CheckShape("decoder_dist", in.Dist.Shape(), bsz, numSlots, slotLen, -1); err != nil {
		return err
	}
	if len(in.Kinds) != bsz {
		return fmt.Errorf("slot kinds for %d documents, batch has %d: %w", len(in.Kinds), bsz, tensor.ErrShape)
	}
	for b, k := range in.Kinds {
		if len(k) != numSlots {
			return fmt.Errorf("document %d has %d slot kinds, want %d: %w", b, len(k), numSlots, tensor.ErrShape)
		}
	}
	return nil
}

// Signals computes the correctness signals of a batch.
func (s *Scaler) Signals(in Input) (*Signals, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	bsz, numSlots := in.Targets.Dim(0), in.Targets.Dim(1)
	steps := min(in.Predicted.Dim(2), in.Targets.Dim(2))
	halves := in.Halves
	if len(halves) == 0 {
		halves = types.SplitHalves(numSlots, false)
	}

	sig := &Signals{
		CorrectSlots:     grid(bsz, numSlots),
		Null:             make([][]bool, bsz),
		KeyCorrectSlots:  grid(bsz, numSlots),
		CorrectSlotsNum:  grid(bsz, numSlots),
		CorrectNullSlots: grid(bsz, numSlots),
		UnderEstimation:  make([]float64, bsz),
	}

	for b := 0; b < bsz; b++ {
		kinds := in.Kinds[b]
		sig.Null[b] = make([]bool, numSlots)
		for i, k := range kinds {
			sig.Null[b][i] = k == types.SlotNull
		}

		for i := 0; i < numSlots; i++ {
			pred := in.Predicted.Row(b, i)[:steps]
			half := types.HalfOf(halves, i)
			for j := 0; j < numSlots; j++ {
				if !slices.Equal(pred, in.Targets.Row(b, j)[:steps]) {
					continue
				}
				sig.CorrectSlots[b][i]++
				if kinds[i] == types.SlotReal && kinds[j] == types.SlotReal {
					sig.KeyCorrectSlots[b][i]++
				}
				if sig.Null[b][i] && types.HalfOf(halves, j) == half {
					sig.CorrectSlotsNum[b][i]++
				}
			}

			w := 1.0
			if sig.Null[b][i] {
				w = max(0, 1-sig.CorrectSlots[b][i])
				if sig.CorrectSlotsNum[b][i] == 1 && sig.KeyCorrectSlots[b][i] == 0 {
					w = 1
				}
			}
			sig.CorrectNullSlots[b][i] = min(1, max(0, w))
		}

		sig.UnderEstimation[b] = s.underEstimation(in, b)
	}
	return sig, nil
}

// underEstimation averages min(1, p(true)/p(<null>)) at the first position of
// the real keyphrase slots of document b.
func (s *Scaler) underEstimation(in Input, b int) float64 {
	vocabSize := in.Dist.Dim(3)
	sum, n := 0.0, 0
	for i, k := range in.Kinds[b] {
		if k != types.SlotReal {
			continue
		}
		probs := in.Dist.Row(b, i, 0)
		pTrue := 0.0
		if id := in.Targets.At(b, i, 0); id >= 0 && id < vocabSize {
			pTrue = probs[id]
		}
		pNull := 0.0
		if s.special.Null < vocabSize {
			pNull = probs[s.special.Null]
		}
		sum += min(1, (pTrue+Eps)/(pNull+Eps))
		n++
	}
	if n == 0 {
		return 1
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 1
	}
	return mean
}

// Apply returns a copy of loss [B, N, L] with every slot multiplied by its
// CorrectNullSlots weight and every <null> target position further
// multiplied by the document's UnderEstimation.
func (s *Scaler) Apply(sig *Signals, loss *tensor.Floats, targets *tensor.Tokens) (*tensor.Floats, error) {
	if err := tensor.CheckShape("loss", loss.Shape(), targets.Shape()...); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("loss", loss.Shape(), len(sig.CorrectNullSlots), -1, -1); err != nil {
		return nil, err
	}
	out := loss.Clone()
	bsz, numSlots, slotLen := loss.Dim(0), loss.Dim(1), loss.Dim(2)
	for b := 0; b < bsz; b++ {
		if len(sig.CorrectNullSlots[b]) != numSlots {
			return nil, fmt.Errorf("document %d has %d slot weights, want %d: %w", b, len(sig.CorrectNullSlots[b]), numSlots, tensor.ErrShape)
		}
		for i := 0; i < numSlots; i++ {
			row := out.Row(b, i)
			ids := targets.Row(b, i)
			for l := 0; l < slotLen; l++ {
				row[l] *= sig.CorrectNullSlots[b][i]
				if ids[l] == s.special.Null {
					row[l] *= sig.UnderEstimation[b]
				}
			}
		}
	}
	return out, nil
}

func grid(rows, cols int) [][]float64 {
	g := make([][]float64, rows)
	for i := range g {
		g[i] = make([]float64, cols)
	}
	return g
}
