package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/soundprediction/kpset/pkg/model"
	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
	"github.com/soundprediction/kpset/pkg/utils"
)

// GreedyOptions configures GreedySetGenerator.
type GreedyOptions struct {
	Special   types.SpecialIDs
	VocabSize int
	// MaxKpLen is the number of tokens decoded per slot in set mode.
	MaxKpLen int
	// MaxDecodeLen bounds classic decoding.
	MaxDecodeLen int
}

// GreedySetGenerator decodes with a local model by taking the most probable
// token at every step. It serves as the generator when no remote one is
// configured.
type GreedySetGenerator struct {
	model model.Model
	opts  GreedyOptions
}

var _ model.Generator = (*GreedySetGenerator)(nil)

// NewGreedySetGenerator creates a greedy generator over m.
func NewGreedySetGenerator(m model.Model, opts GreedyOptions) (*GreedySetGenerator, error) {
	if m == nil {
		return nil, errors.New("model is required")
	}
	if opts.VocabSize <= 0 {
		return nil, fmt.Errorf("vocab size must be positive, got %d", opts.VocabSize)
	}
	if opts.MaxKpLen <= 0 && opts.MaxDecodeLen <= 0 {
		return nil, errors.New("max_kp_len or max_decode_len must be positive")
	}
	return &GreedySetGenerator{model: m, opts: opts}, nil
}

// Inference decodes MaxKpLen tokens in every slot. Each document gets one
// candidate holding the slots back to back.
func (g *GreedySetGenerator) Inference(ctx context.Context, batch *types.Batch) (*model.NBest, error) {
	if g.opts.MaxKpLen <= 0 {
		return nil, errors.New("set decoding requires a positive max_kp_len")
	}
	mem, err := g.model.Encode(ctx, batch.Src, batch.SrcLens, batch.SrcMask)
	if err != nil {
		return nil, err
	}
	state, err := g.model.InitState(ctx, mem, batch.SrcMask)
	if err != nil {
		return nil, err
	}
	control, err := g.model.ForwardSeg(ctx, state)
	if err != nil {
		return nil, err
	}

	bsz, numSlots := batch.Size(), batch.NumSlots()
	out, err := g.decode(ctx, batch, state, &control, numSlots, g.opts.MaxKpLen, false)
	if err != nil {
		return nil, err
	}

	nbest := newNBest(bsz)
	for b := 0; b < bsz; b++ {
		var pred []int
		var scores []float64
		var attn [][]float64
		for n := 0; n < numSlots; n++ {
			pred = append(pred, out.tokens[b][n]...)
			scores = append(scores, out.scores[b][n]...)
			attn = append(attn, out.attn[b][n]...)
		}
		nbest.Predictions[b] = [][]int{pred}
		nbest.Scores[b] = [][]float64{scores}
		nbest.Attention[b] = [][][]float64{attn}
	}
	return nbest, nil
}

// BeamSearch decodes a single sequence per document with a beam of one,
// stopping at <eos> or MaxDecodeLen.
func (g *GreedySetGenerator) BeamSearch(ctx context.Context, batch *types.Batch) (*model.NBest, error) {
	if g.opts.MaxDecodeLen <= 0 {
		return nil, errors.New("classic decoding requires a positive max_decode_len")
	}
	mem, err := g.model.Encode(ctx, batch.Src, batch.SrcLens, batch.SrcMask)
	if err != nil {
		return nil, err
	}
	state, err := g.model.InitState(ctx, mem, batch.SrcMask)
	if err != nil {
		return nil, err
	}

	bsz := batch.Size()
	out, err := g.decode(ctx, batch, state, nil, 1, g.opts.MaxDecodeLen, true)
	if err != nil {
		return nil, err
	}
	nbest := newNBest(bsz)
	for b := 0; b < bsz; b++ {
		nbest.Predictions[b] = [][]int{out.tokens[b][0]}
		nbest.Scores[b] = [][]float64{out.scores[b][0]}
		nbest.Attention[b] = [][][]float64{out.attn[b][0]}
	}
	return nbest, nil
}

type greedyOutput struct {
	tokens [][][]int       // [B][N][T]
	scores [][][]float64   // [B][N][T]
	attn   [][][][]float64 // [B][N][T][S]
}

// decode runs the free-running loop. With stopAtEOS, a sequence ends after
// its first <eos> and decoding stops once every sequence has ended.
func (g *GreedySetGenerator) decode(ctx context.Context, batch *types.Batch, state model.State, control *model.Control, numSlots, steps int, stopAtEOS bool) (*greedyOutput, error) {
	bsz := batch.Size()
	out := &greedyOutput{
		tokens: make([][][]int, bsz),
		scores: make([][][]float64, bsz),
		attn:   make([][][][]float64, bsz),
	}
	done := make([][]bool, bsz)
	for b := 0; b < bsz; b++ {
		out.tokens[b] = make([][]int, numSlots)
		out.scores[b] = make([][]float64, numSlots)
		out.attn[b] = make([][][]float64, numSlots)
		done[b] = make([]bool, numSlots)
	}

	prefix := tensor.Full(g.opts.Special.Bos, bsz, numSlots, 1)
	for t := 0; t < steps; t++ {
		dist, attn, err := g.model.Step(ctx, model.StepInput{
			Tokens:    prefix,
			State:     state,
			SrcOOV:    batch.SrcOOV,
			MaxNumOOV: batch.MaxNumOOV(),
			Control:   control,
		})
		if err != nil {
			return nil, err
		}
		if err := tensor.CheckShape("decoder_dist", dist.Shape(), bsz, numSlots, t+1, -1); err != nil {
			return nil, err
		}
		if err := tensor.CheckShape("attention", attn.Shape(), bsz, numSlots, t+1, -1); err != nil {
			return nil, err
		}

		next := tensor.New[int](bsz, numSlots, t+2)
		active := false
		for b := 0; b < bsz; b++ {
			for n := 0; n < numSlots; n++ {
				row := dist.Row(b, n, t)
				id, score := utils.ArgMax(row), 0.0
				if id < 0 {
					id = g.opts.Special.Eos
				} else {
					score = row[id]
				}
				if !done[b][n] {
					out.tokens[b][n] = append(out.tokens[b][n], id)
					out.scores[b][n] = append(out.scores[b][n], score)
					out.attn[b][n] = append(out.attn[b][n], append([]float64(nil), attn.Row(b, n, t)...))
					if stopAtEOS && id == g.opts.Special.Eos {
						done[b][n] = true
					}
				}
				active = active || !done[b][n]

				dst := next.Row(b, n)
				copy(dst, prefix.Row(b, n))
				if id >= g.opts.VocabSize || id < 0 {
					id = g.opts.Special.Unk
				}
				dst[t+1] = id
			}
		}
		if !active {
			break
		}
		prefix = next
	}
	return out, nil
}

func newNBest(bsz int) *model.NBest {
	return &model.NBest{
		Predictions: make([][][]int, bsz),
		Scores:      make([][][]float64, bsz),
		Attention:   make([][][][]float64, bsz),
	}
}
