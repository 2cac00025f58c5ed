package inference

import (
	"context"
	"testing"

	"github.com/soundprediction/kpset/pkg/data"
	"github.com/soundprediction/kpset/pkg/model"
	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peak = 0.9

// scriptedModel emits prefs[b][n] followed by <eos> in every slot and
// attends to source position t at step t.
type scriptedModel struct {
	vocabSize int
	prefs     [][][]int
	steps     []model.StepInput
}

func (m *scriptedModel) Encode(context.Context, *tensor.Tokens, []int, *tensor.Floats) (model.Memory, error) {
	return model.Memory{ID: "mem"}, nil
}

func (m *scriptedModel) InitState(context.Context, model.Memory, *tensor.Floats) (model.State, error) {
	return model.State{ID: "state"}, nil
}

func (m *scriptedModel) ForwardSeg(context.Context, model.State) (model.Control, error) {
	return model.Control{ID: "ctrl"}, nil
}

func (m *scriptedModel) Step(_ context.Context, in model.StepInput) (*tensor.Floats, *tensor.Floats, error) {
	m.steps = append(m.steps, in)
	bsz, numSlots, steps := in.Tokens.Dim(0), in.Tokens.Dim(1), in.Tokens.Dim(2)
	width := m.vocabSize + in.MaxNumOOV
	srcLen := in.SrcOOV.Dim(1)
	dist := tensor.Full((1-peak)/float64(width-1), bsz, numSlots, steps, width)
	attn := tensor.New[float64](bsz, numSlots, steps, srcLen)
	for b := 0; b < bsz; b++ {
		for n := 0; n < numSlots; n++ {
			for t := 0; t < steps; t++ {
				id := 2
				if b < len(m.prefs) && n < len(m.prefs[b]) && t < len(m.prefs[b][n]) {
					id = m.prefs[b][n][t]
				}
				dist.Set(peak, b, n, t, id)
				attn.Set(1, b, n, t, t%srcLen)
			}
		}
	}
	return dist, attn, nil
}

func TestGreedySetGeneratorInference(t *testing.T) {
	v := testVocab(t)
	docs := []data.Document{{Src: []string{"zeta", "alpha"}, Trg: [][]string{{"alpha"}}}}
	batch, err := data.Collate(docs, []int{0}, v, data.Options{BatchSize: 1, FixKpNumLen: true, MaxKpNum: 2, MaxKpLen: 3})
	require.NoError(t, err)
	require.Equal(t, 1, batch.MaxNumOOV())

	m := &scriptedModel{vocabSize: v.Size(), prefs: [][][]int{{{13}, {6}}}}
	gen, err := NewGreedySetGenerator(m, GreedyOptions{Special: v.Special(), VocabSize: v.Size(), MaxKpLen: 3})
	require.NoError(t, err)

	nbest, err := gen.Inference(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, nbest.Predictions, 1)
	assert.Equal(t, [][]int{{13, 2, 2, 6, 2, 2}}, nbest.Predictions[0])
	assert.InDeltaSlice(t, []float64{peak, peak, peak, peak, peak, peak}, nbest.Scores[0][0], 1e-12)
	require.Len(t, nbest.Attention[0][0], 6)
	assert.Equal(t, []float64{0, 1}, nbest.Attention[0][0][1])

	require.Len(t, m.steps, 3)
	require.NotNil(t, m.steps[0].Control)
	// The copied word is fed back as <unk>.
	assert.Equal(t, []int{1, 3}, m.steps[1].Tokens.Row(0, 0))

	words := PredictionToWords(nbest.Predictions[0][0], v, batch.OOVLists[0], WordOptions{EOS: NoEOS, Unk: 3}, batch.SrcStr[0], nbest.Attention[0][0])
	assert.Equal(t, [][]string{{"zeta"}}, SplitSet(words, nbest.Scores[0][0], 3, 2))
}

func TestGreedySetGeneratorBeamSearch(t *testing.T) {
	v := testVocab(t)
	docs := []data.Document{{Src: []string{"alpha"}}, {Src: []string{"gamma"}}}
	batch, err := data.Collate(docs, []int{0, 1}, v, data.Options{BatchSize: 2})
	require.NoError(t, err)

	m := &scriptedModel{vocabSize: v.Size(), prefs: [][][]int{{{7, 4, 8}}, {{9, 9, 9, 9, 9}}}}
	gen, err := NewGreedySetGenerator(m, GreedyOptions{Special: v.Special(), VocabSize: v.Size(), MaxDecodeLen: 4})
	require.NoError(t, err)

	nbest, err := gen.BeamSearch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{7, 4, 8, 2}}, nbest.Predictions[0])
	assert.Equal(t, [][]int{{9, 9, 9, 9}}, nbest.Predictions[1])
	assert.Nil(t, m.steps[0].Control)
	assert.Len(t, m.steps, 4)

	_, err = gen.Inference(context.Background(), batch)
	assert.Error(t, err)
}

func TestNewGreedySetGeneratorValidates(t *testing.T) {
	_, err := NewGreedySetGenerator(nil, GreedyOptions{VocabSize: 10, MaxKpLen: 2})
	assert.Error(t, err)
	_, err = NewGreedySetGenerator(&scriptedModel{}, GreedyOptions{MaxKpLen: 2})
	assert.Error(t, err)
	_, err = NewGreedySetGenerator(&scriptedModel{}, GreedyOptions{VocabSize: 10})
	assert.Error(t, err)
}
