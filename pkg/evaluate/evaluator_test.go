package evaluate

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/soundprediction/kpset/pkg/data"
	"github.com/soundprediction/kpset/pkg/model"
	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
	"github.com/soundprediction/kpset/pkg/utils"
	"github.com/soundprediction/kpset/pkg/vocab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const peak = 0.9

// fakeModel emits, for slot n of document b, the token sequence prefs[b][n]
// followed by <eos>, each with probability peak. It ignores the prefix.
type fakeModel struct {
	vocabSize int
	prefs     [][][]int

	encodeErr error
	badWidth  bool
	panicStep bool

	steps []model.StepInput
}

func (f *fakeModel) Encode(context.Context, *tensor.Tokens, []int, *tensor.Floats) (model.Memory, error) {
	return model.Memory{ID: "mem"}, f.encodeErr
}

func (f *fakeModel) InitState(context.Context, model.Memory, *tensor.Floats) (model.State, error) {
	return model.State{ID: "state"}, nil
}

func (f *fakeModel) ForwardSeg(context.Context, model.State) (model.Control, error) {
	return model.Control{ID: "ctrl"}, nil
}

func (f *fakeModel) Step(_ context.Context, in model.StepInput) (*tensor.Floats, *tensor.Floats, error) {
	if f.panicStep {
		var rows [][]float64
		_ = rows[1][0]
	}
	f.steps = append(f.steps, in)
	bsz, numSlots, steps := in.Tokens.Dim(0), in.Tokens.Dim(1), in.Tokens.Dim(2)
	if f.badWidth {
		steps++
	}
	width := f.vocabSize + in.MaxNumOOV
	off := (1 - peak) / float64(width-1)
	dist := tensor.Full(off, bsz, numSlots, steps, width)
	for b := 0; b < bsz; b++ {
		for n := 0; n < numSlots; n++ {
			for t := 0; t < steps; t++ {
				dist.Set(peak, b, n, t, f.pref(b, n, t))
			}
		}
	}
	srcLen := in.SrcOOV.Dim(1)
	attn := tensor.Full(1/float64(srcLen), bsz, numSlots, steps, srcLen)
	return dist, attn, nil
}

func (f *fakeModel) pref(b, n, t int) int {
	special := types.DefaultSpecialIDs()
	if b >= len(f.prefs) || n >= len(f.prefs[b]) {
		return special.Eos
	}
	seq := f.prefs[b][n]
	if t < len(seq) {
		return seq[t]
	}
	return special.Eos
}

func testVocab(t *testing.T) *vocab.Vocab {
	t.Helper()
	// alpha=7 beta=8 gamma=9 delta=10 model=11 set=12
	v, err := vocab.New([]string{"alpha", "beta", "gamma", "delta", "model", "set"}, 0)
	require.NoError(t, err)
	return v
}

func collate(t *testing.T, v *vocab.Vocab, opts data.Options, docs ...data.Document) *types.Batch {
	t.Helper()
	idx := make([]int, len(docs))
	for i := range idx {
		idx[i] = i
	}
	opts.BatchSize = len(docs)
	batch, err := data.Collate(docs, idx, v, opts)
	require.NoError(t, err)
	return batch
}

func baseOptions(v *vocab.Vocab) Options {
	return Options{
		Special:      v.Special(),
		VocabSize:    v.Size(),
		AssignSteps:  2,
		LossScale:    1,
		LossScalePre: 1,
		LossScaleAb:  1,
	}
}

func tokenLoss() float64 {
	return -math.Log(peak + 1e-8)
}

func TestEvaluateClassic(t *testing.T) {
	v := testVocab(t)
	batch := collate(t, v, data.Options{}, data.Document{
		Src: []string{"alpha", "beta", "gamma"},
		Trg: [][]string{{"alpha", "beta"}, {"gamma"}},
	})
	require.Equal(t, []int{7, 8, 4, 9, 2}, batch.Trg.Row(0, 0))

	m := &fakeModel{vocabSize: v.Size(), prefs: [][][]int{{{7, 8, 4, 9, 2}}}}
	ev, err := New(m, baseOptions(v), nil)
	require.NoError(t, err)

	stats, err := ev.EvaluateBatch(context.Background(), 0, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 5.0, stats.TotalTokens)
	assert.InDelta(t, 5*tokenLoss(), stats.Loss, 1e-9)

	require.Len(t, m.steps, 1)
	assert.Nil(t, m.steps[0].Control)
	assert.Equal(t, []int{1, 7, 8, 4, 9}, m.steps[0].Tokens.Row(0, 0))
}

func TestEvaluateCopyAttentionFeedsUnk(t *testing.T) {
	v := testVocab(t)
	batch := collate(t, v, data.Options{}, data.Document{
		Src: []string{"zeta", "alpha"},
		Trg: [][]string{{"zeta"}},
	})
	require.Equal(t, []int{13, 2}, batch.TrgOOV.Row(0, 0))

	m := &fakeModel{vocabSize: v.Size(), prefs: [][][]int{{{13, 2}}}}
	opts := baseOptions(v)
	opts.CopyAttention = true
	ev, err := New(m, opts, nil)
	require.NoError(t, err)

	stats, err := ev.EvaluateBatch(context.Background(), 0, batch)
	require.NoError(t, err)
	assert.InDelta(t, 2*tokenLoss(), stats.Loss, 1e-9)
	assert.Equal(t, []int{1, 3}, m.steps[0].Tokens.Row(0, 0))
}

func setDoc() data.Document {
	return data.Document{
		Src: []string{"alpha", "beta", "gamma"},
		Trg: [][]string{{"alpha", "beta"}, {"gamma"}},
	}
}

func TestEvaluateSetLossAssignsSlots(t *testing.T) {
	v := testVocab(t)
	dataOpts := data.Options{FixKpNumLen: true, MaxKpNum: 4, MaxKpLen: 3}
	prefs := [][][]int{{{9}, {7, 8}, {6, 0}, {6, 0}}}

	opts := baseOptions(v)
	opts.FixKpNumLen = true
	opts.SetLoss = true

	m := &fakeModel{vocabSize: v.Size(), prefs: prefs}
	ev, err := New(m, opts, nil)
	require.NoError(t, err)
	var records []BatchRecord
	ev.SetObserver(BatchObserverFunc(func(_ context.Context, rec BatchRecord) error {
		records = append(records, rec)
		return nil
	}))

	stats, err := ev.EvaluateBatch(context.Background(), 3, collate(t, v, dataOpts, setDoc()))
	require.NoError(t, err)
	assert.Equal(t, 7.0, stats.TotalTokens)
	assert.InDelta(t, 7*tokenLoss(), stats.Loss, 1e-9)

	// Two assignment steps followed by the target-fed pass.
	require.Len(t, m.steps, 3)
	assert.Equal(t, []int{1, 9}, m.steps[1].Tokens.Row(0, 0))
	require.NotNil(t, m.steps[2].Control)
	assert.Equal(t, []int{1, 9, 2}, m.steps[2].Tokens.Row(0, 0))

	require.Len(t, records, 1)
	assert.Equal(t, 3, records[0].Index)
	assert.Equal(t, 2, records[0].RealSlots)
	assert.Equal(t, 2, records[0].NullSlots)
	assert.Equal(t, 1.0, records[0].UnderEstimation)

	opts.SetLoss = false
	plain, err := New(&fakeModel{vocabSize: v.Size(), prefs: prefs}, opts, nil)
	require.NoError(t, err)
	unassigned, err := plain.EvaluateBatch(context.Background(), 0, collate(t, v, dataOpts, setDoc()))
	require.NoError(t, err)
	assert.Greater(t, unassigned.Loss, stats.Loss)
}

func TestEvaluateAdaptiveScaleDropsMatchedNulls(t *testing.T) {
	v := testVocab(t)
	dataOpts := data.Options{FixKpNumLen: true, MaxKpNum: 4, MaxKpLen: 3}
	m := &fakeModel{vocabSize: v.Size(), prefs: [][][]int{{{7, 8}, {9}, {6, 0}, {6, 0}}}}

	opts := baseOptions(v)
	opts.FixKpNumLen = true
	opts.SetLoss = true
	opts.AdaptiveScale = true
	ev, err := New(m, opts, nil)
	require.NoError(t, err)

	stats, err := ev.EvaluateBatch(context.Background(), 0, collate(t, v, dataOpts, setDoc()))
	require.NoError(t, err)
	// Both null slots predict a background that two targets share, so
	// their loss is zeroed. The token count is unchanged.
	assert.Equal(t, 7.0, stats.TotalTokens)
	assert.InDelta(t, 5*tokenLoss(), stats.Loss, 1e-9)
}

func TestEvaluateSeparateHalvesScales(t *testing.T) {
	v := testVocab(t)
	dataOpts := data.Options{FixKpNumLen: true, MaxKpNum: 4, MaxKpLen: 3, SeparatePresentAbsent: true}
	doc := data.Document{
		Src: []string{"alpha", "beta", "gamma"},
		Trg: [][]string{{"alpha", "beta"}, {"delta"}},
	}
	batch := collate(t, v, dataOpts, doc)
	require.Equal(t, []int{10, 2, 0}, batch.Trg.Row(0, 2))

	m := &fakeModel{vocabSize: v.Size(), prefs: [][][]int{{{7, 8}, {6, 0}, {10}, {6, 0}}}}
	opts := baseOptions(v)
	opts.FixKpNumLen = true
	opts.SeparatePresentAbsent = true
	opts.LossScalePre = 0.5
	opts.LossScaleAb = 0.25
	ev, err := New(m, opts, nil)
	require.NoError(t, err)

	stats, err := ev.EvaluateBatch(context.Background(), 0, batch)
	require.NoError(t, err)
	assert.InDelta(t, 5.75*tokenLoss(), stats.Loss, 1e-9)
	assert.Equal(t, 7.0, stats.TotalTokens)
}

func TestEvaluateBatchErrors(t *testing.T) {
	v := testVocab(t)
	batch := collate(t, v, data.Options{}, setDoc())
	boom := errors.New("encoder offline")

	tests := []struct {
		name  string
		model *fakeModel
		stage Stage
		check func(t *testing.T, err error)
	}{
		{
			name:  "encode error",
			model: &fakeModel{vocabSize: v.Size(), encodeErr: boom},
			stage: StageEncode,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, boom) },
		},
		{
			name:  "distribution shape",
			model: &fakeModel{vocabSize: v.Size(), badWidth: true},
			stage: StageForward,
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, tensor.ErrShape) },
		},
		{
			name:  "panic",
			model: &fakeModel{vocabSize: v.Size(), panicStep: true},
			stage: StageForward,
			check: func(t *testing.T, err error) {
				var pe *utils.PanicError
				assert.ErrorAs(t, err, &pe)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := New(tt.model, baseOptions(v), nil)
			require.NoError(t, err)
			stats, err := ev.EvaluateBatch(context.Background(), 5, batch)
			require.Error(t, err)
			assert.Nil(t, stats)

			var be *BatchError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, 5, be.Index)
			assert.Equal(t, tt.stage, be.Stage)
			tt.check(t, err)
		})
	}
}

func TestRun(t *testing.T) {
	v := testVocab(t)
	docs := []data.Document{setDoc(), setDoc(), {Src: []string{"model"}, Trg: [][]string{{"set"}}}}
	loader, err := data.NewLoader(docs, v, data.Options{BatchSize: 2})
	require.NoError(t, err)

	ev, err := New(&fakeModel{vocabSize: v.Size()}, baseOptions(v), nil)
	require.NoError(t, err)
	stats, err := ev.Run(context.Background(), loader)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 3, stats.Documents)
	assert.Greater(t, stats.Loss, 0.0)

	loader.Reset()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err = ev.Run(ctx, loader)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stats.Batches)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"classic", Options{VocabSize: 10}, false},
		{"missing vocab", Options{}, true},
		{"set loss needs steps", Options{VocabSize: 10, FixKpNumLen: true, SetLoss: true}, true},
		{"adaptive without set loss", Options{VocabSize: 10, FixKpNumLen: true, AdaptiveScale: true}, true},
		{"adaptive", Options{VocabSize: 10, FixKpNumLen: true, SetLoss: true, AssignSteps: 2, AdaptiveScale: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLossStatistics(t *testing.T) {
	var s LossStatistics
	assert.Equal(t, 0.0, s.Xent())
	assert.Equal(t, 1.0, s.PPL())
	assert.Equal(t, 0.0, s.PerDocument())

	s.Merge(&LossStatistics{Loss: 6, TotalTokens: 3, Documents: 2, Batches: 1})
	s.Merge(&LossStatistics{Loss: 2, TotalTokens: 1, Documents: 2, Batches: 1})
	s.Merge(nil)
	assert.Equal(t, 2.0, s.Xent())
	assert.InDelta(t, math.Exp(2), s.PPL(), 1e-9)
	assert.Equal(t, 2.0, s.PerDocument())
	assert.Equal(t, 2, s.Batches)

	huge := LossStatistics{Loss: 1e6, TotalTokens: 1}
	assert.Equal(t, math.Exp(100), huge.PPL())
}
