// Package inference turns generator output into keyphrase predictions and
// writes them in dataset order.
package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/soundprediction/kpset/pkg/model"
	"github.com/soundprediction/kpset/pkg/types"
	"github.com/soundprediction/kpset/pkg/vocab"
)

// DefaultLogInterval is the number of batches between progress logs.
const DefaultLogInterval = 1000

// Options configures the predictor.
type Options struct {
	FixKpNumLen           bool
	MaxKpNum              int
	MaxKpLen              int
	SeparatePresentAbsent bool
	ReplaceUnk            bool
	LogInterval           int
}

// BatchSource yields batches until io.EOF. *data.Loader satisfies it.
type BatchSource interface {
	Next() (*types.Batch, error)
}

// Summary describes a finished prediction run. The null ratios are the
// fraction of present and absent slots whose prediction starts with <null>;
// they stay zero outside fixed-slot mode. Without the present/absent split
// every slot counts as present.
type Summary struct {
	Batches          int     `json:"batches" yaml:"batches"`
	Documents        int     `json:"documents" yaml:"documents"`
	PresentNullRatio float64 `json:"present_null_ratio" yaml:"present_null_ratio"`
	AbsentNullRatio  float64 `json:"absent_null_ratio" yaml:"absent_null_ratio"`
}

type nullCount struct {
	present, presentSlots int
	absent, absentSlots   int
}

func (c *nullCount) add(o nullCount) {
	c.present += o.present
	c.presentSlots += o.presentSlots
	c.absent += o.absent
	c.absentSlots += o.absentSlots
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Predictor decodes batches with a generator.
type Predictor struct {
	gen    model.Generator
	vocab  *vocab.Vocab
	opts   Options
	logger *slog.Logger
}

// NewPredictor creates a predictor.
func NewPredictor(gen model.Generator, v *vocab.Vocab, opts Options, logger *slog.Logger) (*Predictor, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if v == nil {
		return nil, errors.New("vocabulary is required")
	}
	if opts.FixKpNumLen && (opts.MaxKpNum <= 0 || opts.MaxKpLen <= 0) {
		return nil, fmt.Errorf("max_kp_num and max_kp_len must be positive, got %d and %d", opts.MaxKpNum, opts.MaxKpLen)
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = DefaultLogInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{gen: gen, vocab: v, opts: opts, logger: logger}, nil
}

// Run decodes every batch of src and writes the predictions to sink. The
// sink is not closed.
func (p *Predictor) Run(ctx context.Context, src BatchSource, sink Sink) (*Summary, error) {
	summary := &Summary{}
	var nulls nullCount
	start := time.Now()

	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if (i+1)%p.opts.LogInterval == 0 {
			p.logger.Info("Decoding progress",
				"batch", i+1,
				"interval", p.opts.LogInterval,
				"elapsed", time.Since(start))
			start = time.Now()
		}

		batch, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return summary, fmt.Errorf("failed to load batch %d: %w", i, err)
		}

		preds, counts, err := p.predictBatch(ctx, batch)
		if err != nil {
			return summary, fmt.Errorf("batch %d: %w", i, err)
		}
		for _, pred := range preds {
			if err := sink.Write(ctx, pred); err != nil {
				return summary, err
			}
		}
		nulls.add(counts)
		summary.Batches++
		summary.Documents += len(preds)
	}

	summary.PresentNullRatio = ratio(nulls.present, nulls.presentSlots)
	summary.AbsentNullRatio = ratio(nulls.absent, nulls.absentSlots)
	p.logger.Info("Prediction finished",
		"batches", summary.Batches,
		"documents", summary.Documents,
		"present_null_ratio", summary.PresentNullRatio,
		"absent_null_ratio", summary.AbsentNullRatio)
	return summary, nil
}

// PredictBatch decodes one batch and returns its predictions sorted by
// dataset index.
func (p *Predictor) PredictBatch(ctx context.Context, batch *types.Batch) ([]Prediction, error) {
	preds, _, err := p.predictBatch(ctx, batch)
	return preds, err
}

func (p *Predictor) predictBatch(ctx context.Context, batch *types.Batch) ([]Prediction, nullCount, error) {
	var counts nullCount
	if err := batch.Validate(); err != nil {
		return nil, counts, err
	}

	var (
		nbest *model.NBest
		err   error
	)
	if p.opts.FixKpNumLen {
		nbest, err = p.gen.Inference(ctx, batch)
	} else {
		nbest, err = p.gen.BeamSearch(ctx, batch)
	}
	if err != nil {
		return nil, counts, fmt.Errorf("generator failed: %w", err)
	}
	if len(nbest.Predictions) != batch.Size() {
		return nil, counts, fmt.Errorf("generator returned %d documents for a batch of %d", len(nbest.Predictions), batch.Size())
	}

	special := p.vocab.Special()
	wordOpts := WordOptions{EOS: special.Eos, Unk: special.Unk, ReplaceUnk: p.opts.ReplaceUnk}
	if p.opts.FixKpNumLen {
		wordOpts.EOS = NoEOS
	}

	preds := make([]Prediction, batch.Size())
	for b := range preds {
		preds[b].Index = batch.OriginalIdx[b]
		candidates := nbest.Predictions[b]
		if len(candidates) == 0 {
			continue
		}

		if p.opts.FixKpNumLen {
			last := len(candidates) - 1
			words := PredictionToWords(candidates[last], p.vocab, batch.OOVLists[b], wordOpts,
				batch.SrcStr[b], candidate(nbest.Attention, b, last))
			var scores []float64
			if b < len(nbest.Scores) && last < len(nbest.Scores[b]) {
				scores = nbest.Scores[b][last]
			}
			preds[b].Keyphrases = SplitSet(words, scores, p.opts.MaxKpLen, p.opts.MaxKpNum)
			counts.add(p.countNulls(words))
			continue
		}

		for k, pred := range candidates {
			words := PredictionToWords(pred, p.vocab, batch.OOVLists[b], wordOpts,
				batch.SrcStr[b], candidate(nbest.Attention, b, k))
			preds[b].Keyphrases = append(preds[b].Keyphrases, SplitByDelimiter(words, types.SepWord)...)
		}
	}

	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Index < preds[j].Index
	})
	return preds, counts, nil
}

// countNulls counts slots whose first predicted word is <null>.
func (p *Predictor) countNulls(words []string) nullCount {
	var c nullCount
	halves := types.SplitHalves(p.opts.MaxKpNum, p.opts.SeparatePresentAbsent)
	for h, half := range halves {
		for n := half.Start; n < half.End; n++ {
			isNull := n*p.opts.MaxKpLen < len(words) && words[n*p.opts.MaxKpLen] == types.NullWord
			if h == 0 {
				c.presentSlots++
				if isNull {
					c.present++
				}
			} else {
				c.absentSlots++
				if isNull {
					c.absent++
				}
			}
		}
	}
	return c
}

func candidate(attn [][][][]float64, b, k int) [][]float64 {
	if b < len(attn) && k < len(attn[b]) {
		return attn[b][k]
	}
	return nil
}
