// Package data turns pre-tokenized documents into padded, slot-structured
// batches.
package data

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
	"github.com/soundprediction/kpset/pkg/vocab"
)

// Options controls batching and the target slot layout.
type Options struct {
	BatchSize int
	MaxSrcLen int
	// SortByLength orders documents inside a batch by descending source
	// length; OriginalIdx keeps the dataset order.
	SortByLength bool

	FixKpNumLen           bool
	MaxKpNum              int
	MaxKpLen              int
	SeparatePresentAbsent bool
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	if o.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", o.BatchSize)
	}
	if o.FixKpNumLen {
		if o.MaxKpNum <= 0 || o.MaxKpLen <= 0 {
			return fmt.Errorf("max_kp_num and max_kp_len must be positive, got %d and %d", o.MaxKpNum, o.MaxKpLen)
		}
		if o.SeparatePresentAbsent && o.MaxKpNum%2 != 0 {
			return fmt.Errorf("max_kp_num must be even to separate present and absent keyphrases, got %d", o.MaxKpNum)
		}
	}
	return nil
}

// Loader yields batches in dataset order.
type Loader struct {
	docs  []Document
	vocab *vocab.Vocab
	opts  Options
	pos   int
}

// NewLoader creates a loader over docs.
func NewLoader(docs []Document, v *vocab.Vocab, opts Options) (*Loader, error) {
	if v == nil {
		return nil, errors.New("vocabulary is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Loader{docs: docs, vocab: v, opts: opts}, nil
}

// Len returns the number of batches.
func (l *Loader) Len() int {
	return (len(l.docs) + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Reset rewinds the loader.
func (l *Loader) Reset() {
	l.pos = 0
}

// Next returns the next batch, or io.EOF after the last one.
func (l *Loader) Next() (*types.Batch, error) {
	if l.pos >= len(l.docs) {
		return nil, io.EOF
	}
	end := l.pos + l.opts.BatchSize
	if end > len(l.docs) {
		end = len(l.docs)
	}
	idx := make([]int, 0, end-l.pos)
	for i := l.pos; i < end; i++ {
		idx = append(idx, i)
	}
	l.pos = end
	return Collate(l.docs, idx, l.vocab, l.opts)
}

// Collate builds a batch from docs[indices[i]].
func Collate(docs []Document, indices []int, v *vocab.Vocab, opts Options) (*types.Batch, error) {
	if len(indices) == 0 {
		return nil, errors.New("cannot collate an empty batch")
	}
	order := append([]int(nil), indices...)
	srcLen := func(i int) int {
		n := len(docs[i].Src)
		if opts.MaxSrcLen > 0 && n > opts.MaxSrcLen {
			n = opts.MaxSrcLen
		}
		return n
	}
	if opts.SortByLength {
		sort.SliceStable(order, func(a, b int) bool {
			return srcLen(order[a]) > srcLen(order[b])
		})
	}

	special := v.Special()
	bsz := len(order)
	maxSrc := 1
	for _, i := range order {
		if n := srcLen(i); n > maxSrc {
			maxSrc = n
		}
	}

	batch := &types.Batch{
		Src:         tensor.Full(special.Pad, bsz, maxSrc),
		SrcOOV:      tensor.Full(special.Pad, bsz, maxSrc),
		SrcMask:     tensor.New[float64](bsz, maxSrc),
		SrcLens:     make([]int, bsz),
		OOVLists:    make([][]string, bsz),
		SrcStr:      make([][]string, bsz),
		TrgStr:      make([][][]string, bsz),
		OriginalIdx: make([]int, bsz),
	}

	slots := make([][][]string, bsz)
	for b, i := range order {
		doc := docs[i]
		src := doc.Src[:srcLen(i)]
		batch.OriginalIdx[b] = i
		batch.SrcStr[b] = src
		batch.TrgStr[b] = doc.Trg
		batch.SrcLens[b] = len(src)

		oovIndex := make(map[string]int)
		var oovs []string
		for t, w := range src {
			batch.Src.Set(v.ID(w), b, t)
			batch.SrcMask.Set(1, b, t)
			if v.Contains(w) {
				batch.SrcOOV.Set(v.ID(w), b, t)
				continue
			}
			k, ok := oovIndex[w]
			if !ok {
				k = len(oovs)
				oovIndex[w] = k
				oovs = append(oovs, w)
			}
			batch.SrcOOV.Set(v.Size()+k, b, t)
		}
		batch.OOVLists[b] = oovs

		if opts.FixKpNumLen {
			slots[b] = layoutSlots(src, doc.Trg, opts)
		} else {
			slots[b] = [][]string{concatPhrases(doc.Trg)}
		}
	}

	numSlots, slotLen := 1, 1
	if opts.FixKpNumLen {
		numSlots, slotLen = opts.MaxKpNum, opts.MaxKpLen
	} else {
		for _, s := range slots {
			if n := len(s[0]) + 1; n > slotLen {
				slotLen = n
			}
		}
	}

	batch.Trg = tensor.Full(special.Pad, bsz, numSlots, slotLen)
	batch.TrgOOV = tensor.Full(special.Pad, bsz, numSlots, slotLen)
	batch.TrgMask = tensor.New[float64](bsz, numSlots, slotLen)
	background, bgMask := special.Background(slotLen)

	for b := range order {
		oovIndex := make(map[string]int, len(batch.OOVLists[b]))
		for k, w := range batch.OOVLists[b] {
			oovIndex[w] = k
		}
		for n := 0; n < numSlots; n++ {
			var words []string
			if n < len(slots[b]) {
				words = slots[b][n]
			}
			if words == nil {
				for t := 0; t < slotLen; t++ {
					batch.Trg.Set(background[t], b, n, t)
					batch.TrgOOV.Set(background[t], b, n, t)
					batch.TrgMask.Set(bgMask[t], b, n, t)
				}
				continue
			}
			if len(words) > slotLen-1 {
				words = words[:slotLen-1]
			}
			for t, w := range words {
				id := v.ID(w)
				oovID := id
				if !v.Contains(w) {
					if k, ok := oovIndex[w]; ok {
						oovID = v.Size() + k
					}
				}
				batch.Trg.Set(id, b, n, t)
				batch.TrgOOV.Set(oovID, b, n, t)
				batch.TrgMask.Set(1, b, n, t)
			}
			batch.Trg.Set(special.Eos, b, n, len(words))
			batch.TrgOOV.Set(special.Eos, b, n, len(words))
			batch.TrgMask.Set(1, b, n, len(words))
		}
	}
	return batch, nil
}

// layoutSlots places keyphrases into slot positions; nil marks an empty
// slot that receives the background pattern.
func layoutSlots(src []string, trg [][]string, opts Options) [][]string {
	slots := make([][]string, opts.MaxKpNum)
	if !opts.SeparatePresentAbsent {
		for i, kp := range trg {
			if i >= opts.MaxKpNum {
				break
			}
			slots[i] = kp
		}
		return slots
	}

	mid := opts.MaxKpNum / 2
	pre, ab := 0, mid
	for _, kp := range trg {
		if IsPresent(src, kp) {
			if pre < mid {
				slots[pre] = kp
				pre++
			}
			continue
		}
		if ab < opts.MaxKpNum {
			slots[ab] = kp
			ab++
		}
	}
	return slots
}

// concatPhrases joins keyphrases with <sep> for classic seq2seq targets. The
// trailing <eos> is appended by Collate.
func concatPhrases(trg [][]string) []string {
	var out []string
	for i, kp := range trg {
		if i > 0 {
			out = append(out, types.SepWord)
		}
		out = append(out, kp...)
	}
	if out == nil {
		out = []string{}
	}
	return out
}
