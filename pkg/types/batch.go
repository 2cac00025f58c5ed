package types

import (
	"fmt"

	"github.com/soundprediction/kpset/pkg/tensor"
)

// Batch is one loader step: a fixed-size group of documents with padded
// sources and slot-structured targets.
type Batch struct {
	Src     *tensor.Tokens // [B, S]
	SrcLens []int
	SrcMask *tensor.Floats // [B, S]
	SrcOOV  *tensor.Tokens // [B, S], OOV words mapped past the vocabulary

	// OOVLists holds the per-document out-of-vocabulary words; word k of
	// document b has extended id vocab_size+k.
	OOVLists [][]string
	SrcStr   [][]string
	TrgStr   [][][]string

	Trg     *tensor.Tokens // [B, N, L]
	TrgOOV  *tensor.Tokens // [B, N, L]
	TrgMask *tensor.Floats // [B, N, L]

	// OriginalIdx is the position of each document in the dataset.
	OriginalIdx []int
}

// Size returns the number of documents.
func (b *Batch) Size() int {
	return b.Src.Dim(0)
}

// NumSlots returns the slot dimension of the targets.
func (b *Batch) NumSlots() int {
	return b.Trg.Dim(1)
}

// SlotLen returns the token length of each slot.
func (b *Batch) SlotLen() int {
	return b.Trg.Dim(2)
}

// MaxNumOOV returns the largest OOV list length in the batch.
func (b *Batch) MaxNumOOV() int {
	m := 0
	for _, oov := range b.OOVLists {
		if len(oov) > m {
			m = len(oov)
		}
	}
	return m
}

// Target returns the targets the loss is computed against.
func (b *Batch) Target(copyAttention bool) *tensor.Tokens {
	if copyAttention {
		return b.TrgOOV
	}
	return b.Trg
}

// Validate checks that every per-document field agrees on the batch size and
// that target tensors share a shape.
func (b *Batch) Validate() error {
	if b.Src == nil || b.Trg == nil || b.TrgOOV == nil || b.TrgMask == nil || b.SrcMask == nil || b.SrcOOV == nil {
		return fmt.Errorf("batch is missing tensors: %w", tensor.ErrShape)
	}
	n := b.Src.Dim(0)
	if err := tensor.CheckShape("src_mask", b.SrcMask.Shape(), b.Src.Shape()...); err != nil {
		return err
	}
	if err := tensor.CheckShape("src_oov", b.SrcOOV.Shape(), b.Src.Shape()...); err != nil {
		return err
	}
	if err := tensor.CheckShape("trg", b.Trg.Shape(), n, -1, -1); err != nil {
		return err
	}
	if err := tensor.CheckShape("trg_oov", b.TrgOOV.Shape(), b.Trg.Shape()...); err != nil {
		return err
	}
	if err := tensor.CheckShape("trg_mask", b.TrgMask.Shape(), b.Trg.Shape()...); err != nil {
		return err
	}
	for name, l := range map[string]int{
		"src_lens":     len(b.SrcLens),
		"oov_lists":    len(b.OOVLists),
		"src_str":      len(b.SrcStr),
		"trg_str":      len(b.TrgStr),
		"original_idx": len(b.OriginalIdx),
	} {
		if l != n {
			return fmt.Errorf("%s has %d entries for batch of %d: %w", name, l, n, tensor.ErrShape)
		}
	}
	return nil
}
