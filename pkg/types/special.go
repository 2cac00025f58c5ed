package types

// Reserved vocabulary words. They always occupy the first ids of a
// vocabulary, in this order.
const (
	PadWord   = "<pad>"
	BosWord   = "<bos>"
	EosWord   = "<eos>"
	UnkWord   = "<unk>"
	SepWord   = "<sep>"
	DigitWord = "<digit>"
	NullWord  = "<null>"
)

// SpecialWords lists the reserved words in id order.
var SpecialWords = []string{PadWord, BosWord, EosWord, UnkWord, SepWord, DigitWord, NullWord}

// SpecialIDs are the ids of the reserved words a component needs.
type SpecialIDs struct {
	Pad  int
	Bos  int
	Eos  int
	Unk  int
	Sep  int
	Null int
}

// DefaultSpecialIDs returns the ids implied by SpecialWords.
func DefaultSpecialIDs() SpecialIDs {
	return SpecialIDs{Pad: 0, Bos: 1, Eos: 2, Unk: 3, Sep: 4, Null: 6}
}

// Background returns the null keyphrase pattern of length n and its mask:
// [<null>, <pad>, ...] with mask [1, 0, ...].
func (s SpecialIDs) Background(n int) ([]int, []float64) {
	ids := make([]int, n)
	mask := make([]float64, n)
	for i := range ids {
		ids[i] = s.Pad
	}
	if n > 0 {
		ids[0] = s.Null
		mask[0] = 1
	}
	return ids, mask
}
