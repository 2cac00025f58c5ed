package inference

import (
	"github.com/soundprediction/kpset/pkg/types"
	"github.com/soundprediction/kpset/pkg/utils"
	"github.com/soundprediction/kpset/pkg/vocab"
)

// NoEOS keeps every predicted token, including a trailing <eos>.
const NoEOS = -1

// WordOptions controls how predicted ids become words.
type WordOptions struct {
	// EOS is dropped when it is the last token; NoEOS disables this.
	EOS        int
	Unk        int
	ReplaceUnk bool
}

// PredictionToWords maps predicted ids to words. Ids below the vocabulary
// size go through v, larger ids index the document's OOV list. With
// ReplaceUnk, <unk> becomes the most attended source word, or the second
// most attended one when the best position lies past the source.
func PredictionToWords(pred []int, v *vocab.Vocab, oov []string, opts WordOptions, src []string, attn [][]float64) []string {
	words := make([]string, 0, len(pred))
	for i, id := range pred {
		if i == len(pred)-1 && opts.EOS != NoEOS && id == opts.EOS {
			break
		}

		var word string
		switch {
		case id < v.Size():
			word = v.Word(id)
		case id-v.Size() < len(oov):
			word = oov[id-v.Size()]
		default:
			word = types.UnkWord
		}

		if opts.ReplaceUnk && id == opts.Unk && i < len(attn) {
			if w, ok := mostAttended(attn[i], src); ok {
				word = w
			}
		}
		words = append(words, word)
	}
	return words
}

func mostAttended(attn []float64, src []string) (string, bool) {
	top := utils.TopKIndicesByScore(attn, 2)
	for _, idx := range top {
		if idx < len(src) {
			return src[idx], true
		}
	}
	return "", false
}
