package inference

import (
	"slices"
	"strings"

	"github.com/soundprediction/kpset/pkg/types"
	"github.com/soundprediction/kpset/pkg/utils"
)

// SplitSet cuts the flat word list of set decoding into maxKpNum chunks of
// maxKpLen words. Each chunk ends at its first <eos>. Empty chunks and
// chunks holding <null> are dropped. When a keyphrase repeats, the copy with
// the higher mean token score is kept. The result is ordered by score,
// highest first, with ties in slot order.
func SplitSet(words []string, scores []float64, maxKpLen, maxKpNum int) [][]string {
	if maxKpLen <= 0 {
		return nil
	}
	type candidate struct {
		words []string
		score float64
	}
	var cands []candidate
	seen := make(map[string]int)

	for n := 0; n < maxKpNum; n++ {
		start := n * maxKpLen
		if start >= len(words) {
			break
		}
		end := min(start+maxKpLen, len(words))
		chunk := words[start:end]
		if i := slices.Index(chunk, types.EosWord); i >= 0 {
			chunk = chunk[:i]
		}
		if len(chunk) == 0 || slices.Contains(chunk, types.NullWord) {
			continue
		}

		score := meanScore(scores, start, start+len(chunk))
		key := strings.Join(chunk, " ")
		if i, ok := seen[key]; ok {
			if score > cands[i].score {
				cands[i].score = score
			}
			continue
		}
		seen[key] = len(cands)
		cands = append(cands, candidate{words: slices.Clone(chunk), score: score})
	}

	if len(cands) == 0 {
		return nil
	}
	items := make([]utils.ScoredItem[[]string], len(cands))
	for i, c := range cands {
		items[i] = utils.ScoredItem[[]string]{Item: c.words, Score: c.score}
	}
	ranked := utils.TopKByScore(items, len(items))
	out := make([][]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.Item
	}
	return out
}

func meanScore(scores []float64, start, end int) float64 {
	if start >= len(scores) {
		return 0
	}
	return utils.Mean(scores[start:min(end, len(scores))])
}

// SplitByDelimiter splits a word list at every delimiter, dropping empty
// pieces.
func SplitByDelimiter(words []string, delimiter string) [][]string {
	var out [][]string
	var cur []string
	for _, w := range words {
		if w == delimiter {
			if len(cur) > 0 {
				out = append(out, cur)
			}
			cur = nil
			continue
		}
		cur = append(cur, w)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// FormatKeyphrases renders keyphrases as one output line without the
// trailing newline: words joined by a space, keyphrases by ';'.
func FormatKeyphrases(kps [][]string) string {
	parts := make([]string, len(kps))
	for i, kp := range kps {
		parts[i] = strings.Join(kp, " ")
	}
	return strings.Join(parts, ";")
}
