// Package loss implements the token-level masked cross-entropy used by the
// evaluation driver.
package loss

import (
	"fmt"
	"math"

	"github.com/soundprediction/kpset/pkg/tensor"
)

// Eps keeps log(p) finite for zero probabilities.
const Eps = 1e-8

// Scale multiplies the loss of every position whose target equals Token.
type Scale struct {
	Token  int
	Factor float64
}

// MaskedCrossEntropy returns the per-position loss -log(p(target)+Eps),
// multiplied by the matching scales and by mask. dist has the shape of
// target plus a trailing vocabulary axis.
func MaskedCrossEntropy(dist *tensor.Floats, target *tensor.Tokens, mask *tensor.Floats, scales ...Scale) (*tensor.Floats, error) {
	shape := target.Shape()
	if err := tensor.CheckShape("trg_mask", mask.Shape(), shape...); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("decoder_dist", dist.Shape(), append(shape, -1)...); err != nil {
		return nil, err
	}
	vocabSize := dist.Dim(dist.Rank() - 1)

	out := tensor.New[float64](shape...)
	losses := out.Data()
	probs := dist.Data()
	for i, id := range target.Data() {
		if id < 0 || id >= vocabSize {
			return nil, fmt.Errorf("target id %d outside distribution of size %d: %w", id, vocabSize, tensor.ErrShape)
		}
		l := -math.Log(probs[i*vocabSize+id] + Eps)
		for _, s := range scales {
			if id == s.Token {
				l *= s.Factor
			}
		}
		losses[i] = l * mask.Data()[i]
	}
	return out, nil
}
