package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArgMax(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want int
	}{
		{"empty", nil, -1},
		{"single", []float64{0.3}, 0},
		{"first on ties", []float64{0.1, 0.5, 0.5}, 1},
		{"negative infinity", []float64{math.Inf(-1), math.Inf(-1)}, 0},
		{"skips nan", []float64{math.NaN(), 0.2, 0.1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ArgMax(tt.in))
		})
	}
}

func TestMean(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, Mean([]float64{1, 2, 3}), 1e-12)
}

func TestTopKIndicesByScore(t *testing.T) {
	scores := []float64{0.1, 0.7, 0.3, 0.7, 0.05}

	assert.Equal(t, []int{1, 3}, TopKIndicesByScore(scores, 2))
	assert.Equal(t, []int{1, 3, 2, 0, 4}, TopKIndicesByScore(scores, 10))
	assert.Nil(t, TopKIndicesByScore(scores, 0))
	assert.Nil(t, TopKIndicesByScore(nil, 2))
}

func TestTopKByScoreKeepsItems(t *testing.T) {
	items := []ScoredItem[string]{
		{Item: "a", Score: 1},
		{Item: "b", Score: 3},
		{Item: "c", Score: 2},
	}
	top := TopKByScore(items, 2)
	assert.Equal(t, []ScoredItem[string]{{Item: "b", Score: 3}, {Item: "c", Score: 2}}, top)
}
