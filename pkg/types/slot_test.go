package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySlot(t *testing.T) {
	special := DefaultSpecialIDs()
	bg, bgMask := special.Background(3)
	assert.Equal(t, []int{special.Null, special.Pad, special.Pad}, bg)
	assert.Equal(t, []float64{1, 0, 0}, bgMask)

	tests := []struct {
		name string
		ids  []int
		want SlotKind
	}{
		{"background", bg, SlotNull},
		{"all pad", []int{0, 0, 0}, SlotPad},
		{"keyphrase", []int{10, 11, special.Eos}, SlotReal},
		{"null followed by words", []int{special.Null, 12, 0}, SlotReal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySlot(tt.ids, special))
		})
	}
}

func TestSplitHalves(t *testing.T) {
	halves := SplitHalves(6, true)
	require.Len(t, halves, 2)
	assert.Equal(t, Half{0, 3}, halves[0])
	assert.Equal(t, Half{3, 6}, halves[1])
	assert.Equal(t, 1, HalfOf(halves, 4))
	assert.Equal(t, -1, HalfOf(halves, 6))

	whole := SplitHalves(5, false)
	require.Len(t, whole, 1)
	assert.Equal(t, 5, whole[0].Size())
}

func TestSlotKindString(t *testing.T) {
	assert.Equal(t, "null", SlotNull.String())
	assert.Equal(t, "SlotKind(9)", SlotKind(9).String())
}
