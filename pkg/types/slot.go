package types

import "fmt"

// SlotKind tags what a target slot holds.
type SlotKind uint8

const (
	// SlotPad is an unused slot: all <pad> tokens, fully masked.
	SlotPad SlotKind = iota
	// SlotReal holds a ground-truth keyphrase.
	SlotReal
	// SlotNull holds the background (null) keyphrase.
	SlotNull
)

// String returns the name of the kind.
func (k SlotKind) String() string {
	switch k {
	case SlotPad:
		return "pad"
	case SlotReal:
		return "real"
	case SlotNull:
		return "null"
	default:
		return fmt.Sprintf("SlotKind(%d)", uint8(k))
	}
}

// ClassifySlot decides the kind of a slot from its token ids.
func ClassifySlot(ids []int, special SpecialIDs) SlotKind {
	allPad := true
	for _, id := range ids {
		if id != special.Pad {
			allPad = false
			break
		}
	}
	if allPad {
		return SlotPad
	}
	if ids[0] != special.Null {
		return SlotReal
	}
	for _, id := range ids[1:] {
		if id != special.Pad {
			return SlotReal
		}
	}
	return SlotNull
}

// Half is a contiguous range of slots [Start, End) solved as one assignment
// sub-problem.
type Half struct {
	Start int
	End   int
}

// Size is the number of slots in the half.
func (h Half) Size() int {
	return h.End - h.Start
}

// Contains reports whether slot i falls inside the half.
func (h Half) Contains(i int) bool {
	return i >= h.Start && i < h.End
}

// SplitHalves returns the present/absent halves when separate is set, or a
// single range covering every slot.
func SplitHalves(numSlots int, separate bool) []Half {
	if !separate {
		return []Half{{Start: 0, End: numSlots}}
	}
	mid := numSlots / 2
	return []Half{{Start: 0, End: mid}, {Start: mid, End: numSlots}}
}

// HalfOf returns the index of the half containing slot i, or -1.
func HalfOf(halves []Half, i int) int {
	for h, half := range halves {
		if half.Contains(i) {
			return h
		}
	}
	return -1
}
