// Package tensor provides small dense row-major tensors used to carry token
// ids, masks and decoder distributions between the evaluation components.
package tensor

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrShape is returned (wrapped) whenever tensor shapes disagree.
var ErrShape = errors.New("tensor shape mismatch")

// Number is the set of element types a Dense tensor can hold.
type Number interface {
	~int | ~float32 | ~float64
}

// Dense is a row-major tensor with a fixed shape.
type Dense[T Number] struct {
	shape   []int
	strides []int
	data    []T
}

// Tokens holds token ids, typically [batch, slots, length].
type Tokens = Dense[int]

// Floats holds masks, losses and probabilities.
type Floats = Dense[float64]

// New allocates a zero-filled tensor.
func New[T Number](shape ...int) *Dense[T] {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension %d", d))
		}
		n *= d
	}
	return &Dense[T]{
		shape:   append([]int(nil), shape...),
		strides: stridesFor(shape),
		data:    make([]T, n),
	}
}

// Full allocates a tensor with every element set to v.
func Full[T Number](v T, shape ...int) *Dense[T] {
	t := New[T](shape...)
	t.Fill(v)
	return t
}

// FromData wraps data with the given shape. The slice is not copied.
func FromData[T Number](data []T, shape ...int) (*Dense[T], error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d: %w", d, ErrShape)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d: %w", shape, n, len(data), ErrShape)
	}
	return &Dense[T]{
		shape:   append([]int(nil), shape...),
		strides: stridesFor(shape),
		data:    data,
	}, nil
}

func stridesFor(shape []int) []int {
	strides := make([]int, len(shape))
	s := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = s
		s *= shape[i]
	}
	return strides
}

// Shape returns a copy of the tensor shape.
func (t *Dense[T]) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Rank returns the number of dimensions.
func (t *Dense[T]) Rank() int {
	return len(t.shape)
}

// Dim returns the size of dimension i.
func (t *Dense[T]) Dim(i int) int {
	return t.shape[i]
}

// Len returns the number of elements.
func (t *Dense[T]) Len() int {
	return len(t.data)
}

// Data exposes the backing slice.
func (t *Dense[T]) Data() []T {
	return t.data
}

func (t *Dense[T]) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index %v for shape %v", idx, t.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off += v * t.strides[i]
	}
	return off
}

// At returns the element at idx.
func (t *Dense[T]) At(idx ...int) T {
	return t.data[t.offset(idx)]
}

// Set stores v at idx.
func (t *Dense[T]) Set(v T, idx ...int) {
	t.data[t.offset(idx)] = v
}

// Row returns the innermost vector addressed by a prefix of len(shape)-1
// indices. The returned slice aliases the tensor.
func (t *Dense[T]) Row(prefix ...int) []T {
	if len(prefix) != len(t.shape)-1 {
		panic(fmt.Sprintf("tensor: row prefix %v for shape %v", prefix, t.shape))
	}
	full := append(append([]int(nil), prefix...), 0)
	start := t.offset(full)
	return t.data[start : start+t.shape[len(t.shape)-1]]
}

// Fill sets every element to v.
func (t *Dense[T]) Fill(v T) {
	for i := range t.data {
		t.data[i] = v
	}
}

// Clone returns a deep copy.
func (t *Dense[T]) Clone() *Dense[T] {
	return &Dense[T]{
		shape:   append([]int(nil), t.shape...),
		strides: append([]int(nil), t.strides...),
		data:    append([]T(nil), t.data...),
	}
}

// Reshape returns a view with a new shape over the same data.
func (t *Dense[T]) Reshape(shape ...int) (*Dense[T], error) {
	return FromData(t.data, shape...)
}

// Sum adds all elements.
func (t *Dense[T]) Sum() T {
	var s T
	for _, v := range t.data {
		s += v
	}
	return s
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CheckShape returns ErrShape when got differs from want. A negative entry
// in want matches any size.
func CheckShape(name string, got []int, want ...int) error {
	if len(got) != len(want) {
		return fmt.Errorf("%s: rank %d, want %d (shape %v): %w", name, len(got), len(want), got, ErrShape)
	}
	for i := range want {
		if want[i] >= 0 && got[i] != want[i] {
			return fmt.Errorf("%s: shape %v, want %v: %w", name, got, want, ErrShape)
		}
	}
	return nil
}

type wireDense[T Number] struct {
	Shape []int `json:"shape"`
	Data  []T   `json:"data"`
}

// MarshalJSON encodes the tensor as {"shape": [...], "data": [...]}.
func (t *Dense[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireDense[T]{Shape: t.shape, Data: t.data})
}

// UnmarshalJSON decodes the {"shape", "data"} wire form.
func (t *Dense[T]) UnmarshalJSON(b []byte) error {
	var w wireDense[T]
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	d, err := FromData(w.Data, w.Shape...)
	if err != nil {
		return err
	}
	*t = *d
	return nil
}
