package tensor

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDenseIndexing(t *testing.T) {
	d := New[int](2, 3, 4)
	d.Set(7, 1, 2, 3)
	assert.Equal(t, 7, d.At(1, 2, 3))
	assert.Equal(t, 7, d.Data()[1*12+2*4+3])
	assert.Equal(t, []int{2, 3, 4}, d.Shape())
	assert.Equal(t, 24, d.Len())

	row := d.Row(1, 2)
	require.Len(t, row, 4)
	row[0] = 5
	assert.Equal(t, 5, d.At(1, 2, 0), "Row aliases the tensor")

	assert.Panics(t, func() { d.At(2, 0, 0) })
	assert.Panics(t, func() { d.At(0, 0) })
}

func TestFromDataValidatesLength(t *testing.T) {
	_, err := FromData([]float64{1, 2, 3}, 2, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShape))

	d, err := FromData([]float64{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 10.0, d.Sum())
}

func TestCloneIsDeep(t *testing.T) {
	d := Full(1.5, 2, 2)
	c := d.Clone()
	c.Set(0, 0, 0)
	assert.Equal(t, 1.5, d.At(0, 0))
	assert.Equal(t, 0.0, c.At(0, 0))
}

func TestReshapeSharesData(t *testing.T) {
	d := New[int](2, 6)
	r, err := d.Reshape(2, 2, 3)
	require.NoError(t, err)
	r.Set(9, 1, 1, 2)
	assert.Equal(t, 9, d.At(1, 5))

	_, err = d.Reshape(5)
	assert.ErrorIs(t, err, ErrShape)
}

func TestCheckShape(t *testing.T) {
	assert.NoError(t, CheckShape("x", []int{2, 4, 3}, 2, -1, 3))
	assert.ErrorIs(t, CheckShape("x", []int{2, 4, 3}, 2, 4), ErrShape)
	assert.ErrorIs(t, CheckShape("x", []int{2, 4, 3}, 2, 5, 3), ErrShape)
}

func TestJSONWireForm(t *testing.T) {
	d, err := FromData([]float64{0.25, 0.75}, 1, 2)
	require.NoError(t, err)

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{"shape":[1,2],"data":[0.25,0.75]}`, string(b))

	var back Floats
	require.NoError(t, json.Unmarshal([]byte(`{"shape":[2,1],"data":[1,2]}`), &back))
	assert.Equal(t, []int{2, 1}, back.Shape())
	assert.Equal(t, 2.0, back.At(1, 0))

	assert.Error(t, json.Unmarshal([]byte(`{"shape":[3],"data":[1]}`), &back))
}
