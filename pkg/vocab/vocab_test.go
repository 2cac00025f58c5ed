package vocab

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/soundprediction/kpset/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReservesSpecialIDs(t *testing.T) {
	v, err := Read(strings.NewReader("neural\t10\nnetwork 8\n\n# comment\n<pad>\nkeyphrase\n"), 0)
	require.NoError(t, err)

	assert.Equal(t, types.DefaultSpecialIDs(), v.Special())
	assert.Equal(t, len(types.SpecialWords)+3, v.Size())
	assert.Equal(t, len(types.SpecialWords), v.ID("neural"))
	assert.Equal(t, "network", v.Word(len(types.SpecialWords)+1))
	assert.Equal(t, v.Special().Unk, v.ID("missing"))
}

func TestSizeCapsUsableIDs(t *testing.T) {
	v, err := New([]string{"a", "b", "c"}, len(types.SpecialWords)+1)
	require.NoError(t, err)

	assert.True(t, v.Contains("a"))
	assert.False(t, v.Contains("b"))
	assert.Equal(t, v.Special().Unk, v.ID("b"))
	assert.Equal(t, types.UnkWord, v.Word(v.Size()))
}

func TestEmptyVocab(t *testing.T) {
	_, err := New(nil, 0)
	assert.ErrorIs(t, err, ErrEmptyVocab)

	_, err = New([]string{"a"}, 3)
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\n"), 0644))

	v, err := Load(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "beta", v.Word(v.ID("beta")))

	_, err = Load(filepath.Join(t.TempDir(), "missing.txt"), 0)
	assert.Error(t, err)
}
