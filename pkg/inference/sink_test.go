package inference

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkWritesOneLinePerDocument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pred")
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	preds := []Prediction{
		{Index: 0, Keyphrases: [][]string{{"set", "generation"}}},
		{Index: 1, Keyphrases: [][]string{{"a"}, {"b", "c"}, {"d"}}},
		{Index: 2},
		{Index: 3, Keyphrases: [][]string{{"x"}, {"y"}}},
	}
	for _, p := range preds {
		require.NoError(t, sink.Write(context.Background(), p))
	}
	require.NoError(t, sink.Close())
	assert.Equal(t, filepath.Join(dir, PredictionsFile), sink.Path())

	raw, err := os.ReadFile(sink.Path())
	require.NoError(t, err)
	content := string(raw)
	require.True(t, strings.HasSuffix(content, "\n"))

	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	require.Len(t, lines, len(preds))
	for i, p := range preds {
		want := max(len(p.Keyphrases)-1, 0)
		assert.Equal(t, want, strings.Count(lines[i], ";"), "line %d", i)
	}
	assert.Equal(t, "a;b c;d", lines[1])
	assert.Equal(t, "", lines[2])
}

func TestCollectSink(t *testing.T) {
	var sink CollectSink
	require.NoError(t, sink.Write(context.Background(), Prediction{Index: 4}))
	got := sink.Predictions()
	require.Len(t, got, 1)
	got[0].Index = 9
	assert.Equal(t, 4, sink.Predictions()[0].Index)
	assert.NoError(t, sink.Close())
}
