package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soundprediction/kpset/pkg/evaluate"
	"github.com/soundprediction/kpset/pkg/inference"
	"github.com/soundprediction/kpset/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			dir := t.TempDir()
			store, err := NewStore(dir, format)
			require.NoError(t, err)
			assert.Equal(t, dir, store.Dir())

			r := New(KindEvaluate, map[string]any{"batch_size": 8})
			r.SetLoss(&evaluate.LossStatistics{Loss: 6, TotalTokens: 3, Documents: 2, Batches: 1, ForwardTime: time.Second})
			r.Finish(nil)
			require.NoError(t, store.Save(ctx, r))

			path, err := store.Path(r.RunID)
			require.NoError(t, err)
			assert.FileExists(t, path)
			assert.Equal(t, "."+string(format), filepath.Ext(path))

			loaded, err := store.Load(ctx, r.RunID)
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, r.RunID, loaded.RunID)
			assert.Equal(t, StatusCompleted, loaded.Status)
			require.NotNil(t, loaded.Loss)
			assert.Equal(t, 2.0, loaded.Loss.Xent)
			assert.Equal(t, 3.0, loaded.Loss.PerDocument)
			assert.Equal(t, 2, loaded.Loss.Documents)
			assert.Equal(t, time.Second, loaded.Loss.ForwardTime)

			list, err := store.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, store.Delete(ctx, r.RunID))
			require.NoError(t, store.Delete(ctx, r.RunID))
			missing, err := store.Load(ctx, r.RunID)
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestNewStoreDefaults(t *testing.T) {
	store, err := NewStore("", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(os.TempDir(), "kpset-reports"), store.Dir())

	_, err = NewStore(t.TempDir(), "toml")
	assert.Error(t, err)
}

func TestPathTraversalPrevention(t *testing.T) {
	store, err := NewStore(t.TempDir(), FormatJSON)
	require.NoError(t, err)

	for _, id := range []string{"", "../escape", "a/b", `a\b`, "nul\x00byte"} {
		_, err := store.Path(id)
		assert.ErrorIs(t, err, ErrInvalidRunID, "id %q", id)
	}
	err = store.Save(context.Background(), &Report{RunID: "../x"})
	assert.ErrorIs(t, err, ErrInvalidRunID)
}

func TestFinish(t *testing.T) {
	r := New(KindPredict, nil)
	assert.Equal(t, StatusRunning, r.Status)
	r.Prediction = &inference.Summary{Documents: 3}

	fn := func() (err error) {
		defer utils.RecoverAsError(&err)
		panic("decoder exploded")
	}
	r.Finish(fn())
	assert.Equal(t, StatusFailed, r.Status)
	assert.Contains(t, r.LastError, "decoder exploded")
	assert.NotEmpty(t, r.LastErrorStack)
	assert.GreaterOrEqual(t, r.Duration(), time.Duration(0))

	plain := New(KindPredict, nil)
	plain.Finish(errors.New("boom"))
	assert.Equal(t, "boom", plain.LastError)
	assert.Empty(t, plain.LastErrorStack)
}

func TestCleanOld(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir(), FormatJSON)
	require.NoError(t, err)

	old := New(KindEvaluate, nil)
	old.StartedAt = time.Now().Add(-48 * time.Hour)
	old.Finish(nil)
	running := New(KindEvaluate, nil)
	running.StartedAt = old.StartedAt
	fresh := New(KindEvaluate, nil)
	fresh.Finish(nil)
	for _, r := range []*Report{old, running, fresh} {
		require.NoError(t, store.Save(ctx, r))
	}

	removed, err := store.CleanOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	exists, err := store.Load(ctx, old.RunID)
	require.NoError(t, err)
	assert.Nil(t, exists)
}
