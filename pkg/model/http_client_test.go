package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/encode", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req encodeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []int{1, 3}, req.Src.Shape())
		assert.Equal(t, []int{3}, req.SrcLens)
		_ = json.NewEncoder(w).Encode(idResponse{Memory: "mem-1"})
	})
	mux.HandleFunc("/v1/init_state", func(w http.ResponseWriter, r *http.Request) {
		var req initStateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mem-1", req.Memory)
		_ = json.NewEncoder(w).Encode(idResponse{State: "state-1"})
	})
	mux.HandleFunc("/v1/forward_seg", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(idResponse{Control: "ctrl-1"})
	})
	mux.HandleFunc("/v1/step", func(w http.ResponseWriter, r *http.Request) {
		var req stepRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "state-1", req.State)
		assert.Equal(t, "ctrl-1", req.Control)
		b, n, steps := req.Tokens.Dim(0), req.Tokens.Dim(1), req.Tokens.Dim(2)
		dist := tensor.Full(0.25, b, n, steps, 4)
		attn := tensor.Full(1.0/3, b, n, steps, 3)
		_ = json.NewEncoder(w).Encode(stepResponse{Dist: dist, Attn: attn})
	})
	mux.HandleFunc("/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Mode == "beam" {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail": "beam search disabled"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(NBest{
			Predictions: [][][]int{{{7, 2}}},
			Scores:      [][][]float64{{{0.9, 0.8}}},
			Attention:   [][][][]float64{{{{1, 0, 0}, {0, 1, 0}}}},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testBatch() *types.Batch {
	src, _ := tensor.FromData([]int{7, 8, 9}, 1, 3)
	return &types.Batch{
		Src:         src,
		SrcLens:     []int{3},
		SrcMask:     tensor.Full(1.0, 1, 3),
		SrcOOV:      src.Clone(),
		OOVLists:    [][]string{nil},
		SrcStr:      [][]string{{"a", "b", "c"}},
		TrgStr:      [][][]string{nil},
		Trg:         tensor.New[int](1, 1, 2),
		TrgOOV:      tensor.New[int](1, 1, 2),
		TrgMask:     tensor.New[float64](1, 1, 2),
		OriginalIdx: []int{0},
	}
}

func TestHTTPClientModelRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewHTTPClient(HTTPConfig{Endpoint: srv.URL + "/", APIKey: "secret"})
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Health(ctx))

	batch := testBatch()
	mem, err := c.Encode(ctx, batch.Src, batch.SrcLens, batch.SrcMask)
	require.NoError(t, err)
	assert.Equal(t, "mem-1", mem.ID)

	state, err := c.InitState(ctx, mem, batch.SrcMask)
	require.NoError(t, err)
	ctrl, err := c.ForwardSeg(ctx, state)
	require.NoError(t, err)

	dist, attn, err := c.Step(ctx, StepInput{
		Tokens:  tensor.Full(1, 1, 2, 1),
		State:   state,
		SrcOOV:  batch.SrcOOV,
		Control: &ctrl,
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1, 4}, dist.Shape())
	assert.Equal(t, []int{1, 2, 1, 3}, attn.Shape())
}

func TestHTTPClientGenerate(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewHTTPClient(HTTPConfig{Endpoint: srv.URL, APIKey: "secret"})
	require.NoError(t, err)

	nbest, err := c.Inference(context.Background(), testBatch())
	require.NoError(t, err)
	assert.Equal(t, [][][]int{{{7, 2}}}, nbest.Predictions)

	_, err = c.BeamSearch(context.Background(), testBatch())
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
	assert.Equal(t, "beam search disabled", se.Body)
	assert.True(t, se.Temporary())
	assert.ErrorIs(t, err, &StatusError{})
}

func TestNewHTTPClientRequiresEndpoint(t *testing.T) {
	_, err := NewHTTPClient(HTTPConfig{})
	assert.Error(t, err)
}

func TestHTTPClientContextCancel(t *testing.T) {
	srv := newTestServer(t)
	c, err := NewHTTPClient(HTTPConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Encode(ctx, tensor.New[int](1, 1), []int{1}, tensor.New[float64](1, 1))
	assert.ErrorIs(t, err, context.Canceled)
}
