package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/kpset"
	"github.com/soundprediction/kpset/pkg/config"
	"github.com/soundprediction/kpset/pkg/model"
	"github.com/soundprediction/kpset/pkg/server/dto"
	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
	"github.com/soundprediction/kpset/pkg/vocab"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 8080
	cfg.Server.Mode = gin.TestMode
	cfg.Slots.MaxKpNum = 2
	cfg.Slots.MaxKpLen = 2
	cfg.Slots.AssignSteps = 1
	cfg.Output.ReportDir = filepath.Join(t.TempDir(), "reports")
	return cfg
}

// eosModel predicts the first source word in every slot, then <eos>.
type eosModel struct {
	vocabSize int
	src       *tensor.Tokens
}

func (m *eosModel) Encode(_ context.Context, src *tensor.Tokens, _ []int, _ *tensor.Floats) (model.Memory, error) {
	return model.Memory{Value: src}, nil
}

func (m *eosModel) InitState(_ context.Context, mem model.Memory, _ *tensor.Floats) (model.State, error) {
	return model.State{Value: mem.Value}, nil
}

func (m *eosModel) ForwardSeg(context.Context, model.State) (model.Control, error) {
	return model.Control{}, nil
}

func (m *eosModel) Step(_ context.Context, in model.StepInput) (*tensor.Floats, *tensor.Floats, error) {
	src := in.State.Value.(*tensor.Tokens)
	bsz, numSlots, steps := in.Tokens.Dim(0), in.Tokens.Dim(1), in.Tokens.Dim(2)
	width := m.vocabSize + in.MaxNumOOV
	dist := tensor.New[float64](bsz, numSlots, steps, width)
	for b := 0; b < bsz; b++ {
		for n := 0; n < numSlots; n++ {
			for t := 0; t < steps; t++ {
				tok := types.DefaultSpecialIDs().Eos
				if t == 0 {
					tok = in.SrcOOV.At(b, 0)
				}
				dist.Set(1, b, n, t, tok)
			}
		}
	}
	attn := tensor.Full(1/float64(src.Dim(1)), bsz, numSlots, steps, src.Dim(1))
	return dist, attn, nil
}

func newTestClient(t *testing.T, cfg *config.Config) *kpset.Client {
	t.Helper()
	v, err := vocab.New([]string{"keyphrase", "set"}, 0)
	require.NoError(t, err)
	c, err := kpset.New(cfg, &kpset.Options{Model: &eosModel{vocabSize: v.Size()}, Vocab: v})
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)

	// Test with nil kpset (server should still be created)
	server := New(cfg, nil, nil)
	require.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
}

func TestSetup(t *testing.T) {
	server := New(testConfig(t), nil, nil)
	server.Setup()

	require.NotNil(t, server.router)
	require.NotNil(t, server.server)
	assert.Equal(t, "localhost:8080", server.server.Addr)
	assert.NotNil(t, server.Handler())
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		path       string
		withClient bool
		wantStatus int
	}{
		{"/health", false, http.StatusOK},
		{"/live", false, http.StatusOK},
		// Without a client, readiness check returns 503 Service Unavailable
		{"/ready", false, http.StatusServiceUnavailable},
		{"/ready", true, http.StatusOK},
		{"/health/detailed", true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			cfg := testConfig(t)
			server := New(cfg, nil, nil)
			if tt.withClient {
				server = New(cfg, newTestClient(t, cfg), nil)
			}
			server.Setup()

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestPredictEndpoint(t *testing.T) {
	cfg := testConfig(t)
	server := New(cfg, newTestClient(t, cfg), nil)
	server.Setup()

	body := `{"documents": [{"src": "Set prediction"}, {"src": "unseen words here"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	var resp dto.PredictResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, 0, resp.Predictions[0].Index)
	assert.Equal(t, [][]string{{"set"}}, resp.Predictions[0].Keyphrases)
	// Copied out-of-vocabulary words come back as source words.
	assert.Equal(t, [][]string{{"unseen"}}, resp.Predictions[1].Keyphrases)
}

func TestReportEndpoints(t *testing.T) {
	cfg := testConfig(t)
	server := New(cfg, newTestClient(t, cfg), nil)
	server.Setup()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ReportListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Count)
}

func TestCORSPreflight(t *testing.T) {
	server := New(testConfig(t), nil, nil)
	server.Setup()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/predict", nil)
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
