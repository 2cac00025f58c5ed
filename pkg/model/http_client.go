package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
)

// HTTPConfig configures the remote model backend.
type HTTPConfig struct {
	Endpoint string        `json:"endpoint"`
	APIKey   string        `json:"api_key"`
	Timeout  time.Duration `json:"timeout"`
}

// HTTPClient talks to a model server that keeps encoder memories and
// decoder states on its side and hands out ids for them. It implements
// both Model and Generator and is safe for concurrent use.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPClient creates a client for the server at config.Endpoint.
func NewHTTPClient(config HTTPConfig) (*HTTPClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint URL is required")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(config.Endpoint, "/"),
		apiKey:  config.APIKey,
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type encodeRequest struct {
	Src     *tensor.Tokens `json:"src"`
	SrcLens []int          `json:"src_lens"`
	SrcMask *tensor.Floats `json:"src_mask"`
}

type initStateRequest struct {
	Memory  string         `json:"memory"`
	SrcMask *tensor.Floats `json:"src_mask"`
}

type forwardSegRequest struct {
	State string `json:"state"`
}

type stepRequest struct {
	Tokens    *tensor.Tokens `json:"tokens"`
	State     string         `json:"state"`
	SrcOOV    *tensor.Tokens `json:"src_oov"`
	MaxNumOOV int            `json:"max_num_oov"`
	Control   string         `json:"control,omitempty"`
}

type stepResponse struct {
	Dist *tensor.Floats `json:"dist"`
	Attn *tensor.Floats `json:"attn"`
}

type generateRequest struct {
	Mode      string         `json:"mode"`
	Src       *tensor.Tokens `json:"src"`
	SrcLens   []int          `json:"src_lens"`
	SrcMask   *tensor.Floats `json:"src_mask"`
	SrcOOV    *tensor.Tokens `json:"src_oov"`
	MaxNumOOV int            `json:"max_num_oov"`
}

type idResponse struct {
	Memory  string `json:"memory,omitempty"`
	State   string `json:"state,omitempty"`
	Control string `json:"control,omitempty"`
}

// Health checks GET /health.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	return nil
}

// Encode implements Model.
func (c *HTTPClient) Encode(ctx context.Context, src *tensor.Tokens, srcLens []int, srcMask *tensor.Floats) (Memory, error) {
	var out idResponse
	if err := c.makeRequest(ctx, "/v1/encode", encodeRequest{Src: src, SrcLens: srcLens, SrcMask: srcMask}, &out); err != nil {
		return Memory{}, fmt.Errorf("encode failed: %w", err)
	}
	if out.Memory == "" {
		return Memory{}, fmt.Errorf("encode failed: server returned no memory id")
	}
	return Memory{ID: out.Memory}, nil
}

// InitState implements Model.
func (c *HTTPClient) InitState(ctx context.Context, mem Memory, srcMask *tensor.Floats) (State, error) {
	var out idResponse
	if err := c.makeRequest(ctx, "/v1/init_state", initStateRequest{Memory: mem.ID, SrcMask: srcMask}, &out); err != nil {
		return State{}, fmt.Errorf("init state failed: %w", err)
	}
	if out.State == "" {
		return State{}, fmt.Errorf("init state failed: server returned no state id")
	}
	return State{ID: out.State}, nil
}

// ForwardSeg implements Model.
func (c *HTTPClient) ForwardSeg(ctx context.Context, state State) (Control, error) {
	var out idResponse
	if err := c.makeRequest(ctx, "/v1/forward_seg", forwardSegRequest{State: state.ID}, &out); err != nil {
		return Control{}, fmt.Errorf("forward seg failed: %w", err)
	}
	if out.Control == "" {
		return Control{}, fmt.Errorf("forward seg failed: server returned no control id")
	}
	return Control{ID: out.Control}, nil
}

// Step implements Model.
func (c *HTTPClient) Step(ctx context.Context, in StepInput) (*tensor.Floats, *tensor.Floats, error) {
	req := stepRequest{
		Tokens:    in.Tokens,
		State:     in.State.ID,
		SrcOOV:    in.SrcOOV,
		MaxNumOOV: in.MaxNumOOV,
	}
	if in.Control != nil {
		req.Control = in.Control.ID
	}
	var out stepResponse
	if err := c.makeRequest(ctx, "/v1/step", req, &out); err != nil {
		return nil, nil, fmt.Errorf("decoder step failed: %w", err)
	}
	if out.Dist == nil || out.Attn == nil {
		return nil, nil, fmt.Errorf("decoder step failed: incomplete response: %w", tensor.ErrShape)
	}
	return out.Dist, out.Attn, nil
}

// Inference implements Generator.
func (c *HTTPClient) Inference(ctx context.Context, batch *types.Batch) (*NBest, error) {
	return c.generate(ctx, "set", batch)
}

// BeamSearch implements Generator.
func (c *HTTPClient) BeamSearch(ctx context.Context, batch *types.Batch) (*NBest, error) {
	return c.generate(ctx, "beam", batch)
}

func (c *HTTPClient) generate(ctx context.Context, mode string, batch *types.Batch) (*NBest, error) {
	req := generateRequest{
		Mode:      mode,
		Src:       batch.Src,
		SrcLens:   batch.SrcLens,
		SrcMask:   batch.SrcMask,
		SrcOOV:    batch.SrcOOV,
		MaxNumOOV: batch.MaxNumOOV(),
	}
	var out NBest
	if err := c.makeRequest(ctx, "/v1/generate", req, &out); err != nil {
		return nil, fmt.Errorf("%s generation failed: %w", mode, err)
	}
	if len(out.Predictions) != batch.Size() {
		return nil, fmt.Errorf("%s generation returned %d documents for batch of %d: %w", mode, len(out.Predictions), batch.Size(), tensor.ErrShape)
	}
	return &out, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *HTTPClient) makeRequest(ctx context.Context, path string, request, result any) error {
	reqBody, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiError struct {
			Detail string `json:"detail"`
		}
		detail := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiError) == nil && apiError.Detail != "" {
			detail = apiError.Detail
		}
		return &StatusError{Code: resp.StatusCode, Body: detail}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
