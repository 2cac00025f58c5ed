package model

import (
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/soundprediction/kpset/pkg/config"
	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyBackend struct {
	err   error
	calls int
}

func (f *flakyBackend) Encode(context.Context, *tensor.Tokens, []int, *tensor.Floats) (Memory, error) {
	f.calls++
	return Memory{ID: "m"}, f.err
}

func (f *flakyBackend) InitState(context.Context, Memory, *tensor.Floats) (State, error) {
	f.calls++
	return State{ID: "s"}, f.err
}

func (f *flakyBackend) ForwardSeg(context.Context, State) (Control, error) {
	f.calls++
	return Control{ID: "c"}, f.err
}

func (f *flakyBackend) Step(context.Context, StepInput) (*tensor.Floats, *tensor.Floats, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return tensor.New[float64](1, 1, 1, 2), tensor.New[float64](1, 1, 1, 1), nil
}

func (f *flakyBackend) Inference(context.Context, *types.Batch) (*NBest, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &NBest{}, nil
}

func (f *flakyBackend) BeamSearch(ctx context.Context, b *types.Batch) (*NBest, error) {
	return f.Inference(ctx, b)
}

type recordingAlerter struct{ subjects []string }

func (r *recordingAlerter) Alert(subject, _ string) error {
	r.subjects = append(r.subjects, subject)
	return nil
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	backend := &flakyBackend{}
	cb := NewCircuitBreakerModel(backend, config.CircuitBreakerConfig{ReadyToTripRatio: 0.5, Timeout: 60}, nil, nil, "model")

	ctx := context.Background()
	mem, err := cb.Encode(ctx, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "m", mem.ID)

	state, err := cb.InitState(ctx, mem, nil)
	require.NoError(t, err)
	ctrl, err := cb.ForwardSeg(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, "c", ctrl.ID)

	dist, attn, err := cb.Step(ctx, StepInput{State: state})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 2}, dist.Shape())
	assert.NotNil(t, attn)

	_, err = cb.Inference(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.NoError(t, cb.Health(ctx))
}

func TestCircuitBreakerTrips(t *testing.T) {
	backend := &flakyBackend{err: errors.New("connection refused")}
	alerter := &recordingAlerter{}
	cb := NewCircuitBreakerModel(backend, config.CircuitBreakerConfig{
		MinRequests:      3,
		ReadyToTripRatio: 0.5,
		Timeout:          60,
	}, alerter, nil, "model")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _, err := cb.Step(ctx, StepInput{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Len(t, alerter.subjects, 1)
	assert.ErrorIs(t, cb.Health(ctx), gobreaker.ErrOpenState)

	_, err := cb.BeamSearch(ctx, nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, backend.calls)
}
