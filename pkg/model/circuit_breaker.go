package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/soundprediction/kpset/pkg/alert"
	"github.com/soundprediction/kpset/pkg/config"
	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
)

// Backend is a model server client that serves both roles.
type Backend interface {
	Model
	Generator
}

// CircuitBreakerModel wraps a Backend with circuit breaking logic. Calls
// fail fast with gobreaker.ErrOpenState while the breaker is open.
type CircuitBreakerModel struct {
	backend Backend
	cb      *gobreaker.CircuitBreaker
	alerter alert.Alerter
	name    string
}

// NewCircuitBreakerModel creates a new circuit breaker around backend.
func NewCircuitBreakerModel(backend Backend, cfg config.CircuitBreakerConfig, alerter alert.Alerter, logger *slog.Logger, name string) *CircuitBreakerModel {
	if logger == nil {
		logger = slog.Default()
	}
	minRequests := cfg.MinRequests
	if minRequests == 0 {
		minRequests = 3
	}
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= cfg.ReadyToTripRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen && alerter != nil {
				msg := fmt.Sprintf("Circuit breaker '%s' changed status from %s to %s. Too many model server failures detected.", name, from, to)
				if err := alerter.Alert(fmt.Sprintf("URGENT: Circuit Breaker Tripped - %s", name), msg); err != nil {
					logger.Error("failed to send alert", "error", err)
				}
			}
		},
	}

	return &CircuitBreakerModel{
		backend: backend,
		cb:      gobreaker.NewCircuitBreaker(st),
		alerter: alerter,
		name:    name,
	}
}

// State returns the current breaker state.
func (c *CircuitBreakerModel) State() gobreaker.State {
	return c.cb.State()
}

// Encode implements Model.
func (c *CircuitBreakerModel) Encode(ctx context.Context, src *tensor.Tokens, srcLens []int, srcMask *tensor.Floats) (Memory, error) {
	resp, err := c.cb.Execute(func() (interface{}, error) {
		return c.backend.Encode(ctx, src, srcLens, srcMask)
	})
	if err != nil {
		return Memory{}, err
	}
	return resp.(Memory), nil
}

// InitState implements Model.
func (c *CircuitBreakerModel) InitState(ctx context.Context, mem Memory, srcMask *tensor.Floats) (State, error) {
	resp, err := c.cb.Execute(func() (interface{}, error) {
		return c.backend.InitState(ctx, mem, srcMask)
	})
	if err != nil {
		return State{}, err
	}
	return resp.(State), nil
}

// ForwardSeg implements Model.
func (c *CircuitBreakerModel) ForwardSeg(ctx context.Context, state State) (Control, error) {
	resp, err := c.cb.Execute(func() (interface{}, error) {
		return c.backend.ForwardSeg(ctx, state)
	})
	if err != nil {
		return Control{}, err
	}
	return resp.(Control), nil
}

type stepResult struct {
	dist, attn *tensor.Floats
}

// Step implements Model.
func (c *CircuitBreakerModel) Step(ctx context.Context, in StepInput) (*tensor.Floats, *tensor.Floats, error) {
	resp, err := c.cb.Execute(func() (interface{}, error) {
		dist, attn, err := c.backend.Step(ctx, in)
		return stepResult{dist: dist, attn: attn}, err
	})
	if err != nil {
		return nil, nil, err
	}
	r := resp.(stepResult)
	return r.dist, r.attn, nil
}

// Inference implements Generator.
func (c *CircuitBreakerModel) Inference(ctx context.Context, batch *types.Batch) (*NBest, error) {
	resp, err := c.cb.Execute(func() (interface{}, error) {
		return c.backend.Inference(ctx, batch)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*NBest), nil
}

// BeamSearch implements Generator.
func (c *CircuitBreakerModel) BeamSearch(ctx context.Context, batch *types.Batch) (*NBest, error) {
	resp, err := c.cb.Execute(func() (interface{}, error) {
		return c.backend.BeamSearch(ctx, batch)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*NBest), nil
}

// Health fails with gobreaker.ErrOpenState while the breaker is open and
// otherwise asks the backend, when it can report health. It does not count
// towards the breaker.
func (c *CircuitBreakerModel) Health(ctx context.Context) error {
	if c.cb.State() == gobreaker.StateOpen {
		return gobreaker.ErrOpenState
	}
	if h, ok := c.backend.(HealthChecker); ok {
		return h.Health(ctx)
	}
	return nil
}
