// Package model defines the encoder-decoder network and the sequence
// generator consumed by the evaluation and inference drivers, together with
// an HTTP backend that serves both from a remote model server.
package model

import (
	"context"

	"github.com/soundprediction/kpset/pkg/tensor"
	"github.com/soundprediction/kpset/pkg/types"
)

// Memory is the encoder output of one batch. ID names it on a remote
// backend; Value carries it for in-process models.
type Memory struct {
	ID    string
	Value any
}

// State is an initialised decoder state.
type State struct {
	ID    string
	Value any
}

// Control is the per-slot control embedding used in fixed-slot mode.
type Control struct {
	ID    string
	Value any
}

// StepInput is one decoder call.
type StepInput struct {
	// Tokens is the decoder input [B, N, T]. Classic mode uses N = 1.
	Tokens    *tensor.Tokens
	State     State
	SrcOOV    *tensor.Tokens
	MaxNumOOV int
	// Control is nil in classic mode.
	Control *Control
}

// Model is the encoder-decoder network.
//
// Step decodes the whole token prefix from State and returns the
// distribution over the extended vocabulary [B, N, T, V+MaxNumOOV] and the
// attention over source positions [B, N, T, S]. It does not advance State,
// so the same State can serve any number of calls.
type Model interface {
	Encode(ctx context.Context, src *tensor.Tokens, srcLens []int, srcMask *tensor.Floats) (Memory, error)
	InitState(ctx context.Context, mem Memory, srcMask *tensor.Floats) (State, error)
	ForwardSeg(ctx context.Context, state State) (Control, error)
	Step(ctx context.Context, in StepInput) (*tensor.Floats, *tensor.Floats, error)
}

// NBest holds generator output per document, indexed [doc][candidate].
// Set decoding yields a single candidate holding every slot back to back.
type NBest struct {
	Predictions [][][]int       `json:"predictions"`
	Scores      [][][]float64   `json:"scores"`
	Attention   [][][][]float64 `json:"attention"`
}

// Generator produces predictions for a batch.
type Generator interface {
	// Inference runs free-running set decoding over all slots.
	Inference(ctx context.Context, batch *types.Batch) (*NBest, error)
	// BeamSearch runs classic one-sequence decoding.
	BeamSearch(ctx context.Context, batch *types.Batch) (*NBest, error)
}

// HealthChecker is implemented by backends that can report readiness.
type HealthChecker interface {
	Health(ctx context.Context) error
}
