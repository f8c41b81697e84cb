package modelmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// Input is the request passed to a model runtime.
type Input struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Output is the response produced by a model runtime.
type Output struct {
	Text   string
	Tokens int
}

// Runtime is a loaded model ready to serve inference. Implementations wrap
// the actual inference kernels, which this package treats as opaque.
type Runtime interface {
	Generate(ctx context.Context, in Input) (Output, error)
	Close() error
}

// Adapter loads model runtimes. Load errors should be returned as-is; the
// manager wraps them into its load-error taxonomy.
type Adapter interface {
	Load(ctx context.Context, mdl types.Model) (Runtime, error)
}

// stubAdapter is the default adapter. It produces deterministic placeholder
// output with a configurable latency, enough to exercise the full scheduling
// path without a real inference backend.
type stubAdapter struct {
	loadDelay time.Duration
	genDelay  time.Duration
}

// NewStubAdapter returns an adapter that simulates model load and generation
// latency. Zero durations mean no artificial delay.
func NewStubAdapter(loadDelay, genDelay time.Duration) Adapter {
	return &stubAdapter{loadDelay: loadDelay, genDelay: genDelay}
}

func (a *stubAdapter) Load(ctx context.Context, mdl types.Model) (Runtime, error) {
	if a.loadDelay > 0 {
		select {
		case <-time.After(a.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &stubRuntime{model: mdl, delay: a.genDelay}, nil
}

type stubRuntime struct {
	model types.Model
	delay time.Duration
}

func (r *stubRuntime) Generate(ctx context.Context, in Input) (Output, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return Output{}, ctx.Err()
		}
	}
	text := fmt.Sprintf("[%s] %s", r.model.ID, in.Prompt)
	return Output{Text: text, Tokens: len(in.Prompt) / 4}, nil
}

func (r *stubRuntime) Close() error { return nil }
