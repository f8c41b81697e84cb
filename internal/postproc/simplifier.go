// Package postproc rewrites completed task results into plain language via a
// secondary model call. Post-processing failure never fails the parent task.
package postproc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ArthurVigier/Cerastes-Public-API/internal/modelmgr"
	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

const defaultPrompt = "Translate this json {text} in plain english"

// Config controls the simplifier.
type Config struct {
	Enabled     bool
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float64
	ApplyTo     []types.TaskKind
}

// Simplifier converts structured results into a clear prose explanation.
type Simplifier struct {
	cfg     Config
	applyTo map[types.TaskKind]struct{}
	mgr     *modelmgr.Manager
	log     zerolog.Logger
}

// New builds a Simplifier. A nil-ish config (Enabled false) yields a
// simplifier that never applies.
func New(cfg Config, mgr *modelmgr.Manager, log zerolog.Logger) *Simplifier {
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.3
	}
	applyTo := make(map[types.TaskKind]struct{}, len(cfg.ApplyTo))
	for _, k := range cfg.ApplyTo {
		applyTo[k] = struct{}{}
	}
	return &Simplifier{cfg: cfg, applyTo: applyTo, mgr: mgr, log: log}
}

// ShouldApply reports whether post-processing is enabled for the kind.
func (s *Simplifier) ShouldApply(kind types.TaskKind) bool {
	if !s.cfg.Enabled {
		return false
	}
	_, ok := s.applyTo[kind]
	return ok
}

// Apply generates a plain-language explanation of the result. It returns
// ok=false on any failure; callers log the warning and move on with the
// primary result untouched.
func (s *Simplifier) Apply(ctx context.Context, kind types.TaskKind, result json.RawMessage) (string, bool) {
	if !s.ShouldApply(kind) || len(result) == 0 {
		return "", false
	}
	modelID := s.cfg.Model
	if modelID == "" {
		mdl, ok := s.mgr.DefaultFor(types.ModelLLM)
		if !ok {
			s.log.Warn().Msg("postproc: no llm model registered")
			return "", false
		}
		modelID = mdl.ID
	}

	h, err := s.mgr.Acquire(ctx, modelID)
	if err != nil {
		s.log.Warn().Err(err).Str("model", modelID).Msg("postproc: acquire failed")
		return "", false
	}
	defer s.mgr.Release(h)

	prompt := strings.ReplaceAll(s.cfg.Prompt, "{text}", string(result))
	out, err := s.mgr.Run(ctx, h, modelmgr.Input{
		Prompt:      prompt,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("model", modelID).Msg("postproc: inference failed")
		return "", false
	}
	explanation := strings.TrimSpace(out.Text)
	if explanation == "" {
		return "", false
	}
	return explanation, true
}
