package engine

import (
	"encoding/json"
	"fmt"

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// Payloads are closed variants keyed by task kind, validated at admission
// time rather than carried as untyped blobs.

// TextPayload is the input for text-inference tasks.
type TextPayload struct {
	Text string `json:"text"`
	// Named template to resolve; defaults to system_1.
	PromptName string `json:"prompt_name,omitempty"`
	// Ordered template names for a multi-stage analysis session. When set,
	// PromptName is ignored.
	PromptSequence []string          `json:"prompt_sequence,omitempty"`
	Bindings       map[string]string `json:"bindings,omitempty"`
	Model          string            `json:"model,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature,omitempty"`
}

// MediaPayload is the input for transcription and video analysis tasks.
type MediaPayload struct {
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
	Model    string `json:"model,omitempty"`
	// Diarize requests speaker separation (transcription only).
	Diarize bool `json:"diarize,omitempty"`
	// Segments overrides the number of analysis chunks.
	Segments int `json:"segments,omitempty"`
}

// BatchPayload is the input for batch tasks: one prompt applied to many texts.
type BatchPayload struct {
	Texts       []string `json:"texts"`
	PromptName  string   `json:"prompt_name,omitempty"`
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
}

// parsePayload decodes and validates the payload for the kind, applying the
// owner's text-length ceiling. Returns the parsed variant.
func parsePayload(kind types.TaskKind, raw json.RawMessage, maxTextLength int) (any, error) {
	if len(raw) == 0 {
		return nil, validationError{msg: "payload is required"}
	}
	switch kind {
	case types.KindTextInference:
		var p TextPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Text == "" {
			return nil, validationError{msg: "text is required"}
		}
		if maxTextLength > 0 && len(p.Text) > maxTextLength {
			return nil, validationError{msg: fmt.Sprintf("text exceeds plan limit of %d characters", maxTextLength)}
		}
		return p, nil
	case types.KindTranscription, types.KindVideoManipulation, types.KindVideoNonverbal:
		var p MediaPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			return nil, validationError{msg: "path is required"}
		}
		if p.Segments < 0 {
			return nil, validationError{msg: "segments must be non-negative"}
		}
		return p, nil
	case types.KindBatch:
		var p BatchPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, err
		}
		if len(p.Texts) == 0 {
			return nil, validationError{msg: "texts is required"}
		}
		for _, t := range p.Texts {
			if maxTextLength > 0 && len(t) > maxTextLength {
				return nil, validationError{msg: fmt.Sprintf("a batch text exceeds plan limit of %d characters", maxTextLength)}
			}
		}
		return p, nil
	}
	return nil, validationError{msg: "unknown task kind: " + string(kind)}
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return validationError{msg: "malformed payload: " + err.Error()}
	}
	return nil
}

// modelKindFor maps a task kind to the model family that serves it.
func modelKindFor(kind types.TaskKind) types.ModelKind {
	switch kind {
	case types.KindTranscription:
		return types.ModelWhisper
	case types.KindVideoManipulation, types.KindVideoNonverbal:
		return types.ModelVideo
	default:
		return types.ModelLLM
	}
}

// pinnedModel extracts the explicit model choice from a parsed payload.
func pinnedModel(payload any) string {
	switch p := payload.(type) {
	case TextPayload:
		return p.Model
	case MediaPayload:
		return p.Model
	case BatchPayload:
		return p.Model
	}
	return ""
}
