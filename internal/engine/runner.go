package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ArthurVigier/Cerastes-Public-API/internal/modelmgr"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/prompt"
	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// progressFunc reports fractional completion and a human-readable phase.
// Calls double as heartbeats for the watchdog.
type progressFunc func(p float64, msg string)

// stepResult records one resolved prompt and its model output inside a
// multi-stage analysis.
type stepResult struct {
	Step   int    `json:"step"`
	Prompt string `json:"prompt"`
	Output string `json:"output"`
}

type textResult struct {
	Model     string       `json:"model"`
	Output    string       `json:"output"`
	Steps     []stepResult `json:"steps,omitempty"`
	Segmented bool         `json:"segmented,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

type mediaResult struct {
	Model            string    `json:"model"`
	Path             string    `json:"path"`
	Language         string    `json:"language,omitempty"`
	Segments         []string  `json:"segments"`
	Analysis         string    `json:"analysis"`
	Diarization      string    `json:"diarization,omitempty"`
	DiarizationModel string    `json:"diarization_model,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type batchResult struct {
	Model     string    `json:"model"`
	Outputs   []string  `json:"outputs"`
	Timestamp time.Time `json:"timestamp"`
}

// generate acquires a lease on the job's model, runs a single inference and
// releases the lease. Lease lifetime is exactly the inference call.
func (e *Engine) generate(ctx context.Context, modelID, promptText string, maxTokens int, temperature float64) (string, error) {
	h, err := e.mgr.Acquire(ctx, modelID)
	if err != nil {
		return "", err
	}
	defer e.mgr.Release(h)
	out, err := e.mgr.Run(ctx, h, modelmgr.Input{
		Prompt:      promptText,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	return out.Text, nil
}

// runText executes a text-inference task: either a prompt sequence where
// each stage's output feeds the next, or a single prompt, segmenting long
// inputs with a final synthesis pass.
func (e *Engine) runText(ctx context.Context, j *job, p TextPayload, progress progressFunc) (json.RawMessage, error) {
	bindings := make(map[string]string, len(p.Bindings)+1)
	for k, v := range p.Bindings {
		bindings[k] = v
	}
	bindings["text"] = p.Text

	if len(p.PromptSequence) > 0 {
		return e.runTextSequence(ctx, j, p, bindings, progress)
	}

	name := p.PromptName
	if name == "" {
		name = "system_1"
	}

	segments := splitText(p.Text, maxSegments)
	if len(segments) == 1 {
		resolved, err := e.cfg.Prompts.Resolve(name, bindings)
		if err != nil {
			return nil, err
		}
		progress(0.1, "analyzing")
		out, err := e.generate(ctx, j.modelID, resolved, p.MaxTokens, p.Temperature)
		if err != nil {
			return nil, err
		}
		return marshalResult(textResult{Model: j.modelID, Output: out, Timestamp: time.Now().UTC()})
	}

	// Long input: analyze each segment, then synthesize.
	steps := make([]stepResult, 0, len(segments)+1)
	partials := ""
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bindings["text"] = seg
		resolved, err := e.cfg.Prompts.Resolve(name, bindings)
		if err != nil {
			return nil, err
		}
		progress(float64(i)/float64(len(segments)+1), fmt.Sprintf("segment %d/%d", i+1, len(segments)))
		out, err := e.generate(ctx, j.modelID, resolved, p.MaxTokens, p.Temperature)
		if err != nil {
			return nil, err
		}
		steps = append(steps, stepResult{Step: i + 1, Prompt: resolved, Output: out})
		if partials != "" {
			partials += "\n\n"
		}
		partials += out
	}

	bindings["text"] = partials
	bindings[prompt.ChainKey] = partials
	resolved, err := e.cfg.Prompts.Resolve("system_final", bindings)
	if err != nil {
		return nil, err
	}
	progress(float64(len(segments))/float64(len(segments)+1), "synthesizing")
	final, err := e.generate(ctx, j.modelID, resolved, p.MaxTokens, p.Temperature)
	if err != nil {
		return nil, err
	}
	steps = append(steps, stepResult{Step: len(segments) + 1, Prompt: resolved, Output: final})
	return marshalResult(textResult{Model: j.modelID, Output: final, Steps: steps, Segmented: true, Timestamp: time.Now().UTC()})
}

// runTextSequence threads a prompt chain: stage N's output becomes the
// previous_output and text bindings of stage N+1.
func (e *Engine) runTextSequence(ctx context.Context, j *job, p TextPayload, bindings map[string]string, progress progressFunc) (json.RawMessage, error) {
	sess, err := prompt.NewSession(e.cfg.Prompts, p.PromptSequence, bindings)
	if err != nil {
		return nil, err
	}

	steps := make([]stepResult, 0, sess.Len())
	var last string
	for !sess.Done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stage, err := sess.Current()
		if err != nil {
			return nil, err
		}
		step := len(steps) + 1
		progress(float64(step-1)/float64(sess.Len()), fmt.Sprintf("stage %d/%d: %s", step, sess.Len(), stage.Name))
		out, err := e.generate(ctx, j.modelID, stage.Resolved, p.MaxTokens, p.Temperature)
		if err != nil {
			return nil, err
		}
		sess.Advance(stage, out)
		steps = append(steps, stepResult{Step: step, Prompt: stage.Resolved, Output: out})
		last = out
	}
	return marshalResult(textResult{Model: j.modelID, Output: last, Steps: steps, Timestamp: time.Now().UTC()})
}

// runMedia executes transcription and video analysis tasks. The media file
// is validated through the file accessor and analyzed chunk by chunk; each
// chunk boundary is a cancellation checkpoint.
func (e *Engine) runMedia(ctx context.Context, j *job, p MediaPayload, progress progressFunc) (json.RawMessage, error) {
	size, err := e.cfg.Files.Stat(ctx, p.Path)
	if err != nil {
		return nil, validationError{msg: "media file unavailable: " + err.Error()}
	}

	n := p.Segments
	if n <= 0 {
		n = segmentCountForSize(size)
	}
	promptName := mediaPromptFor(j.kind)

	outputs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bindings := map[string]string{
			"text":     fmt.Sprintf("%s [chunk %d/%d]", p.Path, i+1, n),
			"path":     p.Path,
			"language": p.Language,
		}
		resolved, err := e.cfg.Prompts.Resolve(promptName, bindings)
		if err != nil {
			return nil, err
		}
		progress(float64(i)/float64(n), fmt.Sprintf("chunk %d/%d", i+1, n))
		out, err := e.generate(ctx, j.modelID, resolved, 0, 0)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}

	analysis := ""
	for i, o := range outputs {
		if i > 0 {
			analysis += "\n"
		}
		analysis += o
	}

	// Speaker separation runs as a final pass over the whole file on the
	// diarization model; availability was checked at admission.
	var diarization, diarizationModel string
	if p.Diarize && j.kind == types.KindTranscription {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		mdl, ok := e.mgr.DefaultFor(types.ModelDiarization)
		if !ok {
			return nil, validationError{msg: "no diarization model registered"}
		}
		bindings := map[string]string{
			"text":     p.Path,
			"path":     p.Path,
			"language": p.Language,
		}
		resolved, err := e.cfg.Prompts.Resolve("diarization_analysis", bindings)
		if err != nil {
			return nil, err
		}
		progress(float64(n)/float64(n+1), "diarizing")
		out, err := e.generate(ctx, mdl.ID, resolved, 0, 0)
		if err != nil {
			return nil, err
		}
		diarization = out
		diarizationModel = mdl.ID
	}

	return marshalResult(mediaResult{
		Model:            j.modelID,
		Path:             p.Path,
		Language:         p.Language,
		Segments:         outputs,
		Analysis:         analysis,
		Diarization:      diarization,
		DiarizationModel: diarizationModel,
		Timestamp:        time.Now().UTC(),
	})
}

// runBatch applies one prompt to each text in order. Each item is a
// cancellation checkpoint and advances progress.
func (e *Engine) runBatch(ctx context.Context, j *job, p BatchPayload, progress progressFunc) (json.RawMessage, error) {
	name := p.PromptName
	if name == "" {
		name = "system_1"
	}
	outputs := make([]string, 0, len(p.Texts))
	for i, text := range p.Texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resolved, err := e.cfg.Prompts.Resolve(name, map[string]string{"text": text})
		if err != nil {
			return nil, err
		}
		progress(float64(i)/float64(len(p.Texts)), fmt.Sprintf("item %d/%d", i+1, len(p.Texts)))
		out, err := e.generate(ctx, j.modelID, resolved, p.MaxTokens, p.Temperature)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return marshalResult(batchResult{Model: j.modelID, Outputs: outputs, Timestamp: time.Now().UTC()})
}

func mediaPromptFor(kind types.TaskKind) string {
	switch kind {
	case types.KindVideoManipulation:
		return "manipulation_analysis"
	case types.KindVideoNonverbal:
		return "nonverbal_analysis"
	default:
		return "transcription_general_analysis"
	}
}

// segmentCountForSize derives analysis chunks from media size, one chunk
// per 16 MiB, clamped to a sane range.
func segmentCountForSize(size int64) int {
	n := int(size/(16<<20)) + 1
	if n > maxSegments {
		n = maxSegments
	}
	if n < 1 {
		n = 1
	}
	return n
}

func marshalResult(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}
