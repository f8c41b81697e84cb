package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ArthurVigier/Cerastes-Public-API/internal/modelmgr"
	"github.com/ArthurVigier/Cerastes-Public-API/internal/postproc"
	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// fakeFiles serves fixed sizes for known paths.
type fakeFiles struct {
	sizes map[string]int64
}

func (f fakeFiles) Stat(_ context.Context, path string) (int64, error) {
	size, ok := f.sizes[path]
	if !ok {
		return 0, errors.New("no such file")
	}
	return size, nil
}

func TestTranscriptionTaskChunksMedia(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Files = fakeFiles{sizes: map[string]int64{"/media/interview.wav": 40 << 20}}
	})

	payload, _ := json.Marshal(MediaPayload{Path: "/media/interview.wav", Language: "en"})
	task, err := env.eng.Submit(context.Background(), "alice", types.KindTranscription, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := env.waitState(t, task.ID, types.StateCompleted)

	var res mediaResult
	if err := json.Unmarshal(done.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	// 40 MiB at one chunk per 16 MiB.
	if len(res.Segments) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(res.Segments))
	}
	if res.Model != "whisper-test" {
		t.Fatalf("transcription must use the whisper model, got %s", res.Model)
	}
	if res.Analysis == "" {
		t.Fatal("expected combined analysis")
	}
}

func TestVideoTaskUsesVideoModelAndPrompt(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Files = fakeFiles{sizes: map[string]int64{"/media/talk.mp4": 1 << 20}}
	})

	payload, _ := json.Marshal(MediaPayload{Path: "/media/talk.mp4", Segments: 2})
	task, err := env.eng.Submit(context.Background(), "alice", types.KindVideoNonverbal, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := env.waitState(t, task.ID, types.StateCompleted)

	var res mediaResult
	if err := json.Unmarshal(done.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("segments override ignored, got %d", len(res.Segments))
	}
	if res.Model != "video-test" {
		t.Fatalf("video task must use the video model, got %s", res.Model)
	}
}

func TestTranscriptionDiarizesWhenRequested(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Files = fakeFiles{sizes: map[string]int64{"/media/panel.wav": 1 << 20}}
	})

	payload, _ := json.Marshal(MediaPayload{Path: "/media/panel.wav", Diarize: true})
	task, err := env.eng.Submit(context.Background(), "alice", types.KindTranscription, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := env.waitState(t, task.ID, types.StateCompleted)

	var res mediaResult
	if err := json.Unmarshal(done.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.DiarizationModel != "diarize-test" {
		t.Fatalf("diarization must run on the diarization model, got %q", res.DiarizationModel)
	}
	if res.Diarization == "" {
		t.Fatal("expected speaker separation output")
	}
	if res.Model != "whisper-test" {
		t.Fatalf("transcription itself still uses the whisper model, got %s", res.Model)
	}
}

func TestTranscriptionWithoutDiarizeSkipsPass(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Files = fakeFiles{sizes: map[string]int64{"/media/memo.wav": 1 << 20}}
	})

	payload, _ := json.Marshal(MediaPayload{Path: "/media/memo.wav"})
	task, err := env.eng.Submit(context.Background(), "alice", types.KindTranscription, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := env.waitState(t, task.ID, types.StateCompleted)

	var res mediaResult
	if err := json.Unmarshal(done.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Diarization != "" || res.DiarizationModel != "" {
		t.Fatalf("diarization must not run unless requested: %+v", res)
	}
}

func TestDiarizeRejectedWithoutDiarizationModel(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Files = fakeFiles{sizes: map[string]int64{"/media/panel.wav": 1 << 20}}
		c.Models = modelmgr.New(modelmgr.Config{
			Registry: []types.Model{
				{ID: "whisper-only", Kind: types.ModelWhisper, Device: "gpu0", MemoryCostMB: 5},
			},
			Adapter: newScriptedAdapter(),
		})
	})

	payload, _ := json.Marshal(MediaPayload{Path: "/media/panel.wav", Diarize: true})
	_, err := env.eng.Submit(context.Background(), "alice", types.KindTranscription, payload)
	if err == nil || !IsValidation(err) {
		t.Fatalf("expected validation rejection, got %v", err)
	}
}

func TestMissingMediaFileFailsWithoutRetry(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Files = fakeFiles{sizes: map[string]int64{}}
	})

	payload, _ := json.Marshal(MediaPayload{Path: "/media/gone.wav"})
	task, err := env.eng.Submit(context.Background(), "alice", types.KindTranscription, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := env.waitState(t, task.ID, types.StateFailed)
	if done.Error == nil || done.Error.Code != "invalid_payload" {
		t.Fatalf("expected invalid_payload, got %+v", done.Error)
	}
}

func TestBatchTaskProcessesEveryText(t *testing.T) {
	env := newTestEnv(t, nil)

	payload, _ := json.Marshal(BatchPayload{Texts: []string{"one", "two", "three"}})
	task, err := env.eng.Submit(context.Background(), "vip", types.KindBatch, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := env.waitState(t, task.ID, types.StateCompleted)

	var res batchResult
	if err := json.Unmarshal(done.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Outputs) != 3 {
		t.Fatalf("expected 3 outputs, got %d", len(res.Outputs))
	}
	for i, out := range res.Outputs {
		if out == "" {
			t.Fatalf("output %d empty", i)
		}
	}
}

func TestPromptSequenceThreadsOutputs(t *testing.T) {
	env := newTestEnv(t, nil)
	env.eng.cfg.Prompts.Add("step_one", "Analyze: {text}", nil)
	env.eng.cfg.Prompts.Add("step_two", "Refine: {previous_output}", nil)

	payload, _ := json.Marshal(TextPayload{
		Text:           "source material",
		PromptSequence: []string{"step_one", "step_two"},
	})
	task, err := env.eng.Submit(context.Background(), "alice", types.KindTextInference, payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	done := env.waitState(t, task.ID, types.StateCompleted)

	var res textResult
	if err := json.Unmarshal(done.Result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(res.Steps))
	}
	if res.Steps[0].Prompt != "Analyze: source material" {
		t.Fatalf("stage 1 prompt wrong: %q", res.Steps[0].Prompt)
	}
	// The stub runtime echoes its prompt, so stage 2 must contain stage
	// 1's output.
	if want := "Refine: " + res.Steps[0].Output; res.Steps[1].Prompt != want {
		t.Fatalf("stage 2 did not receive stage 1 output: %q", res.Steps[1].Prompt)
	}
	if res.Output != res.Steps[1].Output {
		t.Fatal("final output must be the last stage's output")
	}
}

func TestPostprocessAttachesExplanation(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Simplifier = postproc.New(postproc.Config{
			Enabled: true,
			ApplyTo: []types.TaskKind{types.KindTextInference},
		}, c.Models, zerolog.Nop())
	})

	task := env.submitText(t, "alice", "explain me")
	env.waitState(t, task.ID, types.StateCompleted)

	// The explanation is attached after the completed patch.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := env.store.Get(context.Background(), task.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.PlainExplanation != "" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("plain explanation never attached")
}

func TestPostprocessFailureLeavesTaskCompleted(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Simplifier = postproc.New(postproc.Config{
			Enabled: true,
			Model:   "no-such-model",
			ApplyTo: []types.TaskKind{types.KindTextInference},
		}, c.Models, zerolog.Nop())
	})

	task := env.submitText(t, "alice", "explain me")
	done := env.waitState(t, task.ID, types.StateCompleted)
	if done.State != types.StateCompleted {
		t.Fatalf("state=%s", done.State)
	}
	if done.PlainExplanation != "" {
		t.Fatal("failed post-processing must not attach an explanation")
	}
}
