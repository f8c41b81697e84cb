package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ArthurVigier/Cerastes-Public-API/pkg/types"
)

// registryFile is the on-disk shape of a model registry declaration.
type registryFile struct {
	Models []types.Model `json:"models" yaml:"models" toml:"models"`
}

// LoadFile reads a model registry declaration. The format is chosen by file
// extension (.yaml/.yml, .json, .toml), matching the config loader.
func LoadFile(path string) ([]types.Model, error) {
	base, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(base)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var rf registryFile
	switch ext := strings.ToLower(filepath.Ext(base)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &rf); err != nil {
			return nil, fmt.Errorf("parse registry: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &rf); err != nil {
			return nil, fmt.Errorf("parse registry: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &rf); err != nil {
			return nil, fmt.Errorf("parse registry: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported registry extension: %s", ext)
	}
	if err := Validate(rf.Models); err != nil {
		return nil, err
	}
	return rf.Models, nil
}

// Validate checks a registry for duplicate ids and missing fields.
func Validate(models []types.Model) error {
	seen := make(map[string]struct{}, len(models))
	for _, m := range models {
		if m.ID == "" {
			return fmt.Errorf("registry: model with empty id")
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("registry: duplicate model id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Device == "" {
			return fmt.Errorf("registry: model %q has no device", m.ID)
		}
		if m.MemoryCostMB <= 0 {
			return fmt.Errorf("registry: model %q has non-positive memory cost", m.ID)
		}
	}
	return nil
}

// Builtin returns the registry used when no models file is configured: one
// model per family on a shared device, mirroring a single-GPU deployment.
func Builtin() []types.Model {
	return []types.Model{
		{ID: "deepseek-r1-14b", Name: "DeepSeek R1 14B", Kind: types.ModelLLM, Device: "gpu0", MemoryCostMB: 14000},
		{ID: "whisper-large-v3", Name: "Whisper Large v3", Kind: types.ModelWhisper, Device: "gpu0", MemoryCostMB: 3000},
		{ID: "video-analyzer-base", Name: "Video Analyzer Base", Kind: types.ModelVideo, Device: "gpu0", MemoryCostMB: 4000},
		{ID: "pyannote-diarization-3-1", Name: "Pyannote Speaker Diarization 3.1", Kind: types.ModelDiarization, Device: "gpu0", MemoryCostMB: 1000},
	}
}

// DefaultFor returns the first registered model of the given kind, used when a
// payload does not pin a model explicitly.
func DefaultFor(models []types.Model, kind types.ModelKind) (types.Model, bool) {
	for _, m := range models {
		if m.Kind == kind {
			return m, true
		}
	}
	return types.Model{}, false
}

// expandHome expands a leading '~' to the user's home directory.
func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
