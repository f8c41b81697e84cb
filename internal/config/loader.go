package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr       string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir    string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	ModelsFile string `json:"models_file" yaml:"models_file" toml:"models_file"`
	PromptsDir string `json:"prompts_dir" yaml:"prompts_dir" toml:"prompts_dir"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`

	MemoryBudgetMB        int    `json:"memory_budget_mb" yaml:"memory_budget_mb" toml:"memory_budget_mb"`
	DefaultModel          string `json:"default_model" yaml:"default_model" toml:"default_model"`
	AcquireTimeoutSeconds int    `json:"acquire_timeout_seconds" yaml:"acquire_timeout_seconds" toml:"acquire_timeout_seconds"`
	RunTimeoutSeconds     int    `json:"run_timeout_seconds" yaml:"run_timeout_seconds" toml:"run_timeout_seconds"`

	Workers          int `json:"workers" yaml:"workers" toml:"workers"`
	GlobalMaxRunning int `json:"global_max_running" yaml:"global_max_running" toml:"global_max_running"`
	MaxAttempts      int `json:"max_attempts" yaml:"max_attempts" toml:"max_attempts"`

	// Wall-clock budget per task kind, in seconds, keyed by kind name.
	KindTimeoutSeconds map[string]int `json:"kind_timeout_seconds" yaml:"kind_timeout_seconds" toml:"kind_timeout_seconds"`

	Plans map[string]Plan `json:"plans" yaml:"plans" toml:"plans"`

	// APIKeys maps an API key to the plan name it is subscribed to. Keys
	// absent from the map fall back to DefaultPlan.
	APIKeys     map[string]string `json:"api_keys" yaml:"api_keys" toml:"api_keys"`
	DefaultPlan string            `json:"default_plan" yaml:"default_plan" toml:"default_plan"`

	Postprocessing Postprocessing `json:"postprocessing" yaml:"postprocessing" toml:"postprocessing"`

	CORS CORS `json:"cors" yaml:"cors" toml:"cors"`
}

// Plan describes the concurrency ceilings attached to a subscription level.
type Plan struct {
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	MaxQueueDepth int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxTextLength int `json:"max_text_length" yaml:"max_text_length" toml:"max_text_length"`
	Priority      int `json:"priority" yaml:"priority" toml:"priority"`
}

// Postprocessing configures the result simplifier.
type Postprocessing struct {
	Enabled     bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Model       string   `json:"model" yaml:"model" toml:"model"`
	Prompt      string   `json:"prompt" yaml:"prompt" toml:"prompt"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64  `json:"temperature" yaml:"temperature" toml:"temperature"`
	ApplyTo     []string `json:"apply_to" yaml:"apply_to" toml:"apply_to"`
}

// CORS configures cross-origin behavior for the HTTP server (opt-in).
type CORS struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// DefaultPlans mirrors the subscription levels shipped with the service.
// A deployment normally overrides these from the config file.
func DefaultPlans() map[string]Plan {
	return map[string]Plan{
		"free":       {MaxConcurrent: 1, MaxQueueDepth: 8, MaxTextLength: 10000, Priority: 0},
		"basic":      {MaxConcurrent: 2, MaxQueueDepth: 16, MaxTextLength: 50000, Priority: 0},
		"premium":    {MaxConcurrent: 5, MaxQueueDepth: 32, MaxTextLength: 200000, Priority: 1},
		"enterprise": {MaxConcurrent: 20, MaxQueueDepth: 64, MaxTextLength: 500000, Priority: 2},
	}
}
