// Package config loads runtime settings from YAML or JSON5 files with
// environment variable expansion.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// ProviderSettings holds one provider's credentials.
type ProviderSettings struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// Settings is the full runtime configuration.
type Settings struct {
	AssistantName string `yaml:"assistant_name" json:"assistant_name"`
	UserName      string `yaml:"user_name" json:"user_name"`

	DefaultProvider string `yaml:"default_provider" json:"default_provider"`
	Providers       struct {
		OpenAI     ProviderSettings `yaml:"openai" json:"openai"`
		Anthropic  ProviderSettings `yaml:"anthropic" json:"anthropic"`
		Google     ProviderSettings `yaml:"google" json:"google"`
		OpenRouter ProviderSettings `yaml:"openrouter" json:"openrouter"`
	} `yaml:"providers" json:"providers"`

	DataDir    string `yaml:"data_dir" json:"data_dir"`
	RepoDir    string `yaml:"repo_dir" json:"repo_dir"`
	Workers    int    `yaml:"workers" json:"workers"`
	DebounceMs int    `yaml:"debounce_ms" json:"debounce_ms"`
	PushAfter  bool   `yaml:"push_after_evolution" json:"push_after_evolution"`

	TestCommand []string `yaml:"test_command" json:"test_command"`

	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// Load reads settings from path. The extension selects the format: .json
// and .json5 use JSON5, everything else YAML. $VAR and ${VAR} references
// are expanded from the environment before parsing.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	s := defaults()
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || ext == ".json5" {
		if err := json5.Unmarshal([]byte(expanded), s); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else {
		decoder := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		if err := decoder.Decode(s); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	s.applyEnvFallbacks()
	return s, nil
}

// Default returns settings with environment-variable credentials and no
// config file.
func Default() *Settings {
	s := defaults()
	s.applyEnvFallbacks()
	return s
}

func defaults() *Settings {
	return &Settings{
		AssistantName:   "Nous",
		UserName:        "there",
		DefaultProvider: "anthropic",
		DataDir:         "data",
		RepoDir:         ".",
		Workers:         1,
		DebounceMs:      1000,
		PushAfter:       true,
	}
}

// applyEnvFallbacks fills credentials from the conventional environment
// variables when the file left them empty.
func (s *Settings) applyEnvFallbacks() {
	if s.Providers.OpenAI.APIKey == "" {
		s.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if s.Providers.Anthropic.APIKey == "" {
		s.Providers.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if s.Providers.Google.APIKey == "" {
		s.Providers.Google.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if s.Providers.OpenRouter.APIKey == "" {
		s.Providers.OpenRouter.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
}

// DebounceWindow returns the configured debounce delay as a duration.
func (s *Settings) DebounceWindow() time.Duration {
	return time.Duration(s.DebounceMs) * time.Millisecond
}

// QueuePath is the improvement queue state file.
func (s *Settings) QueuePath() string {
	return filepath.Join(s.DataDir, "supervisor", "improvement_queue.json")
}

// AuditPath is the append-only audit log.
func (s *Settings) AuditPath() string {
	return filepath.Join(s.DataDir, "supervisor", "audit_log.jsonl")
}

// ErrorLogPath is the bounded tool-error sink.
func (s *Settings) ErrorLogPath() string {
	return filepath.Join(s.DataDir, "supervisor", "runtime_errors.jsonl")
}

// RepairStatePath is the safety guard's repair and restart state.
func (s *Settings) RepairStatePath() string {
	return filepath.Join(s.DataDir, "supervisor", "repair_state.json")
}

// MemoryPath is the conversation SQLite database.
func (s *Settings) MemoryPath() string {
	return filepath.Join(s.DataDir, "memory.db")
}
