// Package config loads harness settings from defaults, an optional YAML
// file, a .env file and TOOLHARNESS_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jonwraymond/toolharness/runtime"
	"github.com/jonwraymond/toolharness/search"
)

// ErrConfiguration indicates invalid settings.
var ErrConfiguration = errors.New("configuration error")

// EnvPrefix prefixes every environment variable, e.g. TOOLHARNESS_TIMEOUT_SECONDS.
const EnvPrefix = "TOOLHARNESS"

// Timeout bounds in seconds.
const (
	MinTimeoutSeconds = 1
	MaxTimeoutSeconds = 300
)

// Settings is the complete harness configuration.
type Settings struct {
	CatalogRoot    string   `mapstructure:"catalog_root"`
	WorkspaceRoot  string   `mapstructure:"workspace_root"`
	LogsDir        string   `mapstructure:"logs_dir"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxConcurrent  int      `mapstructure:"max_concurrent"`
	MaxToolCalls   int      `mapstructure:"max_tool_calls"`
	MaxChainSteps  int      `mapstructure:"max_chain_steps"`
	MaxOutputBytes int      `mapstructure:"max_output_bytes"`
	Profile        string   `mapstructure:"profile"`
	AllowedModules []string `mapstructure:"allowed_modules"`
	CacheKeyMode   string   `mapstructure:"cache_key_mode"`

	// MetricsDB is the SQLite file for execution records, relative to
	// LogsDir unless absolute. Empty keeps records in memory.
	MetricsDB string `mapstructure:"metrics_db"`

	Embedder EmbedderSettings  `mapstructure:"embedder"`
	Backends []BackendSettings `mapstructure:"backends"`
}

// EmbedderSettings selects the embedding backend for search.
type EmbedderSettings struct {
	Backend  string `mapstructure:"backend"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	TaskType string `mapstructure:"task_type"`
}

// BackendSettings describes a remote MCP server started as a subprocess.
type BackendSettings struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Env     []string `mapstructure:"env"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog_root", "servers")
	v.SetDefault("workspace_root", "workspace")
	v.SetDefault("logs_dir", "logs")
	v.SetDefault("timeout_seconds", 30)
	v.SetDefault("max_concurrent", 4)
	v.SetDefault("max_tool_calls", 100)
	v.SetDefault("max_chain_steps", 20)
	v.SetDefault("max_output_bytes", 1<<20)
	v.SetDefault("profile", string(runtime.ProfileStandard))
	v.SetDefault("allowed_modules", []string{})
	v.SetDefault("cache_key_mode", string(search.KeyName))
	v.SetDefault("metrics_db", "metrics.db")
	v.SetDefault("embedder.backend", search.BackendNone)
	v.SetDefault("embedder.model", "")
	v.SetDefault("embedder.api_key", "")
	v.SetDefault("embedder.endpoint", "")
	v.SetDefault("embedder.task_type", "")
}

// Load reads settings. path names an optional YAML file; an empty path
// reads defaults and environment only. A .env file in the working directory
// is loaded first when present and never overrides variables already set.
func Load(path string) (*Settings, error) {
	_ = godotenv.Load()
	return load(viper.New(), path)
}

func load(v *viper.Viper, path string) (*Settings, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("embedder.api_key", EnvPrefix+"_EMBEDDER_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", ErrConfiguration, path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("%w: decoding settings: %w", ErrConfiguration, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks ranges and enumerations.
func (s *Settings) Validate() error {
	var problems []string

	if strings.TrimSpace(s.CatalogRoot) == "" {
		problems = append(problems, "catalog_root is required")
	}
	if strings.TrimSpace(s.WorkspaceRoot) == "" {
		problems = append(problems, "workspace_root is required")
	}
	if s.TimeoutSeconds < MinTimeoutSeconds || s.TimeoutSeconds > MaxTimeoutSeconds {
		problems = append(problems, fmt.Sprintf("timeout_seconds must be between %d and %d, got %d",
			MinTimeoutSeconds, MaxTimeoutSeconds, s.TimeoutSeconds))
	}
	if s.MaxConcurrent < 1 {
		problems = append(problems, "max_concurrent must be at least 1")
	}
	if s.MaxToolCalls < 0 || s.MaxChainSteps < 0 || s.MaxOutputBytes < 0 {
		problems = append(problems, "limits must not be negative")
	}
	if !runtime.SecurityProfile(s.Profile).IsValid() {
		problems = append(problems, fmt.Sprintf("unknown profile %q", s.Profile))
	}
	for _, m := range s.AllowedModules {
		if runtime.Denied(m) {
			problems = append(problems, fmt.Sprintf("module %q can never be allowed", m))
		}
	}
	if _, err := search.ParseCacheKeyMode(s.CacheKeyMode); err != nil {
		problems = append(problems, fmt.Sprintf("unknown cache_key_mode %q", s.CacheKeyMode))
	}
	switch s.Embedder.Backend {
	case "", search.BackendNone, search.BackendGenAI, search.BackendOllama:
	default:
		problems = append(problems, fmt.Sprintf("unknown embedder backend %q", s.Embedder.Backend))
	}
	if _, err := search.ParseTaskType(s.Embedder.TaskType); err != nil {
		problems = append(problems, fmt.Sprintf("unknown embedder task_type %q", s.Embedder.TaskType))
	}
	seen := make(map[string]bool)
	for i, b := range s.Backends {
		switch {
		case b.Name == "" || b.Command == "":
			problems = append(problems, fmt.Sprintf("backends[%d] needs name and command", i))
		case seen[b.Name]:
			problems = append(problems, fmt.Sprintf("backends[%d] duplicates %q", i, b.Name))
		}
		seen[b.Name] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Timeout returns the default execution budget.
func (s *Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// MetricsPath returns the metrics database path, or "" for in-memory
// records.
func (s *Settings) MetricsPath() string {
	if s.MetricsDB == "" || filepath.IsAbs(s.MetricsDB) {
		return s.MetricsDB
	}
	return filepath.Join(s.LogsDir, s.MetricsDB)
}

// EmbedderConfig converts the embedder settings for search.NewEmbedder.
func (s *Settings) EmbedderConfig() search.EmbedderConfig {
	return search.EmbedderConfig{
		Backend:  s.Embedder.Backend,
		APIKey:   s.Embedder.APIKey,
		Model:    s.Embedder.Model,
		Endpoint: s.Embedder.Endpoint,
		TaskType: s.Embedder.TaskType,
	}
}
