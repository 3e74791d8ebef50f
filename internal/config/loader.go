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
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// External CLI executable.
	Bin string `json:"bin" yaml:"bin" toml:"bin"`
	// Maximum concurrent subprocesses.
	Capacity int `json:"capacity" yaml:"capacity" toml:"capacity"`
	// Bound on queued requests before backpressure triggers.
	QueueDepth int `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
	// Default per-request timeout in seconds.
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
	// Grace period between SIGTERM and SIGKILL, in seconds.
	GraceSeconds int `json:"grace_seconds" yaml:"grace_seconds" toml:"grace_seconds"`
	// Directory for temp-file payloads. Empty uses the OS temp dir.
	ArtifactDir string `json:"artifact_dir" yaml:"artifact_dir" toml:"artifact_dir"`
	// Availability-cache staleness window in seconds.
	StatusTTLSeconds int `json:"status_ttl_seconds" yaml:"status_ttl_seconds" toml:"status_ttl_seconds"`
	// Credential-shadowing variables scrubbed from spawn environments.
	// Nil uses the built-in default set.
	ScrubEnv []string `json:"scrub_env" yaml:"scrub_env" toml:"scrub_env"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	Remote RemoteConfig `json:"remote" yaml:"remote" toml:"remote"`
}

// RemoteConfig configures the fallback API client.
type RemoteConfig struct {
	BaseURL   string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model     string `json:"model" yaml:"model" toml:"model"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	// Name of the environment variable holding the API key.
	APIKeyEnv string `json:"api_key_env" yaml:"api_key_env" toml:"api_key_env"`
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
