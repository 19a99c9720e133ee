package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "conductor.yaml"

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "CONDUCTOR_CONFIG"

// Config represents the conductor configuration
type Config struct {
	Pool         PoolConfig         `yaml:"pool"`
	Leases       LeaseConfig        `yaml:"leases"`
	Runtime      RuntimeConfig      `yaml:"runtime"`
	Store        StoreConfig        `yaml:"store"`
	Redis        RedisConfig        `yaml:"redis"`
	Hub          HubConfig          `yaml:"hub"`
	Logging      LoggingConfig      `yaml:"logging"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// PoolConfig contains worker pool settings
type PoolConfig struct {
	MaxConcurrentAgents int `yaml:"max_concurrent_agents"`
}

// LeaseConfig contains file lease settings
type LeaseConfig struct {
	TTLMinutes int  `yaml:"ttl_minutes"`
	Strict     bool `yaml:"strict"` // reject overlapping exclusive claims instead of warning
}

// TTL returns the lease TTL as a duration.
func (c LeaseConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// RuntimeConfig selects and tunes the LLM backend
type RuntimeConfig struct {
	Provider      string `yaml:"provider"` // "anthropic" or "scripted"
	Model         string `yaml:"model,omitempty"`
	APIKeyEnv     string `yaml:"api_key_env,omitempty"`
	MaxTokens     int    `yaml:"max_tokens,omitempty"`
	MaxIterations int    `yaml:"max_iterations,omitempty"`
}

// StoreConfig contains work-item store settings
type StoreConfig struct {
	WorkItemsPath string `yaml:"workitems_path,omitempty"` // empty keeps items in memory
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db,omitempty"`
}

// HubConfig contains HTTP hub settings
type HubConfig struct {
	Port     int    `yaml:"port"`
	StateDir string `yaml:"state_dir"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// OrchestratorConfig contains orchestrator behaviour toggles
type OrchestratorConfig struct {
	AutoReport bool `yaml:"auto_report"` // enqueue a task when a worker completes or fails
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxConcurrentAgents: 4,
		},
		Leases: LeaseConfig{
			TTLMinutes: 60,
			Strict:     false,
		},
		Runtime: RuntimeConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-20250514",
			APIKeyEnv:     "ANTHROPIC_API_KEY",
			MaxTokens:     8192,
			MaxIterations: 50,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Hub: HubConfig{
			Port:     7433,
			StateDir: ".conductor",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Orchestrator: OrchestratorConfig{
			AutoReport: true,
		},
	}
}

// Load reads and parses a conductor.yaml file over the defaults
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cleanPath, err)
	}

	return cfg, nil
}

// Path resolves the config file location: explicit flag, then
// $CONDUCTOR_CONFIG, then ./conductor.yaml.
func Path(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return filepath.Join(".", DefaultFileName)
}

// LoadOrDefault loads the resolved config file. A missing file yields the
// defaults; a present but broken one is an error.
func LoadOrDefault(flag string) (*Config, error) {
	path := Path(flag)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Save writes the config to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// APIKey returns the runtime API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.Runtime.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Runtime.APIKeyEnv)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Pool.MaxConcurrentAgents < 1 || c.Pool.MaxConcurrentAgents > 64 {
		return fmt.Errorf("pool.max_concurrent_agents must be between 1 and 64")
	}

	if c.Leases.TTLMinutes < 1 {
		return fmt.Errorf("leases.ttl_minutes must be positive")
	}

	switch c.Runtime.Provider {
	case "anthropic", "scripted":
	default:
		return fmt.Errorf("runtime.provider must be anthropic or scripted, got %q", c.Runtime.Provider)
	}

	if c.Runtime.MaxTokens < 0 || c.Runtime.MaxIterations < 0 {
		return fmt.Errorf("runtime limits must not be negative")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if c.Hub.Port < 1 || c.Hub.Port > 65535 {
		return fmt.Errorf("hub.port must be between 1 and 65535")
	}

	return nil
}
