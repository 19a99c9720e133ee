package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Pool.MaxConcurrentAgents != 4 {
		t.Errorf("expected max_concurrent_agents 4, got %d", cfg.Pool.MaxConcurrentAgents)
	}
	if cfg.Leases.TTL() != time.Hour {
		t.Errorf("expected lease ttl 1h, got %s", cfg.Leases.TTL())
	}
	if cfg.Leases.Strict {
		t.Error("expected advisory leases by default")
	}
	if cfg.Runtime.Provider != "anthropic" {
		t.Errorf("expected provider anthropic, got %s", cfg.Runtime.Provider)
	}
	if cfg.Hub.Port != 7433 {
		t.Errorf("expected hub port 7433, got %d", cfg.Hub.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "conductor.yaml")

	content := `pool:
  max_concurrent_agents: 2
leases:
  ttl_minutes: 15
  strict: true
runtime:
  provider: scripted
store:
  workitems_path: .conductor/items.db
redis:
  enabled: true
  addr: redis:6379
logging:
  level: debug
  json: true
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Pool.MaxConcurrentAgents != 2 {
		t.Errorf("expected max 2, got %d", cfg.Pool.MaxConcurrentAgents)
	}
	if !cfg.Leases.Strict || cfg.Leases.TTL() != 15*time.Minute {
		t.Errorf("unexpected lease config %+v", cfg.Leases)
	}
	if cfg.Runtime.Provider != "scripted" {
		t.Errorf("expected scripted provider, got %s", cfg.Runtime.Provider)
	}
	// Unset keys keep their defaults.
	if cfg.Runtime.MaxTokens != 8192 {
		t.Errorf("expected default max_tokens 8192, got %d", cfg.Runtime.MaxTokens)
	}
	if cfg.Hub.Port != 7433 {
		t.Errorf("expected default hub port, got %d", cfg.Hub.Port)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.JSON {
		t.Errorf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	if err := os.WriteFile(path, []byte("pool: [oops"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	if err := os.WriteFile(path, []byte("pool:\n  max_concurrent_agents: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOrDefault(filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Pool.MaxConcurrentAgents != Default().Pool.MaxConcurrentAgents {
		t.Error("expected defaults")
	}

	path := filepath.Join(dir, "conductor.yaml")
	if err := os.WriteFile(path, []byte("hub:\n  port: 9000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvConfigPath, path)

	cfg, err = LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Hub.Port != 9000 {
		t.Errorf("expected env-selected file to load, got port %d", cfg.Hub.Port)
	}
}

func TestPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if got := Path("custom.yaml"); got != "custom.yaml" {
		t.Errorf("flag should win, got %s", got)
	}
	if got := Path(""); got != DefaultFileName {
		t.Errorf("expected %s, got %s", DefaultFileName, got)
	}
	t.Setenv(EnvConfigPath, "/etc/conductor.yaml")
	if got := Path(""); got != "/etc/conductor.yaml" {
		t.Errorf("env should apply, got %s", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "conductor.yaml")

	cfg := Default()
	cfg.Pool.MaxConcurrentAgents = 7
	cfg.Leases.Strict = true
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Pool.MaxConcurrentAgents != 7 || !loaded.Leases.Strict {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero agents", func(c *Config) { c.Pool.MaxConcurrentAgents = 0 }, true},
		{"too many agents", func(c *Config) { c.Pool.MaxConcurrentAgents = 100 }, true},
		{"zero ttl", func(c *Config) { c.Leases.TTLMinutes = 0 }, true},
		{"bad provider", func(c *Config) { c.Runtime.Provider = "gpt" }, true},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, true},
		{"bad port", func(c *Config) { c.Hub.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Runtime.APIKeyEnv = "CONDUCTOR_TEST_KEY"
	t.Setenv("CONDUCTOR_TEST_KEY", "sk-test")
	if cfg.APIKey() != "sk-test" {
		t.Errorf("expected key from env, got %q", cfg.APIKey())
	}
	cfg.Runtime.APIKeyEnv = ""
	if cfg.APIKey() != "" {
		t.Error("expected empty key without env name")
	}
}
