package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/longregen/toolrouter/internal/domain/models"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", cfg.Database.Driver)
	}
	if !strings.HasSuffix(cfg.Database.Path, "toolrouter.db") {
		t.Errorf("unexpected database path %q", cfg.Database.Path)
	}
	if cfg.Router.DefaultStrategy != string(models.StrategyPreferBuiltin) {
		t.Errorf("unexpected default strategy %q", cfg.Router.DefaultStrategy)
	}
	if cfg.Router.ExecTimeout.Std() != 30*time.Second {
		t.Errorf("expected 30s exec timeout, got %v", cfg.Router.ExecTimeout.Std())
	}
	if cfg.Builtin.Root == "" {
		t.Error("builtin root should default to the working directory")
	}
	if cfg.Addr() != "127.0.0.1:8090" {
		t.Errorf("unexpected addr %q", cfg.Addr())
	}
}

func TestEnvString(t *testing.T) {
	target := "original"

	t.Run("sets value when env var exists", func(t *testing.T) {
		t.Setenv("TEST_VAR", "new_value")
		envString("TEST_VAR", &target)
		if target != "new_value" {
			t.Errorf("expected 'new_value', got '%s'", target)
		}
	})

	t.Run("does not change value when env var is empty", func(t *testing.T) {
		t.Setenv("TEST_VAR", "")
		target = "original"
		envString("TEST_VAR", &target)
		if target != "original" {
			t.Errorf("expected 'original', got '%s'", target)
		}
	})
}

func TestEnvParsers(t *testing.T) {
	t.Setenv("T_INT", "42")
	t.Setenv("T_BAD_INT", "forty")
	t.Setenv("T_FLOAT", "0.25")
	t.Setenv("T_BOOL", "true")
	t.Setenv("T_DURATION", "150ms")
	t.Setenv("T_SLICE", " a, b ,,c ")

	i := 1
	envInt("T_INT", &i)
	if i != 42 {
		t.Errorf("expected 42, got %d", i)
	}
	envInt("T_BAD_INT", &i)
	if i != 42 {
		t.Errorf("invalid int should be ignored, got %d", i)
	}

	f := 1.0
	envFloat("T_FLOAT", &f)
	if f != 0.25 {
		t.Errorf("expected 0.25, got %v", f)
	}

	var b bool
	envBool("T_BOOL", &b)
	if !b {
		t.Error("expected true")
	}

	var d Duration
	envDuration("T_DURATION", &d)
	if d.Std() != 150*time.Millisecond {
		t.Errorf("expected 150ms, got %v", d.Std())
	}

	var s []string
	envStringSlice("T_SLICE", &s)
	if strings.Join(s, "|") != "a|b|c" {
		t.Errorf("unexpected slice %q", s)
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{`"2m"`, 2 * time.Minute, false},
		{`1500`, 1500 * time.Millisecond, false},
		{`"soon"`, 0, true},
		{`true`, 0, true},
	}
	for _, tt := range tests {
		var d Duration
		err := d.UnmarshalJSON([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: unexpected error state: %v", tt.in, err)
			continue
		}
		if !tt.wantErr && d.Std() != tt.want {
			t.Errorf("%s: expected %v, got %v", tt.in, tt.want, d.Std())
		}
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_JSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"log_level": "debug",
		"database": {"driver": "memory"},
		"router": {"default_strategy": "performance-based", "refresh_interval": "10s"},
		"servers": [{"name": "fs", "transport": {"type": "stdio", "command": "mcp-fs"}, "retryDelay": 2000}]
	}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Path() != path {
		t.Errorf("expected path %q, got %q", path, cfg.Path())
	}
	if cfg.LogLevel != "debug" || cfg.Database.Driver != "memory" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Router.RefreshInterval.Std() != 10*time.Second {
		t.Errorf("expected 10s refresh, got %v", cfg.Router.RefreshInterval.Std())
	}
	// unset fields keep their defaults
	if cfg.Router.BreakerFailures != 5 {
		t.Errorf("expected default breaker failures, got %d", cfg.Router.BreakerFailures)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].RetryDelay != 2*time.Second {
		t.Errorf("unexpected servers %+v", cfg.Servers)
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
log_format: json
server:
  port: 9999
  cors_origins: ["http://localhost:3000"]
router:
  exec_timeout: 5s
  min_success_rate: 0.5
builtin:
  disable_network: true
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.LogFormat != "json" || cfg.Server.Port != 9999 {
		t.Errorf("yaml values not applied: %+v", cfg)
	}
	if len(cfg.Server.CORSOrigins) != 1 {
		t.Errorf("unexpected CORS origins %v", cfg.Server.CORSOrigins)
	}
	if cfg.Router.ExecTimeout.Std() != 5*time.Second || cfg.Router.MinSuccessRate != 0.5 {
		t.Errorf("router values not applied: %+v", cfg.Router)
	}
	if !cfg.Builtin.DisableNetwork {
		t.Error("expected network tools disabled")
	}
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "config.json", `{"server": {"port": 7000}, "database": {"driver": "memory"}}`)
	t.Setenv("TOOLROUTER_SERVER_PORT", "7100")
	t.Setenv("TOOLROUTER_DEFAULT_STRATEGY", "user-choice")
	t.Setenv("TOOLROUTER_SERVERS", `[{"name":"web","transport":{"type":"sse","url":"http://localhost:9000/sse"}}]`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("expected env port 7100, got %d", cfg.Server.Port)
	}
	if cfg.Router.DefaultStrategy != "user-choice" {
		t.Errorf("expected env strategy, got %q", cfg.Router.DefaultStrategy)
	}
	if len(cfg.Servers) != 1 || cfg.Servers[0].Transport.Type != models.TransportSSE {
		t.Errorf("expected seeded server from env, got %+v", cfg.Servers)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Errorf("missing file should fall back to defaults: %v", err)
	}

	bad := writeFile(t, "config.json", `{"server": `)
	if _, err := LoadFile(bad); err == nil {
		t.Error("expected parse error")
	}

	badYAML := writeFile(t, "config.yml", "server: [unclosed")
	if _, err := LoadFile(badYAML); err == nil {
		t.Error("expected yaml parse error")
	}

	invalid := writeFile(t, "config.json", `{"router": {"default_strategy": "fastest"}}`)
	_, err := LoadFile(invalid)
	if err == nil || !strings.Contains(err.Error(), "unknown conflict strategy") {
		t.Errorf("expected strategy validation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log format"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mongo" }, "database driver"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }, "PostgreSQL URL is required"},
		{"postgres bad url", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.PostgresURL = "not a url"
		}, "valid URL"},
		{"postgres ok", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.PostgresURL = "postgres://user@localhost:5432/toolrouter"
		}, ""},
		{"zero timeout", func(c *Config) { c.Router.ExecTimeout = 0 }, "exec timeout"},
		{"success rate above one", func(c *Config) { c.Router.MinSuccessRate = 1.5 }, "min success rate"},
		{"no breaker failures", func(c *Config) { c.Router.BreakerFailures = 0 }, "breaker failures"},
		{"invalid seeded server", func(c *Config) {
			c.Servers = []models.ServerConfig{{Name: "broken", Transport: models.TransportConfig{Type: models.TransportStdio}}}
		}, "server broken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("TOOLROUTER_CONFIG", "/etc/toolrouter.yaml")
	if got := getConfigPath(); got != "/etc/toolrouter.yaml" {
		t.Errorf("expected env path, got %q", got)
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TOOLROUTER_CONFIG", "")
	if got := getConfigPath(); got != filepath.Join(home, ".toolrouter", "config.json") {
		t.Errorf("unexpected default path %q", got)
	}

	if err := os.MkdirAll(filepath.Join(home, ".toolrouter"), 0o755); err != nil {
		t.Fatal(err)
	}
	yamlPath := filepath.Join(home, ".toolrouter", "config.yaml")
	if err := os.WriteFile(yamlPath, []byte("log_level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := getConfigPath(); got != yamlPath {
		t.Errorf("expected existing yaml config, got %q", got)
	}
}
