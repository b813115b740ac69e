package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/longregen/toolrouter/internal/domain/models"
)

const envPrefix = "TOOLROUTER_"

// Config holds all configuration for toolrouter
type Config struct {
	LogLevel  string                `json:"log_level"`
	LogFormat string                `json:"log_format"` // "text" or "json"
	Database  DatabaseConfig        `json:"database"`
	Server    ServerConfig          `json:"server"`
	Router    RouterConfig          `json:"router"`
	Hub       HubConfig             `json:"hub"`
	Builtin   BuiltinConfig         `json:"builtin"`
	Tracing   TracingConfig         `json:"tracing"`
	Servers   []models.ServerConfig `json:"servers,omitempty"`

	// path is the file the configuration was read from, if any.
	path string
}

// DatabaseConfig selects where server descriptors and preferences live
type DatabaseConfig struct {
	// Driver is "sqlite", "postgres" or "memory"
	Driver string `json:"driver"`
	// Path is used for SQLite (CLI mode)
	Path string `json:"path"`
	// PostgreSQL connection (server mode)
	PostgresURL string `json:"postgres_url"`
}

// ServerConfig holds HTTP API server configuration
type ServerConfig struct {
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	CORSOrigins []string `json:"cors_origins"`
}

type RouterConfig struct {
	DefaultStrategy string   `json:"default_strategy"`
	RefreshInterval Duration `json:"refresh_interval"`
	ExecTimeout     Duration `json:"exec_timeout"`
	BreakerFailures int      `json:"breaker_failures"`
	BreakerReset    Duration `json:"breaker_reset"`
	// Performance thresholds
	WindowSize     int     `json:"window_size"`
	MinSuccessRate float64 `json:"min_success_rate"`
	MaxLatencyMs   float64 `json:"max_latency_ms"`
}

type HubConfig struct {
	ClientName       string   `json:"client_name"`
	RequestTimeout   Duration `json:"request_timeout"`
	ToolSyncInterval Duration `json:"tool_sync_interval"`
}

// BuiltinConfig configures the in-process tools
type BuiltinConfig struct {
	// Root confines search_files and read_file
	Root           string `json:"root"`
	MaxFileBytes   int64  `json:"max_file_bytes"`
	DisableNetwork bool   `json:"disable_network"`
}

type TracingConfig struct {
	Enabled bool `json:"enabled"`
}

// Duration reads either a Go duration string ("30s") or a number of
// milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", err)
	}
	*d = Duration(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	dataDir := DataDir()
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dataDir, "toolrouter.db"),
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Router: RouterConfig{
			DefaultStrategy: string(models.StrategyPreferBuiltin),
			RefreshInterval: Duration(time.Minute),
			ExecTimeout:     Duration(models.DefaultExecutionTimeout),
			BreakerFailures: 5,
			BreakerReset:    Duration(30 * time.Second),
			WindowSize:      50,
			MinSuccessRate:  0.8,
			MaxLatencyMs:    5000,
		},
		Hub: HubConfig{
			ClientName:       "toolrouter",
			RequestTimeout:   Duration(10 * time.Second),
			ToolSyncInterval: Duration(5 * time.Minute),
		},
		Builtin: BuiltinConfig{
			Root:         cwd,
			MaxFileBytes: 1 << 20,
		},
	}
}

// DataDir is where the SQLite database and the default config file live.
func DataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".toolrouter"
	}
	return filepath.Join(homeDir, ".toolrouter")
}

// envString loads a string environment variable into the target pointer if set
func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// envInt loads an integer environment variable into the target pointer if set and valid
func envInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func envInt64(key string, target *int64) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = i
		}
	}
}

// envFloat loads a float64 environment variable into the target pointer if set and valid
func envFloat(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*target = f
		}
	}
}

func envBool(key string, target *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func envDuration(key string, target *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = Duration(d)
		}
	}
}

// envStringSlice loads a comma-separated environment variable into a string slice
func envStringSlice(key string, target *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}

// Load reads defaults, then the config file, then .env, then TOOLROUTER_*
// environment variables, and validates the result.
func Load() (*Config, error) {
	return LoadFile(getConfigPath())
}

// LoadFile is Load with an explicit config file. A missing file is not an
// error; a malformed one is.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.decode(path, data); err != nil {
				return nil, err
			}
			cfg.path = path
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// .env never overrides variables that are already set
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode merges a JSON or YAML document over cfg. YAML is converted to JSON
// first so both formats share the json field names.
func (c *Config) decode(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
		data = converted
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	envString(envPrefix+"LOG_LEVEL", &c.LogLevel)
	envString(envPrefix+"LOG_FORMAT", &c.LogFormat)

	envString(envPrefix+"DB_DRIVER", &c.Database.Driver)
	envString(envPrefix+"DB_PATH", &c.Database.Path)
	envString(envPrefix+"POSTGRES_URL", &c.Database.PostgresURL)

	envString(envPrefix+"SERVER_HOST", &c.Server.Host)
	envInt(envPrefix+"SERVER_PORT", &c.Server.Port)
	envStringSlice(envPrefix+"CORS_ORIGINS", &c.Server.CORSOrigins)

	envString(envPrefix+"DEFAULT_STRATEGY", &c.Router.DefaultStrategy)
	envDuration(envPrefix+"REFRESH_INTERVAL", &c.Router.RefreshInterval)
	envDuration(envPrefix+"EXEC_TIMEOUT", &c.Router.ExecTimeout)
	envInt(envPrefix+"BREAKER_FAILURES", &c.Router.BreakerFailures)
	envDuration(envPrefix+"BREAKER_RESET", &c.Router.BreakerReset)
	envInt(envPrefix+"WINDOW_SIZE", &c.Router.WindowSize)
	envFloat(envPrefix+"MIN_SUCCESS_RATE", &c.Router.MinSuccessRate)
	envFloat(envPrefix+"MAX_LATENCY_MS", &c.Router.MaxLatencyMs)

	envString(envPrefix+"CLIENT_NAME", &c.Hub.ClientName)
	envDuration(envPrefix+"REQUEST_TIMEOUT", &c.Hub.RequestTimeout)
	envDuration(envPrefix+"TOOL_SYNC_INTERVAL", &c.Hub.ToolSyncInterval)

	envString(envPrefix+"BUILTIN_ROOT", &c.Builtin.Root)
	envInt64(envPrefix+"MAX_FILE_BYTES", &c.Builtin.MaxFileBytes)
	envBool(envPrefix+"DISABLE_NETWORK", &c.Builtin.DisableNetwork)

	envBool(envPrefix+"TRACING", &c.Tracing.Enabled)

	// Servers are primarily configured via the store, but can be seeded via env
	if serversJSON := os.Getenv(envPrefix + "SERVERS"); serversJSON != "" {
		var envServers []models.ServerConfig
		if err := json.Unmarshal([]byte(serversJSON), &envServers); err == nil {
			c.Servers = append(c.Servers, envServers...)
		}
	}
}

// Path returns the file the configuration was read from, or "".
func (c *Config) Path() string {
	return c.path
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}

// isValidURL validates that a URL has proper format
func isValidURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, "log format must be 'text' or 'json'")
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}

	// Database validation
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database path is required for sqlite")
		}
	case "postgres":
		if c.Database.PostgresURL == "" {
			errs = append(errs, "PostgreSQL URL is required for postgres")
		} else if !isValidURL(c.Database.PostgresURL) {
			errs = append(errs, "PostgreSQL URL must be a valid URL")
		}
	case "memory":
	default:
		errs = append(errs, "database driver must be 'sqlite', 'postgres' or 'memory'")
	}

	// Router validation
	if !models.ConflictStrategy(c.Router.DefaultStrategy).Valid() {
		errs = append(errs, fmt.Sprintf("unknown conflict strategy %q", c.Router.DefaultStrategy))
	}
	if c.Router.RefreshInterval < 0 {
		errs = append(errs, "router refresh interval must not be negative")
	}
	if c.Router.ExecTimeout <= 0 {
		errs = append(errs, "router exec timeout must be positive")
	}
	if c.Router.BreakerFailures < 1 {
		errs = append(errs, "breaker failures must be at least 1")
	}
	if c.Router.WindowSize < 1 {
		errs = append(errs, "performance window size must be at least 1")
	}
	if c.Router.MinSuccessRate < 0 || c.Router.MinSuccessRate > 1 {
		errs = append(errs, "min success rate must be between 0 and 1")
	}

	// Hub validation
	if c.Hub.RequestTimeout <= 0 {
		errs = append(errs, "hub request timeout must be positive")
	}

	// Built-in tools validation
	if c.Builtin.Root == "" {
		errs = append(errs, "builtin root is required")
	}
	if c.Builtin.MaxFileBytes < 1 {
		errs = append(errs, "builtin max file bytes must be positive")
	}

	// Seeded servers validation
	for i, server := range c.Servers {
		// ids are assigned when the server is registered
		if server.ID == "" {
			server.ID = "seed"
		}
		if err := server.WithDefaults().Validate(); err != nil {
			name := server.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			errs = append(errs, fmt.Sprintf("server %s: %v", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// getConfigPath returns the path to the config file
func getConfigPath() string {
	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		return path
	}

	dir := DataDir()
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, "config.json")
}
