package models

import (
	"encoding/json"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/longregen/toolrouter/internal/domain"
)

type TransportType string

const (
	TransportStdio     TransportType = "stdio"
	TransportSSE       TransportType = "sse"
	TransportWebSocket TransportType = "websocket"
)

type NetworkAccess string

const (
	NetworkNone       NetworkAccess = "none"
	NetworkRestricted NetworkAccess = "restricted"
	NetworkFull       NetworkAccess = "full"
)

const (
	DefaultHealthCheckInterval = 30 * time.Second
	DefaultRetryDelay          = 5 * time.Second
	DefaultMaxRetries          = 3
)

// TransportConfig selects and parameterizes one of the supported transports.
type TransportConfig struct {
	Type       TransportType     `json:"type" yaml:"type"`
	Command    string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args       []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	WorkingDir string            `json:"workingDir,omitempty" yaml:"workingDir,omitempty"`
	URL        string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Protocols  []string          `json:"protocols,omitempty" yaml:"protocols,omitempty"`
}

// Equal reports whether two transport configurations describe the same endpoint.
func (t TransportConfig) Equal(o TransportConfig) bool {
	return t.Type == o.Type &&
		t.Command == o.Command &&
		slices.Equal(t.Args, o.Args) &&
		maps.Equal(t.Env, o.Env) &&
		t.WorkingDir == o.WorkingDir &&
		t.URL == o.URL &&
		maps.Equal(t.Headers, o.Headers) &&
		slices.Equal(t.Protocols, o.Protocols)
}

// SecurityConfig bounds what a server connection may do.
type SecurityConfig struct {
	Sandboxed        bool          `json:"sandboxed"`
	AllowedPaths     []string      `json:"allowedPaths,omitempty"`
	MaxExecutionTime time.Duration `json:"-"`
	MaxMemoryMB      int           `json:"maxMemoryMB,omitempty"`
	NetworkAccess    NetworkAccess `json:"networkAccess,omitempty"`
}

type securityJSON struct {
	Sandboxed          bool          `json:"sandboxed"`
	AllowedPaths       []string      `json:"allowedPaths,omitempty"`
	MaxExecutionTimeMs int64         `json:"maxExecutionTime,omitempty"`
	MaxMemoryMB        int           `json:"maxMemoryMB,omitempty"`
	NetworkAccess      NetworkAccess `json:"networkAccess,omitempty"`
}

func (s SecurityConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(securityJSON{
		Sandboxed:          s.Sandboxed,
		AllowedPaths:       s.AllowedPaths,
		MaxExecutionTimeMs: s.MaxExecutionTime.Milliseconds(),
		MaxMemoryMB:        s.MaxMemoryMB,
		NetworkAccess:      s.NetworkAccess,
	})
}

func (s *SecurityConfig) UnmarshalJSON(data []byte) error {
	var raw securityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SecurityConfig{
		Sandboxed:        raw.Sandboxed,
		AllowedPaths:     raw.AllowedPaths,
		MaxExecutionTime: time.Duration(raw.MaxExecutionTimeMs) * time.Millisecond,
		MaxMemoryMB:      raw.MaxMemoryMB,
		NetworkAccess:    raw.NetworkAccess,
	}
	return nil
}

// MaxResultBytes is the largest tool result payload accepted from this server,
// or 0 when unbounded.
func (s SecurityConfig) MaxResultBytes() int {
	if s.MaxMemoryMB <= 0 {
		return 0
	}
	return s.MaxMemoryMB * 1024 * 1024
}

// PathAllowed reports whether path lies inside one of the allowed paths.
// An empty allow list permits everything unless the server is sandboxed.
func (s SecurityConfig) PathAllowed(path string) bool {
	if len(s.AllowedPaths) == 0 {
		return !s.Sandboxed
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, allowed := range s.AllowedPaths {
		root, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ServerConfig describes one external tool server. Values are treated as
// immutable; updates replace the whole value.
type ServerConfig struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	Transport           TransportConfig `json:"transport"`
	Security            SecurityConfig  `json:"security"`
	AutoRestart         bool            `json:"autoRestart"`
	HealthCheckInterval time.Duration   `json:"-"`
	RetryDelay          time.Duration   `json:"-"`
	MaxRetries          int             `json:"maxRetries"`
	CreatedAt           time.Time       `json:"createdAt"`
}

type serverConfigAlias ServerConfig

type serverConfigJSON struct {
	serverConfigAlias
	HealthCheckIntervalMs int64 `json:"healthCheckInterval,omitempty"`
	RetryDelayMs          int64 `json:"retryDelay,omitempty"`
}

func (c ServerConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(serverConfigJSON{
		serverConfigAlias:     serverConfigAlias(c),
		HealthCheckIntervalMs: c.HealthCheckInterval.Milliseconds(),
		RetryDelayMs:          c.RetryDelay.Milliseconds(),
	})
}

func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw serverConfigJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ServerConfig(raw.serverConfigAlias)
	c.HealthCheckInterval = time.Duration(raw.HealthCheckIntervalMs) * time.Millisecond
	c.RetryDelay = time.Duration(raw.RetryDelayMs) * time.Millisecond
	return nil
}

// WithDefaults fills unset intervals with their defaults.
func (c ServerConfig) WithDefaults() ServerConfig {
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Security.NetworkAccess == "" {
		c.Security.NetworkAccess = NetworkFull
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	return c
}

// Validate checks the descriptor is usable. It is exhaustive over the
// transport type tag.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return domain.NewConfigError("id", "must not be empty")
	}
	if strings.ContainsAny(c.ID, ": \t\n") {
		return domain.NewConfigError("id", "must not contain ':' or whitespace")
	}
	if c.Name == "" {
		return domain.NewConfigError("name", "must not be empty")
	}
	if c.MaxRetries < 0 {
		return domain.NewConfigError("maxRetries", "must not be negative")
	}

	switch c.Security.NetworkAccess {
	case "", NetworkNone, NetworkRestricted, NetworkFull:
	default:
		return domain.NewConfigError("security.networkAccess", "unknown value %q", c.Security.NetworkAccess)
	}

	switch c.Transport.Type {
	case TransportStdio:
		if c.Transport.Command == "" {
			return domain.NewConfigError("transport.command", "required for stdio transport")
		}
		if c.Security.Sandboxed && c.Transport.WorkingDir == "" {
			return domain.NewConfigError("transport.workingDir", "required for sandboxed servers")
		}
		if c.Transport.WorkingDir != "" && !c.Security.PathAllowed(c.Transport.WorkingDir) {
			return domain.NewConfigError("transport.workingDir", "%q is outside the allowed paths", c.Transport.WorkingDir)
		}
	case TransportSSE, TransportWebSocket:
		if c.Transport.URL == "" {
			return domain.NewConfigError("transport.url", "required for %s transport", c.Transport.Type)
		}
		if c.Security.NetworkAccess == NetworkNone {
			return domain.NewConfigError("security.networkAccess", "network transports need network access")
		}
	case "":
		return domain.NewDomainError(domain.ErrInvalidTransport, "transport.type is required")
	default:
		return domain.NewDomainError(domain.ErrInvalidTransport, string(c.Transport.Type))
	}
	return nil
}
