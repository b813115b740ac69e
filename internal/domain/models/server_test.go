package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/longregen/toolrouter/internal/domain"
)

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr error
	}{
		{
			name: "valid stdio",
			cfg: ServerConfig{ID: "fs", Name: "Files", Transport: TransportConfig{
				Type: TransportStdio, Command: "mcp-fs",
			}},
		},
		{
			name: "valid websocket",
			cfg: ServerConfig{ID: "ws", Name: "Socket", Transport: TransportConfig{
				Type: TransportWebSocket, URL: "ws://localhost:9000",
			}},
		},
		{
			name:    "missing id",
			cfg:     ServerConfig{Name: "x", Transport: TransportConfig{Type: TransportStdio, Command: "x"}},
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "id with colon",
			cfg:     ServerConfig{ID: "a:b", Name: "x", Transport: TransportConfig{Type: TransportStdio, Command: "x"}},
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "stdio without command",
			cfg:     ServerConfig{ID: "a", Name: "x", Transport: TransportConfig{Type: TransportStdio}},
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "sse without url",
			cfg:     ServerConfig{ID: "a", Name: "x", Transport: TransportConfig{Type: TransportSSE}},
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name:    "unknown transport",
			cfg:     ServerConfig{ID: "a", Name: "x", Transport: TransportConfig{Type: "carrier-pigeon"}},
			wantErr: domain.ErrInvalidTransport,
		},
		{
			name:    "missing transport",
			cfg:     ServerConfig{ID: "a", Name: "x"},
			wantErr: domain.ErrInvalidTransport,
		},
		{
			name: "network transport without network access",
			cfg: ServerConfig{ID: "a", Name: "x",
				Transport: TransportConfig{Type: TransportSSE, URL: "http://example.com/sse"},
				Security:  SecurityConfig{NetworkAccess: NetworkNone},
			},
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name: "sandboxed working dir outside allowed paths",
			cfg: ServerConfig{ID: "a", Name: "x",
				Transport: TransportConfig{Type: TransportStdio, Command: "x", WorkingDir: "/etc"},
				Security:  SecurityConfig{Sandboxed: true, AllowedPaths: []string{"/srv/tools"}},
			},
			wantErr: domain.ErrInvalidConfig,
		},
		{
			name: "sandboxed working dir inside allowed paths",
			cfg: ServerConfig{ID: "a", Name: "x",
				Transport: TransportConfig{Type: TransportStdio, Command: "x", WorkingDir: "/srv/tools/fs"},
				Security:  SecurityConfig{Sandboxed: true, AllowedPaths: []string{"/srv/tools"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if !domain.IsConfigError(err) {
				t.Errorf("expected a configuration error, got %v", err)
			}
		})
	}
}

func TestServerConfig_JSONDurationsInMilliseconds(t *testing.T) {
	data := []byte(`{
		"id": "fs",
		"name": "Files",
		"transport": {"type": "stdio", "command": "mcp-fs"},
		"security": {"sandboxed": false, "maxExecutionTime": 1500},
		"autoRestart": true,
		"healthCheckInterval": 10000,
		"retryDelay": 250,
		"maxRetries": 4
	}`)

	var cfg ServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.HealthCheckInterval != 10*time.Second {
		t.Errorf("HealthCheckInterval = %v", cfg.HealthCheckInterval)
	}
	if cfg.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v", cfg.RetryDelay)
	}
	if cfg.Security.MaxExecutionTime != 1500*time.Millisecond {
		t.Errorf("MaxExecutionTime = %v", cfg.Security.MaxExecutionTime)
	}
	if !cfg.AutoRestart || cfg.MaxRetries != 4 {
		t.Errorf("unexpected retry settings: %+v", cfg)
	}

	out, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(out, &generic); err != nil {
		t.Fatalf("unmarshal generic: %v", err)
	}
	if generic["retryDelay"] != float64(250) {
		t.Errorf("retryDelay serialized as %v", generic["retryDelay"])
	}
}

func TestTransportConfig_Equal(t *testing.T) {
	a := TransportConfig{Type: TransportStdio, Command: "x", Args: []string{"--a"}, Env: map[string]string{"K": "V"}}
	b := a
	b.Args = []string{"--a"}
	if !a.Equal(b) {
		t.Error("expected equal transports")
	}
	b.Env = map[string]string{"K": "W"}
	if a.Equal(b) {
		t.Error("expected env change to be detected")
	}
}

func TestToolUsageStats_Record(t *testing.T) {
	var s ToolUsageStats
	now := time.Now()

	s.Record(100*time.Millisecond, true, now)
	if s.UsageCount != 1 || s.SuccessRate != 1 || s.AverageExecutionMs != 100 {
		t.Fatalf("unexpected stats after first record: %+v", s)
	}

	s.Record(300*time.Millisecond, false, now)
	if s.UsageCount != 2 {
		t.Errorf("UsageCount = %d", s.UsageCount)
	}
	if s.AverageExecutionMs != 200 {
		t.Errorf("AverageExecutionMs = %v", s.AverageExecutionMs)
	}
	if s.SuccessRate >= 1 || s.SuccessRate <= 0 {
		t.Errorf("SuccessRate = %v", s.SuccessRate)
	}
}

func TestSplitToolID(t *testing.T) {
	source, name, ok := SplitToolID("fs:read_file")
	if !ok || source != "fs" || name != "read_file" {
		t.Errorf("got %q %q %v", source, name, ok)
	}
	_, name, ok = SplitToolID("read_file")
	if ok || name != "read_file" {
		t.Errorf("bare name: got %q %v", name, ok)
	}
}
