package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/toolrouter/internal/config"
	"github.com/longregen/toolrouter/internal/domain/models"
)

func TestParseToolArgs(t *testing.T) {
	args, err := parseToolArgs(`{"path":"a.txt","limit":3}`, []string{"limit=5", "expression=2 * 3", "verbose=true"})
	require.NoError(t, err)
	assert.Equal(t, "a.txt", args["path"])
	assert.Equal(t, 5.0, args["limit"])
	assert.Equal(t, "2 * 3", args["expression"])
	assert.Equal(t, true, args["verbose"])

	_, err = parseToolArgs("", []string{"novalue"})
	assert.Error(t, err)
	_, err = parseToolArgs("{", nil)
	assert.Error(t, err)
}

func TestSeedID(t *testing.T) {
	assert.Equal(t, "cfg_file_system", seedID("File System"))
	assert.Equal(t, "cfg_web-search_2", seedID("web-search:2"))

	cfg := models.ServerConfig{ID: seedID("My Server: v2"), Name: "x", Transport: models.TransportConfig{Type: models.TransportStdio, Command: "x"}}
	assert.NoError(t, cfg.WithDefaults().Validate())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	c := config.DefaultConfig()
	c.LogLevel = "warn"
	c.LogFormat = "json"

	l := newLogger(c, &buf)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	l.Info("dropped")
	l.Warn("kept", "server_id", "srv_1")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"server_id":"srv_1"`)
}

func TestSaveServers(t *testing.T) {
	cfg = config.DefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "toolrouter.db")
	logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	st, err := openStores(cmd.Context())
	require.NoError(t, err)
	defer st.close()

	configs := []models.ServerConfig{
		{Name: "fs", Transport: models.TransportConfig{Type: models.TransportStdio, Command: "mcp-fs"}},
		{ID: "srv_web", Name: "web", Transport: models.TransportConfig{Type: models.TransportSSE, URL: "http://localhost:3001/sse"}},
	}
	saved, err := saveServers(cmd, st, configs, false)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.NotEmpty(t, saved[0].ID)

	stored, err := st.servers.List(cmd.Context())
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	_, err = saveServers(cmd, st, configs[1:], false)
	assert.Error(t, err, "duplicate id without replace")
	_, err = saveServers(cmd, st, configs[1:], true)
	assert.NoError(t, err)

	// nothing is stored when one descriptor is invalid
	bad := []models.ServerConfig{
		{ID: "srv_ok", Name: "ok", Transport: models.TransportConfig{Type: models.TransportStdio, Command: "ok"}},
		{ID: "srv_bad", Name: "bad", Transport: models.TransportConfig{Type: "pigeon"}},
	}
	_, err = saveServers(cmd, st, bad, true)
	require.Error(t, err)
	_, err = st.servers.GetByID(cmd.Context(), "srv_ok")
	assert.Error(t, err)

	var out bytes.Buffer
	export := serversExportCmd()
	export.SetOut(&out)
	export.SetContext(context.Background())
	require.NoError(t, export.RunE(export, nil))
	assert.Contains(t, out.String(), "srv_web")
}
