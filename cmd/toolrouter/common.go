package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/longregen/toolrouter/internal/adapters/id"
	"github.com/longregen/toolrouter/internal/adapters/mcp"
	"github.com/longregen/toolrouter/internal/adapters/memstore"
	"github.com/longregen/toolrouter/internal/adapters/postgres"
	"github.com/longregen/toolrouter/internal/adapters/sqlite"
	"github.com/longregen/toolrouter/internal/adapters/tracing"
	"github.com/longregen/toolrouter/internal/application/events"
	"github.com/longregen/toolrouter/internal/application/routing"
	"github.com/longregen/toolrouter/internal/application/tools/builtin"
	"github.com/longregen/toolrouter/internal/config"
	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
	"github.com/longregen/toolrouter/internal/ports"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global variables
var (
	cfg    *config.Config
	logger *slog.Logger
)

func newLogger(c *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	l := slog.New(handler)
	slog.SetDefault(l)
	return l
}

// stores is the persistence selected by database.driver.
type stores struct {
	servers ports.ServerConfigRepository
	prefs   ports.PreferencesRepository
	close   func()
}

func openStores(ctx context.Context) (*stores, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, postgres.NewTransactionManager(pool)); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Debug("using postgres store")
		return &stores{
			servers: postgres.NewServerConfigRepository(pool),
			prefs:   postgres.NewPreferencesRepository(pool),
			close:   pool.Close,
		}, nil

	case "memory":
		logger.Debug("using in-memory store")
		return &stores{
			servers: memstore.NewServerConfigStore(),
			prefs:   memstore.NewPreferencesStore(),
			close:   func() {},
		}, nil

	default:
		store, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		logger.Debug("using sqlite store", "path", cfg.Database.Path)
		return &stores{
			servers: store.Servers(),
			prefs:   store.Preferences(),
			close: func() {
				if err := store.Close(); err != nil {
					logger.Warn("failed to close sqlite store", "error", err)
				}
			},
		}, nil
	}
}

// appOptions selects how much of the runtime a command needs.
type appOptions struct {
	// background enables the router refresh timer.
	background bool
}

// app is the fully wired hub and router.
type app struct {
	bus    *events.Bus
	ids    *id.Generator
	stores *stores
	hub    *mcp.Hub
	router *routing.Router

	shutdownTracer func(context.Context) error
}

func buildApp(ctx context.Context, opts appOptions) (*app, error) {
	a := &app{
		bus:            events.NewBus(),
		ids:            id.New(),
		shutdownTracer: func(context.Context) error { return nil },
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracer("toolrouter", os.Stderr)
		if err != nil {
			logger.Warn("failed to initialize tracing", "error", err)
		} else {
			a.shutdownTracer = shutdown
		}
	}

	st, err := openStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.stores = st

	source, err := builtin.NewDefaultSource(builtin.Options{
		Root:           cfg.Builtin.Root,
		MaxFileBytes:   cfg.Builtin.MaxFileBytes,
		DisableNetwork: cfg.Builtin.DisableNetwork,
	}, logger)
	if err != nil {
		st.close()
		return nil, fmt.Errorf("failed to register built-in tools: %w", err)
	}

	strategy := models.ConflictStrategy(cfg.Router.DefaultStrategy)

	hubOpts := mcp.DefaultHubOptions()
	hubOpts.ClientName = cfg.Hub.ClientName
	hubOpts.ClientVersion = version
	hubOpts.RequestTimeout = cfg.Hub.RequestTimeout.Std()
	hubOpts.DefaultStrategy = strategy
	hubOpts.ToolSyncInterval = cfg.Hub.ToolSyncInterval.Std()
	a.hub = mcp.NewHub(hubOpts, mcp.HubDeps{
		Store:   st.servers,
		Builtin: source,
		Sink:    a.bus,
		IDs:     a.ids,
		Logger:  logger,
	})

	n, err := a.hub.LoadServers(ctx)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	logger.Info("loaded stored servers", "count", n)
	a.seedServers(ctx)

	routerOpts := routing.DefaultOptions()
	routerOpts.DefaultStrategy = strategy
	routerOpts.DefaultTimeout = cfg.Router.ExecTimeout.Std()
	routerOpts.BreakerFailures = cfg.Router.BreakerFailures
	routerOpts.BreakerReset = cfg.Router.BreakerReset.Std()
	routerOpts.Performance.WindowSize = cfg.Router.WindowSize
	routerOpts.Performance.MinSuccessRate = cfg.Router.MinSuccessRate
	routerOpts.Performance.MaxLatencyMs = cfg.Router.MaxLatencyMs
	routerOpts.RefreshInterval = 0
	if opts.background {
		routerOpts.RefreshInterval = cfg.Router.RefreshInterval.Std()
	}
	a.router = routing.NewRouter(routerOpts, routing.Deps{
		Builtin:     source,
		Hub:         a.hub,
		Preferences: st.prefs,
		Sink:        a.bus,
		IDs:         a.ids,
		Logger:      logger,
	})
	a.hub.OnToolsChanged(func(string) { a.router.RequestRefresh() })

	if err := a.router.Initialize(ctx); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to initialize router: %w", err)
	}
	return a, nil
}

// seedServers registers servers from the configuration that the store does
// not know yet. Seeds without an id get one derived from their name so a
// restart finds them again.
func (a *app) seedServers(ctx context.Context) {
	for _, server := range cfg.Servers {
		if server.ID == "" {
			server.ID = seedID(server.Name)
		}
		if _, err := a.hub.AddServer(ctx, server); err != nil {
			if errors.Is(err, domain.ErrServerExists) {
				continue
			}
			logger.Warn("skipping configured server", "server_id", server.ID, "error", err)
			continue
		}
		logger.Info("registered configured server", "server_id", server.ID)
	}
}

func seedID(name string) string {
	var b strings.Builder
	b.WriteString("cfg_")
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (a *app) close(ctx context.Context) {
	if a.router != nil {
		if err := a.router.Close(ctx); err != nil {
			logger.Warn("router close failed", "error", err)
		}
	}
	if a.hub != nil {
		if err := a.hub.Shutdown(ctx); err != nil {
			logger.Warn("hub shutdown failed", "error", err)
		}
	}
	a.bus.Close()
	if a.stores != nil {
		a.stores.close()
	}
	if err := a.shutdownTracer(ctx); err != nil {
		logger.Warn("error shutting down tracer", "error", err)
	}
}

// maskSecret masks a secret string for display
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// boolStatus returns a status string for a boolean
func boolStatus(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
