package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/toolrouter/internal/adapters/http"
	"github.com/longregen/toolrouter/internal/domain/models"
)

// serveCmd starts the HTTP API server
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the toolrouter HTTP API.

Stored and configured tool servers are connected on startup, the catalog
is refreshed periodically, and router events are streamed on
/api/v1/events.

Storage is selected by TOOLROUTER_DB_DRIVER (sqlite, postgres or memory).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer initializes and starts the HTTP API server
func runServer(ctx context.Context) error {
	logger.Info("starting toolrouter",
		"version", version,
		"addr", cfg.Addr(),
		"db_driver", cfg.Database.Driver,
		"builtin_root", cfg.Builtin.Root,
	)

	a, err := buildApp(ctx, appOptions{background: true})
	if err != nil {
		return err
	}

	stopEvents := a.bus.OnEvent(func(ev models.Event) {
		logger.Debug("event", "type", ev.Type, "server_id", ev.ServerID, "tool_id", ev.ToolID)
	})
	defer stopEvents()

	server := http.NewServer(http.Options{
		Addr:        cfg.Addr(),
		CORSOrigins: cfg.Server.CORSOrigins,
		Version:     version,
	}, http.Deps{
		Router: a.router,
		Hub:    a.hub,
		Events: a.bus,
		Logger: logger,
	})

	// Channel to listen for errors from the server
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	shutdown := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := server.Stop(shutdownCtx)
		a.close(shutdownCtx)
		return err
	}

	select {
	case err := <-serverErrors:
		_ = shutdown()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigChan:
		logger.Info("shutting down gracefully", "signal", sig.String())
		if err := shutdown(); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		logger.Info("server stopped")
		return nil
	}
}
