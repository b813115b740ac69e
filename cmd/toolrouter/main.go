package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/longregen/toolrouter/internal/config"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "toolrouter",
		Short: "toolrouter - unified tool router for built-in and MCP tools",
		Long: `toolrouter connects to external MCP tool servers, merges their tools with
the built-in ones into a single catalog, and routes searches and executions
across all of them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configPath != "" {
				cfg, err = config.LoadFile(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger = newLogger(cfg, os.Stderr)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (JSON or YAML)")

	rootCmd.AddCommand(
		serveCmd(),
		searchCmd(),
		execCmd(),
		serversCmd(),
		healthCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Current configuration:")
			if cfg.Path() != "" {
				fmt.Fprintf(out, "  File: %s\n", cfg.Path())
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Logging:")
			fmt.Fprintf(out, "  Level:  %s\n", cfg.LogLevel)
			fmt.Fprintf(out, "  Format: %s\n", cfg.LogFormat)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Database:")
			fmt.Fprintf(out, "  Driver:      %s\n", cfg.Database.Driver)
			fmt.Fprintf(out, "  SQLite Path: %s\n", cfg.Database.Path)
			fmt.Fprintf(out, "  PostgreSQL:  %s\n", maskSecret(cfg.Database.PostgresURL))
			fmt.Fprintln(out)

			fmt.Fprintln(out, "HTTP:")
			fmt.Fprintf(out, "  Listen:       %s\n", cfg.Addr())
			fmt.Fprintf(out, "  CORS Origins: %s\n", listOrNone(cfg.Server.CORSOrigins))
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Router:")
			fmt.Fprintf(out, "  Default Strategy: %s\n", cfg.Router.DefaultStrategy)
			fmt.Fprintf(out, "  Refresh Interval: %s\n", cfg.Router.RefreshInterval.Std())
			fmt.Fprintf(out, "  Exec Timeout:     %s\n", cfg.Router.ExecTimeout.Std())
			fmt.Fprintf(out, "  Breaker:          %d failures, %s reset\n", cfg.Router.BreakerFailures, cfg.Router.BreakerReset.Std())
			fmt.Fprintf(out, "  Thresholds:       window %d, success >= %.2f, latency <= %.0fms\n",
				cfg.Router.WindowSize, cfg.Router.MinSuccessRate, cfg.Router.MaxLatencyMs)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Hub:")
			fmt.Fprintf(out, "  Client Name:        %s\n", cfg.Hub.ClientName)
			fmt.Fprintf(out, "  Request Timeout:    %s\n", cfg.Hub.RequestTimeout.Std())
			fmt.Fprintf(out, "  Tool Sync Interval: %s\n", cfg.Hub.ToolSyncInterval.Std())
			fmt.Fprintf(out, "  Seeded Servers:     %d\n", len(cfg.Servers))
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Built-in tools:")
			fmt.Fprintf(out, "  Root:           %s\n", cfg.Builtin.Root)
			fmt.Fprintf(out, "  Max File Bytes: %d\n", cfg.Builtin.MaxFileBytes)
			fmt.Fprintf(out, "  Network:        %s\n", boolStatus(!cfg.Builtin.DisableNetwork))
			fmt.Fprintln(out)

			fmt.Fprintf(out, "Tracing: %s\n", boolStatus(cfg.Tracing.Enabled))
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Environment variables:")
			fmt.Fprintln(out, "  TOOLROUTER_CONFIG, TOOLROUTER_LOG_LEVEL, TOOLROUTER_LOG_FORMAT")
			fmt.Fprintln(out, "  TOOLROUTER_DB_DRIVER, TOOLROUTER_DB_PATH, TOOLROUTER_POSTGRES_URL")
			fmt.Fprintln(out, "  TOOLROUTER_SERVER_HOST, TOOLROUTER_SERVER_PORT, TOOLROUTER_CORS_ORIGINS")
			fmt.Fprintln(out, "  TOOLROUTER_DEFAULT_STRATEGY, TOOLROUTER_REFRESH_INTERVAL, TOOLROUTER_EXEC_TIMEOUT")
			fmt.Fprintln(out, "  TOOLROUTER_BUILTIN_ROOT, TOOLROUTER_DISABLE_NETWORK, TOOLROUTER_SERVERS, TOOLROUTER_TRACING")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// version needs no configuration
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "toolrouter %s\n", version)
			fmt.Fprintf(out, "  Commit:     %s\n", commit)
			fmt.Fprintf(out, "  Build Date: %s\n", buildDate)
		},
	}
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
