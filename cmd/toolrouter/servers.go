package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/longregen/toolrouter/internal/adapters/id"
	"github.com/longregen/toolrouter/internal/domain/models"
)

// serversCmd manages stored tool server descriptors. These commands only
// touch the store; a running server picks changes up on restart.
func serversCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage external tool servers",
	}
	cmd.AddCommand(
		serversListCmd(),
		serversAddCmd(),
		serversRemoveCmd(),
		serversImportCmd(),
		serversExportCmd(),
	)
	return cmd
}

func serversListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			configs, err := st.servers.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(configs) == 0 {
				fmt.Fprintln(out, "No servers configured.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTRANSPORT\tENDPOINT")
			for _, c := range configs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.Transport.Type, endpoint(c.Transport))
			}
			return tw.Flush()
		},
	}
}

func serversAddCmd() *cobra.Command {
	var (
		serverID    string
		transport   string
		url         string
		env         []string
		workingDir  string
		description string
		autoRestart bool
	)

	cmd := &cobra.Command{
		Use:   "add <name> [command] [args...]",
		Short: "Add a server",
		Example: `  toolrouter servers add filesystem npx -y @modelcontextprotocol/server-filesystem /tmp
  toolrouter servers add search --transport sse --url http://localhost:3001/sse`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := models.ServerConfig{
				ID:          serverID,
				Name:        args[0],
				Description: description,
				AutoRestart: autoRestart,
				Transport: models.TransportConfig{
					Type:       models.TransportType(transport),
					URL:        url,
					WorkingDir: workingDir,
				},
			}
			if len(args) > 1 {
				cfg.Transport.Command = args[1]
				cfg.Transport.Args = args[2:]
			}
			if len(env) > 0 {
				cfg.Transport.Env = make(map[string]string, len(env))
				for _, kv := range env {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("invalid --env %q, want KEY=VALUE", kv)
					}
					cfg.Transport.Env[k] = v
				}
			}

			ctx := cmd.Context()
			st, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			saved, err := saveServers(cmd, st, []models.ServerConfig{cfg}, false)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added server %s (%s)\n", saved[0].ID, saved[0].Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverID, "id", "", "server id (generated when empty)")
	cmd.Flags().StringVarP(&transport, "transport", "t", string(models.TransportStdio), "transport: stdio, sse or websocket")
	cmd.Flags().StringVar(&url, "url", "", "endpoint for sse and websocket transports")
	cmd.Flags().StringSliceVarP(&env, "env", "e", nil, "environment for stdio servers (KEY=VALUE)")
	cmd.Flags().StringVar(&workingDir, "cwd", "", "working directory for stdio servers")
	cmd.Flags().StringVar(&description, "description", "", "server description")
	cmd.Flags().BoolVar(&autoRestart, "auto-restart", true, "reconnect after failures")
	return cmd
}

func serversRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a server",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			if err := st.servers.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed server %s\n", args[0])
			return nil
		},
	}
}

func serversImportCmd() *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import servers from a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read servers: %w", err)
			}
			var configs []models.ServerConfig
			if err := json.Unmarshal(data, &configs); err != nil {
				return fmt.Errorf("parse servers: %w", err)
			}

			ctx := cmd.Context()
			st, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			saved, err := saveServers(cmd, st, configs, replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d servers\n", len(saved))
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", true, "overwrite servers with the same id")
	return cmd
}

func serversExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export servers as a JSON array",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStores(ctx)
			if err != nil {
				return err
			}
			defer st.close()

			configs, err := st.servers.List(ctx)
			if err != nil {
				return err
			}
			if configs == nil {
				configs = []models.ServerConfig{}
			}
			return writeJSON(cmd.OutOrStdout(), configs)
		},
	}
}

// saveServers validates every descriptor before storing any of them.
func saveServers(cmd *cobra.Command, st *stores, configs []models.ServerConfig, replace bool) ([]models.ServerConfig, error) {
	ctx := cmd.Context()
	ids := id.New()

	prepared := make([]models.ServerConfig, 0, len(configs))
	for i, c := range configs {
		if c.ID == "" {
			c.ID = ids.GenerateServerID()
		}
		c = c.WithDefaults()
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("server %d (%s): %w", i, c.Name, err)
		}
		if !replace {
			if existing, err := st.servers.GetByID(ctx, c.ID); err == nil {
				return nil, fmt.Errorf("server %s already exists (%s)", c.ID, existing.Name)
			}
		}
		prepared = append(prepared, c)
	}

	for _, c := range prepared {
		if err := st.servers.Save(ctx, c); err != nil {
			return nil, fmt.Errorf("save server %s: %w", c.ID, err)
		}
		logger.Debug("server saved", "server_id", c.ID)
	}
	return prepared, nil
}

func endpoint(t models.TransportConfig) string {
	if t.Type == models.TransportStdio {
		return strings.TrimSpace(t.Command + " " + strings.Join(t.Args, " "))
	}
	return t.URL
}
