package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// searchCmd ranks tools for a query
func searchCmd() *cobra.Command {
	var (
		maxResults   int
		category     string
		source       string
		alternatives bool
		project      string
		keywords     []string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the tool catalog",
		Long: `Search built-in and external tools. An empty query lists every visible
tool ranked by usage and context.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			var query string
			if len(args) > 0 {
				query = args[0]
			}
			var sc *models.SearchContext
			if project != "" || len(keywords) > 0 {
				sc = &models.SearchContext{ProjectType: project, RecentKeywords: keywords}
			}

			results, err := a.router.SearchTools(ctx, query, sc, models.SearchOptions{
				MaxResults:          maxResults,
				Category:            category,
				Source:              source,
				IncludeAlternatives: alternatives,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, results)
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No tools found.")
				return nil
			}
			printResults(out, results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&maxResults, "max", "n", models.DefaultMaxResults, "maximum number of results")
	cmd.Flags().StringVar(&category, "category", "", "only tools in this category")
	cmd.Flags().StringVar(&source, "source", "", "only tools from this source (builtin or a server id)")
	cmd.Flags().BoolVar(&alternatives, "alternatives", false, "include instances not selected by conflict resolution")
	cmd.Flags().StringVar(&project, "project", "", "project type for context scoring (e.g. go, web)")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "recent keywords for context scoring")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func printResults(w io.Writer, results []models.SearchResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tCATEGORY\tSCORE\tDESCRIPTION")
	for _, r := range results {
		id := r.Tool.ID
		if r.Alternative {
			id += " (alt)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\n", id, r.Tool.Category, r.Score, truncate(r.Tool.Description, 60))
	}
	tw.Flush()
}

// execCmd runs a tool through the router
func execCmd() *cobra.Command {
	var (
		params  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec <tool> [key=value...]",
		Short: "Execute a tool",
		Long: `Execute a tool by id or bare name. Arguments are given either as a JSON
object with --params or as key=value pairs; values that parse as JSON are
passed typed.`,
		Example: `  toolrouter exec calculator expression="2 * (3 + 4)"
  toolrouter exec builtin:read_file --params '{"path":"README.md"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := parseToolArgs(params, args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := buildApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			result, err := a.router.ExecuteTool(ctx, args[0], arguments, models.ToolExecutionContext{
				RequestedBy: "cli",
				Timeout:     timeout,
			})
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return fmt.Errorf("tool %s failed: %s", result.ToolID, result.Error.Error())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&params, "params", "p", "", "tool arguments as a JSON object")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "execution timeout (default from config)")
	return cmd
}

// parseToolArgs merges a JSON object with key=value pairs. Pairs win.
func parseToolArgs(raw string, pairs []string) (map[string]any, error) {
	args := make(map[string]any)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("invalid --params: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q, want key=value", pair)
		}
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			args[key] = typed
		} else {
			args[key] = value
		}
	}
	return args, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
