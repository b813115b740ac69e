package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// healthCmd reports server and catalog health
func healthCmd() *cobra.Command {
	var (
		remote string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show tool server health",
		Long: `Connect every stored server and report its health together with the
catalog counts. With --remote the report is read from a running API
instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var report models.HealthReport
			if remote != "" {
				r, err := fetchHealth(cmd, strings.TrimRight(remote, "/")+"/api/v1/health")
				if err != nil {
					return err
				}
				report = *r
			} else {
				a, err := buildApp(ctx, appOptions{})
				if err != nil {
					return err
				}
				defer a.close(ctx)
				report = a.router.GetHealthReport()
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, report)
			}
			printHealth(out, report)
			if !report.Healthy {
				return fmt.Errorf("%d of %d servers degraded", len(report.DegradedServerIDs), report.TotalServers)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&remote, "remote", "", "base URL of a running toolrouter API")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func fetchHealth(cmd *cobra.Command, url string) (*models.HealthReport, error) {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request health: %w", err)
	}
	defer resp.Body.Close()

	// 503 still carries the report
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("health request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var report models.HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode health report: %w", err)
	}
	return &report, nil
}

func printHealth(w io.Writer, report models.HealthReport) {
	status := "healthy"
	if !report.Healthy {
		status = "degraded"
	}
	fmt.Fprintf(w, "Status:    %s\n", status)
	fmt.Fprintf(w, "Servers:   %d/%d connected\n", report.ConnectedServers, report.TotalServers)
	fmt.Fprintf(w, "Tools:     %d built-in, %d external\n", report.BuiltinTools, report.ExternalTools)
	fmt.Fprintf(w, "Conflicts: %d unresolved\n", report.UnresolvedCount)
	fmt.Fprintf(w, "Pending:   %d requests\n", report.PendingRequests)

	if len(report.Servers) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tSTATUS\tTOOLS\tLATENCY\tERROR RATE\tLAST ERROR")
	for _, s := range report.Servers {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.0fms\t%.0f%%\t%s\n",
			s.ServerID, s.Status, s.ToolCount, s.AverageLatencyMs, s.ErrorRate*100, truncate(s.LastError, 50))
	}
	tw.Flush()
}
