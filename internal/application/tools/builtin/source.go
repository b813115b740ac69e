// Package builtin provides the in-process tools that are always available
// next to the tools of external servers.
package builtin

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
	"github.com/longregen/toolrouter/internal/ports"
)

// Executor runs a built-in tool with already validated arguments.
type Executor func(ctx context.Context, args map[string]any) (any, error)

// Tool is a built-in tool definition with its executor.
type Tool struct {
	Name        string
	Description string
	Category    string
	Tags        []string
	Schema      map[string]any
	Execute     Executor
}

// Source is a registry of built-in tools.
type Source struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

var _ ports.BuiltinToolSource = (*Source)(nil)

func NewSource(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{tools: make(map[string]Tool), logger: logger}
}

// Register adds or replaces a tool.
func (s *Source) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("builtin tool name is required")
	}
	if t.Execute == nil {
		return fmt.Errorf("builtin tool %s has no executor", t.Name)
	}
	s.mu.Lock()
	s.tools[t.Name] = t
	s.mu.Unlock()
	s.logger.Debug("registered builtin tool", "tool", t.Name)
	return nil
}

// ListTools returns the registered tools sorted by name.
func (s *Source) ListTools() []models.UnifiedTool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.UnifiedTool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, models.UnifiedTool{
			ID:           models.ToolID(models.SourceBuiltin, t.Name),
			Name:         t.Name,
			Description:  t.Description,
			InputSchema:  t.Schema,
			Category:     t.Category,
			Tags:         append([]string(nil), t.Tags...),
			Source:       models.SourceBuiltin,
			SourceType:   models.SourceTypeBuiltin,
			Reliability:  1,
			LatencyClass: models.LatencyInstant,
		})
	}
	slices.SortFunc(out, func(a, b models.UnifiedTool) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (s *Source) ExecuteBuiltin(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	t, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("builtin %s: %w", name, domain.ErrToolNotFound)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.Execute(ctx, args)
}

// Options configures the default tool set.
type Options struct {
	// Root confines search_files and read_file. Empty means the working
	// directory.
	Root         string
	MaxFileBytes int64
	HTTPClient   *http.Client
	// DisableNetwork leaves out tools that reach the network.
	DisableNetwork bool
	Now            func() time.Time
}

// NewDefaultSource registers calculator, search_files, read_file,
// current_time and, unless disabled, fetch_url.
func NewDefaultSource(opts Options, logger *slog.Logger) (*Source, error) {
	s := NewSource(logger)

	files, err := newFileTools(opts.Root, opts.MaxFileBytes)
	if err != nil {
		return nil, err
	}

	tools := []Tool{
		calculatorTool(),
		files.searchTool(),
		files.readTool(),
		clockTool(opts.Now),
	}
	if !opts.DisableNetwork {
		tools = append(tools, newFetcher(opts.HTTPClient).tool())
	}
	for _, t := range tools {
		if err := s.Register(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func invalidArgs(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidToolArgs, fmt.Sprintf(format, args...))
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", invalidArgs("%s must be a non-empty string", key)
	}
	return v, nil
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
