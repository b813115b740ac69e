package routing

import (
	"context"

	"github.com/longregen/toolrouter/internal/domain/models"
	"github.com/longregen/toolrouter/internal/ports"
)

// Discovery lists every tool instance currently offered by the built-in
// source and the connected servers.
type Discovery struct {
	builtin ports.BuiltinToolSource
	hub     ports.ToolHub
	// usage overlays statistics recorded locally for built-in tools.
	usage func(toolID string) (models.ToolUsageStats, bool)
}

func NewDiscovery(builtin ports.BuiltinToolSource, hub ports.ToolHub, usage func(string) (models.ToolUsageStats, bool)) *Discovery {
	return &Discovery{builtin: builtin, hub: hub, usage: usage}
}

func (d *Discovery) Discover(ctx context.Context) ([]models.UnifiedTool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var tools []models.UnifiedTool
	if d.builtin != nil {
		for _, t := range d.builtin.ListTools() {
			t = t.Clone()
			t.Source = models.SourceBuiltin
			t.SourceType = models.SourceTypeBuiltin
			t.ID = models.ToolID(models.SourceBuiltin, t.Name)
			if d.usage != nil {
				if u, ok := d.usage(t.ID); ok {
					t.Usage = u
				}
			}
			tools = append(tools, t)
		}
	}
	if d.hub != nil {
		for _, t := range d.hub.ServerTools() {
			t = t.Clone()
			t.SourceType = models.SourceTypeExternal
			tools = append(tools, t)
		}
	}
	return tools, nil
}
