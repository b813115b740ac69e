package mcp

import (
	"sort"

	"github.com/longregen/toolrouter/internal/domain/catalog"
	"github.com/longregen/toolrouter/internal/domain/models"
)

const CategoryGeneral = "general"

// categoryKeywords maps categories to words that suggest them in a tool's
// name or description. Earlier categories win ties.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"filesystem", []string{"file", "files", "directory", "folder", "path", "read", "write", "fs"}},
	{"search", []string{"search", "find", "grep", "query", "lookup", "index"}},
	{"web", []string{"http", "url", "web", "fetch", "browse", "scrape", "download", "html"}},
	{"code", []string{"code", "git", "compile", "lint", "test", "debug", "repository", "commit"}},
	{"data", []string{"database", "sql", "table", "csv", "json", "record", "dataset"}},
	{"math", []string{"calculate", "calculator", "math", "equation", "compute", "sum", "solve"}},
	{"communication", []string{"email", "message", "slack", "send", "notify", "chat"}},
	{"system", []string{"process", "shell", "command", "exec", "system", "env", "time", "clock"}},
}

// InferCategory guesses a category from the tool's name and description.
// Name matches count double.
func InferCategory(name, description string) string {
	nameTokens := catalog.Tokenize(name)
	descTokens := catalog.Tokenize(description)

	best, bestScore := CategoryGeneral, 0
	for _, ck := range categoryKeywords {
		score := 0
		for _, w := range ck.words {
			for _, tok := range nameTokens {
				if tok == w {
					score += 2
				}
			}
			for _, tok := range descTokens {
				if tok == w {
					score++
				}
			}
		}
		if score > bestScore {
			best, bestScore = ck.category, score
		}
	}
	return best
}

// InferTags derives search tags from the tool name, its category and the
// source it came from.
func InferTags(name, category, source string) []string {
	set := map[string]bool{category: true}
	if source != "" {
		set[source] = true
	}
	for _, tok := range catalog.Tokenize(name) {
		if len(tok) > 2 {
			set[tok] = true
		}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// latencyClassFor maps a transport to the latency users should expect.
func latencyClassFor(t models.TransportType) models.LatencyClass {
	if t == models.TransportStdio {
		return models.LatencyFast
	}
	return models.LatencySlow
}

const externalReliability = 0.8

// toUnifiedTool tags a server tool with inferred metadata and zeroed usage.
func toUnifiedTool(cfg models.ServerConfig, tool Tool) models.UnifiedTool {
	category := InferCategory(tool.Name, tool.Description)
	return models.UnifiedTool{
		ID:           models.ToolID(cfg.ID, tool.Name),
		Name:         tool.Name,
		Description:  tool.Description,
		InputSchema:  tool.InputSchema,
		Category:     category,
		Tags:         InferTags(tool.Name, category, cfg.ID),
		Source:       cfg.ID,
		SourceType:   models.SourceTypeExternal,
		Reliability:  externalReliability,
		LatencyClass: latencyClassFor(cfg.Transport.Type),
	}
}
