package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/toolrouter/internal/domain/models"
)

func builtinTool(name string) models.UnifiedTool {
	return models.UnifiedTool{
		ID:          models.ToolID(models.SourceBuiltin, name),
		Name:        name,
		Source:      models.SourceBuiltin,
		SourceType:  models.SourceTypeBuiltin,
		Reliability: 0.95,
	}
}

func externalTool(server, name string) models.UnifiedTool {
	return models.UnifiedTool{
		ID:          models.ToolID(server, name),
		Name:        name,
		Source:      server,
		SourceType:  models.SourceTypeExternal,
		Reliability: 0.8,
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Read File":   "readfile",
		"read_file":   "readfile",
		"read-file":   "readfile",
		"READ.FILE!":  "readfile",
		"search2go":   "search2go",
		"  spaced  ":  "spaced",
		"":            "",
		"Ünïcode_Tøø": "ünïcodetøø",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeName(in), "NormalizeName(%q)", in)
	}
}

func TestResolve_NormalizedGroupPrefersBuiltin(t *testing.T) {
	r := NewResolver(models.StrategyPreferBuiltin)

	res := r.Resolve([]models.UnifiedTool{
		externalTool("fs", "Read File"),
		builtinTool("read_file"),
	}, nil)

	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, "readfile", c.Name)
	assert.Equal(t, models.SourceBuiltin, c.SelectedSource)
	assert.ElementsMatch(t, []string{"builtin", "fs"}, c.Sources)

	require.Len(t, res.Selected, 1)
	assert.Equal(t, "builtin:read_file", res.Selected[0].ID)
	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, "fs:Read File", res.Alternatives[0].ID)
}

func TestResolve_UserRuleWinsRegardlessOfOrder(t *testing.T) {
	r := NewResolver(models.StrategyPreferBuiltin)
	rules := []models.ConflictRule{{ID: "r1", Pattern: "read_file", PreferredSource: "fs"}}

	orders := [][]models.UnifiedTool{
		{builtinTool("read_file"), externalTool("fs", "Read File")},
		{externalTool("fs", "Read File"), builtinTool("read_file")},
	}
	for _, tools := range orders {
		res := r.Resolve(tools, rules)
		require.Len(t, res.Conflicts, 1)
		assert.Equal(t, "fs", res.Conflicts[0].SelectedSource)
		assert.Equal(t, "r1", res.Conflicts[0].RuleID)
		assert.False(t, res.Conflicts[0].AwaitingUser)
	}
}

func TestResolve_FirstMatchingRuleAppliesToWholeGroup(t *testing.T) {
	r := NewResolver(models.StrategyPreferBuiltin)
	rules := []models.ConflictRule{
		{ID: "missing", Pattern: "search*", PreferredSource: "not-configured"},
		{ID: "wild", Pattern: "search*", Strategy: models.StrategyPreferExternal},
		{ID: "later", Pattern: "search_files", PreferredSource: "builtin"},
	}

	res := r.Resolve([]models.UnifiedTool{
		builtinTool("search_files"),
		externalTool("zeta", "search_files"),
		externalTool("alpha", "Search Files"),
	}, rules)

	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, "wild", c.RuleID)
	assert.Equal(t, models.StrategyPreferExternal, c.Strategy)
	assert.Equal(t, "alpha", c.SelectedSource)
	assert.Len(t, res.Alternatives, 2)
}

func TestResolve_PerformanceBased(t *testing.T) {
	r := NewResolver(models.StrategyPerformanceBased)

	a := builtinTool("search_files")
	a.Usage = models.ToolUsageStats{UsageCount: 10, SuccessRate: 0.7, AverageExecutionMs: 5}
	b := externalTool("b", "search_files")
	b.Usage = models.ToolUsageStats{UsageCount: 10, SuccessRate: 0.99, AverageExecutionMs: 40}

	res := r.Resolve([]models.UnifiedTool{a, b}, nil)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "b", res.Conflicts[0].SelectedSource)

	// Equal success rates fall back to latency.
	b.Usage.SuccessRate = 0.7
	res = r.Resolve([]models.UnifiedTool{a, b}, nil)
	assert.Equal(t, models.SourceBuiltin, res.Conflicts[0].SelectedSource)
}

func TestResolve_UserChoiceIsDeterministic(t *testing.T) {
	r := NewResolver(models.StrategyUserChoice)

	res := r.Resolve([]models.UnifiedTool{
		externalTool("zeta", "fetch"),
		externalTool("alpha", "fetch"),
	}, nil)

	require.Len(t, res.Conflicts, 1)
	assert.True(t, res.Conflicts[0].AwaitingUser)
	assert.Equal(t, "alpha", res.Conflicts[0].SelectedSource)
}

func TestResolve_NoUnresolvedDuplicates(t *testing.T) {
	r := NewResolver(models.StrategyPreferExternal)

	res := r.Resolve([]models.UnifiedTool{
		builtinTool("calc"),
		externalTool("a", "Calc"),
		externalTool("b", "c-a-l-c"),
		builtinTool("current_time"),
	}, nil)

	seen := make(map[string]bool)
	for _, tool := range res.Selected {
		key := NormalizeName(tool.Name)
		assert.False(t, seen[key], "duplicate normalized name %q", key)
		seen[key] = true
	}
	assert.Len(t, res.Selected, 2)
	assert.Len(t, res.Alternatives, 2)
}

func TestNewResolver_InvalidDefault(t *testing.T) {
	r := NewResolver("coin-flip")
	assert.Equal(t, models.StrategyPreferBuiltin, r.DefaultStrategy())
}

func TestTokenize(t *testing.T) {
	tests := map[string][]string{
		"readFile":           {"read", "file"},
		"search_files":       {"search", "files"},
		"HTTP fetch-2 pages": {"http", "fetch", "2", "pages"},
		"":                   nil,
	}
	for in, want := range tests {
		assert.Equal(t, want, Tokenize(in), "Tokenize(%q)", in)
	}
}
