package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/toolrouter/internal/domain/models"
)

func sampleIndex() *Index {
	search := builtinTool("search_files", "filesystem")
	search.Description = "Find files by glob pattern and content"
	read := builtinTool("read_file", "filesystem")
	read.Description = "Read the content of one file"
	calc := builtinTool("calculator", "math")
	calc.Description = "Evaluate arithmetic expressions"
	calc.Tags = []string{"arithmetic"}
	remote := serverTool("fs", "search_files", "filesystem")
	remote.Description = "Find files by glob pattern"
	return BuildIndex([]models.UnifiedTool{search, read, calc, remote})
}

func TestIndex_Lookups(t *testing.T) {
	ix := sampleIndex()
	assert.Equal(t, 4, ix.Len())

	got, ok := ix.Get("builtin:calculator")
	require.True(t, ok)
	assert.Equal(t, "calculator", got.Name)
	_, ok = ix.Get("nope")
	assert.False(t, ok)

	assert.Len(t, ix.ByCategory("filesystem"), 3)
	assert.Len(t, ix.ByTag("arithmetic"), 1)
	assert.Len(t, ix.BySource("fs"), 1)
	assert.Equal(t, map[string]int{"filesystem": 3, "math": 1}, ix.Categories())
}

func TestIndex_DuplicateIDsKeepFirst(t *testing.T) {
	a := builtinTool("x", "one")
	b := builtinTool("x", "two")
	ix := BuildIndex([]models.UnifiedTool{a, b})
	assert.Equal(t, 1, ix.Len())
	got, _ := ix.Get("builtin:x")
	assert.Equal(t, "one", got.Category)
}

func TestIndex_TextScore(t *testing.T) {
	ix := sampleIndex()

	tests := []struct {
		name  string
		id    string
		query string
		min   float64
		max   float64
	}{
		{"empty query", "builtin:calculator", "", 1, 1},
		{"exact", "builtin:search_files", "search files", 1, 1},
		{"substring", "builtin:calculator", "calc", 0.75, 0.9},
		{"fuzzy in order", "builtin:calculator", "clctr", 0.4, 0.7},
		{"tag token", "builtin:calculator", "arithmetic", 0.7, 0.9},
		{"description token", "builtin:read_file", "content", 0.5, 0.5},
		{"no match", "builtin:calculator", "weather", 0, 0},
		{"unknown id", "builtin:none", "calc", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ix.TextScore(tt.id, tt.query)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestIndex_Similar(t *testing.T) {
	ix := sampleIndex()

	similar := ix.Similar("builtin:search_files", 2)
	require.Len(t, similar, 2)
	assert.Equal(t, "fs:search_files", similar[0].ID)
	for _, s := range similar {
		assert.NotEqual(t, "builtin:search_files", s.ID)
	}
	assert.Nil(t, ix.Similar("missing", 3))
	assert.Nil(t, ix.Similar("builtin:calculator", 0))
}
