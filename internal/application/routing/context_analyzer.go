package routing

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/longregen/toolrouter/internal/domain/catalog"
	"github.com/longregen/toolrouter/internal/domain/models"
)

// Context signal weights. They sum to 1.
const (
	weightProject = 0.25
	weightSubject = 0.25
	weightFile    = 0.2
	weightKeyword = 0.2
	weightUsage   = 0.1
)

// recencyHalfLife is how long until a tool's last use counts half as much.
const recencyHalfLife = 24 * time.Hour

// frequencySaturation is the usage count at which frequency maxes out.
const frequencySaturation = 100

var projectCategories = map[string][]string{
	"web":           {"web", "code", "filesystem"},
	"frontend":      {"web", "code"},
	"backend":       {"code", "data", "system"},
	"go":            {"code", "filesystem", "system"},
	"python":        {"code", "data", "filesystem"},
	"node":          {"code", "web", "filesystem"},
	"data":          {"data", "math", "filesystem"},
	"data-science":  {"data", "math"},
	"documentation": {"filesystem", "search", "web"},
	"research":      {"web", "search"},
	"devops":        {"system", "code", "web"},
}

var subjectCategories = map[string][]string{
	"math":        {"math", "data"},
	"mathematics": {"math", "data"},
	"science":     {"math", "data", "web"},
	"coding":      {"code", "filesystem", "search"},
	"programming": {"code", "filesystem", "search"},
	"writing":     {"filesystem", "web", "search"},
	"research":    {"web", "search"},
	"history":     {"web", "search"},
	"language":    {"web", "search"},
}

var fileTypeCategories = map[string][]string{
	"go":   {"code", "filesystem"},
	"py":   {"code", "data"},
	"js":   {"code", "web"},
	"ts":   {"code", "web"},
	"html": {"web", "code"},
	"css":  {"web", "code"},
	"json": {"data", "code"},
	"yaml": {"data", "system"},
	"yml":  {"data", "system"},
	"csv":  {"data", "math"},
	"sql":  {"data", "code"},
	"md":   {"filesystem", "search"},
	"txt":  {"filesystem", "search"},
	"sh":   {"system", "code"},
}

// ContextAnalyzer scores how relevant a tool is to what the user is doing.
// It holds only static tables and is safe for concurrent use.
type ContextAnalyzer struct {
	now func() time.Time
}

func NewContextAnalyzer() *ContextAnalyzer {
	return &ContextAnalyzer{now: time.Now}
}

// Score returns a relevance in [0,1]. Context dimensions that are not set do
// not count against the tool; the usage term always applies.
func (a *ContextAnalyzer) Score(tool models.UnifiedTool, sc *models.SearchContext) float64 {
	var total, weights float64
	add := func(weight, score float64) {
		total += weight * score
		weights += weight
	}

	if sc != nil {
		if sc.ProjectType != "" {
			add(weightProject, categoryMatch(tool, lookup(projectCategories, sc.ProjectType)))
		}
		if sc.SubjectMode != "" {
			add(weightSubject, categoryMatch(tool, lookup(subjectCategories, sc.SubjectMode)))
		}
		if sc.OpenFileType != "" {
			add(weightFile, fileTypeMatch(tool, sc.OpenFileType))
		}
		if len(sc.RecentKeywords) > 0 {
			add(weightKeyword, keywordOverlap(tool, sc.RecentKeywords))
		}
	}
	add(weightUsage, a.usageSignal(tool.Usage))

	if weights == 0 {
		return 0
	}
	return clamp01(total / weights)
}

// usageSignal mixes how recently and how often a tool ran.
func (a *ContextAnalyzer) usageSignal(u models.ToolUsageStats) float64 {
	if u.UsageCount == 0 {
		return 0
	}
	freq := math.Log1p(float64(u.UsageCount)) / math.Log1p(frequencySaturation)
	var recency float64
	if u.LastUsed != nil {
		age := a.now().Sub(*u.LastUsed)
		if age < 0 {
			age = 0
		}
		recency = math.Exp2(-float64(age) / float64(recencyHalfLife))
	}
	return clamp01(0.5*min(freq, 1) + 0.5*recency)
}

func lookup(table map[string][]string, key string) []string {
	key = strings.ToLower(strings.TrimSpace(key))
	if cats, ok := table[key]; ok {
		return cats
	}
	// unknown values still match a category of the same name
	return []string{key}
}

// categoryMatch is 1 for a tool in the primary category, decreasing for
// later categories, and 0.5 for a tag-only match.
func categoryMatch(tool models.UnifiedTool, cats []string) float64 {
	for i, c := range cats {
		if tool.Category == c {
			return 1 - 0.2*float64(i)
		}
	}
	for _, c := range cats {
		if slices.Contains(tool.Tags, c) {
			return 0.5
		}
	}
	return 0
}

func fileTypeMatch(tool models.UnifiedTool, fileType string) float64 {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(fileType), "."))
	score := categoryMatch(tool, lookup(fileTypeCategories, ext))
	if score < 1 && slices.Contains(toolTokens(tool), ext) {
		score = max(score, 0.8)
	}
	return score
}

// keywordOverlap is the fraction of recent keywords present in the tool's
// name, description or tags.
func keywordOverlap(tool models.UnifiedTool, keywords []string) float64 {
	tokens := toolTokens(tool)
	seen := 0
	total := 0
	for _, kw := range keywords {
		kwTokens := catalog.Tokenize(kw)
		if len(kwTokens) == 0 {
			continue
		}
		total++
		for _, k := range kwTokens {
			if slices.Contains(tokens, k) {
				seen++
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(seen) / float64(total)
}

func toolTokens(tool models.UnifiedTool) []string {
	tokens := catalog.Tokenize(tool.Name + " " + tool.Description + " " + tool.Category)
	for _, tag := range tool.Tags {
		tokens = append(tokens, catalog.Tokenize(tag)...)
	}
	return tokens
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
