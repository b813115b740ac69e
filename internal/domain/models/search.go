package models

import "time"

// SearchContext is what the caller is currently working on.
type SearchContext struct {
	ProjectType    string   `json:"projectType,omitempty"`
	SubjectMode    string   `json:"subjectMode,omitempty"`
	OpenFileType   string   `json:"openFileType,omitempty"`
	RecentKeywords []string `json:"recentKeywords,omitempty"`
}

func (c *SearchContext) IsZero() bool {
	return c == nil || (c.ProjectType == "" && c.SubjectMode == "" && c.OpenFileType == "" && len(c.RecentKeywords) == 0)
}

const DefaultMaxResults = 10

type SearchOptions struct {
	MaxResults int    `json:"maxResults,omitempty"`
	Category   string `json:"category,omitempty"`
	Source     string `json:"source,omitempty"`
	// IncludeAlternatives returns the instances conflict resolution did not
	// select alongside the selected ones.
	IncludeAlternatives bool    `json:"includeAlternatives,omitempty"`
	MinScore            float64 `json:"minScore,omitempty"`
}

// SearchResult is a ranked tool with its score breakdown.
type SearchResult struct {
	Tool         UnifiedTool `json:"tool"`
	Score        float64     `json:"score"`
	TextScore    float64     `json:"textScore"`
	ContextScore float64     `json:"contextScore"`
	UsageScore   float64     `json:"usageScore"`
	Weight       float64     `json:"weight"`
	Alternative  bool        `json:"alternative,omitempty"`
}

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
	TrendStable    Trend = "stable"
)

// ExecutionSample is one entry of a tool's rolling performance window.
type ExecutionSample struct {
	Timestamp  time.Time `json:"timestamp"`
	DurationMs float64   `json:"durationMs"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Fallback   bool      `json:"fallback,omitempty"`
}

// PerformanceMetrics summarizes a tool's rolling window.
type PerformanceMetrics struct {
	ToolID           string    `json:"toolId"`
	Samples          int       `json:"samples"`
	SuccessRate      float64   `json:"successRate"`
	AverageLatencyMs float64   `json:"averageLatencyMs"`
	P95LatencyMs     float64   `json:"p95LatencyMs"`
	Trend            Trend     `json:"trend"`
	LastExecuted     time.Time `json:"lastExecuted"`
}

// ToolPreview is everything needed to present one tool.
type ToolPreview struct {
	Tool          UnifiedTool        `json:"tool"`
	Metrics       PerformanceMetrics `json:"metrics"`
	RecentSamples []ExecutionSample  `json:"recentSamples"`
	Documentation string             `json:"documentation,omitempty"`
	Examples      []map[string]any   `json:"examples,omitempty"`
	Similar       []UnifiedTool      `json:"similar"`
	Conflict      *ToolConflict      `json:"conflict,omitempty"`
}

// CategorySummary lists a category with its visible tool count.
type CategorySummary struct {
	Name      string `json:"name"`
	ToolCount int    `json:"toolCount"`
	Priority  int    `json:"priority"`
}
