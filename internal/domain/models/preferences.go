package models

import "time"

type CategoryPreference struct {
	Visible  bool `json:"visible"`
	Priority int  `json:"priority"`
}

// UserToolPreferences holds per-tool weight overrides, conflict rules and
// category visibility.
type UserToolPreferences struct {
	ToolWeights   map[string]float64            `json:"toolWeights"`
	ConflictRules []ConflictRule                `json:"conflictRules"`
	Categories    map[string]CategoryPreference `json:"categories"`
	UpdatedAt     time.Time                     `json:"updatedAt"`
}

func NewUserToolPreferences() *UserToolPreferences {
	return &UserToolPreferences{
		ToolWeights: make(map[string]float64),
		Categories:  make(map[string]CategoryPreference),
	}
}

// Weight returns the override for a tool, checking the instance id before
// the bare name. Missing overrides weigh 1.
func (p *UserToolPreferences) Weight(toolID, name string) float64 {
	if p == nil {
		return 1
	}
	if w, ok := p.ToolWeights[toolID]; ok {
		return w
	}
	if w, ok := p.ToolWeights[name]; ok {
		return w
	}
	return 1
}

// CategoryVisible reports whether tools of category should be listed.
func (p *UserToolPreferences) CategoryVisible(category string) bool {
	if p == nil {
		return true
	}
	c, ok := p.Categories[category]
	return !ok || c.Visible
}

func (p *UserToolPreferences) Clone() *UserToolPreferences {
	out := NewUserToolPreferences()
	if p == nil {
		return out
	}
	for k, v := range p.ToolWeights {
		out.ToolWeights[k] = v
	}
	for k, v := range p.Categories {
		out.Categories[k] = v
	}
	out.ConflictRules = append([]ConflictRule(nil), p.ConflictRules...)
	out.UpdatedAt = p.UpdatedAt
	return out
}
