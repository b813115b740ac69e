// Package catalog groups tool instances by normalized name and resolves
// naming conflicts between sources.
package catalog

import (
	"cmp"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// NormalizeName lower-cases name and strips punctuation and whitespace, so
// "Read File", "read_file" and "read-file" collide.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// unusedSuccessPrior stands in for the success rate of a tool that was never
// executed and declares no reliability.
const unusedSuccessPrior = 0.5

// Resolution is the outcome of resolving a set of tool instances.
type Resolution struct {
	// Selected holds exactly one instance per normalized name.
	Selected []models.UnifiedTool
	// Alternatives holds the instances that lost a conflict.
	Alternatives []models.UnifiedTool
	Conflicts    []models.ToolConflict
}

// Resolver picks one instance per normalized name.
type Resolver struct {
	defaultStrategy models.ConflictStrategy
	now             func() time.Time
}

func NewResolver(defaultStrategy models.ConflictStrategy) *Resolver {
	if !defaultStrategy.Valid() {
		defaultStrategy = models.StrategyPreferBuiltin
	}
	return &Resolver{defaultStrategy: defaultStrategy, now: time.Now}
}

func (r *Resolver) DefaultStrategy() models.ConflictStrategy {
	return r.defaultStrategy
}

// Group buckets tools by normalized name. Each bucket is sorted with built-in
// instances first and then by source id.
func Group(tools []models.UnifiedTool) map[string][]models.UnifiedTool {
	groups := make(map[string][]models.UnifiedTool)
	for _, t := range tools {
		key := NormalizeName(t.Name)
		groups[key] = append(groups[key], t)
	}
	for _, g := range groups {
		slices.SortFunc(g, compareSources)
	}
	return groups
}

func compareSources(a, b models.UnifiedTool) int {
	if a.IsBuiltin() != b.IsBuiltin() {
		if a.IsBuiltin() {
			return -1
		}
		return 1
	}
	return cmp.Or(cmp.Compare(a.Source, b.Source), cmp.Compare(a.ID, b.ID))
}

// Resolve groups tools and selects one instance per group. The first rule
// matching a group decides the whole group; groups without a matching rule
// use the default strategy.
func (r *Resolver) Resolve(tools []models.UnifiedTool, rules []models.ConflictRule) Resolution {
	groups := Group(tools)
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var res Resolution
	for _, key := range keys {
		group := groups[key]
		if len(group) == 1 {
			res.Selected = append(res.Selected, group[0])
			continue
		}

		idx, conflict := r.ResolveGroup(key, group, rules)
		for i, t := range group {
			if i == idx {
				res.Selected = append(res.Selected, t)
			} else {
				res.Alternatives = append(res.Alternatives, t)
			}
		}
		res.Conflicts = append(res.Conflicts, conflict)
	}

	slices.SortFunc(res.Selected, func(a, b models.UnifiedTool) int { return cmp.Compare(a.ID, b.ID) })
	slices.SortFunc(res.Alternatives, func(a, b models.UnifiedTool) int { return cmp.Compare(a.ID, b.ID) })
	return res
}

// ResolveGroup selects one instance of a group that shares the normalized
// name key. group must be sorted as Group sorts it.
func (r *Resolver) ResolveGroup(key string, group []models.UnifiedTool, rules []models.ConflictRule) (int, models.ToolConflict) {
	conflict := models.ToolConflict{
		Name:       key,
		DetectedAt: r.now(),
	}
	for _, t := range group {
		conflict.ToolIDs = append(conflict.ToolIDs, t.ID)
		conflict.Sources = append(conflict.Sources, t.Source)
	}

	strategy := r.defaultStrategy
	idx := -1
	if rule, ok := matchRule(key, group, rules); ok {
		conflict.RuleID = rule.ID
		if rule.PreferredSource != "" {
			idx = indexOfSource(group, rule.PreferredSource)
			strategy = models.StrategyUserChoice
		} else if rule.Strategy.Valid() {
			strategy = rule.Strategy
		}
	}

	if idx < 0 {
		idx = selectByStrategy(strategy, group)
		// Without a user rule naming a source the pick is provisional.
		conflict.AwaitingUser = strategy == models.StrategyUserChoice
	}

	conflict.Strategy = strategy
	conflict.SelectedSource = group[idx].Source
	conflict.SelectedToolID = group[idx].ID
	return idx, conflict
}

func matchRule(key string, group []models.UnifiedTool, rules []models.ConflictRule) (models.ConflictRule, bool) {
	for _, rule := range rules {
		if !patternMatches(rule.Pattern, key) {
			continue
		}
		if rule.PreferredSource != "" && indexOfSource(group, rule.PreferredSource) < 0 {
			continue
		}
		return rule, true
	}
	return models.ConflictRule{}, false
}

func patternMatches(pattern, key string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(key, NormalizeName(prefix))
	}
	return NormalizeName(pattern) == key
}

func indexOfSource(group []models.UnifiedTool, source string) int {
	return slices.IndexFunc(group, func(t models.UnifiedTool) bool { return t.Source == source })
}

func selectByStrategy(strategy models.ConflictStrategy, group []models.UnifiedTool) int {
	switch strategy {
	case models.StrategyPreferExternal:
		if i := slices.IndexFunc(group, func(t models.UnifiedTool) bool { return !t.IsBuiltin() }); i >= 0 {
			return i
		}
		return 0
	case models.StrategyPerformanceBased:
		best := 0
		for i := 1; i < len(group); i++ {
			if betterPerformer(group[i], group[best]) {
				best = i
			}
		}
		return best
	default:
		// prefer-builtin, and the provisional pick while deferring to the user.
		return 0
	}
}

// betterPerformer compares rolling success rate, then average latency. Equal
// tools keep their group order.
func betterPerformer(a, b models.UnifiedTool) bool {
	sa, sb := EffectiveSuccessRate(a), EffectiveSuccessRate(b)
	if sa != sb {
		return sa > sb
	}
	la, lb := a.Usage.AverageExecutionMs, b.Usage.AverageExecutionMs
	if a.Usage.UsageCount > 0 && b.Usage.UsageCount > 0 && la != lb {
		return la < lb
	}
	return false
}

// EffectiveSuccessRate is the rolling success rate, or the declared
// reliability for tools that have not run yet.
func EffectiveSuccessRate(t models.UnifiedTool) float64 {
	if t.Usage.UsageCount > 0 {
		return t.Usage.SuccessRate
	}
	if t.Reliability > 0 {
		return t.Reliability
	}
	return unusedSuccessPrior
}
