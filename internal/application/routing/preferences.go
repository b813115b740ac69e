package routing

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
	"github.com/longregen/toolrouter/internal/ports"
)

// MaxToolWeight bounds user weight overrides.
const MaxToolWeight = 10

// Preferences caches the user's tool preferences in memory. Every mutation
// is persisted before the cache changes, so a failed write leaves the cache
// untouched.
type Preferences struct {
	repo ports.PreferencesRepository
	ids  ports.IDGenerator
	now  func() time.Time

	writeMu sync.Mutex
	mu      sync.RWMutex
	current *models.UserToolPreferences
}

func NewPreferences(repo ports.PreferencesRepository, ids ports.IDGenerator) *Preferences {
	return &Preferences{
		repo:    repo,
		ids:     ids,
		now:     time.Now,
		current: models.NewUserToolPreferences(),
	}
}

// Load replaces the cache with the stored preferences.
func (p *Preferences) Load(ctx context.Context) error {
	if p.repo == nil {
		return nil
	}
	prefs, err := p.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	if prefs == nil {
		prefs = models.NewUserToolPreferences()
	}
	prefs = prefs.Clone()
	p.mu.Lock()
	p.current = prefs
	p.mu.Unlock()
	return nil
}

// Get returns a copy of the cached preferences.
func (p *Preferences) Get() *models.UserToolPreferences {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current.Clone()
}

// snapshot returns the cached value without copying. Callers must not
// modify it.
func (p *Preferences) snapshot() *models.UserToolPreferences {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func (p *Preferences) Weight(toolID, name string) float64 {
	return p.snapshot().Weight(toolID, name)
}

func (p *Preferences) CategoryVisible(category string) bool {
	return p.snapshot().CategoryVisible(category)
}

func (p *Preferences) CategoryPriority(category string) int {
	return p.snapshot().Categories[category].Priority
}

func (p *Preferences) Rules() []models.ConflictRule {
	return slices.Clone(p.snapshot().ConflictRules)
}

// update applies fn to a copy, persists the copy and then publishes it.
func (p *Preferences) update(ctx context.Context, fn func(*models.UserToolPreferences) error) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	next := p.Get()
	if err := fn(next); err != nil {
		return err
	}
	next.UpdatedAt = p.now()
	if p.repo != nil {
		if err := p.repo.Save(ctx, next); err != nil {
			return fmt.Errorf("save preferences: %w", err)
		}
	}
	p.mu.Lock()
	p.current = next
	p.mu.Unlock()
	return nil
}

// SetToolWeight overrides the ranking weight of a tool id or bare name.
// Weight 0 hides the tool from search.
func (p *Preferences) SetToolWeight(ctx context.Context, tool string, weight float64) error {
	if strings.TrimSpace(tool) == "" {
		return domain.NewDomainError(domain.ErrInvalidCall, "tool is required")
	}
	if math.IsNaN(weight) || weight < 0 || weight > MaxToolWeight {
		return domain.NewDomainError(domain.ErrInvalidCall, fmt.Sprintf("weight must be between 0 and %d", MaxToolWeight))
	}
	return p.update(ctx, func(prefs *models.UserToolPreferences) error {
		prefs.ToolWeights[tool] = weight
		return nil
	})
}

func (p *Preferences) ClearToolWeight(ctx context.Context, tool string) error {
	return p.update(ctx, func(prefs *models.UserToolPreferences) error {
		delete(prefs.ToolWeights, tool)
		return nil
	})
}

// AddConflictRule appends a rule and returns it with its id. Rules are
// matched in insertion order.
func (p *Preferences) AddConflictRule(ctx context.Context, rule models.ConflictRule) (models.ConflictRule, error) {
	if strings.TrimSpace(rule.Pattern) == "" {
		return rule, domain.NewDomainError(domain.ErrInvalidCall, "rule pattern is required")
	}
	if rule.PreferredSource == "" && !rule.Strategy.Valid() {
		return rule, domain.NewDomainError(domain.ErrInvalidCall, "rule needs a preferred source or a valid strategy")
	}
	if rule.Strategy != "" && !rule.Strategy.Valid() {
		return rule, domain.NewDomainError(domain.ErrInvalidCall, fmt.Sprintf("unknown strategy %q", rule.Strategy))
	}
	if rule.ID == "" && p.ids != nil {
		rule.ID = p.ids.GenerateRuleID()
	}
	err := p.update(ctx, func(prefs *models.UserToolPreferences) error {
		if rule.ID != "" && slices.ContainsFunc(prefs.ConflictRules, func(r models.ConflictRule) bool { return r.ID == rule.ID }) {
			return domain.NewDomainError(domain.ErrInvalidCall, "duplicate rule id "+rule.ID)
		}
		prefs.ConflictRules = append(prefs.ConflictRules, rule)
		return nil
	})
	return rule, err
}

func (p *Preferences) RemoveConflictRule(ctx context.Context, id string) error {
	return p.update(ctx, func(prefs *models.UserToolPreferences) error {
		i := slices.IndexFunc(prefs.ConflictRules, func(r models.ConflictRule) bool { return r.ID == id })
		if i < 0 {
			return fmt.Errorf("rule %s: %w", id, domain.ErrNotFound)
		}
		prefs.ConflictRules = slices.Delete(prefs.ConflictRules, i, i+1)
		return nil
	})
}

func (p *Preferences) SetCategoryPreference(ctx context.Context, category string, pref models.CategoryPreference) error {
	if strings.TrimSpace(category) == "" {
		return domain.NewDomainError(domain.ErrInvalidCall, "category is required")
	}
	return p.update(ctx, func(prefs *models.UserToolPreferences) error {
		prefs.Categories[category] = pref
		return nil
	})
}
