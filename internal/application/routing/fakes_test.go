package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
)

type fakeBuiltin struct {
	mu    sync.Mutex
	tools []models.UnifiedTool
	run   func(ctx context.Context, name string, args map[string]any) (any, error)
	calls []string
}

func (f *fakeBuiltin) ListTools() []models.UnifiedTool {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.UnifiedTool, len(f.tools))
	copy(out, f.tools)
	return out
}

func (f *fakeBuiltin) ExecuteBuiltin(ctx context.Context, name string, args map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	run := f.run
	f.mu.Unlock()
	if run == nil {
		return map[string]any{"tool": name}, nil
	}
	return run(ctx, name, args)
}

func (f *fakeBuiltin) setTools(tools ...models.UnifiedTool) {
	f.mu.Lock()
	f.tools = tools
	f.mu.Unlock()
}

func (f *fakeBuiltin) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeHub struct {
	mu        sync.Mutex
	tools     []models.UnifiedTool
	run       func(ctx context.Context, call models.ToolCall, execCtx models.ToolExecutionContext) (*models.ToolExecutionResult, error)
	calls     []models.ToolCall
	conflicts []models.ToolConflict
	report    models.HealthReport
	// onList runs before each ServerTools snapshot is taken.
	onList func()
}

func (h *fakeHub) ServerTools() []models.UnifiedTool {
	h.mu.Lock()
	onList := h.onList
	h.mu.Unlock()
	if onList != nil {
		onList()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.UnifiedTool, len(h.tools))
	copy(out, h.tools)
	return out
}

func (h *fakeHub) ExecuteToolCall(ctx context.Context, call models.ToolCall, execCtx models.ToolExecutionContext) (*models.ToolExecutionResult, error) {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	run := h.run
	h.mu.Unlock()
	id := models.ToolID(call.ServerID, call.Name)
	if run == nil {
		return models.NewSuccessResult(id, map[string]any{"server": call.ServerID}, time.Millisecond, 16), nil
	}
	return run(ctx, call, execCtx)
}

func (h *fakeHub) GetHealthReport() models.HealthReport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.report
}

func (h *fakeHub) SetConflictResolutions(conflicts []models.ToolConflict) {
	h.mu.Lock()
	h.conflicts = conflicts
	h.mu.Unlock()
}

func (h *fakeHub) setTools(tools ...models.UnifiedTool) {
	h.mu.Lock()
	h.tools = tools
	h.mu.Unlock()
}

func (h *fakeHub) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// timeoutResult mimics the hub reporting a server timeout.
func timeoutResult(call models.ToolCall) *models.ToolExecutionResult {
	return models.NewFailureResult(models.ToolID(call.ServerID, call.Name),
		domain.NewExecutionError(domain.CategoryTimeout, domain.ErrExecutionTimeout), 30*time.Millisecond)
}

type memPrefs struct {
	mu      sync.Mutex
	stored  *models.UserToolPreferences
	saveErr error
	saves   int
}

func (m *memPrefs) Load(context.Context) (*models.UserToolPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		return models.NewUserToolPreferences(), nil
	}
	return m.stored.Clone(), nil
}

func (m *memPrefs) Save(_ context.Context, prefs *models.UserToolPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.stored = prefs.Clone()
	return nil
}

var errDiskFull = errors.New("disk full")

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) next(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s_%d", prefix, s.n)
}

func (s *seqIDs) GenerateServerID() string  { return s.next("srv") }
func (s *seqIDs) GenerateMessageID() string { return s.next("msg") }
func (s *seqIDs) GenerateRuleID() string    { return s.next("rule") }

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *recordingSink) Publish(ev models.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) ofType(t models.EventType) []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func builtinTool(name, category string) models.UnifiedTool {
	return models.UnifiedTool{
		ID:           models.ToolID(models.SourceBuiltin, name),
		Name:         name,
		Description:  "builtin " + name,
		Category:     category,
		Source:       models.SourceBuiltin,
		SourceType:   models.SourceTypeBuiltin,
		Reliability:  1,
		LatencyClass: models.LatencyInstant,
	}
}

func serverTool(server, name, category string) models.UnifiedTool {
	return models.UnifiedTool{
		ID:           models.ToolID(server, name),
		Name:         name,
		Description:  server + " " + name,
		Category:     category,
		Source:       server,
		SourceType:   models.SourceTypeExternal,
		Reliability:  0.9,
		LatencyClass: models.LatencyFast,
	}
}

func withUsage(t models.UnifiedTool, count int, rate float64) models.UnifiedTool {
	now := time.Now()
	t.Usage = models.ToolUsageStats{UsageCount: count, SuccessRate: rate, AverageExecutionMs: 20, LastUsed: &now}
	return t
}
