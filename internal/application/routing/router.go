// Package routing merges built-in and server tools into one catalog, ranks
// them for a query and executes the chosen instance with fallback.
package routing

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/toolrouter/internal/adapters/circuitbreaker"
	"github.com/longregen/toolrouter/internal/adapters/metrics"
	"github.com/longregen/toolrouter/internal/adapters/tracing"
	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/catalog"
	"github.com/longregen/toolrouter/internal/domain/models"
	"github.com/longregen/toolrouter/internal/ports"
)

// Composite search weights.
const (
	searchWeightText    = 0.5
	searchWeightContext = 0.3
	searchWeightUsage   = 0.2
)

// fallbackMinTextScore keeps a fallback search from picking tools that
// merely share a category with the failed one.
const fallbackMinTextScore = 0.5

type Options struct {
	DefaultStrategy models.ConflictStrategy
	// RefreshInterval is the period of background catalog refreshes. Zero
	// disables the timer.
	RefreshInterval time.Duration
	DefaultTimeout  time.Duration
	Performance     PerformanceOptions
	BreakerFailures int
	BreakerReset    time.Duration
}

func DefaultOptions() Options {
	return Options{
		DefaultStrategy: models.StrategyPreferBuiltin,
		RefreshInterval: time.Minute,
		DefaultTimeout:  models.DefaultExecutionTimeout,
		Performance:     DefaultPerformanceOptions(),
		BreakerFailures: 5,
		BreakerReset:    30 * time.Second,
	}
}

type Deps struct {
	Builtin     ports.BuiltinToolSource
	Hub         ports.ToolHub
	Preferences ports.PreferencesRepository
	Context     ports.ContextProvider
	Sink        ports.EventSink
	IDs         ports.IDGenerator
	Logger      *slog.Logger
}

// catalogState is one immutable snapshot of the resolved catalog.
type catalogState struct {
	selected     []models.UnifiedTool
	alternatives []models.UnifiedTool
	conflicts    map[string]models.ToolConflict
	selectedIDs  map[string]bool
	byName       map[string]string
	index        *Index
	fingerprint  string
	updatedAt    time.Time
	// seq orders states by when their discovery started.
	seq uint64
}

func newCatalogState(res catalog.Resolution, fingerprint string, at time.Time) *catalogState {
	st := &catalogState{
		selected:     res.Selected,
		alternatives: res.Alternatives,
		conflicts:    make(map[string]models.ToolConflict, len(res.Conflicts)),
		selectedIDs:  make(map[string]bool, len(res.Selected)),
		byName:       make(map[string]string, len(res.Selected)),
		index:        BuildIndex(append(slices.Clone(res.Selected), res.Alternatives...)),
		fingerprint:  fingerprint,
		updatedAt:    at,
	}
	for _, c := range res.Conflicts {
		st.conflicts[c.Name] = c
	}
	for _, t := range res.Selected {
		st.selectedIDs[t.ID] = true
		st.byName[catalog.NormalizeName(t.Name)] = t.ID
	}
	return st
}

// lookup finds a tool by instance id, falling back to the selected instance
// of a bare name.
func (st *catalogState) lookup(ref string) (models.UnifiedTool, bool) {
	if t, ok := st.index.Get(ref); ok {
		return t, true
	}
	if id, ok := st.byName[catalog.NormalizeName(ref)]; ok {
		return st.index.Get(id)
	}
	return models.UnifiedTool{}, false
}

// Router is the single entry point for searching and executing tools.
type Router struct {
	opts      Options
	hub       ports.ToolHub
	ctxSource ports.ContextProvider
	sink      ports.EventSink
	ids       ports.IDGenerator
	logger    *slog.Logger
	tracer    trace.Tracer

	discovery *Discovery
	resolver  *catalog.Resolver
	analyzer  *ContextAnalyzer
	perf      *PerformanceMonitor
	prefs     *Preferences
	exec      *ExecutionRouter

	mu          sync.RWMutex
	state       *catalogState
	initialized bool
	closed      bool
	refreshSeq  atomic.Uint64

	refreshNow chan struct{}
	stop       chan struct{}
	wg         sync.WaitGroup
}

func NewRouter(opts Options, deps Deps) *Router {
	def := DefaultOptions()
	if !opts.DefaultStrategy.Valid() {
		opts.DefaultStrategy = def.DefaultStrategy
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = def.DefaultTimeout
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = def.BreakerFailures
	}
	if opts.BreakerReset <= 0 {
		opts.BreakerReset = def.BreakerReset
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "router")
	sink := deps.Sink
	if sink == nil {
		sink = ports.NopEventSink{}
	}

	exec := NewExecutionRouter(deps.Builtin, deps.Hub, circuitbreaker.NewRegistry(opts.BreakerFailures, opts.BreakerReset), logger)
	resolver := catalog.NewResolver(opts.DefaultStrategy)
	empty, _ := Fingerprint(nil, nil, nil)

	return &Router{
		opts:       opts,
		hub:        deps.Hub,
		ctxSource:  deps.Context,
		sink:       sink,
		ids:        deps.IDs,
		logger:     logger,
		tracer:     tracing.Tracer("routing"),
		discovery:  NewDiscovery(deps.Builtin, deps.Hub, exec.Usage),
		resolver:   resolver,
		analyzer:   NewContextAnalyzer(),
		perf:       NewPerformanceMonitor(opts.Performance, sink),
		prefs:      NewPreferences(deps.Preferences, deps.IDs),
		exec:       exec,
		state:      newCatalogState(catalog.Resolution{}, empty, time.Time{}),
		refreshNow: make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

func (r *Router) snapshot() *catalogState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *Router) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Initialize loads preferences, builds the first catalog and starts the
// refresh timer. Calling it again only refreshes.
func (r *Router) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return domain.ErrRouterClosed
	}
	first := !r.initialized
	r.initialized = true
	r.mu.Unlock()

	if first {
		if err := r.prefs.Load(ctx); err != nil {
			r.logger.Warn("using default preferences", "error", err)
		}
	}
	if _, err := r.RefreshToolCatalog(ctx); err != nil {
		return err
	}
	if first {
		r.wg.Add(1)
		go r.refreshLoop()
	}
	return nil
}

func (r *Router) refreshLoop() {
	defer r.wg.Done()

	var tick <-chan time.Time
	if r.opts.RefreshInterval > 0 {
		ticker := time.NewTicker(r.opts.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-r.stop:
			return
		case <-tick:
		case <-r.refreshNow:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := r.RefreshToolCatalog(ctx); err != nil && !errors.Is(err, domain.ErrRouterClosed) {
			r.logger.Warn("catalog refresh failed", "error", err)
		}
		cancel()
	}
}

// RequestRefresh schedules a background refresh without waiting for it.
func (r *Router) RequestRefresh() {
	select {
	case r.refreshNow <- struct{}{}:
	default:
	}
}

// RefreshToolCatalog rediscovers and resolves the catalog. It reports whether
// the content changed; tools:updated is published only then.
func (r *Router) RefreshToolCatalog(ctx context.Context) (bool, error) {
	if r.isClosed() {
		return false, domain.ErrRouterClosed
	}
	seq := r.refreshSeq.Add(1)
	tools, err := r.discovery.Discover(ctx)
	if err != nil {
		return false, fmt.Errorf("discover tools: %w", err)
	}
	res := r.resolver.Resolve(tools, r.prefs.Rules())
	fp, err := Fingerprint(res.Selected, res.Alternatives, res.Conflicts)
	if err != nil {
		return false, fmt.Errorf("fingerprint catalog: %w", err)
	}
	next := newCatalogState(res, fp, time.Now())
	next.seq = seq

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false, domain.ErrRouterClosed
	}
	prev := r.state
	if prev.seq > seq {
		// a refresh that started later already committed
		r.mu.Unlock()
		r.logger.Debug("dropping stale catalog refresh", "seq", seq, "current", prev.seq)
		return false, nil
	}
	r.state = next
	if r.hub != nil {
		r.hub.SetConflictResolutions(res.Conflicts)
	}
	r.mu.Unlock()

	changed := prev.fingerprint != fp
	metrics.CatalogTools.Set(float64(len(res.Selected)))
	metrics.CatalogConflicts.Set(float64(len(res.Conflicts)))
	metrics.CatalogRefreshTotal.WithLabelValues(strconv.FormatBool(changed)).Inc()
	if !changed {
		return false, nil
	}

	r.exec.ResetSchemas()
	for _, t := range append(slices.Clone(prev.selected), prev.alternatives...) {
		if _, ok := next.index.Get(t.ID); !ok {
			r.perf.Forget(t.ID)
		}
	}
	r.publishConflictChanges(prev, next)
	r.sink.Publish(models.NewEvent(models.EventToolsUpdated, models.CatalogUpdate{
		ToolCount:     len(res.Selected),
		ConflictCount: len(res.Conflicts),
		Fingerprint:   fp,
	}))
	r.logger.Info("tool catalog updated", "tools", len(res.Selected), "conflicts", len(res.Conflicts))
	return true, nil
}

func (r *Router) publishConflictChanges(prev, next *catalogState) {
	names := make([]string, 0, len(next.conflicts))
	for name := range next.conflicts {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c := next.conflicts[name]
		old, existed := prev.conflicts[name]
		switch {
		case !existed:
			r.sink.Publish(models.NewEvent(models.EventConflictDetected, c))
		case old.SelectedToolID != c.SelectedToolID || old.AwaitingUser != c.AwaitingUser:
			r.sink.Publish(models.NewEvent(models.EventConflictResolved, c))
		}
	}
	for name, old := range prev.conflicts {
		if _, ok := next.conflicts[name]; !ok {
			r.sink.Publish(models.NewEvent(models.EventConflictResolved, old))
		}
	}
}

// SearchTools ranks the catalog for query. A nil context is taken from the
// context provider when one is configured.
func (r *Router) SearchTools(ctx context.Context, query string, sc *models.SearchContext, opts models.SearchOptions) ([]models.SearchResult, error) {
	if r.isClosed() {
		return nil, domain.ErrRouterClosed
	}
	if sc == nil && r.ctxSource != nil {
		current := r.ctxSource.CurrentContext(ctx)
		sc = &current
	}
	return r.search(r.snapshot(), query, sc, opts), nil
}

func (r *Router) search(st *catalogState, query string, sc *models.SearchContext, opts models.SearchOptions) []models.SearchResult {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = models.DefaultMaxResults
	}

	candidates := st.selected
	if opts.IncludeAlternatives {
		candidates = append(slices.Clone(st.selected), st.alternatives...)
	}
	maxUsage := 0
	for _, t := range candidates {
		maxUsage = max(maxUsage, t.Usage.UsageCount)
	}

	prefs := r.prefs.snapshot()
	var results []models.SearchResult
	for _, t := range candidates {
		if opts.Category != "" && t.Category != opts.Category {
			continue
		}
		if opts.Source != "" && t.Source != opts.Source {
			continue
		}
		if !prefs.CategoryVisible(t.Category) {
			continue
		}
		weight := prefs.Weight(t.ID, t.Name)
		if weight <= 0 {
			continue
		}
		text := st.index.TextScore(t.ID, query)
		if query != "" && text == 0 {
			continue
		}
		contextScore := r.analyzer.Score(t, sc)
		usage := usageScore(t, maxUsage)
		score := (searchWeightText*text + searchWeightContext*contextScore + searchWeightUsage*usage) * weight
		if score < opts.MinScore {
			continue
		}
		results = append(results, models.SearchResult{
			Tool:         t,
			Score:        score,
			TextScore:    text,
			ContextScore: contextScore,
			UsageScore:   usage,
			Weight:       weight,
			Alternative:  !st.selectedIDs[t.ID],
		})
	}

	slices.SortFunc(results, func(a, b models.SearchResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if a.Alternative != b.Alternative {
			if a.Alternative {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.Tool.ID, b.Tool.ID)
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results
}

// usageScore mixes relative frequency with the effective success rate.
func usageScore(t models.UnifiedTool, maxUsage int) float64 {
	var freq float64
	if maxUsage > 0 {
		freq = math.Log1p(float64(t.Usage.UsageCount)) / math.Log1p(float64(maxUsage))
	}
	return clamp01(0.5*freq + 0.5*catalog.EffectiveSuccessRate(t))
}

func (r *Router) prepareContext(execCtx models.ToolExecutionContext) models.ToolExecutionContext {
	if execCtx.MessageID == "" && r.ids != nil {
		execCtx.MessageID = r.ids.GenerateMessageID()
	}
	if execCtx.Timestamp.IsZero() {
		execCtx.Timestamp = time.Now()
	}
	if execCtx.Timeout <= 0 {
		execCtx.Timeout = r.opts.DefaultTimeout
	}
	return execCtx
}

// ExecuteTool runs a tool by instance id or by name. A recoverable failure is
// retried once on the best other match for the tool's name.
func (r *Router) ExecuteTool(ctx context.Context, toolRef string, params map[string]any, execCtx models.ToolExecutionContext) (*models.ToolExecutionResult, error) {
	if r.isClosed() {
		return nil, domain.ErrRouterClosed
	}
	if toolRef == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidCall, "tool id is required")
	}
	st := r.snapshot()
	tool, ok := st.lookup(toolRef)
	if !ok {
		return nil, fmt.Errorf("%s: %w", toolRef, domain.ErrToolNotFound)
	}
	execCtx = r.prepareContext(execCtx)

	next := func() (models.UnifiedTool, bool) {
		results := r.search(st, tool.Name, execCtx.Context, models.SearchOptions{
			MaxResults:          st.index.Len(),
			IncludeAlternatives: true,
		})
		for _, res := range results {
			if res.Tool.ID != tool.ID && res.TextScore >= fallbackMinTextScore {
				return res.Tool, true
			}
		}
		return models.UnifiedTool{}, false
	}
	return r.executeWithFallback(ctx, tool, next, params, execCtx)
}

// ExecuteRanked runs the first of a search result set and, on a recoverable
// failure, the second. No third tool is attempted.
func (r *Router) ExecuteRanked(ctx context.Context, results []models.SearchResult, params map[string]any, execCtx models.ToolExecutionContext) (*models.ToolExecutionResult, error) {
	if r.isClosed() {
		return nil, domain.ErrRouterClosed
	}
	if len(results) == 0 {
		return nil, domain.NewDomainError(domain.ErrInvalidCall, "no ranked tools to execute")
	}
	execCtx = r.prepareContext(execCtx)
	next := func() (models.UnifiedTool, bool) {
		if len(results) < 2 {
			return models.UnifiedTool{}, false
		}
		return results[1].Tool, true
	}
	return r.executeWithFallback(ctx, results[0].Tool, next, params, execCtx)
}

func (r *Router) executeWithFallback(ctx context.Context, primary models.UnifiedTool, next func() (models.UnifiedTool, bool), params map[string]any, execCtx models.ToolExecutionContext) (*models.ToolExecutionResult, error) {
	ctx, span := r.tracer.Start(ctx, "router.execute", trace.WithAttributes(
		attribute.String("tool.id", primary.ID),
		attribute.String("message.id", execCtx.MessageID),
	))
	defer span.End()

	result, err := r.runOnce(ctx, primary, params, execCtx, false)
	if err != nil {
		return nil, err
	}
	attempted := []string{primary.ID}

	if result.Recoverable() {
		if fallback, ok := next(); ok {
			category := result.Error.Category
			r.logger.Info("falling back to alternative tool",
				"tool_id", primary.ID, "fallback_tool_id", fallback.ID, "category", category)
			metrics.FallbacksTotal.WithLabelValues(string(category)).Inc()
			ev := models.NewEvent(models.EventFallbackTriggered, models.FallbackInfo{
				PrimaryToolID:  primary.ID,
				FallbackToolID: fallback.ID,
				Reason:         result.Error.Error(),
			})
			ev.ToolID = primary.ID
			r.sink.Publish(ev)

			fbResult, fbErr := r.runOnce(ctx, fallback, params, execCtx, true)
			if fbErr != nil {
				fbResult = models.NewFailureResult(fallback.ID, domain.NewExecutionError(domain.CategoryNetwork, fbErr), 0)
			}
			fbResult.UsedFallback = true
			attempted = append(attempted, fallback.ID)
			result = fbResult
			span.SetAttributes(attribute.String("fallback.tool.id", fallback.ID))
		}
	}
	result.Attempted = attempted

	evType := models.EventExecutionCompleted
	if !result.Success {
		evType = models.EventExecutionFailed
	}
	ev := models.NewEvent(evType, result)
	ev.ToolID = result.ToolID
	r.sink.Publish(ev)
	return result, nil
}

func (r *Router) runOnce(ctx context.Context, tool models.UnifiedTool, params map[string]any, execCtx models.ToolExecutionContext, fallback bool) (*models.ToolExecutionResult, error) {
	result, err := r.exec.Execute(ctx, tool, params, execCtx)
	if err != nil {
		return nil, err
	}

	sample := models.ExecutionSample{
		Timestamp:  time.Now(),
		DurationMs: float64(result.Duration.Microseconds()) / 1000.0,
		Success:    result.Success,
		Fallback:   fallback,
	}
	outcome := "success"
	if !result.Success {
		sample.ErrorKind = string(result.Error.Category)
		outcome = sample.ErrorKind
	}
	// Aborts say nothing about the tool.
	if result.Success || result.Error.Category != domain.CategoryCancelled {
		r.perf.Record(tool.ID, sample)
	}
	metrics.ToolExecutionsTotal.WithLabelValues(tool.Source, outcome).Inc()
	metrics.ToolExecutionDuration.WithLabelValues(tool.Source).Observe(result.Duration.Seconds())
	return result, nil
}

// GetToolsByCategory lists the selected tools of a visible category.
func (r *Router) GetToolsByCategory(category string) []models.UnifiedTool {
	if !r.prefs.CategoryVisible(category) {
		return nil
	}
	st := r.snapshot()
	var out []models.UnifiedTool
	for _, t := range st.index.ByCategory(category) {
		if st.selectedIDs[t.ID] {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b models.UnifiedTool) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// GetAvailableCategories lists visible categories by priority, then name.
func (r *Router) GetAvailableCategories() []models.CategorySummary {
	st := r.snapshot()
	counts := make(map[string]int)
	for _, t := range st.selected {
		counts[t.Category]++
	}
	out := make([]models.CategorySummary, 0, len(counts))
	for name, n := range counts {
		if !r.prefs.CategoryVisible(name) {
			continue
		}
		out = append(out, models.CategorySummary{Name: name, ToolCount: n, Priority: r.prefs.CategoryPriority(name)})
	}
	slices.SortFunc(out, func(a, b models.CategorySummary) int {
		return cmp.Or(cmp.Compare(b.Priority, a.Priority), cmp.Compare(a.Name, b.Name))
	})
	return out
}

// GetToolPreview assembles metrics, documentation and similar tools.
func (r *Router) GetToolPreview(toolRef string) (*models.ToolPreview, error) {
	st := r.snapshot()
	tool, ok := st.lookup(toolRef)
	if !ok {
		return nil, fmt.Errorf("%s: %w", toolRef, domain.ErrToolNotFound)
	}
	preview := &models.ToolPreview{
		Tool:          tool,
		Metrics:       r.perf.Metrics(tool.ID),
		RecentSamples: r.perf.RecentSamples(tool.ID, previewRecentSamples),
		Documentation: renderDocumentation(tool),
		Examples:      schemaExamples(tool.InputSchema),
		Similar:       st.index.Similar(tool.ID, previewSimilarTools),
	}
	if preview.Similar == nil {
		preview.Similar = []models.UnifiedTool{}
	}
	if c, ok := st.conflicts[catalog.NormalizeName(tool.Name)]; ok {
		preview.Conflict = &c
	}
	return preview, nil
}

// GetHealthReport combines the hub's server health with the router's view
// of the catalog.
func (r *Router) GetHealthReport() models.HealthReport {
	var report models.HealthReport
	if r.hub != nil {
		report = r.hub.GetHealthReport()
	} else {
		report = models.HealthReport{GeneratedAt: time.Now(), Healthy: true}
	}

	st := r.snapshot()
	builtin, external := 0, 0
	for _, t := range append(slices.Clone(st.selected), st.alternatives...) {
		if t.IsBuiltin() {
			builtin++
		} else {
			external++
		}
	}
	unresolved := 0
	for _, c := range st.conflicts {
		if c.AwaitingUser {
			unresolved++
		}
	}
	report.BuiltinTools = builtin
	report.ExternalTools = external
	report.UnresolvedCount = unresolved
	return report
}

// AbortExecution cancels an in-flight execution of a tool, addressed by
// instance id or name. It reports whether one was running.
func (r *Router) AbortExecution(toolRef, messageID string) bool {
	id := toolRef
	if t, ok := r.snapshot().lookup(toolRef); ok {
		id = t.ID
	}
	return r.exec.Abort(id, messageID)
}

// Tools returns the selected catalog.
func (r *Router) Tools() []models.UnifiedTool {
	return slices.Clone(r.snapshot().selected)
}

// Conflicts returns the current conflicts sorted by name.
func (r *Router) Conflicts() []models.ToolConflict {
	st := r.snapshot()
	out := make([]models.ToolConflict, 0, len(st.conflicts))
	for _, c := range st.conflicts {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b models.ToolConflict) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

func (r *Router) LastUpdate() time.Time {
	return r.snapshot().updatedAt
}

func (r *Router) Fingerprint() string {
	return r.snapshot().fingerprint
}

func (r *Router) Performance(toolID string) models.PerformanceMetrics {
	return r.perf.Metrics(toolID)
}

func (r *Router) Preferences() *models.UserToolPreferences {
	return r.prefs.Get()
}

func (r *Router) SetToolWeight(ctx context.Context, tool string, weight float64) error {
	return r.prefs.SetToolWeight(ctx, tool, weight)
}

func (r *Router) ClearToolWeight(ctx context.Context, tool string) error {
	return r.prefs.ClearToolWeight(ctx, tool)
}

func (r *Router) SetCategoryPreference(ctx context.Context, category string, pref models.CategoryPreference) error {
	return r.prefs.SetCategoryPreference(ctx, category, pref)
}

// AddConflictRule stores a rule and re-resolves the catalog with it.
func (r *Router) AddConflictRule(ctx context.Context, rule models.ConflictRule) (models.ConflictRule, error) {
	rule, err := r.prefs.AddConflictRule(ctx, rule)
	if err != nil {
		return rule, err
	}
	if _, err := r.RefreshToolCatalog(ctx); err != nil && !errors.Is(err, domain.ErrRouterClosed) {
		return rule, err
	}
	return rule, nil
}

func (r *Router) RemoveConflictRule(ctx context.Context, id string) error {
	if err := r.prefs.RemoveConflictRule(ctx, id); err != nil {
		return err
	}
	if _, err := r.RefreshToolCatalog(ctx); err != nil && !errors.Is(err, domain.ErrRouterClosed) {
		return err
	}
	return nil
}

// Close stops the refresh timer and aborts in-flight executions. The hub is
// left to its owner.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stop)
	if n := r.exec.AbortAll(); n > 0 {
		r.logger.Info("aborted in-flight executions", "count", n)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
