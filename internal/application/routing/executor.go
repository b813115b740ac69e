package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/toolrouter/internal/adapters/circuitbreaker"
	"github.com/longregen/toolrouter/internal/adapters/tracing"
	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
	"github.com/longregen/toolrouter/internal/ports"
)

type RouteKind string

const (
	RouteBuiltin RouteKind = "builtin"
	RouteHub     RouteKind = "hub"
)

// RouteDecision says where a tool instance runs.
type RouteDecision struct {
	Kind     RouteKind
	Source   string
	ToolName string
}

func Route(tool models.UnifiedTool) RouteDecision {
	if tool.IsBuiltin() {
		return RouteDecision{Kind: RouteBuiltin, Source: models.SourceBuiltin, ToolName: tool.Name}
	}
	return RouteDecision{Kind: RouteHub, Source: tool.Source, ToolName: tool.Name}
}

type activeExecution struct {
	cancel  context.CancelCauseFunc
	aborted bool
}

type executionKey struct {
	toolID    string
	messageID string
}

// ExecutionRouter runs one tool instance: it validates arguments, guards the
// source with a circuit breaker and dispatches to the built-in source or the
// hub.
type ExecutionRouter struct {
	builtin  ports.BuiltinToolSource
	hub      ports.ToolHub
	breakers *circuitbreaker.Registry
	logger   *slog.Logger
	tracer   trace.Tracer

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Resolved

	mu     sync.Mutex
	active map[executionKey]*activeExecution
	usage  map[string]models.ToolUsageStats
}

func NewExecutionRouter(builtin ports.BuiltinToolSource, hub ports.ToolHub, breakers *circuitbreaker.Registry, logger *slog.Logger) *ExecutionRouter {
	if logger == nil {
		logger = slog.Default()
	}
	if breakers == nil {
		breakers = circuitbreaker.NewRegistry(5, 30*time.Second)
	}
	return &ExecutionRouter{
		builtin:  builtin,
		hub:      hub,
		breakers: breakers,
		logger:   logger,
		tracer:   tracing.Tracer("routing"),
		schemas:  make(map[string]*jsonschema.Resolved),
		active:   make(map[executionKey]*activeExecution),
		usage:    make(map[string]models.ToolUsageStats),
	}
}

// ResetSchemas drops compiled schemas after a catalog rebuild.
func (e *ExecutionRouter) ResetSchemas() {
	e.schemaMu.Lock()
	clear(e.schemas)
	e.schemaMu.Unlock()
}

func (e *ExecutionRouter) schemaFor(tool models.UnifiedTool) (*jsonschema.Resolved, error) {
	if len(tool.InputSchema) == 0 {
		return nil, nil
	}
	e.schemaMu.Lock()
	defer e.schemaMu.Unlock()
	if r, ok := e.schemas[tool.ID]; ok {
		return r, nil
	}

	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse input schema: %w", err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("resolve input schema: %w", err)
	}
	e.schemas[tool.ID] = resolved
	return resolved, nil
}

// validate checks args against the tool's input schema. Schemas that fail
// to compile are skipped with a warning; the tool's source remains the
// authority on its own arguments.
func (e *ExecutionRouter) validate(tool models.UnifiedTool, args map[string]any) error {
	resolved, err := e.schemaFor(tool)
	if err != nil {
		e.logger.Warn("skipping argument validation", "tool_id", tool.ID, "error", err)
		return nil
	}
	if resolved == nil {
		return nil
	}
	instance := args
	if instance == nil {
		instance = map[string]any{}
	}
	// Round-trip so numbers and nested values have their JSON shapes.
	raw, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidToolArgs, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidToolArgs, err)
	}
	if err := resolved.Validate(decoded); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidToolArgs, err)
	}
	return nil
}

// Execute runs tool once. Runtime failures are reported in the result; only
// caller errors such as an unknown tool are returned.
func (e *ExecutionRouter) Execute(ctx context.Context, tool models.UnifiedTool, args map[string]any, execCtx models.ToolExecutionContext) (*models.ToolExecutionResult, error) {
	route := Route(tool)
	ctx, span := e.tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		attribute.String("tool.id", tool.ID),
		attribute.String("tool.source", route.Source),
		attribute.String("route", string(route.Kind)),
	))
	defer span.End()

	result, err := e.execute(ctx, tool, route, args, execCtx)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !result.Success:
		span.SetAttributes(attribute.String("error.category", string(result.Error.Category)))
		span.SetStatus(codes.Error, result.Error.Message)
	}
	return result, err
}

func (e *ExecutionRouter) execute(ctx context.Context, tool models.UnifiedTool, route RouteDecision, args map[string]any, execCtx models.ToolExecutionContext) (*models.ToolExecutionResult, error) {
	start := time.Now()
	if err := e.validate(tool, args); err != nil {
		return models.NewFailureResult(tool.ID, domain.NewExecutionError(domain.CategoryValidation, err), time.Since(start)), nil
	}

	breaker := e.breakers.For(route.Source)
	if err := breaker.Allow(); err != nil {
		execErr := domain.NewExecutionError(domain.CategoryNetwork, fmt.Errorf("%s: %w", route.Source, err))
		return models.NewFailureResult(tool.ID, execErr, time.Since(start)), nil
	}

	ctx, done := e.track(ctx, tool.ID, execCtx.MessageID)
	var result *models.ToolExecutionResult
	var err error
	if route.Kind == RouteBuiltin {
		result = e.runBuiltin(ctx, tool, args, execCtx)
	} else if e.hub == nil {
		result = models.NewFailureResult(tool.ID, domain.NewExecutionError(domain.CategoryNetwork, domain.ErrServerNotConnected), 0)
	} else {
		if execCtx.Timeout <= 0 {
			execCtx.Timeout = models.DefaultExecutionTimeout
		}
		result, err = e.hub.ExecuteToolCall(ctx, models.ToolCall{
			ServerID:  route.Source,
			Name:      route.ToolName,
			Arguments: args,
		}, execCtx)
	}
	aborted := done()
	if err != nil {
		return nil, err
	}

	// An aborted result is never delivered, even if it arrived.
	if aborted {
		result = models.NewFailureResult(tool.ID, domain.NewExecutionError(domain.CategoryCancelled, domain.ErrExecutionCancelled), time.Since(start))
	}
	if result.ToolID != tool.ID {
		result.ToolID = tool.ID
	}

	// Only infrastructure failures count against the source.
	failed := !result.Success && (result.Error.Category == domain.CategoryTimeout || result.Error.Category == domain.CategoryNetwork)
	if result.Success || failed {
		breaker.Record(failed)
	}
	return result, nil
}

func (e *ExecutionRouter) runBuiltin(ctx context.Context, tool models.UnifiedTool, args map[string]any, execCtx models.ToolExecutionContext) *models.ToolExecutionResult {
	ctx, cancel := context.WithTimeoutCause(ctx, execCtx.Budget(0), domain.ErrExecutionTimeout)
	defer cancel()

	start := time.Now()
	data, err := e.builtin.ExecuteBuiltin(ctx, tool.Name, args)
	d := time.Since(start)
	if err == nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	e.recordUsage(tool.ID, d, err == nil)

	if err != nil {
		return models.NewFailureResult(tool.ID, classifyBuiltinError(ctx, err), d)
	}
	size := 0
	if raw, mErr := json.Marshal(data); mErr == nil {
		size = len(raw)
	}
	return models.NewSuccessResult(tool.ID, data, d, size)
}

func classifyBuiltinError(ctx context.Context, err error) *domain.ExecutionError {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(err, domain.ErrInvalidToolArgs):
		return domain.NewExecutionError(domain.CategoryValidation, err)
	case errors.Is(err, domain.ErrExecutionTimeout), errors.Is(cause, domain.ErrExecutionTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.NewExecutionError(domain.CategoryTimeout, domain.ErrExecutionTimeout)
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrExecutionCancelled):
		return domain.NewExecutionError(domain.CategoryCancelled, domain.ErrExecutionCancelled)
	}
	return &domain.ExecutionError{Category: domain.CategoryRemote, Message: err.Error(), Err: err}
}

func (e *ExecutionRouter) recordUsage(toolID string, d time.Duration, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.usage[toolID]
	u.Record(d, ok, time.Now())
	e.usage[toolID] = u
}

// Usage returns the usage statistics recorded for a built-in tool.
func (e *ExecutionRouter) Usage(toolID string) (models.ToolUsageStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, ok := e.usage[toolID]
	return u, ok
}

// track registers an abortable execution. The returned function removes it
// and reports whether it was aborted.
func (e *ExecutionRouter) track(ctx context.Context, toolID, messageID string) (context.Context, func() bool) {
	ctx, cancel := context.WithCancelCause(ctx)
	key := executionKey{toolID: toolID, messageID: messageID}
	entry := &activeExecution{cancel: cancel}

	e.mu.Lock()
	if messageID != "" {
		e.active[key] = entry
	}
	e.mu.Unlock()

	return ctx, func() bool {
		e.mu.Lock()
		if e.active[key] == entry {
			delete(e.active, key)
		}
		aborted := entry.aborted
		e.mu.Unlock()
		cancel(nil)
		return aborted
	}
}

// Abort cancels an in-flight execution. It reports whether one was found.
func (e *ExecutionRouter) Abort(toolID, messageID string) bool {
	e.mu.Lock()
	entry, ok := e.active[executionKey{toolID: toolID, messageID: messageID}]
	if ok {
		entry.aborted = true
		delete(e.active, executionKey{toolID: toolID, messageID: messageID})
	}
	e.mu.Unlock()
	if ok {
		entry.cancel(domain.ErrExecutionCancelled)
	}
	return ok
}

// AbortAll cancels every in-flight execution.
func (e *ExecutionRouter) AbortAll() int {
	e.mu.Lock()
	entries := make([]*activeExecution, 0, len(e.active))
	for key, entry := range e.active {
		entry.aborted = true
		entries = append(entries, entry)
		delete(e.active, key)
	}
	e.mu.Unlock()
	for _, entry := range entries {
		entry.cancel(domain.ErrExecutionCancelled)
	}
	return len(entries)
}

func (e *ExecutionRouter) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

func (e *ExecutionRouter) BreakerStates() map[string]circuitbreaker.State {
	return e.breakers.States()
}
