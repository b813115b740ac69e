package routing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/toolrouter/internal/adapters/circuitbreaker"
	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
)

var pathSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path":  map[string]any{"type": "string"},
		"limit": map[string]any{"type": "integer"},
	},
	"required": []any{"path"},
}

func TestRoute(t *testing.T) {
	assert.Equal(t, RouteDecision{Kind: RouteBuiltin, Source: "builtin", ToolName: "calculator"}, Route(builtinTool("calculator", "math")))
	assert.Equal(t, RouteDecision{Kind: RouteHub, Source: "fs", ToolName: "read"}, Route(serverTool("fs", "read", "filesystem")))
}

func TestExecutionRouter_Validation(t *testing.T) {
	builtin := &fakeBuiltin{}
	e := NewExecutionRouter(builtin, nil, nil, nil)
	tool := builtinTool("read_file", "filesystem")
	tool.InputSchema = pathSchema

	tests := []struct {
		name string
		args map[string]any
		ok   bool
	}{
		{"valid", map[string]any{"path": "a.txt"}, true},
		{"integer from int", map[string]any{"path": "a.txt", "limit": 3}, true},
		{"missing required", map[string]any{}, false},
		{"nil args", nil, false},
		{"wrong type", map[string]any{"path": 12}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Execute(context.Background(), tool, tt.args, models.ToolExecutionContext{})
			require.NoError(t, err)
			if tt.ok {
				assert.True(t, res.Success)
				return
			}
			require.False(t, res.Success)
			assert.Equal(t, domain.CategoryValidation, res.Error.Category)
			assert.False(t, res.Recoverable())
			assert.ErrorIs(t, res.Error, domain.ErrInvalidToolArgs)
		})
	}
	assert.Equal(t, 2, builtin.callCount())
}

func TestExecutionRouter_BrokenSchemaIsSkipped(t *testing.T) {
	e := NewExecutionRouter(&fakeBuiltin{}, nil, nil, nil)
	tool := builtinTool("odd", "misc")
	tool.InputSchema = map[string]any{"type": 7}

	res, err := e.Execute(context.Background(), tool, map[string]any{"x": 1}, models.ToolExecutionContext{})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestExecutionRouter_BuiltinErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context) (any, error)
		want domain.ErrorCategory
	}{
		{"bad args", func(context.Context) (any, error) {
			return nil, fmt.Errorf("%w: no", domain.ErrInvalidToolArgs)
		}, domain.CategoryValidation},
		{"timeout", func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}, domain.CategoryTimeout},
		{"plain failure", func(context.Context) (any, error) {
			return nil, errors.New("boom")
		}, domain.CategoryRemote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builtin := &fakeBuiltin{run: func(ctx context.Context, _ string, _ map[string]any) (any, error) { return tt.run(ctx) }}
			e := NewExecutionRouter(builtin, nil, nil, nil)
			tool := builtinTool("calculator", "math")

			res, err := e.Execute(context.Background(), tool, nil, models.ToolExecutionContext{Timeout: 20 * time.Millisecond})
			require.NoError(t, err)
			require.False(t, res.Success)
			assert.Equal(t, tt.want, res.Error.Category)
			assert.Equal(t, tool.ID, res.ToolID)

			usage, ok := e.Usage(tool.ID)
			require.True(t, ok)
			assert.Equal(t, 1, usage.UsageCount)
			assert.Zero(t, usage.SuccessRate)
		})
	}
}

func TestExecutionRouter_HubDispatch(t *testing.T) {
	hub := &fakeHub{}
	e := NewExecutionRouter(nil, hub, nil, nil)
	tool := serverTool("fs", "read", "filesystem")

	res, err := e.Execute(context.Background(), tool, map[string]any{"path": "x"}, models.ToolExecutionContext{MessageID: "m1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, hub.calls, 1)
	assert.Equal(t, models.ToolCall{ServerID: "fs", Name: "read", Arguments: map[string]any{"path": "x"}}, hub.calls[0])
	assert.Zero(t, e.ActiveCount())
}

func TestExecutionRouter_NoHub(t *testing.T) {
	e := NewExecutionRouter(nil, nil, nil, nil)
	res, err := e.Execute(context.Background(), serverTool("fs", "read", "filesystem"), nil, models.ToolExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryNetwork, res.Error.Category)
	assert.ErrorIs(t, res.Error, domain.ErrServerNotConnected)
}

func TestExecutionRouter_CircuitBreaker(t *testing.T) {
	hub := &fakeHub{run: func(_ context.Context, call models.ToolCall, _ models.ToolExecutionContext) (*models.ToolExecutionResult, error) {
		return timeoutResult(call), nil
	}}
	e := NewExecutionRouter(nil, hub, circuitbreaker.NewRegistry(2, time.Minute), nil)
	tool := serverTool("slow", "search", "search")

	for range 2 {
		res, err := e.Execute(context.Background(), tool, nil, models.ToolExecutionContext{})
		require.NoError(t, err)
		assert.Equal(t, domain.CategoryTimeout, res.Error.Category)
	}
	assert.Equal(t, circuitbreaker.StateOpen, e.BreakerStates()["slow"])

	res, err := e.Execute(context.Background(), tool, nil, models.ToolExecutionContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryNetwork, res.Error.Category)
	assert.True(t, res.Recoverable())
	assert.ErrorIs(t, res.Error, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, hub.callCount(), "open breaker short-circuits the call")
}

func TestExecutionRouter_RemoteErrorsDoNotTripBreaker(t *testing.T) {
	hub := &fakeHub{run: func(_ context.Context, call models.ToolCall, _ models.ToolExecutionContext) (*models.ToolExecutionResult, error) {
		return models.NewFailureResult(models.ToolID(call.ServerID, call.Name), domain.NewRemoteError(-32000, "no such file"), 0), nil
	}}
	e := NewExecutionRouter(nil, hub, circuitbreaker.NewRegistry(1, time.Minute), nil)
	tool := serverTool("fs", "read", "filesystem")
	for range 3 {
		_, err := e.Execute(context.Background(), tool, nil, models.ToolExecutionContext{})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, hub.callCount())
	assert.Equal(t, circuitbreaker.StateClosed, e.BreakerStates()["fs"])
}

func TestExecutionRouter_Abort(t *testing.T) {
	started := make(chan struct{})
	hub := &fakeHub{run: func(ctx context.Context, call models.ToolCall, _ models.ToolExecutionContext) (*models.ToolExecutionResult, error) {
		close(started)
		<-ctx.Done()
		return models.NewFailureResult(models.ToolID(call.ServerID, call.Name),
			domain.NewExecutionError(domain.CategoryCancelled, domain.ErrExecutionCancelled), 0), nil
	}}
	e := NewExecutionRouter(nil, hub, nil, nil)
	tool := serverTool("fs", "search", "search")

	done := make(chan *models.ToolExecutionResult, 1)
	go func() {
		res, _ := e.Execute(context.Background(), tool, nil, models.ToolExecutionContext{MessageID: "msg_1"})
		done <- res
	}()
	<-started
	assert.Equal(t, 1, e.ActiveCount())
	assert.False(t, e.Abort(tool.ID, "other"))
	assert.True(t, e.Abort(tool.ID, "msg_1"))

	select {
	case res := <-done:
		require.False(t, res.Success)
		assert.Equal(t, domain.CategoryCancelled, res.Error.Category)
		assert.False(t, res.Recoverable())
	case <-time.After(2 * time.Second):
		t.Fatal("execution was not aborted")
	}
	assert.Zero(t, e.ActiveCount())
	assert.False(t, e.Abort(tool.ID, "msg_1"))
}

func TestExecutionRouter_AbortedSuccessIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	builtin := &fakeBuiltin{run: func(context.Context, string, map[string]any) (any, error) {
		close(started)
		<-release
		return "late", nil
	}}
	e := NewExecutionRouter(builtin, nil, nil, nil)

	done := make(chan *models.ToolExecutionResult, 1)
	go func() {
		res, _ := e.Execute(context.Background(), builtinTool("calculator", "math"), nil, models.ToolExecutionContext{MessageID: "m"})
		done <- res
	}()
	<-started
	assert.Equal(t, 1, e.AbortAll())
	close(release)

	res := <-done
	assert.False(t, res.Success)
	assert.Equal(t, domain.CategoryCancelled, res.Error.Category)
}
