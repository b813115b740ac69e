package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/longregen/toolrouter/internal/adapters/metrics"
	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
)

const (
	maxQueuedMessages = 64
	maxToolPages      = 50
)

// Connection owns one live transport to one server together with that
// server's tool cache. It is never shared between servers.
type Connection struct {
	hub       *Hub
	transport Transport
	logger    *slog.Logger

	mu           sync.Mutex
	cfg          models.ServerConfig
	tools        []models.UnifiedTool
	usage        map[string]models.ToolUsageStats
	lastToolSync time.Time
	capabilities ServerCapabilities
	serverInfo   ServerInfo
	queue        [][]byte
	reconnecting bool
	closed       bool

	syncMu   sync.Mutex
	syncNow  chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newConnection(h *Hub, cfg models.ServerConfig) *Connection {
	return &Connection{
		hub:     h,
		cfg:     cfg,
		logger:  h.logger.With("server_id", cfg.ID),
		usage:   make(map[string]models.ToolUsageStats),
		syncNow: make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

func (c *Connection) ServerID() string { return c.cfg.ID }

// available reports whether the connection can serve calls now. A nil
// connection is never available.
func (c *Connection) available() bool {
	return c != nil && c.transport != nil && c.transport.IsConnected()
}

func (c *Connection) config() models.ServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

func (c *Connection) setConfig(cfg models.ServerConfig) {
	c.mu.Lock()
	c.cfg = cfg
	c.mu.Unlock()
}

// LastToolSync returns when the tool cache was last replaced.
func (c *Connection) LastToolSync() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastToolSync
}

// establish connects the transport, runs the handshake and fills the tool
// cache.
func (c *Connection) establish(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := c.initialize(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if _, err := c.syncTools(ctx, c.transport.Send); err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	return nil
}

// TransportHandler

func (c *Connection) OnConnect() {
	c.mu.Lock()
	resume := c.reconnecting && !c.closed
	c.mu.Unlock()
	if resume {
		go c.resume()
	}
}

func (c *Connection) OnDisconnect(err error) {
	n := c.hub.pending.RejectServer(c.cfg.ID, fmt.Errorf("server %s: %w: %v", c.cfg.ID, domain.ErrConnectionClosed, err))
	if n > 0 {
		c.logger.Warn("rejected in-flight requests after disconnect", "count", n)
	}
	_ = c.hub.health.Transition(c.cfg.ID, models.ServerStatusError, err)
	c.hub.notifyToolsChanged(c.cfg.ID)
}

func (c *Connection) OnError(err error) {
	c.logger.Warn("transport error", "error", err)
	_ = c.hub.health.Transition(c.cfg.ID, models.ServerStatusError, err)
}

func (c *Connection) OnReconnecting(attempt int) {
	c.mu.Lock()
	c.reconnecting = true
	c.mu.Unlock()
	metrics.TransportReconnectsTotal.WithLabelValues(c.cfg.ID).Inc()
	_ = c.hub.health.Transition(c.cfg.ID, models.ServerStatusConnecting, nil)
}

func (c *Connection) OnMessage(data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		c.logger.Warn("dropping protocol message", "error", err)
		return
	}

	switch {
	case msg.IsResponse():
		id, ok := msg.NumericID()
		if !ok || !c.hub.pending.Resolve(id, msg.Result, msg.Error) {
			c.logger.Debug("ignoring response for unknown request", "id", string(msg.ID))
		}
	case msg.IsNotification():
		c.handleNotification(msg)
	case msg.IsRequest():
		go c.answer(msg)
	}
}

func (c *Connection) handleNotification(msg *Message) {
	switch msg.Method {
	case MethodToolsListChanged:
		select {
		case c.syncNow <- struct{}{}:
		default:
		}
	case MethodProgress:
		c.logger.Debug("progress notification", "params", string(msg.Params))
	default:
		c.logger.Debug("ignoring notification", "method", msg.Method)
	}
}

// answer replies to requests initiated by the server. Only ping is supported.
func (c *Connection) answer(msg *Message) {
	var id any
	if err := json.Unmarshal(msg.ID, &id); err != nil {
		return
	}
	var resp *JSONRPCResponse
	if msg.Method == MethodPing {
		resp, _ = NewJSONRPCResponse(id, struct{}{})
	} else {
		resp = NewJSONRPCErrorResponse(id, MethodNotFound, "method not supported by client: "+msg.Method, nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.opts.RequestTimeout)
	defer cancel()
	if err := c.send(ctx, resp); err != nil {
		c.logger.Debug("failed to answer server request", "method", msg.Method, "error", err)
	}
}

// resume re-runs the handshake after a transport reconnect and flushes the
// messages queued while it was down.
func (c *Connection) resume() {
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.opts.RequestTimeout*3)
	defer cancel()

	err := c.initialize(ctx)
	if err == nil {
		_, err = c.syncTools(ctx, c.transport.Send)
	}
	if err != nil {
		c.logger.Warn("handshake after reconnect failed", "error", err)
		_ = c.hub.health.Transition(c.cfg.ID, models.ServerStatusError, err)
		return
	}

	c.mu.Lock()
	c.reconnecting = false
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	for _, data := range queued {
		if err := c.transport.Send(ctx, json.RawMessage(data)); err != nil {
			c.logger.Warn("failed to flush queued message", "error", err)
		}
	}
	_ = c.hub.health.Transition(c.cfg.ID, models.ServerStatusConnected, nil)
	c.hub.notifyToolsChanged(c.cfg.ID)
}

// send writes through the transport, or queues while a reconnect is in
// progress.
func (c *Connection) send(ctx context.Context, message any) error {
	data, err := encodeMessage(message)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrConnectionClosed
	}
	if c.reconnecting {
		if len(c.queue) >= maxQueuedMessages {
			c.mu.Unlock()
			return fmt.Errorf("outbound queue full: %w", domain.ErrServerNotConnected)
		}
		c.queue = append(c.queue, data)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	return c.transport.Send(ctx, json.RawMessage(data))
}

// roundTrip sends a request and waits for its response, its timeout, or ctx.
func (c *Connection) roundTrip(ctx context.Context, method string, params any, timeout time.Duration, send func(context.Context, any) error) (json.RawMessage, error) {
	id := c.hub.nextID.Add(1)
	ch, err := c.hub.pending.Add(id, c.cfg.ID, method, timeout)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		metrics.ServerRequestDuration.WithLabelValues(c.cfg.ID, method).Observe(time.Since(start).Seconds())
	}()

	if err := send(ctx, NewJSONRPCRequest(id, method, params)); err != nil {
		c.hub.pending.Reject(id, err)
		res := <-ch
		return nil, res.Err
	}

	select {
	case res := <-ch:
		return res.Result, res.Err
	case <-ctx.Done():
		if c.hub.pending.Reject(id, ctx.Err()) && method == MethodToolsCall {
			c.notifyCancelled(id, ctx.Err())
		}
		res := <-ch
		return res.Result, res.Err
	}
}

func (c *Connection) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	return c.roundTrip(ctx, method, params, timeout, c.send)
}

func (c *Connection) notifyCancelled(id int64, cause error) {
	reason := "request cancelled"
	if errors.Is(cause, context.DeadlineExceeded) {
		reason = "request timed out"
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	note := NewJSONRPCNotification(MethodCancelled, CancelledNotification{RequestID: id, Reason: reason})
	if err := c.send(ctx, note); err != nil {
		c.logger.Debug("failed to send cancellation", "id", id, "error", err)
	}
}

func (c *Connection) initialize(ctx context.Context) error {
	params := InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      ClientInfo{Name: c.hub.opts.ClientName, Version: c.hub.opts.ClientVersion},
	}

	raw, err := c.roundTrip(ctx, MethodInitialize, params, c.hub.opts.RequestTimeout, c.transport.Send)
	if err != nil {
		return err
	}
	var result InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("malformed initialize result: %w", err)
	}

	c.mu.Lock()
	c.capabilities = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()
	c.hub.health.SetCapabilities(c.cfg.ID, result.Capabilities.Flags())

	c.logger.Info("initialized server",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion)

	return c.transport.Send(ctx, NewJSONRPCNotification(MethodInitialized, nil))
}

// syncTools replaces the tool cache with the server's current list. It
// reports whether the set of tools changed.
func (c *Connection) syncTools(ctx context.Context, send func(context.Context, any) error) (bool, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	var listed []Tool
	cursor := ""
	for page := 0; page < maxToolPages; page++ {
		var params any
		if cursor != "" {
			params = ToolsListParams{Cursor: cursor}
		}
		raw, err := c.roundTrip(ctx, MethodToolsList, params, c.hub.opts.RequestTimeout, send)
		if err != nil {
			return false, err
		}
		var result ToolsListResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return false, fmt.Errorf("malformed tools/list result: %w", err)
		}
		listed = append(listed, result.Tools...)
		if result.NextCursor == nil || *result.NextCursor == "" || *result.NextCursor == cursor {
			break
		}
		cursor = *result.NextCursor
	}

	cfg := c.config()
	tools := make([]models.UnifiedTool, 0, len(listed))
	seen := make(map[string]bool, len(listed))
	for _, t := range listed {
		if t.Name == "" || seen[t.Name] {
			continue
		}
		seen[t.Name] = true
		tools = append(tools, toUnifiedTool(cfg, t))
	}
	slices.SortFunc(tools, func(a, b models.UnifiedTool) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})

	c.mu.Lock()
	changed := !sameToolSet(c.tools, tools)
	c.tools = tools
	c.lastToolSync = time.Now()
	c.mu.Unlock()

	c.hub.health.SetToolCount(c.cfg.ID, len(tools))
	c.logger.Debug("synchronized tools", "count", len(tools), "changed", changed)
	return changed, nil
}

func sameToolSet(a, b []models.UnifiedTool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Description != b[i].Description {
			return false
		}
	}
	return true
}

// Tools returns the cached tools with their usage statistics.
func (c *Connection) Tools() []models.UnifiedTool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.UnifiedTool, len(c.tools))
	for i, t := range c.tools {
		t = t.Clone()
		if u, ok := c.usage[t.Name]; ok {
			t.Usage = u
		}
		out[i] = t
	}
	return out
}

func (c *Connection) hasTool(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.ContainsFunc(c.tools, func(t models.UnifiedTool) bool { return t.Name == name })
}

func (c *Connection) recordUsage(name string, d time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.usage[name]
	u.Record(d, success, time.Now())
	c.usage[name] = u
}

// callTool runs tools/call within the execution budget and turns every
// runtime failure into a categorized result.
func (c *Connection) callTool(ctx context.Context, call models.ToolCall, execCtx models.ToolExecutionContext) *models.ToolExecutionResult {
	cfg := c.config()
	toolID := models.ToolID(cfg.ID, call.Name)
	budget := execCtx.Budget(cfg.Security.MaxExecutionTime)

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	raw, err := c.call(ctx, MethodToolsCall, ToolsCallParams{Name: call.Name, Arguments: call.Arguments}, budget)
	d := time.Since(start)

	if err != nil {
		execErr := ClassifyError(err)
		c.recordUsage(call.Name, d, false)
		if execErr.Category != domain.CategoryCancelled {
			c.hub.health.RecordFailure(cfg.ID, d, err, execErr.Recoverable)
		}
		c.logger.Warn("tool call failed", "tool", call.Name, "category", execErr.Category, "error", err)
		return models.NewFailureResult(toolID, execErr, d)
	}
	c.hub.health.RecordSuccess(cfg.ID, d)

	if limit := cfg.Security.MaxResultBytes(); limit > 0 && len(raw) > limit {
		c.recordUsage(call.Name, d, false)
		execErr := domain.NewExecutionError(domain.CategoryRemote,
			fmt.Errorf("%w: %d bytes, limit %d", domain.ErrResultTooLarge, len(raw), limit))
		return models.NewFailureResult(toolID, execErr, d)
	}

	var result ToolsCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.recordUsage(call.Name, d, false)
		return models.NewFailureResult(toolID, domain.NewRemoteError(InternalError, "malformed tools/call result: "+err.Error()), d)
	}
	if result.IsError {
		c.recordUsage(call.Name, d, false)
		msg := result.Text()
		if msg == "" {
			msg = "tool reported an error"
		}
		return models.NewFailureResult(toolID, domain.NewRemoteError(0, msg), d)
	}

	c.recordUsage(call.Name, d, true)
	return models.NewSuccessResult(toolID, contentData(result), d, len(raw))
}

// contentData collapses a single text item to a string.
func contentData(result ToolsCallResult) any {
	if len(result.Content) == 1 && result.Content[0].Type == "text" {
		return result.Content[0].Text
	}
	return result.Content
}

// ping probes liveness. Any response, including an error, counts.
func (c *Connection) ping() {
	c.mu.Lock()
	skip := c.reconnecting || c.closed
	c.mu.Unlock()
	if skip || !c.transport.IsConnected() {
		return
	}

	timeout := c.healthCheckTimeout()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	_, err := c.call(ctx, MethodPing, nil, timeout)
	d := time.Since(start)

	var rpcErr *JSONRPCError
	if err == nil || errors.As(err, &rpcErr) {
		c.hub.health.RecordSuccess(c.cfg.ID, d)
		return
	}
	c.logger.Debug("health check failed", "error", err)
	c.hub.health.RecordFailure(c.cfg.ID, d, err, ClassifyError(err).Recoverable)
}

func (c *Connection) healthCheckTimeout() time.Duration {
	t := c.config().HealthCheckInterval / 2
	if t <= 0 || t > c.hub.opts.RequestTimeout {
		t = c.hub.opts.RequestTimeout
	}
	return t
}

// resync refreshes the tool cache outside the handshake.
func (c *Connection) resync(reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.opts.RequestTimeout*2)
	defer cancel()
	changed, err := c.syncTools(ctx, c.send)
	if err != nil {
		c.logger.Warn("tool resync failed", "reason", reason, "error", err)
		return
	}
	if changed {
		c.hub.notifyToolsChanged(c.cfg.ID)
	}
}

// startTimers runs health checks and periodic tool re-sync until close.
func (c *Connection) startTimers() {
	healthEvery := c.config().HealthCheckInterval
	if healthEvery <= 0 {
		healthEvery = models.DefaultHealthCheckInterval
	}
	syncEvery := c.hub.opts.ToolSyncInterval

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		healthTicker := time.NewTicker(healthEvery)
		defer healthTicker.Stop()
		syncTicker := time.NewTicker(syncEvery)
		defer syncTicker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-healthTicker.C:
				c.ping()
			case <-syncTicker.C:
				c.resync("periodic")
			case <-c.syncNow:
				c.resync("list_changed")
			}
		}
	}()
}

func (c *Connection) stopTimers() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// close stops timers and the transport. Pending requests are rejected by the
// caller through the hub's table.
func (c *Connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.queue = nil
	c.mu.Unlock()

	c.stopTimers()
	var err error
	if c.transport != nil {
		err = c.transport.Disconnect()
	}
	return err
}

// wait blocks until the timer goroutine has exited.
func (c *Connection) wait() {
	c.wg.Wait()
}
