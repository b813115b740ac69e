package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/longregen/toolrouter/internal/adapters/retry"
	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/catalog"
	"github.com/longregen/toolrouter/internal/domain/models"
	"github.com/longregen/toolrouter/internal/ports"
)

type HubOptions struct {
	ClientName    string
	ClientVersion string
	// RequestTimeout bounds handshake, tools/list and ping requests.
	RequestTimeout   time.Duration
	ToolSyncInterval time.Duration
	DefaultStrategy  models.ConflictStrategy
	Health           HealthOptions
	Transport        TransportOptions
}

func DefaultHubOptions() HubOptions {
	return HubOptions{
		ClientName:       "toolrouter",
		ClientVersion:    "dev",
		RequestTimeout:   10 * time.Second,
		ToolSyncInterval: 5 * time.Minute,
		DefaultStrategy:  models.StrategyPreferBuiltin,
		Health:           DefaultHealthOptions(),
	}
}

func (o HubOptions) withDefaults() HubOptions {
	def := DefaultHubOptions()
	if o.ClientName == "" {
		o.ClientName = def.ClientName
	}
	if o.ClientVersion == "" {
		o.ClientVersion = def.ClientVersion
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = def.RequestTimeout
	}
	if o.ToolSyncInterval <= 0 {
		o.ToolSyncInterval = def.ToolSyncInterval
	}
	if !o.DefaultStrategy.Valid() {
		o.DefaultStrategy = def.DefaultStrategy
	}
	return o
}

// HubDeps are the collaborators of a Hub. Every field is optional.
type HubDeps struct {
	Store   ports.ServerConfigRepository
	Builtin ports.BuiltinToolSource
	Sink    ports.EventSink
	IDs     ports.IDGenerator
	Logger  *slog.Logger
}

type serverEntry struct {
	// lifecycle serializes connect and disconnect for one id.
	lifecycle sync.Mutex
	cfg       models.ServerConfig
	conn      *Connection
	retry     *retry.Scheduler
}

// Hub manages every external tool server: configuration, connections,
// request correlation and health.
type Hub struct {
	opts     HubOptions
	store    ports.ServerConfigRepository
	builtin  ports.BuiltinToolSource
	sink     ports.EventSink
	ids      ports.IDGenerator
	logger   *slog.Logger
	pending  *PendingTable
	health   *HealthMonitor
	resolver *catalog.Resolver
	nextID   atomic.Int64

	newTransport func(models.ServerConfig, TransportHandler, TransportOptions) (Transport, error)

	mu           sync.RWMutex
	servers      map[string]*serverEntry
	conflicts    map[string]models.ToolConflict
	rules        []models.ConflictRule
	shuttingDown bool
	onChange     func(serverID string)
}

func NewHub(opts HubOptions, deps HubDeps) *Hub {
	opts = opts.withDefaults()
	if deps.Sink == nil {
		deps.Sink = ports.NopEventSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	logger := deps.Logger.With("component", "mcp_hub")
	if opts.Transport.Logger == nil {
		opts.Transport.Logger = deps.Logger
	}

	return &Hub{
		opts:         opts,
		store:        deps.Store,
		builtin:      deps.Builtin,
		sink:         deps.Sink,
		ids:          deps.IDs,
		logger:       logger,
		pending:      NewPendingTable(),
		health:       NewHealthMonitor(deps.Sink, logger, opts.Health),
		resolver:     catalog.NewResolver(opts.DefaultStrategy),
		newTransport: NewTransport,
		servers:      make(map[string]*serverEntry),
		conflicts:    make(map[string]models.ToolConflict),
	}
}

// OnToolsChanged registers fn to run after a server's tool set may have
// changed. fn runs on its own goroutine.
func (h *Hub) OnToolsChanged(fn func(serverID string)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

func (h *Hub) notifyToolsChanged(serverID string) {
	h.mu.RLock()
	fn := h.onChange
	h.mu.RUnlock()
	if fn != nil {
		go fn(serverID)
	}
}

func (h *Hub) isShuttingDown() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.shuttingDown
}

func (h *Hub) entry(id string) (*serverEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.shuttingDown {
		return nil, domain.ErrHubShuttingDown
	}
	e, ok := h.servers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrServerNotFound, id)
	}
	return e, nil
}

func (h *Hub) connection(id string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if e, ok := h.servers[id]; ok {
		return e.conn
	}
	return nil
}

func (h *Hub) prepare(cfg models.ServerConfig) (models.ServerConfig, error) {
	if cfg.ID == "" && h.ids != nil {
		cfg.ID = h.ids.GenerateServerID()
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	switch cfg.Transport.Type {
	case models.TransportSSE:
		if _, err := parseEndpoint(cfg.Transport.URL, "http", "https"); err != nil {
			return cfg, domain.NewConfigError("transport.url", "%v", err)
		}
	case models.TransportWebSocket:
		if _, err := parseEndpoint(cfg.Transport.URL, "ws", "wss"); err != nil {
			return cfg, domain.NewConfigError("transport.url", "%v", err)
		}
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now().UTC()
	}
	return cfg, nil
}

// AddServer validates and registers cfg, persists it, and attempts a first
// connection. Only configuration problems are returned; connection failures
// surface through health.
func (h *Hub) AddServer(ctx context.Context, cfg models.ServerConfig) (models.ServerConfig, error) {
	return h.addServer(ctx, cfg, true)
}

func (h *Hub) addServer(ctx context.Context, cfg models.ServerConfig, persist bool) (models.ServerConfig, error) {
	cfg, err := h.prepare(cfg)
	if err != nil {
		return cfg, err
	}

	h.mu.Lock()
	if h.shuttingDown {
		h.mu.Unlock()
		return cfg, domain.ErrHubShuttingDown
	}
	if _, exists := h.servers[cfg.ID]; exists {
		h.mu.Unlock()
		return cfg, fmt.Errorf("%w: %s", domain.ErrServerExists, cfg.ID)
	}
	e := &serverEntry{cfg: cfg, retry: retry.NewScheduler(retry.PolicyFor(cfg))}
	h.servers[cfg.ID] = e
	h.mu.Unlock()

	h.health.Register(cfg.ID)
	h.logger.Info("server added", "server_id", cfg.ID, "transport", cfg.Transport.Type)

	if persist {
		h.persist(ctx, cfg)
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	h.connectLocked(ctx, e)
	return cfg, nil
}

func (h *Hub) persist(ctx context.Context, cfg models.ServerConfig) {
	if h.store == nil {
		return
	}
	if err := h.store.Save(ctx, cfg); err != nil {
		h.logger.Error("failed to persist server config", "server_id", cfg.ID, "error", err)
	}
}

// UpdateServer replaces the configuration of an existing server. A changed
// transport reconnects the server.
func (h *Hub) UpdateServer(ctx context.Context, cfg models.ServerConfig) (models.ServerConfig, error) {
	e, err := h.entry(cfg.ID)
	if err != nil {
		return cfg, err
	}
	if cfg.CreatedAt.IsZero() {
		h.mu.RLock()
		cfg.CreatedAt = e.cfg.CreatedAt
		h.mu.RUnlock()
	}
	cfg, err = h.prepare(cfg)
	if err != nil {
		return cfg, err
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	h.mu.Lock()
	prev := e.cfg
	e.cfg = cfg
	conn := e.conn
	h.mu.Unlock()

	h.persist(ctx, cfg)

	if conn == nil || !prev.Transport.Equal(cfg.Transport) || prev.Security.NetworkAccess != cfg.Security.NetworkAccess {
		e.retry.Stop()
		e.retry = retry.NewScheduler(retry.PolicyFor(cfg))
		h.connectLocked(ctx, e)
		return cfg, nil
	}
	conn.setConfig(cfg)
	return cfg, nil
}

// RemoveServer disconnects and forgets a server.
func (h *Hub) RemoveServer(ctx context.Context, id string) error {
	e, err := h.entry(id)
	if err != nil {
		return err
	}

	e.lifecycle.Lock()
	e.retry.Stop()
	h.teardownLocked(e, fmt.Errorf("server %s removed: %w", id, domain.ErrConnectionClosed))
	e.lifecycle.Unlock()

	h.mu.Lock()
	delete(h.servers, id)
	h.mu.Unlock()
	h.health.Remove(id)

	if h.store != nil {
		if err := h.store.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			h.logger.Error("failed to delete server config", "server_id", id, "error", err)
		}
	}
	h.logger.Info("server removed", "server_id", id)
	h.notifyToolsChanged(id)
	return nil
}

// ConnectServer replaces any existing connection to id with a fresh one.
// It only fails for unknown ids or a hub that is shutting down.
func (h *Hub) ConnectServer(ctx context.Context, id string) error {
	e, err := h.entry(id)
	if err != nil {
		return err
	}
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.retry.Stop()
	e.retry = retry.NewScheduler(retry.PolicyFor(e.cfg))
	h.connectLocked(ctx, e)
	return nil
}

// connectLocked runs with e.lifecycle held.
func (h *Hub) connectLocked(ctx context.Context, e *serverEntry) {
	h.mu.RLock()
	cfg := e.cfg
	shutting := h.shuttingDown
	h.mu.RUnlock()
	if shutting {
		return
	}

	h.teardownLocked(e, fmt.Errorf("server %s reconnecting: %w", cfg.ID, domain.ErrConnectionClosed))

	conn := newConnection(h, cfg)
	topts := h.opts.Transport
	topts.Policy = retry.PolicyFor(cfg)
	transport, err := h.newTransport(cfg, conn, topts)
	if err != nil {
		h.failConnect(e, cfg, err)
		return
	}
	conn.transport = transport

	_ = h.health.Transition(cfg.ID, models.ServerStatusConnecting, nil)
	if err := conn.establish(ctx); err != nil {
		_ = conn.close()
		h.pending.RejectServer(cfg.ID, fmt.Errorf("server %s: %w", cfg.ID, domain.ErrConnectionClosed))
		h.failConnect(e, cfg, err)
		return
	}

	h.mu.Lock()
	if h.shuttingDown || h.servers[cfg.ID] != e {
		h.mu.Unlock()
		_ = conn.close()
		return
	}
	e.conn = conn
	h.mu.Unlock()

	e.retry.Reset()
	_ = h.health.Transition(cfg.ID, models.ServerStatusConnected, nil)
	conn.startTimers()
	h.logger.Info("server connected", "server_id", cfg.ID, "tools", len(conn.Tools()))
	h.notifyToolsChanged(cfg.ID)
}

func (h *Hub) failConnect(e *serverEntry, cfg models.ServerConfig, err error) {
	h.logger.Warn("failed to connect server", "server_id", cfg.ID, "error", err)
	_ = h.health.Transition(cfg.ID, models.ServerStatusError, err)

	sched := e.retry
	id := cfg.ID
	scheduled := sched.Schedule(func(attempt int) {
		h.logger.Info("retrying server connection", "server_id", id, "attempt", attempt)
		ctx, cancel := context.WithTimeout(context.Background(), h.opts.Transport.withDefaults().DialTimeout+3*h.opts.RequestTimeout)
		defer cancel()

		e.lifecycle.Lock()
		defer e.lifecycle.Unlock()
		if e.retry != sched {
			return
		}
		h.connectLocked(ctx, e)
	})
	if !scheduled && cfg.AutoRestart {
		h.logger.Warn("giving up on server", "server_id", id, "attempts", sched.Attempts())
	}
}

// teardownLocked closes the live connection, if any, and rejects its
// in-flight requests with cause. It runs with e.lifecycle held.
func (h *Hub) teardownLocked(e *serverEntry, cause error) {
	h.mu.Lock()
	conn := e.conn
	e.conn = nil
	id := e.cfg.ID
	h.mu.Unlock()

	if conn != nil {
		if err := conn.close(); err != nil {
			h.logger.Debug("error closing transport", "server_id", id, "error", err)
		}
	}
	h.pending.RejectServer(id, cause)
	if conn != nil {
		conn.wait()
	}
	_ = h.health.Transition(id, models.ServerStatusDisconnected, nil)
}

// DisconnectServer closes the connection to id and cancels pending retries.
func (h *Hub) DisconnectServer(ctx context.Context, id string) error {
	e, err := h.entry(id)
	if err != nil {
		return err
	}
	e.lifecycle.Lock()
	e.retry.Stop()
	h.teardownLocked(e, fmt.Errorf("server %s disconnected: %w", id, domain.ErrConnectionClosed))
	e.lifecycle.Unlock()

	h.logger.Info("server disconnected", "server_id", id)
	h.notifyToolsChanged(id)
	return nil
}

// SyncServerTools refreshes one server's tool cache on demand.
func (h *Hub) SyncServerTools(ctx context.Context, id string) ([]models.UnifiedTool, error) {
	if _, err := h.entry(id); err != nil {
		return nil, err
	}
	conn := h.connection(id)
	if conn == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrServerNotConnected, id)
	}
	changed, err := conn.syncTools(ctx, conn.send)
	if err != nil {
		return nil, err
	}
	if changed {
		h.notifyToolsChanged(id)
	}
	return conn.Tools(), nil
}

// ExecuteToolCall routes call to its owning server. Unknown tools, unknown
// servers and a closed hub are returned as errors; every runtime failure is
// reported inside the result.
func (h *Hub) ExecuteToolCall(ctx context.Context, call models.ToolCall, execCtx models.ToolExecutionContext) (*models.ToolExecutionResult, error) {
	if call.Name == "" {
		return nil, fmt.Errorf("%w: tool name is required", domain.ErrInvalidCall)
	}
	if h.isShuttingDown() {
		return nil, domain.ErrHubShuttingDown
	}

	serverID, err := h.owner(call)
	if err != nil {
		return nil, err
	}
	conn := h.connection(serverID)
	if conn == nil {
		execErr := domain.NewExecutionError(domain.CategoryNetwork,
			fmt.Errorf("%w: %s", domain.ErrServerNotConnected, serverID))
		return models.NewFailureResult(models.ToolID(serverID, call.Name), execErr, 0), nil
	}
	return conn.callTool(ctx, call, execCtx), nil
}

// owner picks the server for call: the explicit id, the conflict winner,
// then the first connected server by id that exposes the name.
func (h *Hub) owner(call models.ToolCall) (string, error) {
	if call.ServerID != "" {
		h.mu.RLock()
		_, ok := h.servers[call.ServerID]
		h.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("%w: %s", domain.ErrServerNotFound, call.ServerID)
		}
		return call.ServerID, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if c, ok := h.conflicts[catalog.NormalizeName(call.Name)]; ok && c.SelectedSource != models.SourceBuiltin {
		if e, ok := h.servers[c.SelectedSource]; ok && e.conn.available() {
			return c.SelectedSource, nil
		}
	}

	ids := make([]string, 0, len(h.servers))
	for id, e := range h.servers {
		if e.conn.available() && e.conn.hasTool(call.Name) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("%w: %s", domain.ErrToolNotFound, call.Name)
	}
	sort.Strings(ids)
	return ids[0], nil
}

// ServerTools returns the cached tools of every server whose transport is
// up, ordered by server id. A server that dropped out reappears once its
// reconnect succeeds.
func (h *Hub) ServerTools() []models.UnifiedTool {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.servers))
	for _, e := range h.servers {
		if e.conn.available() {
			conns = append(conns, e.conn)
		}
	}
	h.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ServerID() < conns[j].ServerID() })
	var out []models.UnifiedTool
	for _, c := range conns {
		out = append(out, c.Tools()...)
	}
	return out
}

// GetAllAvailableTools merges built-in and server tools and resolves name
// conflicts with the configured rules.
func (h *Hub) GetAllAvailableTools(ctx context.Context) catalog.Resolution {
	var all []models.UnifiedTool
	if h.builtin != nil {
		all = append(all, h.builtin.ListTools()...)
	}
	all = append(all, h.ServerTools()...)

	h.mu.RLock()
	rules := append([]models.ConflictRule(nil), h.rules...)
	h.mu.RUnlock()

	res := h.resolver.Resolve(all, rules)
	h.SetConflictResolutions(res.Conflicts)
	return res
}

// SetConflictRules replaces the rules used by GetAllAvailableTools.
func (h *Hub) SetConflictRules(rules []models.ConflictRule) {
	h.mu.Lock()
	h.rules = append([]models.ConflictRule(nil), rules...)
	h.mu.Unlock()
}

func (h *Hub) SetConflictResolutions(conflicts []models.ToolConflict) {
	m := make(map[string]models.ToolConflict, len(conflicts))
	for _, c := range conflicts {
		m[c.Name] = c
	}
	h.mu.Lock()
	h.conflicts = m
	h.mu.Unlock()
}

// GetHealthReport aggregates per-server health with catalog counts.
func (h *Hub) GetHealthReport() models.HealthReport {
	servers := h.health.Snapshot()
	report := models.HealthReport{
		Servers:         servers,
		TotalServers:    len(servers),
		PendingRequests: h.pending.Len(),
		GeneratedAt:     time.Now(),
		Healthy:         true,
	}
	for _, s := range servers {
		if s.Status == models.ServerStatusConnected {
			report.ConnectedServers++
			report.ExternalTools += s.ToolCount
		} else {
			report.Healthy = false
			report.DegradedServerIDs = append(report.DegradedServerIDs, s.ServerID)
		}
	}
	if h.builtin != nil {
		report.BuiltinTools = len(h.builtin.ListTools())
	}

	h.mu.RLock()
	for _, c := range h.conflicts {
		if c.AwaitingUser {
			report.UnresolvedCount++
		}
	}
	h.mu.RUnlock()
	return report
}

// Health returns one server's health.
func (h *Hub) Health(id string) (models.ServerHealth, bool) {
	return h.health.Get(id)
}

// ListServers returns every registered configuration sorted by id.
func (h *Hub) ListServers() []models.ServerConfig {
	h.mu.RLock()
	out := make([]models.ServerConfig, 0, len(h.servers))
	for _, e := range h.servers {
		out = append(out, e.cfg)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (h *Hub) GetServer(id string) (models.ServerConfig, error) {
	e, err := h.entry(id)
	if err != nil {
		return models.ServerConfig{}, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return e.cfg, nil
}

// ExportServers encodes every configuration as a JSON array.
func (h *Hub) ExportServers() ([]byte, error) {
	return json.MarshalIndent(h.ListServers(), "", "  ")
}

// ImportServers adds or updates the servers in a JSON array. The whole
// document is validated before anything is applied.
func (h *Hub) ImportServers(ctx context.Context, data []byte) (int, error) {
	var configs []models.ServerConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		return 0, domain.NewConfigError("servers", "invalid JSON: %v", err)
	}

	prepared := make([]models.ServerConfig, 0, len(configs))
	for i, cfg := range configs {
		p, err := h.prepare(cfg)
		if err != nil {
			return 0, fmt.Errorf("server %d: %w", i, err)
		}
		prepared = append(prepared, p)
	}

	n := 0
	for _, cfg := range prepared {
		h.mu.RLock()
		_, exists := h.servers[cfg.ID]
		h.mu.RUnlock()

		var err error
		if exists {
			_, err = h.UpdateServer(ctx, cfg)
		} else {
			_, err = h.AddServer(ctx, cfg)
		}
		if err != nil {
			return n, fmt.Errorf("server %s: %w", cfg.ID, err)
		}
		n++
	}
	return n, nil
}

// LoadServers registers every stored configuration. Invalid records are
// logged and skipped.
func (h *Hub) LoadServers(ctx context.Context) (int, error) {
	if h.store == nil {
		return 0, nil
	}
	configs, err := h.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load server configs: %w", err)
	}

	var mu sync.Mutex
	n := 0
	g, gctx := errgroup.WithContext(ctx)
	for _, cfg := range configs {
		g.Go(func() error {
			if _, err := h.addServer(gctx, cfg, false); err != nil {
				if errors.Is(err, domain.ErrHubShuttingDown) {
					return err
				}
				h.logger.Warn("skipping stored server", "server_id", cfg.ID, "error", err)
				return nil
			}
			mu.Lock()
			n++
			mu.Unlock()
			return nil
		})
	}
	return n, g.Wait()
}

// Shutdown stops timers, disconnects every server concurrently and rejects
// whatever is still pending. Later operations fail with ErrHubShuttingDown.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.shuttingDown {
		h.mu.Unlock()
		return nil
	}
	h.shuttingDown = true
	entries := make([]*serverEntry, 0, len(h.servers))
	for _, e := range h.servers {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	h.logger.Info("shutting down hub", "servers", len(entries))

	for _, e := range entries {
		e.retry.Stop()
		h.mu.RLock()
		conn := e.conn
		h.mu.RUnlock()
		if conn != nil {
			conn.stopTimers()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				e.lifecycle.Lock()
				h.teardownLocked(e, domain.ErrHubShuttingDown)
				e.lifecycle.Unlock()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err := g.Wait()

	h.pending.RejectAll(domain.ErrHubShuttingDown)

	h.mu.Lock()
	h.servers = make(map[string]*serverEntry)
	h.conflicts = make(map[string]models.ToolConflict)
	h.mu.Unlock()
	return err
}
