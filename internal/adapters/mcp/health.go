package mcp

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/longregen/toolrouter/internal/adapters/metrics"
	"github.com/longregen/toolrouter/internal/domain/models"
	"github.com/longregen/toolrouter/internal/ports"
)

type HealthOptions struct {
	// FailureThreshold is the number of consecutive transport-level request
	// failures that moves a connected server to error.
	FailureThreshold int
	// Window is the number of recent requests the error rate covers.
	Window int
	// LatencyAlpha weights the newest sample of the latency average.
	LatencyAlpha float64
}

func DefaultHealthOptions() HealthOptions {
	return HealthOptions{FailureThreshold: 3, Window: 20, LatencyAlpha: 0.3}
}

type healthState struct {
	health   models.ServerHealth
	outcomes []bool
	next     int
	filled   int
	samples  int
	degraded bool
}

// HealthMonitor tracks the status and request statistics of every server
// independently of its transport.
type HealthMonitor struct {
	mu      sync.Mutex
	servers map[string]*healthState
	opts    HealthOptions
	sink    ports.EventSink
	logger  *slog.Logger
	now     func() time.Time
}

func NewHealthMonitor(sink ports.EventSink, logger *slog.Logger, opts HealthOptions) *HealthMonitor {
	def := DefaultHealthOptions()
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.Window <= 0 {
		opts.Window = def.Window
	}
	if opts.LatencyAlpha <= 0 || opts.LatencyAlpha > 1 {
		opts.LatencyAlpha = def.LatencyAlpha
	}
	if sink == nil {
		sink = ports.NopEventSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthMonitor{
		servers: make(map[string]*healthState),
		opts:    opts,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
	}
}

// Register starts tracking serverID in the disconnected state.
func (m *HealthMonitor) Register(serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[serverID]; ok {
		return
	}
	m.servers[serverID] = &healthState{
		health: models.ServerHealth{
			ServerID:  serverID,
			Status:    models.ServerStatusDisconnected,
			LastCheck: m.now(),
		},
		outcomes: make([]bool, m.opts.Window),
	}
}

// Remove forgets serverID.
func (m *HealthMonitor) Remove(serverID string) {
	m.mu.Lock()
	delete(m.servers, serverID)
	m.mu.Unlock()
	metrics.ServerConnected.DeleteLabelValues(serverID)
}

func (m *HealthMonitor) state(serverID string) *healthState {
	s, ok := m.servers[serverID]
	if !ok {
		s = &healthState{
			health:   models.ServerHealth{ServerID: serverID, Status: models.ServerStatusDisconnected},
			outcomes: make([]bool, m.opts.Window),
		}
		m.servers[serverID] = s
	}
	return s
}

// Transition moves serverID to status. Invalid transitions are refused and
// returned as errors.
func (m *HealthMonitor) Transition(serverID string, to models.ServerStatus, cause error) error {
	m.mu.Lock()
	events, err := m.transitionLocked(serverID, to, cause)
	m.mu.Unlock()

	m.publish(events)
	return err
}

func (m *HealthMonitor) transitionLocked(serverID string, to models.ServerStatus, cause error) ([]models.Event, error) {
	s := m.state(serverID)
	from := s.health.Status
	if err := models.ValidateServerTransition(from, to); err != nil {
		m.logger.Debug("refusing health transition", "server_id", serverID, "from", from, "to", to)
		return nil, err
	}

	now := m.now()
	s.health.LastCheck = now
	if cause != nil {
		s.health.LastError = cause.Error()
	}
	if from == to {
		return nil, nil
	}

	s.health.Status = to
	change := models.ServerStatusChange{From: from, To: to}
	if cause != nil {
		change.Error = cause.Error()
	}

	events := []models.Event{m.event(models.EventServerStatus, serverID, change)}
	switch {
	case to == models.ServerStatusError:
		if from == models.ServerStatusConnected {
			m.logger.Warn("server unhealthy", "server_id", serverID, "error", cause)
			events = append(events, m.event(models.EventServerUnhealthy, serverID, change))
		}
		s.degraded = true
	case to == models.ServerStatusConnected:
		s.health.LastConnected = &now
		s.health.ConsecutiveFailures = 0
		if s.degraded {
			m.logger.Info("server recovered", "server_id", serverID)
			events = append(events, m.event(models.EventServerRecovered, serverID, change))
			s.health.LastError = ""
			s.degraded = false
		}
	}

	connected := 0.0
	if to == models.ServerStatusConnected {
		connected = 1
	}
	metrics.ServerConnected.WithLabelValues(serverID).Set(connected)
	return events, nil
}

func (m *HealthMonitor) event(t models.EventType, serverID string, payload any) models.Event {
	ev := models.NewEvent(t, payload)
	ev.ServerID = serverID
	return ev
}

func (m *HealthMonitor) publish(events []models.Event) {
	for _, ev := range events {
		m.sink.Publish(ev)
	}
}

func (s *healthState) record(ok bool, latency time.Duration, alpha float64) {
	s.outcomes[s.next] = ok
	s.next = (s.next + 1) % len(s.outcomes)
	if s.filled < len(s.outcomes) {
		s.filled++
	}

	failures := 0
	for i := 0; i < s.filled; i++ {
		if !s.outcomes[i] {
			failures++
		}
	}
	s.health.ErrorRate = float64(failures) / float64(s.filled)

	ms := float64(latency.Microseconds()) / 1000.0
	if s.samples == 0 {
		s.health.AverageLatencyMs = ms
	} else {
		s.health.AverageLatencyMs = alpha*ms + (1-alpha)*s.health.AverageLatencyMs
	}
	s.samples++
}

// RecordSuccess folds a request that got a response into the statistics.
// A server in error that answers again recovers through connecting.
func (m *HealthMonitor) RecordSuccess(serverID string, latency time.Duration) {
	m.mu.Lock()
	s := m.state(serverID)
	s.record(true, latency, m.opts.LatencyAlpha)
	s.health.ConsecutiveFailures = 0
	s.health.LastCheck = m.now()

	var events []models.Event
	if s.health.Status == models.ServerStatusError {
		if evs, err := m.transitionLocked(serverID, models.ServerStatusConnecting, nil); err == nil {
			events = append(events, evs...)
			evs, _ = m.transitionLocked(serverID, models.ServerStatusConnected, nil)
			events = append(events, evs...)
		}
	}
	m.mu.Unlock()

	m.publish(events)
}

// RecordFailure folds a failed request into the statistics. Only transport
// faults (timeouts, network failures) count toward the failure threshold;
// a tool reporting an error still proves the server is alive.
func (m *HealthMonitor) RecordFailure(serverID string, latency time.Duration, err error, transportFault bool) {
	m.mu.Lock()
	s := m.state(serverID)
	s.record(false, latency, m.opts.LatencyAlpha)
	s.health.LastCheck = m.now()
	if err != nil {
		s.health.LastError = err.Error()
	}

	var events []models.Event
	if transportFault {
		s.health.ConsecutiveFailures++
		if s.health.ConsecutiveFailures >= m.opts.FailureThreshold && s.health.Status == models.ServerStatusConnected {
			events, _ = m.transitionLocked(serverID, models.ServerStatusError, err)
		}
	} else {
		s.health.ConsecutiveFailures = 0
	}
	m.mu.Unlock()

	m.publish(events)
}

func (m *HealthMonitor) SetToolCount(serverID string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(serverID).health.ToolCount = n
}

func (m *HealthMonitor) SetCapabilities(serverID string, caps map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(serverID).health.Capabilities = caps
}

func (m *HealthMonitor) Status(serverID string) models.ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.servers[serverID]; ok {
		return s.health.Status
	}
	return models.ServerStatusDisconnected
}

func (m *HealthMonitor) Get(serverID string) (models.ServerHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[serverID]
	if !ok {
		return models.ServerHealth{}, false
	}
	return cloneHealth(s.health), true
}

// Snapshot returns every server's health sorted by id.
func (m *HealthMonitor) Snapshot() []models.ServerHealth {
	m.mu.Lock()
	out := make([]models.ServerHealth, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, cloneHealth(s.health))
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}

func cloneHealth(h models.ServerHealth) models.ServerHealth {
	if h.Capabilities != nil {
		caps := make(map[string]any, len(h.Capabilities))
		for k, v := range h.Capabilities {
			caps[k] = v
		}
		h.Capabilities = caps
	}
	if h.LastConnected != nil {
		t := *h.LastConnected
		h.LastConnected = &t
	}
	return h
}
