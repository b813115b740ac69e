package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/longregen/toolrouter/internal/adapters/retry"
	"github.com/longregen/toolrouter/internal/domain"
	"github.com/longregen/toolrouter/internal/domain/models"
)

// Transport defines the interface for MCP communication
type Transport interface {
	// Connect establishes the underlying channel. It returns once messages
	// can be sent.
	Connect(ctx context.Context) error

	// Disconnect closes the transport. A transport closed this way never
	// reconnects.
	Disconnect() error

	// Send sends a message to the MCP server
	Send(ctx context.Context, message any) error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	Type() models.TransportType
}

// TransportHandler receives transport events. Implementations must not
// block for long; messages are delivered from the transport's read loop.
type TransportHandler interface {
	// OnConnect fires after every successful connect, including reconnects.
	OnConnect()
	// OnDisconnect fires when the channel drops for any reason other than
	// Disconnect.
	OnDisconnect(err error)
	// OnMessage delivers one complete, syntactically valid JSON document.
	OnMessage(data []byte)
	// OnError reports non-fatal errors and failed reconnect attempts.
	OnError(err error)
	// OnReconnecting fires before each scheduled reconnect attempt.
	OnReconnecting(attempt int)
}

// TransportOptions carries settings shared by every transport variant.
type TransportOptions struct {
	Policy       retry.Policy
	DialTimeout  time.Duration
	MaxLineBytes int
	// Heartbeat settings used by the WebSocket transport.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	URLGuard          URLGuard
	Logger            *slog.Logger
}

const (
	defaultDialTimeout       = 30 * time.Second
	defaultMaxLineBytes      = 4 * 1024 * 1024
	defaultHeartbeatInterval = 30 * time.Second
	defaultHeartbeatTimeout  = 10 * time.Second
)

func (o TransportOptions) withDefaults() TransportOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = defaultMaxLineBytes
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.HeartbeatTimeout <= 0 || o.HeartbeatTimeout >= o.HeartbeatInterval {
		o.HeartbeatTimeout = o.HeartbeatInterval / 3
		if o.HeartbeatTimeout <= 0 {
			o.HeartbeatTimeout = defaultHeartbeatTimeout
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NewTransport builds the transport selected by the server's transport type.
func NewTransport(cfg models.ServerConfig, handler TransportHandler, opts TransportOptions) (Transport, error) {
	opts = opts.withDefaults()
	opts.Logger = opts.Logger.With("server_id", cfg.ID, "transport", string(cfg.Transport.Type))
	if opts.URLGuard.Access == "" {
		opts.URLGuard.Access = cfg.Security.NetworkAccess
	}

	switch cfg.Transport.Type {
	case models.TransportStdio:
		return NewStdioTransport(cfg.Transport, handler, opts), nil
	case models.TransportSSE:
		return NewSSETransport(cfg.Transport, handler, opts)
	case models.TransportWebSocket:
		return NewWebSocketTransport(cfg.Transport, handler, opts)
	default:
		return nil, domain.NewDomainError(domain.ErrInvalidTransport, string(cfg.Transport.Type))
	}
}

// encodeMessage marshals a message unless it is already encoded.
func encodeMessage(message any) ([]byte, error) {
	switch m := message.(type) {
	case json.RawMessage:
		return m, nil
	case []byte:
		return m, nil
	default:
		data, err := json.Marshal(message)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message: %w", err)
		}
		return data, nil
	}
}

// lifecycle tracks connection state and runs the reconnect policy for a
// transport. Each successful connect starts a new generation; callbacks from
// older generations are ignored.
type lifecycle struct {
	handler     TransportHandler
	logger      *slog.Logger
	scheduler   *retry.Scheduler
	dialTimeout time.Duration

	mu        sync.Mutex
	gen       uint64
	connected bool
	closed    bool
}

func newLifecycle(handler TransportHandler, opts TransportOptions) *lifecycle {
	return &lifecycle{
		handler:     handler,
		logger:      opts.Logger,
		scheduler:   retry.NewScheduler(opts.Policy),
		dialTimeout: opts.DialTimeout,
	}
}

// begin starts a connect attempt and returns its generation.
func (l *lifecycle) begin() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, domain.ErrConnectionClosed
	}
	if l.connected {
		return 0, fmt.Errorf("transport already connected")
	}
	l.gen++
	return l.gen, nil
}

// up marks generation gen connected. It returns false when the transport was
// closed or superseded while connecting.
func (l *lifecycle) up(gen uint64) bool {
	l.mu.Lock()
	if l.closed || gen != l.gen {
		l.mu.Unlock()
		return false
	}
	l.connected = true
	l.mu.Unlock()

	l.scheduler.Reset()
	l.handler.OnConnect()
	return true
}

func (l *lifecycle) isConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *lifecycle) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *lifecycle) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && gen == l.gen
}

// down records an abnormal exit of generation gen and schedules a reconnect
// through redial when the policy allows it.
func (l *lifecycle) down(gen uint64, err error, redial func(context.Context) error) {
	l.mu.Lock()
	if l.closed || gen != l.gen || !l.connected {
		l.mu.Unlock()
		return
	}
	l.connected = false
	l.mu.Unlock()

	l.logger.Warn("transport disconnected", "error", err)
	l.handler.OnDisconnect(err)
	l.scheduleRedial(err, redial)
}

func (l *lifecycle) scheduleRedial(cause error, redial func(context.Context) error) {
	scheduled := l.scheduler.Schedule(func(attempt int) {
		if l.isClosed() {
			return
		}
		l.logger.Info("reconnecting transport", "attempt", attempt)
		l.handler.OnReconnecting(attempt)

		ctx, cancel := context.WithTimeout(context.Background(), l.dialTimeout)
		defer cancel()
		if err := redial(ctx); err != nil {
			l.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			l.handler.OnError(fmt.Errorf("reconnect attempt %d: %w", attempt, err))
			l.scheduleRedial(err, redial)
		}
	})
	if !scheduled && !l.isClosed() {
		l.logger.Info("not reconnecting transport", "attempts", l.scheduler.Attempts(), "cause", cause)
	}
}

// shutdown marks the transport closed and stops reconnects. It reports
// whether the transport was connected.
func (l *lifecycle) shutdown() bool {
	l.mu.Lock()
	wasConnected := l.connected
	l.closed = true
	l.connected = false
	l.mu.Unlock()

	l.scheduler.Stop()
	return wasConnected
}

func notConnected(kind models.TransportType) error {
	return fmt.Errorf("%s transport: %w", kind, domain.ErrServerNotConnected)
}
