package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/longregen/toolrouter/internal/domain/models"
)

const (
	heartbeatIDPrefix = "heartbeat-"
	wsWriteTimeout    = 10 * time.Second
)

var errHeartbeatTimeout = errors.New("heartbeat timed out waiting for pong")

// wsSession is the state of one socket generation.
type wsSession struct {
	gen    uint64
	conn   *websocket.Conn
	done   chan struct{}
	pong   chan struct{}
	cause  atomic.Pointer[error]
	closed sync.Once
}

func (s *wsSession) close(cause error) {
	s.closed.Do(func() {
		if cause != nil {
			s.cause.Store(&cause)
		}
		close(s.done)
		s.conn.Close()
	})
}

// WebSocketTransport exchanges one JSON-RPC envelope per frame and keeps the
// socket alive with an application-level ping.
type WebSocketTransport struct {
	cfg         models.TransportConfig
	handler     TransportHandler
	logger      *slog.Logger
	lc          *lifecycle
	guard       URLGuard
	endpoint    *url.URL
	dialTimeout time.Duration
	interval    time.Duration
	timeout     time.Duration

	mu       sync.Mutex
	session  *wsSession
	awaiting string

	writeMu sync.Mutex
	hbSeq   atomic.Int64
}

func NewWebSocketTransport(cfg models.TransportConfig, handler TransportHandler, opts TransportOptions) (*WebSocketTransport, error) {
	opts = opts.withDefaults()
	u, err := parseEndpoint(cfg.URL, "ws", "wss")
	if err != nil {
		return nil, err
	}
	return &WebSocketTransport{
		cfg:         cfg,
		handler:     handler,
		logger:      opts.Logger,
		lc:          newLifecycle(handler, opts),
		guard:       opts.URLGuard,
		endpoint:    u,
		dialTimeout: opts.DialTimeout,
		interval:    opts.HeartbeatInterval,
		timeout:     opts.HeartbeatTimeout,
	}, nil
}

func (t *WebSocketTransport) Type() models.TransportType { return models.TransportWebSocket }

func (t *WebSocketTransport) IsConnected() bool {
	return t.lc.isConnected()
}

// Connect dials the socket and starts the read and heartbeat pumps.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	gen, err := t.lc.begin()
	if err != nil {
		return err
	}
	if err := t.guard.Check(ctx, t.endpoint); err != nil {
		return fmt.Errorf("URL validation failed: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.dialTimeout,
		Subprotocols:     t.cfg.Protocols,
		Proxy:            http.ProxyFromEnvironment,
	}
	header := http.Header{}
	for k, v := range t.cfg.Headers {
		header.Set(k, v)
	}

	conn, resp, err := dialer.DialContext(ctx, t.endpoint.String(), header)
	if err != nil {
		if resp != nil {
			return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		}
		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	s := &wsSession{
		gen:  gen,
		conn: conn,
		done: make(chan struct{}),
		pong: make(chan struct{}, 1),
	}
	t.mu.Lock()
	t.session = s
	t.mu.Unlock()

	go t.readPump(s)

	if !t.lc.up(gen) {
		s.close(nil)
		return fmt.Errorf("websocket transport closed while connecting")
	}
	go t.heartbeat(s)
	select {
	case <-s.done:
		// The socket died before it was marked connected.
		t.lc.down(gen, errors.New("websocket closed during connect"), t.Connect)
	default:
	}

	t.logger.Debug("websocket connected", "url", t.endpoint.String(), "subprotocol", conn.Subprotocol())
	return nil
}

func (t *WebSocketTransport) current() *wsSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Send writes one text frame.
func (t *WebSocketTransport) Send(ctx context.Context, message any) error {
	if !t.lc.isConnected() {
		return notConnected(models.TransportWebSocket)
	}
	data, err := encodeMessage(message)
	if err != nil {
		return err
	}
	s := t.current()
	if s == nil {
		return notConnected(models.TransportWebSocket)
	}
	return t.write(ctx, s, data)
}

func (t *WebSocketTransport) write(ctx context.Context, s *wsSession, data []byte) error {
	deadline := time.Now().Add(wsWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	s.conn.SetWriteDeadline(deadline)
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// readPump reads frames until the socket fails.
func (t *WebSocketTransport) readPump(s *wsSession) {
	var readErr error
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if heartbeat, current := t.heartbeatReply(data); heartbeat {
			if current {
				select {
				case s.pong <- struct{}{}:
				default:
				}
			}
			continue
		}

		if _, err := DecodeMessage(data); err != nil {
			t.logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		if t.lc.current(s.gen) {
			t.handler.OnMessage(data)
		}
	}

	if cause := s.cause.Load(); cause != nil {
		readErr = *cause
	}
	s.close(readErr)

	if websocket.IsCloseError(readErr, websocket.CloseNormalClosure) {
		readErr = fmt.Errorf("server closed the socket: %w", readErr)
	}
	t.lc.down(s.gen, readErr, t.Connect)
}

// heartbeatReply reports whether data answers one of our pings, and whether
// it answers the outstanding one rather than an earlier, late ping.
func (t *WebSocketTransport) heartbeatReply(data []byte) (heartbeat, current bool) {
	if !strings.Contains(string(data), heartbeatIDPrefix) {
		return false, false
	}
	msg, err := DecodeMessage(data)
	if err != nil || !msg.IsResponse() {
		return false, false
	}
	id, ok := msg.StringID()
	if !ok || !strings.HasPrefix(id, heartbeatIDPrefix) {
		return false, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id != t.awaiting {
		return true, false
	}
	t.awaiting = ""
	return true, true
}

// heartbeat sends a JSON-RPC ping every interval and closes the socket when
// the reply misses its deadline. Any reply counts, including errors from
// servers that do not implement ping.
func (t *WebSocketTransport) heartbeat(s *wsSession) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		id := heartbeatIDPrefix + strconv.FormatInt(t.hbSeq.Add(1), 10)
		t.mu.Lock()
		t.awaiting = id
		t.mu.Unlock()

		data, _ := encodeMessage(NewJSONRPCRequest(id, MethodPing, nil))
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		err := t.write(ctx, s, data)
		cancel()
		if err != nil {
			t.logger.Warn("failed to send heartbeat", "error", err)
			s.close(err)
			return
		}

		timer := time.NewTimer(t.timeout)
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-s.pong:
			timer.Stop()
		case <-timer.C:
			t.logger.Warn("heartbeat missed", "id", id, "timeout", t.timeout)
			s.close(errHeartbeatTimeout)
			return
		}
	}
}

// Disconnect sends a close frame and tears the socket down.
func (t *WebSocketTransport) Disconnect() error {
	t.lc.shutdown()

	t.mu.Lock()
	s := t.session
	t.session = nil
	t.mu.Unlock()

	if s == nil {
		return nil
	}
	t.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	s.close(nil)
	return nil
}
