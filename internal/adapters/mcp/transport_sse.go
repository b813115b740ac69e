package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/longregen/toolrouter/internal/domain/models"
)

const (
	headerSessionID    = "X-Session-ID"
	headerMCPSessionID = "Mcp-Session-Id"
	headerLastEventID  = "Last-Event-ID"

	ssePostTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// StatusError reports a non-success HTTP status from the server.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("server error: %s - %s", e.Status, e.Body)
	}
	return "server error: " + e.Status
}

// SSETransport receives messages over a server-sent event stream and sends
// them as HTTP POSTs correlated by session id.
type SSETransport struct {
	cfg          models.TransportConfig
	handler      TransportHandler
	logger       *slog.Logger
	lc           *lifecycle
	guard        URLGuard
	streamURL    *url.URL
	streamClient *http.Client
	postClient   *http.Client
	dialTimeout  time.Duration

	mu          sync.Mutex
	sessionID   string
	postURL     string
	lastEventID string
	cancel      context.CancelFunc
}

// NewSSETransport creates a new HTTP/SSE transport
func NewSSETransport(cfg models.TransportConfig, handler TransportHandler, opts TransportOptions) (*SSETransport, error) {
	opts = opts.withDefaults()
	u, err := parseEndpoint(cfg.URL, "http", "https")
	if err != nil {
		return nil, err
	}

	return &SSETransport{
		cfg:          cfg,
		handler:      handler,
		logger:       opts.Logger,
		lc:           newLifecycle(handler, opts),
		guard:        opts.URLGuard,
		streamURL:    u,
		streamClient: &http.Client{},
		postClient:   &http.Client{Timeout: ssePostTimeout},
		dialTimeout:  opts.DialTimeout,
		postURL:      defaultPostURL(u),
	}, nil
}

// defaultPostURL derives the message endpoint for servers that never
// announce one: a trailing /sse becomes /message.
func defaultPostURL(stream *url.URL) string {
	u := *stream
	u.RawQuery = ""
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/sse") + "/message"
	return u.String()
}

func (t *SSETransport) Type() models.TransportType { return models.TransportSSE }

// SessionID returns the session negotiated with the server, if any.
func (t *SSETransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *SSETransport) IsConnected() bool {
	return t.lc.isConnected()
}

// Connect opens the event stream. It returns once the session is known,
// either from a response header or from the stream's endpoint event.
func (t *SSETransport) Connect(ctx context.Context) error {
	gen, err := t.lc.begin()
	if err != nil {
		return err
	}
	if err := t.guard.Check(ctx, t.streamURL); err != nil {
		return fmt.Errorf("URL validation failed: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stop := context.AfterFunc(ctx, cancel)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.streamURL.String(), nil)
	if err != nil {
		stop()
		cancel()
		return fmt.Errorf("failed to create SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}

	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set(headerSessionID, t.sessionID)
		req.Header.Set(headerMCPSessionID, t.sessionID)
	}
	if t.lastEventID != "" {
		req.Header.Set(headerLastEventID, t.lastEventID)
	}
	t.mu.Unlock()

	resp, err := t.streamClient.Do(req)
	if err != nil {
		stop()
		cancel()
		return fmt.Errorf("failed to connect to SSE endpoint: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		stop()
		cancel()
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(body))}
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(ready) }) }
	if t.adoptSession(resp.Header) {
		markReady()
	}

	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	streamDone := make(chan error, 1)
	go func() {
		err := t.readStream(gen, resp.Body, markReady)
		streamDone <- err
		t.lc.down(gen, err, t.Connect)
	}()

	select {
	case <-ready:
	case err := <-streamDone:
		stop()
		cancel()
		return fmt.Errorf("event stream closed before session was established: %w", err)
	case <-ctx.Done():
		cancel()
		return fmt.Errorf("waiting for SSE endpoint: %w", ctx.Err())
	}
	if !stop() {
		return fmt.Errorf("waiting for SSE endpoint: %w", ctx.Err())
	}

	if !t.lc.up(gen) {
		cancel()
		return fmt.Errorf("sse transport closed while connecting")
	}
	select {
	case err := <-streamDone:
		t.lc.down(gen, err, t.Connect)
	default:
	}
	t.logger.Debug("event stream established", "session_id", t.SessionID())
	return nil
}

// adoptSession records a session id announced in response headers.
func (t *SSETransport) adoptSession(h http.Header) bool {
	id := h.Get(headerMCPSessionID)
	if id == "" {
		id = h.Get(headerSessionID)
	}
	if id == "" {
		return false
	}
	t.mu.Lock()
	t.sessionID = id
	t.mu.Unlock()
	return true
}

// readStream parses the event stream until it ends.
func (t *SSETransport) readStream(gen uint64, body io.ReadCloser, markReady func()) error {
	defer body.Close()

	reader := bufio.NewReader(body)
	var eventType, eventID string
	var data []string

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("event stream closed by server")
			}
			return fmt.Errorf("SSE read error: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				t.dispatch(gen, eventType, eventID, strings.Join(data, "\n"), markReady)
			}
			eventType, eventID, data = "", "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = value
		case "data":
			data = append(data, value)
		case "id":
			eventID = value
		}
	}
}

func (t *SSETransport) dispatch(gen uint64, eventType, eventID, data string, markReady func()) {
	if eventID != "" {
		t.mu.Lock()
		t.lastEventID = eventID
		t.mu.Unlock()
	}

	switch eventType {
	case "endpoint":
		if err := t.adoptEndpoint(data); err != nil {
			t.logger.Warn("ignoring invalid endpoint event", "data", data, "error", err)
			return
		}
		markReady()
	case "", "message":
		payload := []byte(strings.TrimSpace(data))
		if !json.Valid(payload) {
			t.logger.Warn("discarding malformed event", "data", truncate(data, 200))
			return
		}
		if t.lc.current(gen) {
			t.handler.OnMessage(payload)
		}
	default:
		t.logger.Debug("ignoring event", "event", eventType)
	}
}

// adoptEndpoint resolves the announced message URL and extracts its session.
func (t *SSETransport) adoptEndpoint(data string) error {
	ref, err := url.Parse(strings.TrimSpace(data))
	if err != nil {
		return err
	}
	endpoint := t.streamURL.ResolveReference(ref)
	if endpoint.Scheme != t.streamURL.Scheme || endpoint.Host != t.streamURL.Host {
		return fmt.Errorf("endpoint %s is not on the stream origin", endpoint)
	}

	q := endpoint.Query()
	session := q.Get("sessionId")
	if session == "" {
		session = q.Get("session_id")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.postURL = endpoint.String()
	if session != "" {
		t.sessionID = session
	}
	return nil
}

// Send posts one message to the session's endpoint. Servers that answer
// inline have the response body delivered like a stream event.
func (t *SSETransport) Send(ctx context.Context, message any) error {
	if !t.lc.isConnected() {
		return notConnected(models.TransportSSE)
	}

	data, err := encodeMessage(message)
	if err != nil {
		return err
	}

	t.mu.Lock()
	postURL, session := t.postURL, t.sessionID
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	if session != "" {
		req.Header.Set(headerSessionID, session)
		req.Header.Set(headerMCPSessionID, session)
	}

	resp, err := t.postClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNoContent:
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(body))}
	}
	t.adoptSession(resp.Header)

	if resp.StatusCode == http.StatusOK && isJSON(resp.Header.Get("Content-Type")) {
		body, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxLineBytes))
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		body = bytes.TrimSpace(body)
		if len(body) > 0 && json.Valid(body) {
			t.handler.OnMessage(body)
		}
	}
	return nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "application/json"
}

// Disconnect closes the event stream. The session is forgotten.
func (t *SSETransport) Disconnect() error {
	t.lc.shutdown()

	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.sessionID = ""
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}
