package mcp

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// fakeServer is an in-memory MCP server driven through fakeTransport.
type fakeServer struct {
	mu         sync.Mutex
	tools      []Tool
	pageSize   int
	connectErr error
	connects   int
	methods    []string
	calls      []ToolsCallParams
	cancelled  []json.RawMessage
	responses  []*Message
	// respond overrides tools/call. drop leaves the request unanswered.
	respond    func(p ToolsCallParams) (result *ToolsCallResult, rpcErr *JSONRPCError, drop bool)
	transport  *fakeTransport
	transports []*fakeTransport
}

func newFakeServer(tools ...Tool) *fakeServer {
	return &fakeServer{tools: tools}
}

func (s *fakeServer) setTools(tools ...Tool) {
	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()
}

func (s *fakeServer) setConnectErr(err error) {
	s.mu.Lock()
	s.connectErr = err
	s.mu.Unlock()
}

func (s *fakeServer) methodCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.methods {
		if m == method {
			n++
		}
	}
	return n
}

func (s *fakeServer) cancelledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancelled)
}

// liveTransports counts the transports built for this server that are
// still connected.
func (s *fakeServer) liveTransports() int {
	s.mu.Lock()
	all := append([]*fakeTransport(nil), s.transports...)
	s.mu.Unlock()
	n := 0
	for _, t := range all {
		if t.IsConnected() {
			n++
		}
	}
	return n
}

// crash drops the current transport the way an exited process would,
// without any reconnect following.
func (s *fakeServer) crash(cause error) {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.handler.OnDisconnect(cause)
}

func (s *fakeServer) responseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses)
}

// push delivers a server-initiated message to the client.
func (s *fakeServer) push(v any) {
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	data, _ := json.Marshal(v)
	t.handler.OnMessage(data)
}

func (s *fakeServer) handle(msg *Message) (any, *JSONRPCError, bool) {
	switch msg.Method {
	case MethodInitialize:
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    ServerCapabilities{Tools: &ToolsCapability{ListChanged: true}},
			ServerInfo:      ServerInfo{Name: "fake", Version: "1.0.0"},
		}, nil, false
	case MethodToolsList:
		var p ToolsListParams
		_ = json.Unmarshal(msg.Params, &p)
		s.mu.Lock()
		defer s.mu.Unlock()
		start, _ := strconv.Atoi(p.Cursor)
		end := len(s.tools)
		if s.pageSize > 0 && start+s.pageSize < end {
			end = start + s.pageSize
		}
		result := ToolsListResult{Tools: append([]Tool{}, s.tools[start:end]...)}
		if end < len(s.tools) {
			next := strconv.Itoa(end)
			result.NextCursor = &next
		}
		return result, nil, false
	case MethodToolsCall:
		var p ToolsCallParams
		_ = json.Unmarshal(msg.Params, &p)
		s.mu.Lock()
		s.calls = append(s.calls, p)
		respond := s.respond
		s.mu.Unlock()
		if respond != nil {
			result, rpcErr, drop := respond(p)
			return result, rpcErr, drop
		}
		return ToolsCallResult{Content: []ContentItem{{Type: "text", Text: "ok:" + p.Name}}}, nil, false
	case MethodPing:
		return struct{}{}, nil, false
	default:
		return nil, &JSONRPCError{Code: MethodNotFound, Message: "method not found"}, false
	}
}

type fakeTransport struct {
	srv     *fakeServer
	handler TransportHandler

	mu        sync.Mutex
	connected bool
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.srv.mu.Lock()
	t.srv.connects++
	err := t.srv.connectErr
	t.srv.mu.Unlock()
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	t.handler.OnConnect()
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *fakeTransport) Type() models.TransportType { return models.TransportStdio }

func (t *fakeTransport) Send(ctx context.Context, message any) error {
	if !t.IsConnected() {
		return notConnected(models.TransportStdio)
	}
	data, err := encodeMessage(message)
	if err != nil {
		return err
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		return err
	}

	t.srv.mu.Lock()
	switch {
	case msg.IsResponse():
		t.srv.responses = append(t.srv.responses, msg)
	case msg.Method == MethodCancelled:
		t.srv.cancelled = append(t.srv.cancelled, msg.Params)
		t.srv.methods = append(t.srv.methods, msg.Method)
	default:
		t.srv.methods = append(t.srv.methods, msg.Method)
	}
	t.srv.mu.Unlock()

	if msg.IsRequest() {
		go t.reply(msg)
	}
	return nil
}

func (t *fakeTransport) reply(msg *Message) {
	result, rpcErr, drop := t.srv.handle(msg)
	if drop {
		return
	}
	resp := JSONRPCResponse{JSONRPC: JSONRPCVersion, ID: msg.ID, Error: rpcErr}
	if rpcErr == nil {
		resp.Result, _ = json.Marshal(result)
	}
	data, _ := json.Marshal(resp)
	if t.IsConnected() {
		t.handler.OnMessage(data)
	}
}

// fakeFactory builds transports that talk to the fake server registered
// under the config's id.
func fakeFactory(servers map[string]*fakeServer) func(models.ServerConfig, TransportHandler, TransportOptions) (Transport, error) {
	return func(cfg models.ServerConfig, h TransportHandler, _ TransportOptions) (Transport, error) {
		srv := servers[cfg.ID]
		t := &fakeTransport{srv: srv, handler: h}
		srv.mu.Lock()
		srv.transport = t
		srv.transports = append(srv.transports, t)
		srv.mu.Unlock()
		return t, nil
	}
}

type fakeBuiltins struct {
	tools []models.UnifiedTool
}

func (f fakeBuiltins) ListTools() []models.UnifiedTool { return f.tools }

func (f fakeBuiltins) ExecuteBuiltin(ctx context.Context, name string, args map[string]any) (any, error) {
	return "builtin:" + name, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingSink) Publish(ev models.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) count(t models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}
