package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// wsEchoServer answers every request with its method. Heartbeats are
// ignored while deaf is set.
func wsEchoServer(t *testing.T, deaf *atomic.Bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: []string{"mcp"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				ID     json.RawMessage `json:"id"`
				Method string          `json:"method"`
			}
			if json.Unmarshal(data, &req) != nil || len(req.ID) == 0 {
				continue
			}
			if strings.Contains(string(req.ID), heartbeatIDPrefix) && deaf != nil && deaf.Load() {
				continue
			}
			resp := `{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":{"method":"` + req.Method + `"}}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketTransport_RoundTrip(t *testing.T) {
	srv := wsEchoServer(t, nil)
	h := newRecordingHandler()
	tr, err := NewWebSocketTransport(models.TransportConfig{Type: models.TransportWebSocket, URL: wsURL(srv), Protocols: []string{"mcp"}},
		h, TransportOptions{Logger: quietLogger(), HeartbeatInterval: time.Hour})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Disconnect()

	if err := tr.Send(context.Background(), NewJSONRPCRequest(int64(5), MethodToolsList, nil)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msg := h.nextMessage(t)
	if id, _ := msg.NumericID(); id != 5 {
		t.Errorf("expected response to request 5, got %s", msg.ID)
	}
	if !strings.Contains(string(msg.Result), MethodToolsList) {
		t.Errorf("unexpected result: %s", msg.Result)
	}
}

func TestWebSocketTransport_HeartbeatKeepsAlive(t *testing.T) {
	srv := wsEchoServer(t, nil)
	h := newRecordingHandler()
	tr, _ := NewWebSocketTransport(models.TransportConfig{Type: models.TransportWebSocket, URL: wsURL(srv)},
		h, TransportOptions{Logger: quietLogger(), HeartbeatInterval: 50 * time.Millisecond, HeartbeatTimeout: 45 * time.Millisecond})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Disconnect()

	select {
	case err := <-h.disconnects:
		t.Fatalf("unexpected disconnect: %v", err)
	case data := <-h.messages:
		t.Fatalf("heartbeat replies must not reach the handler: %s", data)
	case <-time.After(200 * time.Millisecond):
	}
	if !tr.IsConnected() {
		t.Error("expected transport to stay connected")
	}
}

func TestWebSocketTransport_MissedHeartbeatDisconnects(t *testing.T) {
	var deaf atomic.Bool
	deaf.Store(true)
	srv := wsEchoServer(t, &deaf)
	h := newRecordingHandler()
	tr, _ := NewWebSocketTransport(models.TransportConfig{Type: models.TransportWebSocket, URL: wsURL(srv)},
		h, TransportOptions{Logger: quietLogger(), HeartbeatInterval: 20 * time.Millisecond, HeartbeatTimeout: 15 * time.Millisecond})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Disconnect()

	err := h.nextDisconnect(t)
	if !errors.Is(err, errHeartbeatTimeout) {
		t.Errorf("expected heartbeat timeout, got %v", err)
	}
	if tr.IsConnected() {
		t.Error("expected transport to be disconnected")
	}
}

func TestWebSocketTransport_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tr, _ := NewWebSocketTransport(models.TransportConfig{Type: models.TransportWebSocket, URL: wsURL(srv)},
		newRecordingHandler(), TransportOptions{Logger: quietLogger()})
	err := tr.Connect(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 status error, got %v", err)
	}
}

func TestWebSocketTransport_NetworkAccessNone(t *testing.T) {
	srv := wsEchoServer(t, nil)
	tr, _ := NewWebSocketTransport(models.TransportConfig{Type: models.TransportWebSocket, URL: wsURL(srv)},
		newRecordingHandler(), TransportOptions{Logger: quietLogger(), URLGuard: URLGuard{Access: models.NetworkNone}})
	if err := tr.Connect(context.Background()); err == nil {
		t.Error("expected connect to be refused")
	}
}
