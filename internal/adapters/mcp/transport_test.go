package mcp

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/longregen/toolrouter/internal/domain/models"
)

type recordingHandler struct {
	connects     atomic.Int32
	messages     chan []byte
	disconnects  chan error
	reconnecting chan int
	errs         chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		messages:     make(chan []byte, 16),
		disconnects:  make(chan error, 4),
		reconnecting: make(chan int, 4),
		errs:         make(chan error, 4),
	}
}

func (h *recordingHandler) OnConnect() { h.connects.Add(1) }

func (h *recordingHandler) OnDisconnect(err error) {
	select {
	case h.disconnects <- err:
	default:
	}
}

func (h *recordingHandler) OnMessage(data []byte) {
	select {
	case h.messages <- data:
	default:
	}
}

func (h *recordingHandler) OnError(err error) {
	select {
	case h.errs <- err:
	default:
	}
}

func (h *recordingHandler) OnReconnecting(attempt int) {
	select {
	case h.reconnecting <- attempt:
	default:
	}
}

func (h *recordingHandler) nextMessage(t *testing.T) *Message {
	t.Helper()
	select {
	case data := <-h.messages:
		msg, err := DecodeMessage(data)
		if err != nil {
			t.Fatalf("handler received undecodable message %q: %v", data, err)
		}
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (h *recordingHandler) nextDisconnect(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.disconnects:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for disconnect")
		return nil
	}
}

func TestEncodeMessage(t *testing.T) {
	raw := json.RawMessage(`{"jsonrpc":"2.0","method":"ping","id":1}`)
	data, err := encodeMessage(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != string(raw) {
		t.Errorf("raw message was re-encoded: %s", data)
	}

	data, err = encodeMessage(NewJSONRPCRequest(int64(7), MethodPing, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msg, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id, ok := msg.NumericID(); !ok || id != 7 {
		t.Errorf("expected id 7, got %d (%v)", id, ok)
	}
}

func TestNewTransport_SelectsByType(t *testing.T) {
	tests := []struct {
		name      string
		transport models.TransportConfig
		want      models.TransportType
		wantErr   bool
	}{
		{"stdio", models.TransportConfig{Type: models.TransportStdio, Command: "echo"}, models.TransportStdio, false},
		{"sse", models.TransportConfig{Type: models.TransportSSE, URL: "https://example.com/sse"}, models.TransportSSE, false},
		{"websocket", models.TransportConfig{Type: models.TransportWebSocket, URL: "wss://example.com/ws"}, models.TransportWebSocket, false},
		{"websocket with http scheme", models.TransportConfig{Type: models.TransportWebSocket, URL: "http://example.com"}, "", true},
		{"unknown", models.TransportConfig{Type: "smoke-signal"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := models.ServerConfig{ID: "s", Name: "s", Transport: tt.transport}
			tr, err := NewTransport(cfg, newRecordingHandler(), TransportOptions{Logger: quietLogger()})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tr.Type() != tt.want {
				t.Errorf("Type() = %s, want %s", tr.Type(), tt.want)
			}
			if tr.IsConnected() {
				t.Error("new transport should not be connected")
			}
		})
	}
}
