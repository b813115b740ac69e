package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/longregen/toolrouter/internal/domain/models"
)

// sseTestServer announces a message endpoint and returns responses on the
// event stream. With inline set, POSTs are answered in the response body.
type sseTestServer struct {
	*httptest.Server
	out    chan string
	inline bool
	gotSID chan string
}

func newSSETestServer(t *testing.T, inline bool) *sseTestServer {
	t.Helper()
	s := &sseTestServer{out: make(chan string, 8), inline: inline, gotSID: make(chan string, 8)}
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "event: endpoint\ndata: /message?sessionId=session-1\n\n")
		flusher.Flush()
		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-s.out:
				fmt.Fprintf(w, "event: message\nid: %d\ndata: %s\n\n", len(data), data)
				flusher.Flush()
			}
		}
	})
	mux.HandleFunc("/message", func(w http.ResponseWriter, r *http.Request) {
		s.gotSID <- r.URL.Query().Get("sessionId") + "|" + r.Header.Get(headerMCPSessionID)
		body, _ := io.ReadAll(r.Body)
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Method == "forbidden" {
			http.Error(w, "nope", http.StatusForbidden)
			return
		}
		resp := fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"result":{"method":%q}}`, req.ID, req.Method)
		if s.inline {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, resp)
			return
		}
		s.out <- resp
		w.WriteHeader(http.StatusAccepted)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func TestSSETransport_EndpointEventAndStreamedResponses(t *testing.T) {
	srv := newSSETestServer(t, false)
	h := newRecordingHandler()
	tr, err := NewSSETransport(models.TransportConfig{Type: models.TransportSSE, URL: srv.URL + "/sse"}, h, TransportOptions{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Disconnect()

	if tr.SessionID() != "session-1" {
		t.Errorf("expected session from endpoint event, got %q", tr.SessionID())
	}
	if err := tr.Send(context.Background(), NewJSONRPCRequest(int64(3), MethodToolsList, nil)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got := <-srv.gotSID; got != "session-1|session-1" {
		t.Errorf("session was not forwarded, got %q", got)
	}
	msg := h.nextMessage(t)
	if id, _ := msg.NumericID(); id != 3 {
		t.Errorf("expected response to request 3, got %s", msg.ID)
	}
}

func TestSSETransport_InlineResponse(t *testing.T) {
	srv := newSSETestServer(t, true)
	h := newRecordingHandler()
	tr, _ := NewSSETransport(models.TransportConfig{Type: models.TransportSSE, URL: srv.URL + "/sse"}, h, TransportOptions{Logger: quietLogger()})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Disconnect()

	if err := tr.Send(context.Background(), NewJSONRPCRequest(int64(9), MethodPing, nil)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msg := h.nextMessage(t)
	if id, _ := msg.NumericID(); id != 9 {
		t.Errorf("expected response to request 9, got %s", msg.ID)
	}
}

func TestSSETransport_PostStatusError(t *testing.T) {
	srv := newSSETestServer(t, true)
	tr, _ := NewSSETransport(models.TransportConfig{Type: models.TransportSSE, URL: srv.URL + "/sse"}, newRecordingHandler(), TransportOptions{Logger: quietLogger()})
	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tr.Disconnect()

	err := tr.Send(context.Background(), NewJSONRPCRequest(int64(1), "forbidden", nil))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 status error, got %v", err)
	}
	if ClassifyError(err).Recoverable {
		t.Error("a 403 must not be recoverable")
	}
}

func TestSSETransport_StreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr, _ := NewSSETransport(models.TransportConfig{Type: models.TransportSSE, URL: srv.URL + "/sse"}, newRecordingHandler(), TransportOptions{Logger: quietLogger()})
	err := tr.Connect(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 status error, got %v", err)
	}
	if !ClassifyError(err).Recoverable {
		t.Error("a 503 should be recoverable")
	}
}

func TestDefaultPostURL(t *testing.T) {
	tests := []struct {
		stream string
		want   string
	}{
		{"http://example.com/sse", "http://example.com/message"},
		{"http://example.com/mcp/sse/", "http://example.com/mcp/message"},
		{"https://example.com/events?token=x", "https://example.com/events/message"},
	}
	for _, tt := range tests {
		u, _ := url.Parse(tt.stream)
		if got := defaultPostURL(u); got != tt.want {
			t.Errorf("defaultPostURL(%s) = %s, want %s", tt.stream, got, tt.want)
		}
	}
}
