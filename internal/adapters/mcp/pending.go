package mcp

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/longregen/toolrouter/internal/domain"
)

// PendingResult settles one pending request. Exactly one of Result and Err
// is meaningful.
type PendingResult struct {
	Result json.RawMessage
	Err    error
}

type pendingRequest struct {
	id        int64
	serverID  string
	method    string
	ch        chan PendingResult
	timer     *time.Timer
	createdAt time.Time
}

// PendingTable correlates outgoing JSON-RPC ids with their callers across
// all connections. Each entry is removed exactly once: by its response, its
// timer, or an explicit rejection.
type PendingTable struct {
	mu      sync.Mutex
	entries map[int64]*pendingRequest
	closed  bool
}

func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[int64]*pendingRequest)}
}

// Add registers id and arms its timeout. The returned channel receives
// exactly one result.
func (p *PendingTable) Add(id int64, serverID, method string, timeout time.Duration) (<-chan PendingResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, domain.ErrHubShuttingDown
	}
	if _, exists := p.entries[id]; exists {
		return nil, fmt.Errorf("duplicate request id %d", id)
	}

	req := &pendingRequest{
		id:        id,
		serverID:  serverID,
		method:    method,
		ch:        make(chan PendingResult, 1),
		createdAt: time.Now(),
	}
	req.timer = time.AfterFunc(timeout, func() {
		p.Reject(id, fmt.Errorf("%s request %d to %s timed out after %v: %w",
			method, id, serverID, timeout, domain.ErrExecutionTimeout))
	})
	p.entries[id] = req
	return req.ch, nil
}

func (p *PendingTable) remove(id int64) *pendingRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.entries[id]
	if !ok {
		return nil
	}
	delete(p.entries, id)
	req.timer.Stop()
	return req
}

// Resolve settles id with a response. It returns false when id is unknown,
// for example a late response after a timeout.
func (p *PendingTable) Resolve(id int64, result json.RawMessage, rpcErr *JSONRPCError) bool {
	req := p.remove(id)
	if req == nil {
		return false
	}
	if rpcErr != nil {
		req.ch <- PendingResult{Err: rpcErr}
	} else {
		req.ch <- PendingResult{Result: result}
	}
	return true
}

// Reject settles id with err.
func (p *PendingTable) Reject(id int64, err error) bool {
	req := p.remove(id)
	if req == nil {
		return false
	}
	req.ch <- PendingResult{Err: err}
	return true
}

// RejectServer rejects every request sent to serverID.
func (p *PendingTable) RejectServer(serverID string, err error) int {
	p.mu.Lock()
	var victims []*pendingRequest
	for id, req := range p.entries {
		if req.serverID == serverID {
			delete(p.entries, id)
			req.timer.Stop()
			victims = append(victims, req)
		}
	}
	p.mu.Unlock()

	for _, req := range victims {
		req.ch <- PendingResult{Err: err}
	}
	return len(victims)
}

// RejectAll rejects everything and refuses later additions.
func (p *PendingTable) RejectAll(err error) int {
	p.mu.Lock()
	victims := make([]*pendingRequest, 0, len(p.entries))
	for id, req := range p.entries {
		delete(p.entries, id)
		req.timer.Stop()
		victims = append(victims, req)
	}
	p.closed = true
	p.mu.Unlock()

	for _, req := range victims {
		req.ch <- PendingResult{Err: err}
	}
	return len(victims)
}

func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// LenFor counts requests outstanding against serverID.
func (p *PendingTable) LenFor(serverID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, req := range p.entries {
		if req.serverID == serverID {
			n++
		}
	}
	return n
}

// Has reports whether id is still outstanding.
func (p *PendingTable) Has(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}
