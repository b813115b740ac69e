package mcp

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longregen/toolrouter/internal/domain"
)

func TestPendingTable_ResolveOnce(t *testing.T) {
	p := NewPendingTable()
	ch, err := p.Add(1, "srv", MethodToolsCall, time.Minute)
	require.NoError(t, err)

	assert.True(t, p.Resolve(1, json.RawMessage(`{"ok":true}`), nil))
	assert.False(t, p.Resolve(1, json.RawMessage(`{}`), nil), "late duplicate must be ignored")
	assert.False(t, p.Reject(1, errors.New("late")))

	res := <-ch
	require.NoError(t, res.Err)
	assert.JSONEq(t, `{"ok":true}`, string(res.Result))
	assert.Zero(t, p.Len())
}

func TestPendingTable_RPCErrorBecomesErr(t *testing.T) {
	p := NewPendingTable()
	ch, _ := p.Add(2, "srv", MethodToolsCall, time.Minute)
	p.Resolve(2, nil, &JSONRPCError{Code: InvalidParams, Message: "bad"})

	res := <-ch
	var rpcErr *JSONRPCError
	require.ErrorAs(t, res.Err, &rpcErr)
	assert.Equal(t, InvalidParams, rpcErr.Code)
}

func TestPendingTable_Timeout(t *testing.T) {
	p := NewPendingTable()
	ch, _ := p.Add(3, "srv", MethodPing, 10*time.Millisecond)

	select {
	case res := <-ch:
		assert.ErrorIs(t, res.Err, domain.ErrExecutionTimeout)
	case <-time.After(time.Second):
		t.Fatal("timer did not reject the request")
	}
	assert.False(t, p.Has(3))
	assert.False(t, p.Resolve(3, json.RawMessage(`{}`), nil), "response after timeout must be dropped")
}

func TestPendingTable_DuplicateID(t *testing.T) {
	p := NewPendingTable()
	_, err := p.Add(4, "srv", MethodPing, time.Minute)
	require.NoError(t, err)
	_, err = p.Add(4, "srv", MethodPing, time.Minute)
	assert.Error(t, err)
}

func TestPendingTable_RejectServer(t *testing.T) {
	p := NewPendingTable()
	a1, _ := p.Add(1, "a", MethodToolsCall, time.Minute)
	a2, _ := p.Add(2, "a", MethodToolsCall, time.Minute)
	b1, _ := p.Add(3, "b", MethodToolsCall, time.Minute)

	assert.Equal(t, 2, p.LenFor("a"))
	assert.Equal(t, 2, p.RejectServer("a", domain.ErrConnectionClosed))
	assert.ErrorIs(t, (<-a1).Err, domain.ErrConnectionClosed)
	assert.ErrorIs(t, (<-a2).Err, domain.ErrConnectionClosed)
	assert.True(t, p.Has(3))

	p.Resolve(3, json.RawMessage(`1`), nil)
	assert.NoError(t, (<-b1).Err)
}

func TestPendingTable_RejectAllClosesTable(t *testing.T) {
	p := NewPendingTable()
	ch, _ := p.Add(1, "a", MethodToolsCall, time.Minute)

	assert.Equal(t, 1, p.RejectAll(domain.ErrHubShuttingDown))
	assert.ErrorIs(t, (<-ch).Err, domain.ErrHubShuttingDown)

	_, err := p.Add(2, "a", MethodToolsCall, time.Minute)
	assert.ErrorIs(t, err, domain.ErrHubShuttingDown)
}

func TestPendingTable_ConcurrentSettlement(t *testing.T) {
	p := NewPendingTable()
	const n = 200
	chans := make([]<-chan PendingResult, n)
	for i := range n {
		ch, err := p.Add(int64(i), "srv", MethodToolsCall, 5*time.Millisecond)
		require.NoError(t, err)
		chans[i] = ch
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(2)
		go func() { defer wg.Done(); p.Resolve(int64(i), json.RawMessage(`{}`), nil) }()
		go func() { defer wg.Done(); p.Reject(int64(i), errors.New("cancelled")) }()
	}
	wg.Wait()

	for _, ch := range chans {
		<-ch
		select {
		case <-ch:
			t.Fatal("request settled twice")
		default:
		}
	}
	assert.Zero(t, p.Len())
}
