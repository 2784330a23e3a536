// File: internal/toolbus/client_test.go
package toolbus

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer accepts one connection and answers each JSON-RPC line with the
// next scripted response.
type fakeServer struct {
	listener  net.Listener
	responses []string
	requests  []map[string]any

	mu   sync.Mutex
	done chan struct{}
}

func newFakeServer(t *testing.T, responses ...string) *fakeServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &fakeServer{listener: listener, responses: responses, done: make(chan struct{})}
	go s.serve()
	t.Cleanup(func() {
		listener.Close()
		<-s.done
	})
	return s
}

func (s *fakeServer) addr() string { return s.listener.Addr().String() }

func (s *fakeServer) serve() {
	defer close(s.done)
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for i := 0; scanner.Scan(); i++ {
		var request map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &request); err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, request)
		s.mu.Unlock()
		if i >= len(s.responses) {
			return
		}
		id := int64(request["id"].(float64))
		fmt.Fprintf(conn, s.responses[i]+"\n", id)
	}
}

func (s *fakeServer) recorded() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.requests...)
}

func dialTest(t *testing.T, server *fakeServer) *Client {
	t.Helper()
	client, err := Dial(server.addr(), 2*time.Second, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestInitialize(t *testing.T) {
	server := newFakeServer(t, `{"jsonrpc": "2.0", "id": %d, "result": {"ok": true}}`)
	client := dialTest(t, server)

	require.NoError(t, client.Initialize(context.Background()))

	requests := server.recorded()
	require.Len(t, requests, 1)
	assert.Equal(t, "initialize", requests[0]["method"])
	assert.Equal(t, "2.0", requests[0]["jsonrpc"])
}

func TestCallUnwrapsTextContent(t *testing.T) {
	server := newFakeServer(t,
		`{"jsonrpc": "2.0", "id": %d, "result": {"content": [{"type": "text", "text": "{\"image_path\": \"/tmp/canvas.png\", \"width\": 1200}"}]}}`)
	client := dialTest(t, server)

	result, err := client.Call(context.Background(), "capture_screen", map[string]any{"region_name": "canvas"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/canvas.png", result["image_path"])
	assert.Equal(t, float64(1200), result["width"])

	requests := server.recorded()
	require.Len(t, requests, 1)
	assert.Equal(t, "tools/call", requests[0]["method"])
	params := requests[0]["params"].(map[string]any)
	assert.Equal(t, "capture_screen", params["name"])
}

func TestCallNonJSONTextFallsBackToRaw(t *testing.T) {
	server := newFakeServer(t,
		`{"jsonrpc": "2.0", "id": %d, "result": {"content": [{"type": "text", "text": "done"}]}}`)
	client := dialTest(t, server)

	result, err := client.Call(context.Background(), "wait", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"raw": "done"}, result)
}

func TestCallEmptyContent(t *testing.T) {
	server := newFakeServer(t, `{"jsonrpc": "2.0", "id": %d, "result": {"content": []}}`)
	client := dialTest(t, server)

	result, err := client.Call(context.Background(), "wait", nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestCallToolError(t *testing.T) {
	server := newFakeServer(t,
		`{"jsonrpc": "2.0", "id": %d, "result": {"isError": true, "content": [{"type": "text", "text": "no such region"}]}}`)
	client := dialTest(t, server)

	_, err := client.Call(context.Background(), "capture_screen", map[string]any{"region_name": "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture_screen failed")
}

func TestRequestRPCError(t *testing.T) {
	server := newFakeServer(t,
		`{"jsonrpc": "2.0", "id": %d, "error": {"code": -32601, "message": "method not found"}}`)
	client := dialTest(t, server)

	_, err := client.Request(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestRequestIDsIncrement(t *testing.T) {
	server := newFakeServer(t,
		`{"jsonrpc": "2.0", "id": %d, "result": {}}`,
		`{"jsonrpc": "2.0", "id": %d, "result": {}}`)
	client := dialTest(t, server)

	_, err := client.Request(context.Background(), "first", nil)
	require.NoError(t, err)
	_, err = client.Request(context.Background(), "second", nil)
	require.NoError(t, err)

	requests := server.recorded()
	require.Len(t, requests, 2)
	assert.Equal(t, float64(1), requests[0]["id"])
	assert.Equal(t, float64(2), requests[1]["id"])
}

func TestRequestServerDisconnect(t *testing.T) {
	server := newFakeServer(t) // no scripted responses: closes after first request
	client := dialTest(t, server)

	_, err := client.Request(context.Background(), "initialize", nil)
	require.Error(t, err)
}

func TestRequestCancelledContext(t *testing.T) {
	server := newFakeServer(t, `{"jsonrpc": "2.0", "id": %d, "result": {}}`)
	client := dialTest(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Request(ctx, "initialize", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDialFailure(t *testing.T) {
	_, err := Dial("127.0.0.1:1", 200*time.Millisecond, zap.NewNop())
	require.Error(t, err)
}

func TestSpawnEmptyCommand(t *testing.T) {
	_, err := Spawn(nil, time.Second, zap.NewNop())
	require.Error(t, err)
}
