// File: internal/toolbus/client.go

// Package toolbus is the line-delimited JSON-RPC 2.0 client for the input
// and capture tool server. One request is in flight at a time; responses are
// matched by arrival order, which the server guarantees.
package toolbus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrServerClosed reports that the tool server went away mid-session.
var ErrServerClosed = fmt.Errorf("tool server disconnected")

// maxLine bounds a single response line; captures are returned by path, so
// responses stay small.
const maxLine = 4 * 1024 * 1024

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      int64               `json:"id"`
	Result  jsoniter.RawMessage `json:"result"`
	Error   *rpcError           `json:"error"`
}

// Client speaks JSON-RPC over either a TCP connection or a spawned server's
// stdio. Safe for use from one goroutine; the mutex only guards against
// accidental concurrent calls.
type Client struct {
	logger      *zap.Logger
	callTimeout time.Duration

	mu     sync.Mutex
	nextID int64
	writer io.Writer
	reader *bufio.Reader

	conn net.Conn
	cmd  *exec.Cmd
	stdi io.WriteCloser
}

// Dial connects to a tool server listening on host:port.
func Dial(addr string, callTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, callTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect tool server %s: %w", addr, err)
	}
	logger = logger.Named("toolbus")
	logger.Info("Connected to tool server", zap.String("addr", addr))
	return &Client{
		logger:      logger,
		callTimeout: callTimeout,
		writer:      conn,
		reader:      bufio.NewReaderSize(conn, maxLine),
		conn:        conn,
	}, nil
}

// Spawn starts the tool server as a child process attached over stdio.
// Stderr is drained into the debug log so server diagnostics are not lost.
func Spawn(serverCmd []string, callTimeout time.Duration, logger *zap.Logger) (*Client, error) {
	if len(serverCmd) == 0 {
		return nil, fmt.Errorf("empty tool server command")
	}
	cmd := exec.Command(serverCmd[0], serverCmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe tool server stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe tool server stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe tool server stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tool server: %w", err)
	}

	logger = logger.Named("toolbus")
	logger.Info("Spawned tool server",
		zap.String("cmd", serverCmd[0]), zap.Int("pid", cmd.Process.Pid))

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("Tool server stderr", zap.String("line", scanner.Text()))
		}
	}()

	return &Client{
		logger:      logger,
		callTimeout: callTimeout,
		writer:      stdin,
		reader:      bufio.NewReaderSize(stdout, maxLine),
		cmd:         cmd,
		stdi:        stdin,
	}, nil
}

// Initialize performs the handshake request the server expects first.
func (c *Client) Initialize(ctx context.Context) error {
	_, err := c.Request(ctx, "initialize", map[string]any{})
	return err
}

// Request issues a raw JSON-RPC request and returns the decoded result
// object. An error response from the server is returned as an error.
func (c *Client) Request(ctx context.Context, method string, params map[string]any) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.conn != nil {
		deadline := time.Now().Add(c.callTimeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set tool deadline: %w", err)
		}
	}

	c.nextID++
	payload := rpcRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	data = append(data, '\n')
	if _, err := c.writer.Write(data); err != nil {
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if err == io.EOF {
			return nil, ErrServerClosed
		}
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var response rpcResponse
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("%s failed: %w", method, response.Error)
	}

	result := map[string]any{}
	if len(response.Result) > 0 {
		if err := json.Unmarshal(response.Result, &result); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return result, nil
}

// Call invokes a named tool via tools/call and unwraps the content envelope:
// the first text block is parsed as JSON, or returned verbatim under "raw"
// when it is not JSON.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.Request(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, err
	}

	if isError, ok := result["isError"].(bool); ok && isError {
		return nil, fmt.Errorf("tool %s failed: %v", name, result["content"])
	}

	content, _ := result["content"].([]any)
	if len(content) == 0 {
		return map[string]any{}, nil
	}
	block, _ := content[0].(map[string]any)
	if blockType, _ := block["type"].(string); blockType != "text" {
		return map[string]any{}, nil
	}
	text, _ := block["text"].(string)

	parsed := map[string]any{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return map[string]any{"raw": text}, nil
	}
	return parsed, nil
}

// Close tears down the transport. For a spawned server the process is killed
// and reaped.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.conn != nil {
		firstErr = c.conn.Close()
		c.conn = nil
	}
	if c.cmd != nil {
		if c.stdi != nil {
			_ = c.stdi.Close()
		}
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
		_ = c.cmd.Wait()
		c.cmd = nil
	}
	return firstErr
}
