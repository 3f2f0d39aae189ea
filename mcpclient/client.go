package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	protocolVersion = "2024-11-05"
	clientName      = "zscaler-automation"
	clientVersion   = "1.0.0"

	// DefaultCallTimeout bounds how long a single request waits for its
	// matching response before being reported as a failed tool result.
	DefaultCallTimeout = 30 * time.Second
)

// errCallTimeout marks a request that outlived its response budget.
var errCallTimeout = errors.New("timed out waiting for response")

// ServerInfo describes the tool server reported during the handshake.
type ServerInfo struct {
	Name            string `json:"name"`
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocolVersion"`
}

// CallToolResult is the outcome of a single tool invocation. Timeouts
// and malformed responses are delivered through IsError rather than as
// Go errors, so the caller can report the failure to the model and keep
// the conversation alive.
type CallToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

// JSON-RPC 2.0 wire shapes. Requests carry an id; notifications do not.

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// processTransport is implemented by transports backed by a child
// process; it lets the client distinguish "server never came up" from
// a protocol-level handshake failure.
type processTransport interface {
	Exited() bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCallTimeout overrides the per-request response budget.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// Client speaks the tool-server protocol over a Transport: it assigns
// request ids, routes responses back to their waiters, and exposes the
// handshake, catalog, and invocation operations.
type Client struct {
	transport   Transport
	logger      *log.Logger
	callTimeout time.Duration

	nextID int64

	mu      sync.Mutex
	pending map[int64]chan *rpcMessage
	closed  bool

	// callMu serializes requests: one outstanding at a time.
	callMu      sync.Mutex
	initialized bool
	serverInfo  *ServerInfo
	tools       []mcp.Tool
	toolsLoaded bool
}

// New creates a Client on an already-started transport and begins
// reading responses.
func New(transport Transport, opts ...Option) *Client {
	c := &Client{
		transport:   transport,
		logger:      log.New(io.Discard, "", 0),
		callTimeout: DefaultCallTimeout,
		pending:     make(map[int64]chan *rpcMessage),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// Launch spawns a tool server process (command args...) and returns a
// Client connected to it. It returns a *LaunchError if the process
// cannot be started.
func Launch(command string, args []string, opts ...Option) (*Client, error) {
	settings := &Client{logger: log.New(io.Discard, "", 0), callTimeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(settings)
	}
	transport, err := NewStdioTransport(command, args, settings.logger)
	if err != nil {
		return nil, err
	}
	return New(transport, opts...), nil
}

// readLoop drains the transport, skipping lines that are not valid
// responses and routing the rest to their waiters by id. A single bad
// line never kills the session; transport closure fails every waiter.
func (c *Client) readLoop() {
	for {
		line, err := c.transport.ReadLine()
		if err != nil {
			if err != io.EOF {
				c.logger.Printf("read error from tool server: %v", err)
			}
			c.failPending()
			return
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			// Startup banners and stray prints share the pipe with the
			// protocol; skip anything that is not JSON.
			c.logger.Printf("skipping non-JSON line from tool server: %.120s", line)
			continue
		}

		if msg.Method != "" {
			c.logger.Printf("notification from tool server: %s", msg.Method)
			continue
		}
		if msg.ID == nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.mu.Unlock()

		if !ok {
			// A response whose request already timed out or was never
			// ours. Dropping it here keeps correlation strict.
			c.logger.Printf("dropping unmatched response id %d", *msg.ID)
			continue
		}
		ch <- &msg
	}
}

// failPending wakes every waiter with a closed channel after the
// transport goes away, so no request leaks.
func (c *Client) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// roundTrip sends one request and blocks until the matching response,
// the timeout, or cancellation.
func (c *Client) roundTrip(ctx context.Context, method string, params interface{}, timeout time.Duration) (*rpcMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("session closed")
	}
	id := atomic.AddInt64(&c.nextID, 1)
	ch := make(chan *rpcMessage, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	unregister := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params})
	if err != nil {
		unregister()
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}
	if err := c.transport.Send(data); err != nil {
		unregister()
		return nil, fmt.Errorf("send %s request: %w", method, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("tool server connection closed")
		}
		return msg, nil
	case <-timer.C:
		unregister()
		return nil, errCallTimeout
	case <-ctx.Done():
		unregister()
		return nil, ctx.Err()
	}
}

// notify sends an id-less notification; no response is expected.
func (c *Client) notify(method string, params interface{}) error {
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	return c.transport.Send(data)
}

// Initialize performs the protocol handshake. It must be called exactly
// once, before ListTools or CallTool. A timeout, protocol error, or
// unparsable response yields a *HandshakeError; if the server process
// died underneath the transport, a *LaunchError instead.
func (c *Client) Initialize(ctx context.Context) (*ServerInfo, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if c.initialized {
		return nil, fmt.Errorf("client already initialized")
	}

	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]string{
			"name":    clientName,
			"version": clientVersion,
		},
	}

	msg, err := c.roundTrip(ctx, "initialize", params, c.callTimeout)
	if err != nil {
		if pt, ok := c.transport.(processTransport); ok && pt.Exited() {
			return nil, &LaunchError{Command: "tool server", Cause: err}
		}
		if errors.Is(err, errCallTimeout) {
			return nil, &HandshakeError{Message: "no initialize response", Cause: err}
		}
		return nil, &HandshakeError{Message: "initialize request failed", Cause: err}
	}
	if msg.Error != nil {
		return nil, &HandshakeError{Message: fmt.Sprintf("server rejected initialize: %s", msg.Error.Message)}
	}

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return nil, &HandshakeError{Message: "malformed initialize response", Cause: err}
	}

	if err := c.notify("notifications/initialized", nil); err != nil {
		return nil, &HandshakeError{Message: "failed to acknowledge handshake", Cause: err}
	}

	c.serverInfo = &ServerInfo{
		Name:            result.ServerInfo.Name,
		Version:         result.ServerInfo.Version,
		ProtocolVersion: result.ProtocolVersion,
	}
	c.initialized = true
	c.logger.Printf("handshake complete with %s %s", c.serverInfo.Name, c.serverInfo.Version)
	return c.serverInfo, nil
}

// ListTools fetches the tool catalog. The catalog is immutable for the
// lifetime of the session and cached after the first call.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if !c.initialized {
		return nil, fmt.Errorf("client not initialized")
	}
	if c.toolsLoaded {
		return c.tools, nil
	}

	msg, err := c.roundTrip(ctx, "tools/list", map[string]interface{}{}, c.callTimeout)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("list tools: %s", msg.Error.Message)
	}

	var result struct {
		Tools []mcp.Tool `json:"tools"`
	}
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return nil, fmt.Errorf("malformed tools/list response: %w", err)
	}

	c.tools = result.Tools
	c.toolsLoaded = true
	c.logger.Printf("discovered %d tools", len(c.tools))
	return c.tools, nil
}

// CallTool invokes a tool by name. It blocks until the matching
// response arrives or the call timeout elapses. Timeouts, protocol
// errors, and malformed responses come back as failed results; a Go
// error means the session itself is unusable.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*CallToolResult, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	if !c.initialized {
		return nil, fmt.Errorf("client not initialized")
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	c.logger.Printf("calling tool %s", name)
	params := map[string]interface{}{
		"name":      name,
		"arguments": arguments,
	}

	msg, err := c.roundTrip(ctx, "tools/call", params, c.callTimeout)
	if errors.Is(err, errCallTimeout) {
		return &CallToolResult{
			Content: fmt.Sprintf("Tool %q timed out after %s.", name, c.callTimeout),
			IsError: true,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}
	if msg.Error != nil {
		return &CallToolResult{
			Content: fmt.Sprintf("Tool %q failed: %s", name, msg.Error.Message),
			IsError: true,
		}, nil
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return &CallToolResult{
			Content: fmt.Sprintf("Tool %q returned a malformed response: %v", name, err),
			IsError: true,
		}, nil
	}

	var sb strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &CallToolResult{Content: sb.String(), IsError: result.IsError}, nil
}

// ServerInfo returns the handshake result, or nil before Initialize.
func (c *Client) ServerInfo() *ServerInfo {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	return c.serverInfo
}

// Close tears down the session and the underlying transport. Pending
// requests are failed, not leaked. Safe to call more than once.
func (c *Client) Close() error {
	err := c.transport.Stop()
	c.failPending()
	return err
}
