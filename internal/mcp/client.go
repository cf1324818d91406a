package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nugget/linebot-mcp/internal/buildinfo"
	"github.com/nugget/linebot-mcp/internal/tools"
)

// Client is the webhook's view of a `linebot mcp` subprocess. Its Call
// method matches the in-process registry, so the webhook can use either.
//
// StdioTransport restarts the subprocess after an I/O failure, and a
// fresh process expects a new handshake. Any transport error therefore
// clears the handshake state and the next Call initializes again.
type Client struct {
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64

	handshake sync.Mutex
	ready     atomic.Bool
	server    atomic.Pointer[serverInfo]
}

func NewClient(transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{transport: transport, logger: logger.With("component", "mcp_client")}
}

// Initialize runs the initialize / notifications/initialized exchange
// unless the current subprocess has already completed it.
func (c *Client) Initialize(ctx context.Context) error {
	if c.ready.Load() {
		return nil
	}
	c.handshake.Lock()
	defer c.handshake.Unlock()
	if c.ready.Load() {
		return nil
	}

	raw, err := c.send(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      serverInfo{Name: "linebot-webhook", Version: buildinfo.Version},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var result initializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}
	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("notifications/initialized: %w", err)
	}

	c.server.Store(&result.ServerInfo)
	c.ready.Store(true)
	c.logger.Info("MCP session ready",
		"server", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol", result.ProtocolVersion,
	)
	return nil
}

// ServerInfo is what the subprocess reported in its last handshake.
func (c *Client) ServerInfo() (name, version string) {
	if info := c.server.Load(); info != nil {
		return info.Name, info.Version
	}
	return "", ""
}

// Call runs one tool. A tool that fails still returns a Result, with
// IsError set; the error return means the call never completed.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	raw, err := c.send(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	var res tools.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", name, err)
	}
	return &res, nil
}

// Ping is the connwatch probe for the subprocess.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, "ping", nil)
	return err
}

func (c *Client) Close() error {
	c.ready.Store(false)
	return c.transport.Close()
}

// send returns the raw result. RPC errors come back as *RPCError and
// leave the session intact.
func (c *Client) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	resp, err := c.transport.Send(ctx, NewRequest(c.nextID.Add(1), method, params))
	if err != nil {
		if c.ready.Swap(false) {
			c.logger.Warn("MCP transport failed; will re-initialize", "method", method, "error", err)
		}
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}
