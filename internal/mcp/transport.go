package mcp

import "context"

// Transport carries client requests to an MCP server. StdioTransport
// is the production implementation; tests substitute fakes.
type Transport interface {
	// Send delivers req and returns the response with the same ID.
	Send(ctx context.Context, req *Request) (*Response, error)
	// Notify delivers a message that gets no response.
	Notify(ctx context.Context, notif *Notification) error
	Close() error
}
