package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nugget/linebot-mcp/internal/buildinfo"
	"github.com/nugget/linebot-mcp/internal/tools"
)

// ServerName is reported in the initialize response.
const ServerName = "line-bot"

// ToolSet is what the server exposes. *tools.Registry satisfies it.
type ToolSet interface {
	List() []*tools.Tool
	Call(ctx context.Context, name string, args map[string]any) (*tools.Result, error)
}

// Server answers MCP requests over a byte stream, one at a time.
type Server struct {
	tools  ToolSet
	logger *slog.Logger

	// OnInitialized runs once the client completes the handshake.
	OnInitialized func()

	writeMu sync.Mutex
}

// NewServer creates a server exposing set.
func NewServer(set ToolSet, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{tools: set, logger: logger.With("component", "mcp")}
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Serve reads requests from r and writes responses to w until r is
// exhausted or ctx is cancelled. A clean EOF returns nil.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	fr := newFrameReader(r)
	type frame struct {
		body []byte
		err  error
	}
	frames := make(chan frame)
	go func() {
		for {
			body, err := fr.next()
			select {
			case frames <- frame{body, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	logged := false
	for {
		var f frame
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f = <-frames:
		}
		if f.err != nil {
			if errors.Is(f.err, io.EOF) {
				s.logger.Info("client closed input")
				return nil
			}
			return fmt.Errorf("read request: %w", f.err)
		}
		if !logged {
			s.logger.Debug("wire framing detected", "mode", fr.mode)
			logged = true
		}

		var msg incoming
		if err := json.Unmarshal(f.body, &msg); err != nil {
			s.write(w, fr.mode, outgoing{JSONRPC: jsonrpcVersion, ID: json.RawMessage("null"),
				Error: rpcError(CodeParseError, "Parse error")})
			continue
		}
		resp, reply := s.handle(ctx, msg)
		if reply {
			s.write(w, fr.mode, resp)
		}
	}
}

func (s *Server) write(w io.Writer, mode wireMode, resp outgoing) {
	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response failed", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := writeFrame(w, mode, body); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}

// handle dispatches one message. reply is false for notifications.
func (s *Server) handle(ctx context.Context, msg incoming) (resp outgoing, reply bool) {
	resp = outgoing{JSONRPC: jsonrpcVersion, ID: msg.ID}
	if msg.isNotification() {
		if msg.Method == "notifications/initialized" && s.OnInitialized != nil {
			s.OnInitialized()
		}
		s.logger.Debug("notification", "method", msg.Method)
		return resp, false
	}

	switch msg.Method {
	case "initialize":
		resp.Result = initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      serverInfo{Name: ServerName, Version: buildinfo.Version},
			Capabilities:    serverCapabilities{Tools: &struct{}{}},
		}
	case "ping":
		resp.Result = struct{}{}
	case "tools/list":
		list := s.tools.List()
		defs := make([]ToolDefinition, 0, len(list))
		for _, t := range list {
			defs = append(defs, ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
		}
		resp.Result = toolsListResult{Tools: defs}
	case "tools/call":
		result, rpcErr := s.call(ctx, msg.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
	default:
		resp.Error = rpcError(CodeMethodNotFound, "Method not found: "+msg.Method)
	}
	return resp, true
}

func (s *Server) call(ctx context.Context, raw json.RawMessage) (*tools.Result, *RPCError) {
	var p callParams
	if len(raw) == 0 || json.Unmarshal(raw, &p) != nil || p.Name == "" {
		return nil, rpcError(CodeInvalidParams, "Invalid params: expected {name, arguments}")
	}
	res, err := s.tools.Call(ctx, p.Name, p.Arguments)
	if err != nil {
		var unavailable *tools.ErrToolUnavailable
		var argsErr *tools.ArgsError
		switch {
		case errors.As(err, &unavailable), errors.As(err, &argsErr):
			return nil, rpcError(CodeInvalidParams, err.Error())
		default:
			return nil, rpcError(CodeInternalError, err.Error())
		}
	}
	s.logger.Debug("tool call", "tool", p.Name, "is_error", res.IsError)
	return res, nil
}
