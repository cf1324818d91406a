package mcp

import (
	"encoding/json"
	"strconv"
)

const jsonrpcVersion = "2.0"

// Error codes linebot returns. A bad tool argument or an unknown tool is
// CodeInvalidParams; a tool that ran and failed is a normal result with
// isError set, not an RPC error.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a client-to-server call. Client IDs are always numeric.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func NewRequest(id int64, method string, params any) *Request {
	return &Request{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
}

// Notification is a Request without an ID; nothing answers it.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: jsonrpcVersion, Method: method, Params: params}
}

// Response is what the client reads back. Result stays raw until the
// caller knows which shape to decode.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return "mcp error " + strconv.Itoa(e.Code) + ": " + e.Message
}

func rpcError(code int, msg string) *RPCError {
	return &RPCError{Code: code, Message: msg}
}

// incoming is a message read by the server. The ID stays raw so string
// IDs from other clients echo back unchanged.
type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (m incoming) isNotification() bool {
	return len(m.ID) == 0 || string(m.ID) == "null"
}

type outgoing struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}
