// Package mcp speaks the Model Context Protocol (JSON-RPC 2.0) on both
// sides. Server exposes the LINE tool registry over stdio, accepting
// either newline-delimited messages or Content-Length framed ones.
// Client and StdioTransport let the webhook drive a `linebot mcp`
// subprocess through the same Call contract as the in-process registry.
package mcp
