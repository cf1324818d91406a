// Package tools defines the LINE bot's MCP tools and the registry that
// dispatches calls to them.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/nugget/linebot-mcp/internal/metrics"
	"github.com/nugget/linebot-mcp/internal/usage"
)

// Handler runs a tool. The returned value is JSON-encoded into the
// success envelope; an error's message becomes the error envelope text.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"inputSchema"`
	Handler     Handler        `json:"-"`
}

// Content is one block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the MCP tool result envelope.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the first content block's text.
func (r *Result) Text() string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

// Success wraps v as JSON text.
func Success(v any) *Result {
	raw, err := json.Marshal(v)
	if err != nil {
		return Failure(fmt.Sprintf("encode result: %v", err))
	}
	return &Result{Content: []Content{{Type: "text", Text: string(raw)}}}
}

// Failure wraps msg as an error result.
func Failure(msg string) *Result {
	return &Result{IsError: true, Content: []Content{{Type: "text", Text: msg}}}
}

// Registry holds available tools.
type Registry struct {
	tools   map[string]*Tool
	order   []string
	metrics *metrics.Metrics
	ledger  *usage.Ledger
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. m and ledger may be nil.
func NewRegistry(m *metrics.Metrics, ledger *usage.Ledger, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]*Tool),
		metrics: m,
		ledger:  ledger,
		logger:  logger.With("component", "tools"),
	}
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *Registry) Register(t *Tool) {
	if _, ok := r.tools[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns every tool in registration order.
func (r *Registry) List() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Call runs a tool. Tool failures, including panics, come back as error
// results; the returned error is reserved for unknown tools and
// arguments that fail the input schema.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (res *Result, err error) {
	tool := r.tools[name]
	if tool == nil {
		return nil, &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	defer func() {
		if res == nil {
			return
		}
		elapsed := time.Since(start)
		r.metrics.ToolCall(name, res.IsError, elapsed.Seconds())
		r.ledger.Record(ctx, usage.Call{Tool: name, Args: args, Result: res, IsError: res.IsError, Duration: elapsed})
		r.logger.Debug("tool call", "tool", name, "is_error", res.IsError, "elapsed", elapsed)
	}()

	out, herr := r.invoke(ctx, tool, args)
	if herr != nil {
		var ae *ArgsError
		if errors.As(herr, &ae) {
			return nil, ae
		}
		return Failure(herr.Error()), nil
	}
	return Success(out), nil
}

func (r *Registry) invoke(ctx context.Context, tool *Tool, args map[string]any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", tool.Name, "panic", p, "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("internal error in %s: %v", tool.Name, p)
		}
	}()
	return tool.Handler(ctx, args)
}

// decode maps args onto the mapstructure-tagged struct out.
func decode(tool string, args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return &ArgsError{Tool: tool, Msg: err.Error()}
	}
	return nil
}

// intArg fills *dst with def when key is absent, then checks the range.
func intArg(tool string, args map[string]any, key string, dst *int, def, lo, hi int) error {
	if _, ok := args[key]; !ok {
		*dst = def
	}
	if *dst < lo || *dst > hi {
		return &ArgsError{Tool: tool, Field: key, Msg: fmt.Sprintf("must be between %d and %d", lo, hi)}
	}
	return nil
}

func required(tool, field, value string) error {
	if value == "" {
		return &ArgsError{Tool: tool, Field: field, Msg: "Required"}
	}
	return nil
}
