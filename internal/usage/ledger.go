package usage

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/linebot-mcp/internal/events"
	"github.com/nugget/linebot-mcp/internal/metrics"
)

// MaxEvents is how many recent events the ledger keeps.
const MaxEvents = 50

// Event is one entry in the dashboard's recent activity list.
type Event struct {
	TS      int64  `json:"ts"`
	Type    string `json:"type"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Stats are the dashboard counters.
type Stats struct {
	TokensUsed        int     `json:"tokensUsed"`
	InputTokens       int     `json:"inputTokens"`
	OutputTokens      int     `json:"outputTokens"`
	Calls             int     `json:"calls"`
	LastModel         string  `json:"lastModel,omitempty"`
	MCPConnected      bool    `json:"mcpConnected"`
	LineWebhookActive bool    `json:"lineWebhookActive"`
	AIReady           bool    `json:"aiReady"`
	LastUpdated       int64   `json:"lastUpdated"`
	RecentEvents      []Event `json:"recentEvents"`
}

// Call describes a finished tool call.
type Call struct {
	Tool     string
	Args     map[string]any
	Result   any
	IsError  bool
	Duration time.Duration
}

// CallType classifies a tool for the activity feed.
func CallType(tool string) string {
	switch {
	case strings.Contains(tool, "broadcast"):
		return "broadcast"
	case strings.Contains(tool, "push"), tool == "gemini_command":
		return "push"
	}
	return "other"
}

// Ledger holds the live counters. It is safe for concurrent use and all
// methods are no-ops on a nil receiver.
type Ledger struct {
	mu     sync.Mutex
	stats  Stats
	store  *Store
	bus    *events.Bus
	m      *metrics.Metrics
	now    func() time.Time
	logger *slog.Logger
}

// NewLedger creates a ledger. store, bus and m may be nil.
func NewLedger(store *Store, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{store: store, bus: bus, m: m, now: time.Now, logger: logger.With("component", "usage")}
	l.stats.RecentEvents = []Event{}
	l.stats.LastUpdated = l.now().UnixMilli()
	return l
}

// SetStatus updates the connection flags shown on the dashboard.
func (l *Ledger) SetStatus(mcpConnected, webhookActive, aiReady bool) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.MCPConnected = mcpConnected
	l.stats.LineWebhookActive = webhookActive
	l.stats.AIReady = aiReady
	l.stats.LastUpdated = l.now().UnixMilli()
}

// MarkWebhookActive records that a webhook request was handled.
func (l *Ledger) MarkWebhookActive() {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.stats.LineWebhookActive = true
	l.stats.LastUpdated = l.now().UnixMilli()
	l.mu.Unlock()
}

// Record accounts for one tool call: token estimates, the recent event,
// the persisted record, metrics and the live feed.
func (l *Ledger) Record(ctx context.Context, c Call) {
	if l == nil {
		return
	}
	in := EstimateJSONTokens(c.Args)
	out := CountResultTokens(toGeneric(c.Result))
	model, _ := c.Args["model"].(string)
	typ := CallType(c.Tool)
	ok, msg := outcome(c)

	now := l.now()
	l.mu.Lock()
	s := &l.stats
	s.Calls++
	s.InputTokens += in
	s.OutputTokens += out
	s.TokensUsed += in + out
	if model != "" {
		s.LastModel = model
	}
	s.RecentEvents = append(s.RecentEvents, Event{TS: now.UnixMilli(), Type: typ, OK: ok, Message: msg})
	if len(s.RecentEvents) > MaxEvents {
		s.RecentEvents = append([]Event(nil), s.RecentEvents[len(s.RecentEvents)-MaxEvents:]...)
	}
	s.LastUpdated = now.UnixMilli()
	l.mu.Unlock()

	l.m.Tokens(in + out)
	l.bus.Emit(events.SourceTools, events.KindToolDone, map[string]any{
		"tool":        c.Tool,
		"type":        typ,
		"ok":          ok,
		"message":     msg,
		"duration_ms": c.Duration.Milliseconds(),
		"tokens_in":   in,
		"tokens_out":  out,
	})
	if l.store != nil {
		err := l.store.Record(ctx, Record{
			Timestamp:    now,
			Tool:         c.Tool,
			Model:        model,
			Type:         typ,
			InputTokens:  in,
			OutputTokens: out,
			OK:           ok,
			DurationMS:   c.Duration.Milliseconds(),
		})
		if err != nil {
			l.logger.Warn("failed to persist tool call", "tool", c.Tool, "error", err)
		}
	}
}

// Snapshot returns a copy of the current stats.
func (l *Ledger) Snapshot() Stats {
	if l == nil {
		return Stats{RecentEvents: []Event{}}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.stats
	out.RecentEvents = append([]Event{}, l.stats.RecentEvents...)
	return out
}

// Store returns the persistent store, if any.
func (l *Ledger) Store() *Store {
	if l == nil {
		return nil
	}
	return l.store
}

// outcome derives ok and a 300-character message from the result. A
// result that reports linePushSkipped counts as a failure.
func outcome(c Call) (bool, string) {
	ok := !c.IsError
	text := resultText(c.Result)
	if text != "" {
		var obj map[string]any
		if json.Unmarshal([]byte(text), &obj) == nil {
			if skipped, _ := obj["linePushSkipped"].(bool); skipped {
				ok = false
			}
		}
	}
	msg := clip(text, 300)
	if msg == "" {
		msg = "error"
		if ok {
			msg = "ok"
		}
	}
	return ok, msg
}

// resultText returns content[0].text of an MCP-style result.
func resultText(v any) string {
	g, ok := toGeneric(v).(map[string]any)
	if !ok {
		return ""
	}
	content, _ := g["content"].([]any)
	if len(content) == 0 {
		return ""
	}
	first, _ := content[0].(map[string]any)
	text, _ := first["text"].(string)
	return text
}

// toGeneric round-trips v through JSON so typed results can be walked.
func toGeneric(v any) any {
	switch v.(type) {
	case nil, string, map[string]any, []any:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if json.Unmarshal(raw, &out) != nil {
		return nil
	}
	return out
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
