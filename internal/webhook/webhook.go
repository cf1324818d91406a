// Package webhook receives LINE Messaging API callbacks and answers text
// messages through the tool layer. Each user carries a small amount of
// conversation state (knowledge source, last table, last row limit) so
// follow-up questions such as "how many rows in this table" resolve
// without repeating the table name.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/nugget/linebot-mcp/internal/events"
	"github.com/nugget/linebot-mcp/internal/line"
	"github.com/nugget/linebot-mcp/internal/metrics"
	"github.com/nugget/linebot-mcp/internal/opstate"
	"github.com/nugget/linebot-mcp/internal/tools"
	"github.com/nugget/linebot-mcp/internal/usage"
)

// maxBody bounds the callback payload read into memory.
const maxBody = 1 << 20

// ToolCaller invokes a named tool. Both the in-process registry and the
// MCP client satisfy it.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (*tools.Result, error)
}

// Preferences loads and saves per-user conversation state.
type Preferences interface {
	Get(ctx context.Context, userID string) (opstate.Preference, error)
	Set(ctx context.Context, userID string, p opstate.Preference) error
}

// Config controls signature checking, the fallback recipient, and the
// per-user rate limit.
type Config struct {
	ChannelSecret        string
	SkipVerify           bool
	DestinationUserID    string
	DefaultKnowledgeFile string
	RatePerSecond        float64
	Burst                int
}

// Handler is the http.Handler mounted at the webhook path.
type Handler struct {
	cfg    Config
	tools  ToolCaller
	prefs  Preferences
	logger *slog.Logger

	bus     *events.Bus
	metrics *metrics.Metrics
	ledger  *usage.Ledger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a webhook handler. A nil prefs uses an in-memory store.
func New(cfg Config, caller ToolCaller, prefs Preferences, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if prefs == nil {
		prefs = opstate.NewMemory()
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.DefaultKnowledgeFile == "" {
		cfg.DefaultKnowledgeFile = "docs/data-learning/knowledge.md"
	}
	return &Handler{
		cfg:      cfg,
		tools:    caller,
		prefs:    prefs,
		logger:   logger.With("component", "webhook"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetEvents publishes inbound traffic on bus.
func (h *Handler) SetEvents(bus *events.Bus) { h.bus = bus }

// SetMetrics counts handled events by branch.
func (h *Handler) SetMetrics(m *metrics.Metrics) { h.metrics = m }

// SetLedger marks the webhook active on the usage dashboard.
func (h *Handler) SetLedger(l *usage.Ledger) { h.ledger = l }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if !h.cfg.SkipVerify && !line.ValidateSignature(h.cfg.ChannelSecret, body, r.Header.Get(line.SignatureHeader)) {
		h.logger.Warn("rejected webhook with invalid signature", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		return
	}

	var cb line.CallbackRequest
	if err := json.Unmarshal(body, &cb); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.ledger.MarkWebhookActive()
	for _, ev := range cb.Events {
		if !ev.IsText() {
			continue
		}
		userID := ev.Source.UserID
		if !h.allow(userID) {
			h.logger.Warn("dropped rate limited event", "user_id", userID)
			h.metrics.WebhookEvent("rate_limited")
			h.bus.Emit(events.SourceWebhook, events.KindRateLimited, map[string]any{"user_id": userID})
			continue
		}
		h.handleText(r.Context(), userID, ev.Message.Text)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// allow takes one token from userID's limiter.
func (h *Handler) allow(userID string) bool {
	h.mu.Lock()
	lim, ok := h.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(h.cfg.RatePerSecond), h.cfg.Burst)
		h.limiters[userID] = lim
	}
	h.mu.Unlock()
	return lim.Allow()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
