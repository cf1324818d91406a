// Package web serves the linebot admin console: a dashboard, the style
// editor, knowledge file management, and the JSON API those pages call.
// Every route sits behind HTTP basic auth when an admin password hash is
// configured.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/nugget/linebot-mcp/internal/connwatch"
	"github.com/nugget/linebot-mcp/internal/events"
	"github.com/nugget/linebot-mcp/internal/metrics"
	"github.com/nugget/linebot-mcp/internal/quota"
	"github.com/nugget/linebot-mcp/internal/style"
	"github.com/nugget/linebot-mcp/internal/tools"
	"github.com/nugget/linebot-mcp/internal/usage"
)

// quotaCacheTTL is how long /api/line-quota reuses a fetched value.
const quotaCacheTTL = 60 * time.Second

// ToolSet lists and invokes tools.
type ToolSet interface {
	List() []*tools.Tool
	Call(ctx context.Context, name string, args map[string]any) (*tools.Result, error)
}

// Config holds the dependencies for the admin console.
type Config struct {
	Tools   ToolSet
	Ledger  *usage.Ledger
	Presets style.Presets
	// Root is the project directory. Knowledge files are confined to
	// Root/docs.
	Root       string
	Bus        *events.Bus
	Metrics    *metrics.Metrics
	HealthFunc func() []connwatch.Status

	// Username and PasswordHash (bcrypt) enable basic auth. An empty
	// hash leaves the console open.
	Username     string
	PasswordHash string

	Now    func() time.Time
	Logger *slog.Logger
}

// WebServer renders the admin pages and API.
type WebServer struct {
	tools      ToolSet
	ledger     *usage.Ledger
	presets    style.Presets
	root       string
	bus        *events.Bus
	metrics    *metrics.Metrics
	healthFunc func() []connwatch.Status
	username   string
	hash       []byte
	now        func() time.Time
	logger     *slog.Logger

	templates  map[string]*template.Template
	quotaCache *quota.MemoryCache
	upgrader   websocket.Upgrader
}

// NewWebServer creates the admin console. Templates are parsed here, so
// a broken template fails at startup.
func NewWebServer(cfg Config) *WebServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
	s := &WebServer{
		tools:      cfg.Tools,
		ledger:     cfg.Ledger,
		presets:    cfg.Presets,
		root:       cfg.Root,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		healthFunc: cfg.HealthFunc,
		username:   cfg.Username,
		now:        cfg.Now,
		logger:     cfg.Logger.With("component", "admin"),
		templates:  loadTemplates(),
		quotaCache: quota.NewMemoryCache(quotaCacheTTL, cfg.Now),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	if cfg.PasswordHash != "" {
		s.hash = []byte(cfg.PasswordHash)
	} else {
		s.logger.Warn("admin console has no password configured")
	}
	return s
}

// RegisterRoutes mounts the pages and API on mux.
func (s *WebServer) RegisterRoutes(mux *http.ServeMux) {
	s.handle(mux, "GET /", s.handleDashboard)
	s.handle(mux, "GET /knowledge", s.handleKnowledge)
	s.handle(mux, "GET /style", s.handleStylePage)

	s.handle(mux, "GET /api/ai-style", s.handleGetStyle)
	s.handle(mux, "PUT /api/ai-style", s.handlePutStyle)
	s.handle(mux, "GET /api/style-bundle", s.handleStyleBundle)
	s.handle(mux, "GET /api/templates", s.handleTemplates)

	s.handle(mux, "GET /api/files", s.handleFiles)
	s.handle(mux, "GET /api/file", s.handleGetFile)
	s.handle(mux, "PUT /api/file", s.handlePutFile)
	s.handle(mux, "GET /api/file/preview", s.handlePreview)

	s.handle(mux, "GET /api/line-quota", s.handleQuota)
	s.handle(mux, "GET /api/tools", s.handleTools)
	s.handle(mux, "POST /api/call", s.handleCall)
	s.handle(mux, "GET /api/stats", s.handleStats)
	s.handle(mux, "GET /api/usage", s.handleUsage)
	s.handle(mux, "GET /ws/events", s.handleEvents)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.requireAuth(s.metrics.Handler()))
	}
}

func (s *WebServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.requireAuth(h))
}

// requireAuth checks basic auth credentials against the bcrypt hash.
func (s *WebServer) requireAuth(next http.Handler) http.Handler {
	if len(s.hash) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) != 1 ||
			bcrypt.CompareHashAndPassword(s.hash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="linebot admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as the response body.
func (s *WebServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
