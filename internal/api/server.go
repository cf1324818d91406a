// Package api implements the linebot HTTP server: the LINE webhook, the
// object store, the admin console and the health probe on one listener.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/linebot-mcp/internal/buildinfo"
	"github.com/nugget/linebot-mcp/internal/connwatch"
	"github.com/nugget/linebot-mcp/internal/objstore"
	"github.com/nugget/linebot-mcp/internal/web"
)

// WebhookPath is where LINE delivers webhook events.
const WebhookPath = "/api/line-webhook"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP server behind "linebot serve".
type Server struct {
	address    string
	port       int
	webhook    http.Handler
	objects    *objstore.Store
	admin      *web.WebServer
	healthFunc func() []connwatch.Status
	logger     *slog.Logger
	server     *http.Server
}

// NewServer creates a server bound to address:port. Components are
// attached with the Set methods before Start.
func NewServer(address string, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		logger:  logger.With("component", "http"),
	}
}

// SetWebhook mounts the LINE webhook handler.
func (s *Server) SetWebhook(h http.Handler) { s.webhook = h }

// SetObjectStore mounts the object upload and download routes.
func (s *Server) SetObjectStore(store *objstore.Store) { s.objects = store }

// SetAdmin mounts the admin console.
func (s *Server) SetAdmin(admin *web.WebServer) { s.admin = admin }

// SetHealthFunc reports dependency status on /health.
func (s *Server) SetHealthFunc(fn func() []connwatch.Status) { s.healthFunc = fn }

// Handler builds the routing table. The admin console owns "/", so it is
// mounted last and every more specific route wins over it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	if s.webhook != nil {
		mux.Handle("POST "+WebhookPath, s.webhook)
	}
	if s.objects != nil {
		s.objects.Register(mux, s.logger)
	}
	if s.admin != nil {
		s.admin.RegisterRoutes(mux)
	} else {
		mux.HandleFunc("GET /{$}", s.handleRoot)
	}
	return s.withLogging(mux)
}

// Start runs the server until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(addr, strconv.Itoa(s.port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Planner calls and PDF rendering can take a while.
		WriteTimeout: 120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting HTTP server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// withLogging tags each request with an id and logs its outcome.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if r.URL.Path == "/health" {
			level = slog.LevelDebug
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"request_id", id,
			"duration", time.Since(start),
		)
	})
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack passes through to the wrapped writer for /ws/events.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "linebot",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// healthResponse is the /health body. Status is "degraded" when any
// watched dependency is down; the HTTP status stays 200 because the
// webhook still answers.
type healthResponse struct {
	Status   string             `json:"status"`
	Version  string             `json:"version"`
	Uptime   string             `json:"uptime"`
	Services []connwatch.Status `json:"services"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Version:  buildinfo.Version,
		Uptime:   buildinfo.Uptime().String(),
		Services: []connwatch.Status{},
	}
	if s.healthFunc != nil {
		if st := s.healthFunc(); st != nil {
			resp.Services = st
		}
	}
	for _, svc := range resp.Services {
		if !svc.Ready {
			resp.Status = "degraded"
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}
