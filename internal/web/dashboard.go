package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/linebot-mcp/internal/buildinfo"
	"github.com/nugget/linebot-mcp/internal/connwatch"
	"github.com/nugget/linebot-mcp/internal/usage"
)

// DashboardData is the template context for the overview page.
type DashboardData struct {
	PageData
	Stats  usage.Stats
	Health []connwatch.Status
	Build  map[string]string
	Uptime time.Duration
}

// handleDashboard renders the overview page at "/". Only exact "/"
// requests get the dashboard; all other paths return 404.
func (s *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	data := DashboardData{
		PageData: PageData{ActiveNav: "overview"},
		Stats:    s.ledger.Snapshot(),
		Build:    buildinfo.Info(),
		Uptime:   buildinfo.Uptime(),
	}
	if s.healthFunc != nil {
		data.Health = s.healthFunc()
	}

	s.render(w, r, "dashboard.html", data)
}

// handleStats returns the live usage counters.
func (s *WebServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ledger.Snapshot())
}

// handleUsage reports persisted tool calls for the last ?hours= hours
// (default 24, at most 30 days).
func (s *WebServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	store := s.ledger.Store()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "usage history not configured")
		return
	}
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 720 {
			writeError(w, http.StatusBadRequest, "hours must be between 1 and 720")
			return
		}
		hours = n
	}
	until := s.now()
	rep, err := store.Report(r.Context(), until.Add(-time.Duration(hours)*time.Hour), until)
	if err != nil {
		s.logger.Warn("usage report failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}
