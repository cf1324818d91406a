package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nugget/linebot-mcp/internal/quota"
	"github.com/nugget/linebot-mcp/internal/tools"
)

// callRequest is the body of POST /api/call.
type callRequest struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// QuotaView is the /api/line-quota response.
type QuotaView struct {
	Limited    int64 `json:"limited"`
	TotalUsage int64 `json:"totalUsage"`
	Remaining  int64 `json:"remaining"`
}

func (s *WebServer) handleTools(w http.ResponseWriter, _ *http.Request) {
	if s.tools == nil {
		writeError(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}
	list := s.tools.List()
	if list == nil {
		list = []*tools.Tool{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tools": list})
}

// handleCall runs a tool on behalf of the console. The registry records
// usage and publishes the outcome; this handler only relays the result.
func (s *WebServer) handleCall(w http.ResponseWriter, r *http.Request) {
	if s.tools == nil {
		writeError(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}
	var req callRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 5<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}

	res, err := s.tools.Call(r.Context(), req.Name, req.Args)
	if err != nil {
		var notFound *tools.ErrToolUnavailable
		var argsErr *tools.ArgsError
		switch {
		case errors.As(err, &notFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.As(err, &argsErr):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// handleQuota reports the monthly message quota. Values are cached for a
// minute; on failure the last value is served with X-Cache-Fallback.
func (s *WebServer) handleQuota(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if snap, ok := s.quotaCache.Get(ctx); ok {
		s.writeJSON(w, http.StatusOK, quotaView(snap))
		return
	}

	snap, err := s.fetchQuota(r)
	if err != nil {
		s.logger.Warn("quota fetch failed", "error", err)
		if stale, ok := s.quotaCache.Stale(); ok {
			w.Header().Set("X-Cache-Fallback", "1")
			s.writeJSON(w, http.StatusOK, quotaView(stale))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.quotaCache.Set(ctx, snap)
	s.writeJSON(w, http.StatusOK, quotaView(snap))
}

func (s *WebServer) fetchQuota(r *http.Request) (quota.Snapshot, error) {
	if s.tools == nil {
		return quota.Snapshot{}, errors.New("tools not configured")
	}
	res, err := s.tools.Call(r.Context(), "get_message_quota", map[string]any{})
	if err != nil {
		return quota.Snapshot{}, err
	}
	if res.IsError {
		return quota.Snapshot{}, errors.New(res.Text())
	}
	var body struct {
		Limited    *int64 `json:"limited"`
		TotalUsage *int64 `json:"totalUsage"`
	}
	if err := json.Unmarshal([]byte(res.Text()), &body); err != nil {
		return quota.Snapshot{}, err
	}
	return quota.Snapshot{
		Limited:    body.Limited,
		TotalUsage: body.TotalUsage,
		FetchedAt:  s.now(),
	}, nil
}

// quotaView flattens a snapshot. Unknown values read as zero and the
// remainder is only computed for a limited plan.
func quotaView(snap quota.Snapshot) QuotaView {
	var v QuotaView
	if snap.Limited != nil {
		v.Limited = *snap.Limited
	}
	if snap.TotalUsage != nil {
		v.TotalUsage = *snap.TotalUsage
	}
	if v.Limited > 0 {
		v.Remaining = max(0, v.Limited-v.TotalUsage)
	}
	return v
}
