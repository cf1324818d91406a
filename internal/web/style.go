package web

import (
	"io"
	"net/http"

	"github.com/nugget/linebot-mcp/internal/events"
	"github.com/nugget/linebot-mcp/internal/style"
)

// maxBrandLen caps the brand voice returned in the style bundle.
const maxBrandLen = 2000

// StyleBundle is everything the prompt builder derives from the presets.
type StyleBundle struct {
	Brand          string       `json:"brand"`
	Style          style.Config `json:"style"`
	StyleText      string       `json:"styleText"`
	PrecedenceNote string       `json:"precedenceNote"`
}

// StylePageData is the template context for the style editor.
type StylePageData struct {
	PageData
	Bundle StyleBundle
}

func (s *WebServer) bundle() StyleBundle {
	cfg := s.presets.Style()
	brand := s.presets.Brand()
	if r := []rune(brand); len(r) > maxBrandLen {
		brand = string(r[:maxBrandLen]) + "\n... (truncated)"
	}
	return StyleBundle{
		Brand:          brand,
		Style:          cfg,
		StyleText:      style.FormatGuidelines(cfg),
		PrecedenceNote: style.PrecedenceNote,
	}
}

func (s *WebServer) handleStylePage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "style.html", StylePageData{
		PageData: PageData{ActiveNav: "style"},
		Bundle:   s.bundle(),
	})
}

func (s *WebServer) handleGetStyle(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.presets.Style())
}

// handlePutStyle merges the submitted object over the defaults and
// rewrites style.json.
func (s *WebServer) handlePutStyle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := style.Merge(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.presets.SaveStyle(cfg); err != nil {
		s.logger.Error("style save failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("style preset saved", "persona", cfg.PersonaName)
	s.bus.Emit(events.SourceAdmin, events.KindStyleSaved, map[string]any{"persona": cfg.PersonaName})
	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *WebServer) handleStyleBundle(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.bundle())
}

func (s *WebServer) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.presets.Templates())
}
