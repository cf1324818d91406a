package web

import (
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFiles embed.FS

// consolePages are the templates rendered inside layout.html.
var consolePages = []string{"dashboard.html", "knowledge.html", "style.html"}

// PageData carries the fields the layout needs on every page.
type PageData struct {
	ActiveNav string
}

func loadTemplates() map[string]*template.Template {
	funcs := template.FuncMap{
		"formatDuration": formatDuration,
		"formatTokens":   formatTokens,
		"millis":         millis,
	}
	layout := template.Must(template.New("layout.html").Funcs(funcs).ParseFS(templateFiles, "templates/layout.html"))

	set := make(map[string]*template.Template, len(consolePages))
	for _, name := range consolePages {
		page := template.Must(layout.Clone())
		set[name] = template.Must(page.ParseFS(templateFiles, "templates/"+name))
	}
	return set
}

// render writes a console page. htmx navigation (HX-Request: true) gets
// only the "content" block so the layout is not repeated.
func (s *WebServer) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	page, ok := s.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}
	block := "layout.html"
	if r.Header.Get("HX-Request") == "true" {
		block = "content"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.ExecuteTemplate(w, block, data); err != nil {
		s.logger.Error("console page failed", "page", name, "block", block, "error", err)
	}
}

// formatDuration shows the two largest units of d, e.g. "3d 4h" or "12m 5s".
func formatDuration(d time.Duration) string {
	units := []struct {
		size   time.Duration
		suffix string
	}{
		{24 * time.Hour, "d"},
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
	}
	var parts []string
	for _, u := range units {
		if n := d / u.size; n > 0 || (len(parts) == 0 && u.size == time.Second) {
			parts = append(parts, strconv.FormatInt(int64(n), 10)+u.suffix)
			d -= n * u.size
		}
		if len(parts) == 2 || (len(parts) == 1 && d == 0) {
			break
		}
	}
	return strings.Join(parts, " ")
}

// formatTokens abbreviates Gemini token counts: 950, 12.5K, 3.2M.
func formatTokens(n int) string {
	switch {
	case n >= 1_000_000:
		return strconv.FormatFloat(float64(n)/1_000_000, 'f', 1, 64) + "M"
	case n >= 1000:
		return strconv.FormatFloat(float64(n)/1000, 'f', 1, 64) + "K"
	default:
		return strconv.Itoa(n)
	}
}

// millis renders an event timestamp (Unix ms) as local clock time.
func millis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("15:04:05")
}
