package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nugget/linebot-mcp/internal/events"
	"github.com/nugget/linebot-mcp/internal/knowledge"
)

const (
	docsDir     = "docs"
	presetsPath = "docs/ai-presets/"
)

// apiError is a failure with the HTTP status it maps to.
type apiError struct {
	status int
	msg    string
}

func (e *apiError) Error() string { return e.msg }

var errOutsideDocs = &apiError{http.StatusForbidden, "Only docs/* can be accessed"}

// writeAPIError answers with err's status, or 500 for other errors.
func writeAPIError(w http.ResponseWriter, err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		writeError(w, ae.status, ae.msg)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// fileBody is the GET response and PUT request of /api/file.
type fileBody struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// KnowledgeData is the template context for the knowledge page.
type KnowledgeData struct {
	PageData
	Files    []string
	Selected string
	Preview  template.HTML
	Error    string
}

// resolveDoc maps a root-relative path onto disk and rejects anything
// outside the docs directory.
func (s *WebServer) resolveDoc(rel string) (string, error) {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	docs := &knowledge.Loader{Root: filepath.Join(root, docsDir)}
	abs, ok := docs.ResolvePath(filepath.Join(root, rel))
	if !ok {
		return "", errOutsideDocs
	}
	return abs, nil
}

// listDocs returns every markdown file under docs/ as a root-relative
// slash path, excluding the presets directory and README.md.
func (s *WebServer) listDocs() ([]string, error) {
	files := []string{}
	base := filepath.Join(s.root, docsDir)
	if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
		return files, nil
	}
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, presetsPath) || rel == "README.md" {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return files, err
}

func (s *WebServer) handleFiles(w http.ResponseWriter, _ *http.Request) {
	files, err := s.listDocs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// readDoc loads a knowledge file.
func (s *WebServer) readDoc(rel string) ([]byte, error) {
	if rel == "" {
		return nil, &apiError{http.StatusBadRequest, "Missing path"}
	}
	abs, err := s.resolveDoc(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return nil, &apiError{http.StatusNotFound, "File not found"}
	}
	return os.ReadFile(abs)
}

func (s *WebServer) handleGetFile(w http.ResponseWriter, r *http.Request) {
	rel := r.URL.Query().Get("path")
	data, err := s.readDoc(rel)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fileBody{Path: rel, Content: string(data)})
}

func (s *WebServer) handlePutFile(w http.ResponseWriter, r *http.Request) {
	var body fileBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 5<<20)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Path == "" {
		writeError(w, http.StatusBadRequest, "Missing path")
		return
	}
	abs, err := s.resolveDoc(body.Path)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(abs, []byte(body.Content), 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("knowledge file saved", "path", body.Path, "bytes", len(body.Content))
	s.bus.Emit(events.SourceAdmin, events.KindFileSaved, map[string]any{
		"path":  body.Path,
		"bytes": len(body.Content),
	})
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": body.Path})
}

// renderMarkdown converts markdown to HTML. Raw HTML in the source is
// not passed through.
func renderMarkdown(src []byte) (template.HTML, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert(src, &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func (s *WebServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, err := s.readDoc(r.URL.Query().Get("path"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	html, err := renderMarkdown(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}

// handleKnowledge renders the file list with a preview of the selected
// file.
func (s *WebServer) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	data := KnowledgeData{
		PageData: PageData{ActiveNav: "knowledge"},
		Selected: r.URL.Query().Get("path"),
	}
	files, err := s.listDocs()
	if err != nil {
		data.Error = err.Error()
	}
	data.Files = files

	if data.Selected != "" {
		src, err := s.readDoc(data.Selected)
		if err == nil {
			data.Preview, err = renderMarkdown(src)
		}
		if err != nil {
			data.Error = err.Error()
		}
	}

	s.render(w, r, "knowledge.html", data)
}
