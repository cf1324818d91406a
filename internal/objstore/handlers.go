package objstore

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
)

// MaxUploadBytes bounds the JSON body of an upload.
const MaxUploadBytes = 20 << 20

type uploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	DataBase64  string `json:"dataBase64"`
}

// UploadResponse is returned by POST /api/object.
type UploadResponse struct {
	OK       bool   `json:"ok"`
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Register mounts the upload and download routes on mux.
func (s *Store) Register(mux *http.ServeMux, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	mux.HandleFunc("POST /api/object", func(w http.ResponseWriter, r *http.Request) {
		s.handleUpload(w, r, logger)
	})
	mux.HandleFunc("GET /api/object/{id}/{filename}", s.handleDownload)
}

func (s *Store) handleUpload(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	var req uploadRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxUploadBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid base64 data")
		return
	}
	obj, err := s.Put(req.Filename, req.ContentType, data)
	if errors.Is(err, ErrEmpty) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Debug("object stored", "id", obj.ID, "filename", obj.Filename, "bytes", len(obj.Data))
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UploadResponse{OK: true, ID: obj.ID, Filename: obj.Filename, URL: obj.Path()})
}

func (s *Store) handleDownload(w http.ResponseWriter, r *http.Request) {
	obj, ok := s.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": obj.Filename}))
	w.Write(obj.Data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
