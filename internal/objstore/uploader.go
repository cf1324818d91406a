package objstore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/linebot-mcp/internal/httpkit"
	"github.com/nugget/linebot-mcp/internal/render"
)

// Uploaded describes where an artifact can be fetched.
type Uploaded struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	// URL is absolute when a public base URL is configured, otherwise
	// server-relative.
	URL string `json:"url"`
}

// Uploader publishes an artifact under a sanitized, timestamped name.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType, baseName string) (*Uploaded, error)
}

// LocalUploader writes into an in-process Store.
type LocalUploader struct {
	Store         *Store
	PublicBaseURL string
	Now           func() time.Time
}

// Upload implements Uploader.
func (u *LocalUploader) Upload(_ context.Context, data []byte, contentType, baseName string) (*Uploaded, error) {
	obj, err := u.Store.Put(render.Filename(baseName, contentType, clock(u.Now)()), contentType, data)
	if err != nil {
		return nil, err
	}
	return &Uploaded{ID: obj.ID, Filename: obj.Filename, URL: joinURL(u.PublicBaseURL, obj.Path())}, nil
}

// HTTPUploader posts to a running linebot server's /api/object, used
// by the stdio MCP process so artifacts land where LINE can reach them.
type HTTPUploader struct {
	BaseURL string
	Client  *http.Client
	Now     func() time.Time
}

// NewHTTPUploader creates an uploader for the server at baseURL.
func NewHTTPUploader(baseURL string) *HTTPUploader {
	return &HTTPUploader{BaseURL: baseURL, Client: httpkit.NewClient()}
}

// Upload implements Uploader.
func (u *HTTPUploader) Upload(ctx context.Context, data []byte, contentType, baseName string) (*Uploaded, error) {
	base := strings.TrimRight(u.BaseURL, "/")
	if base == "" {
		return nil, errors.New("PUBLIC_BASE_URL is required for upload")
	}
	body, err := json.Marshal(uploadRequest{
		Filename:    render.Filename(baseName, contentType, clock(u.Now)()),
		ContentType: contentType,
		DataBase64:  base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/object", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}

	var out struct {
		UploadResponse
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode < 200 || resp.StatusCode > 299 || out.Error != "" {
		if out.Error != "" {
			return nil, errors.New(out.Error)
		}
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return &Uploaded{ID: out.ID, Filename: out.Filename, URL: joinURL(base, out.URL)}, nil
}

func joinURL(base, path string) string {
	if base == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + path
}

func clock(now func() time.Time) func() time.Time {
	if now == nil {
		return time.Now
	}
	return now
}
