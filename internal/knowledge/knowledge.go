// Package knowledge assembles the factual context given to the model:
// a markdown (or HTML) document from the docs tree, or a live snapshot
// of the SQL Server schema plus an optional query result rendered as a
// markdown table. Every loader degrades to an empty string rather than
// failing the caller.
package knowledge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nugget/linebot-mcp/internal/mssql"
)

// MaxChars bounds a knowledge chunk before the truncation marker.
const MaxChars = 12000

// TruncatedMarker is appended to text cut at MaxChars.
const TruncatedMarker = "\n... (truncated)"

// Source selects where knowledge comes from.
type Source string

const (
	SourceFile  Source = "file"
	SourceMSSQL Source = "mssql"
)

// Truncate cuts s to max runes and appends TruncatedMarker when it did.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + TruncatedMarker
}

// Loader builds knowledge chunks. Root is the project root against which
// file paths resolve; DB may be nil when no database is configured.
type Loader struct {
	Root   string
	DB     mssql.Querier
	Logger *slog.Logger
}

// Request describes one knowledge lookup.
type Request struct {
	Source      Source
	FilePath    string
	Instruction string
	// DBQuery overrides the query inferred from Instruction.
	DBQuery  string
	DBParams map[string]any
	DBLimit  int
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Load returns the knowledge chunk for req, or "" when nothing usable
// was found.
func (l *Loader) Load(ctx context.Context, req Request) string {
	if req.Source != SourceMSSQL {
		return l.LoadFile(req.FilePath)
	}
	if l.DB == nil {
		return ""
	}

	var parts []string
	if snap := Snapshot(ctx, l.DB); snap != "" {
		parts = append(parts, snap)
	}

	query, limit := req.DBQuery, req.DBLimit
	if sel, ok := InferSelect(req.Instruction); ok {
		if query == "" {
			query = sel.SQL()
		}
		if limit == 0 {
			limit = sel.Limit
		}
	}
	if limit == 0 {
		limit = 100
	}
	if block := QueryBlock(ctx, l.DB, query, req.DBParams, limit); block != "" {
		parts = append(parts, block)
	}
	return strings.Join(parts, "\n\n")
}

// ResolvePath maps rel onto the loader root and reports false when the
// result would escape it.
func (l *Loader) ResolvePath(rel string) (string, bool) {
	root, err := filepath.Abs(l.Root)
	if err != nil {
		return "", false
	}
	abs := filepath.Clean(filepath.Join(root, rel))
	if filepath.IsAbs(rel) {
		abs = filepath.Clean(rel)
	}
	back, err := filepath.Rel(root, abs)
	if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}

// LoadFile reads a document under the root. HTML files are reduced to
// their visible text. Any failure yields "".
func (l *Loader) LoadFile(rel string) string {
	if strings.TrimSpace(rel) == "" {
		return ""
	}
	abs, ok := l.ResolvePath(rel)
	if !ok {
		l.logger().Warn("knowledge path outside root", "path", rel)
		return ""
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		l.logger().Debug("knowledge file unreadable", "path", rel, "error", err)
		return ""
	}
	text := string(data)
	switch strings.ToLower(filepath.Ext(abs)) {
	case ".html", ".htm":
		text = HTMLText(text)
	}
	return Truncate(text, MaxChars)
}
