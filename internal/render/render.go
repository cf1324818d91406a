// Package render produces the binary artifacts the bot sends: PDF
// reports, PNG promo banners, and QR codes.
package render

import (
	"regexp"
	"time"
)

// Content types for rendered artifacts.
const (
	ContentTypePDF = "application/pdf"
	ContentTypePNG = "image/png"
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9\-_.]+`)

// SanitizeName replaces runs of characters outside [A-Za-z0-9-_.] with
// "_" and caps the result at 80 bytes. An empty result becomes "report".
func SanitizeName(name string) string {
	s := unsafeName.ReplaceAllString(name, "_")
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		return "report"
	}
	return s
}

// Filename builds "<sanitized base>-<UTC timestamp><ext>" with the
// extension implied by contentType.
func Filename(base, contentType string, now time.Time) string {
	return SanitizeName(base) + "-" + now.UTC().Format("2006-01-02-15-04-05") + Extension(contentType)
}

// Extension maps the artifact content types to file extensions.
func Extension(contentType string) string {
	switch contentType {
	case ContentTypePDF:
		return ".pdf"
	case ContentTypePNG:
		return ".png"
	}
	return ""
}

// Renderer draws artifacts, using FontPath (a TTF with Thai glyphs)
// when it is set and readable.
type Renderer struct {
	FontPath string
}

// New creates a Renderer.
func New(fontPath string) *Renderer {
	return &Renderer{FontPath: fontPath}
}
