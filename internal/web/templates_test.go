package web

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{time.Hour, "1h"},
		{2*time.Hour + 5*time.Minute + 9*time.Second, "2h 5m"},
		{3*24*time.Hour + 4*time.Hour, "3d 4h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatTokens(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{0, "0"},
		{950, "950"},
		{12_500, "12.5K"},
		{3_200_000, "3.2M"},
	}
	for _, tt := range tests {
		if got := formatTokens(tt.n); got != tt.want {
			t.Errorf("formatTokens(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestLoadTemplates(t *testing.T) {
	set := loadTemplates()
	for _, name := range consolePages {
		page, ok := set[name]
		if !ok {
			t.Fatalf("missing page %s", name)
		}
		if page.Lookup("content") == nil {
			t.Errorf("%s has no content block", name)
		}
	}
	if millis(0) != "-" {
		t.Errorf("millis(0) = %q", millis(0))
	}
}
