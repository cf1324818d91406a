package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: " Trace ", want: LevelTrace},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "verbose", want: slog.LevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestConfigLogger_TraceAndFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogLevel: "trace", LogFormat: "json"}
	cfg.Logger(&buf).Log(t.Context(), LevelTrace, "payload", "path", "/v2/bot/message/push")

	out := buf.String()
	if !strings.Contains(out, `"level":"TRACE"`) {
		t.Errorf("trace level not renamed: %s", out)
	}
	if !strings.HasPrefix(out, "{") {
		t.Errorf("want JSON output, got %s", out)
	}
}

func TestConfigLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogLevel: "warn"}
	logger := cfg.Logger(&buf)
	logger.Info("dropped")
	logger.Warn("kept")

	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}
