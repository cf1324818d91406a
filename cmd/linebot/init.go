package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/nugget/linebot-mcp/examples"
)

// runInit prepares a linebot working directory: an example config, a
// starter knowledge file and the reply style presets. Existing files are
// never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing linebot workspace in %s\n", dir)

	for _, sub := range []string{"data", "docs/data-learning", "docs/ai-presets"} {
		p := filepath.Join(dir, filepath.FromSlash(sub))
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", p, err)
		}
	}

	// The config holds channel secrets.
	if err := writeIfMissing(w, filepath.Join(dir, "config.yaml"), examples.ConfigYAML, 0o600); err != nil {
		return err
	}
	if err := writeIfMissing(w, filepath.Join(dir, "docs", "data-learning", "knowledge.md"), examples.KnowledgeMD, 0o644); err != nil {
		return err
	}

	err := fs.WalkDir(examples.Presets, "presets", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		content, err := examples.Presets.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", p, err)
		}
		return writeIfMissing(w, filepath.Join(dir, "docs", "ai-presets", path.Base(p)), content, 0o644)
	})
	if err != nil {
		return fmt.Errorf("install presets: %w", err)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set CHANNEL_ACCESS_TOKEN, CHANNEL_SECRET and GEMINI_API_KEY (or edit config.yaml),")
	fmt.Fprintln(w, "then run \"linebot serve\" for the webhook or \"linebot mcp\" for an MCP client.")
	return nil
}

// writeIfMissing creates path with content and mode, reporting the
// outcome on w. An existing file is left untouched.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if errors.Is(err, fs.ErrExist) {
		fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}
