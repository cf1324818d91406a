// Package style holds the reply style presets (persona, tone, emoji level,
// greeting and signature rules) and the text that renders them into
// prompt guidance. It also normalises model replies so greetings and
// signatures follow the configured style.
package style

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the reply style saved as docs/ai-presets/style.json.
// It is read once per invocation and never mutated afterwards.
type Config struct {
	PersonaName      string `json:"personaName"`
	Tone             string `json:"tone"`
	Language         string `json:"language"`
	EmojiLevel       int    `json:"emojiLevel"`
	ReplyLength      string `json:"replyLength"`
	IncludeSignature bool   `json:"includeSignature"`
	ExtraGuidelines  string `json:"extraGuidelines"`
	PoliteParticle   string `json:"politeParticle"`
	GreetWithName    bool   `json:"greetWithName"`
	SignatureText    string `json:"signatureText"`
	IncludeSticker   bool   `json:"includeSticker"`
	StickerPackageID string `json:"stickerPackageId"`
	StickerID        string `json:"stickerId"`
}

// Default returns the style used when no preset file exists.
func Default() Config {
	return Config{
		PersonaName: "Default",
		Tone:        "friendly",
		Language:    "th",
		EmojiLevel:  1,
		ReplyLength: "medium",
	}
}

// HasSticker reports whether a sticker should follow text replies.
func (c Config) HasSticker() bool {
	return c.IncludeSticker &&
		strings.TrimSpace(c.StickerPackageID) != "" &&
		strings.TrimSpace(c.StickerID) != ""
}

// Signature returns the trimmed signature when signatures are enabled.
func (c Config) Signature() (string, bool) {
	if !c.IncludeSignature {
		return "", false
	}
	s := strings.TrimSpace(c.SignatureText)
	return s, s != ""
}

// Merge decodes raw JSON over the defaults. Fields absent from raw keep
// their default values.
func Merge(raw []byte) (Config, error) {
	cfg := Default()
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Default(), fmt.Errorf("decode style: %w", err)
	}
	return cfg, nil
}

// Presets reads and writes the files under the presets directory
// (normally docs/ai-presets).
type Presets struct {
	Dir string
}

func (p Presets) path(name string) string {
	return filepath.Join(p.Dir, name)
}

// Style loads style.json merged over defaults. A missing or malformed
// file yields the defaults.
func (p Presets) Style() Config {
	raw, err := os.ReadFile(p.path("style.json"))
	if err != nil {
		return Default()
	}
	cfg, err := Merge(raw)
	if err != nil {
		return Default()
	}
	return cfg
}

// SaveStyle writes cfg as indented JSON, creating the directory if needed.
func (p Presets) SaveStyle(cfg Config) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("create presets dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.path("style.json"), data, 0o644)
}

// Brand returns brand.md trimmed, or "" when missing.
func (p Presets) Brand() string {
	return readTrimmed(p.path("brand.md"))
}

// FlexGuidelines returns flex-guidelines.md trimmed, or "".
func (p Presets) FlexGuidelines() string {
	return readTrimmed(p.path("flex-guidelines.md"))
}

// Templates returns templates.json decoded, or an empty object.
func (p Presets) Templates() map[string]any {
	out := map[string]any{}
	raw, err := os.ReadFile(p.path("templates.json"))
	if err != nil {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
