package style

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPresets_StyleDefaultsWhenMissing(t *testing.T) {
	p := Presets{Dir: t.TempDir()}
	if got := p.Style(); got != Default() {
		t.Errorf("Style() = %+v, want defaults", got)
	}
}

func TestPresets_StyleMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "style.json"), []byte(`{"tone":"formal","greetWithName":true}`), 0o644)

	got := Presets{Dir: dir}.Style()
	if got.Tone != "formal" || !got.GreetWithName {
		t.Errorf("overrides not applied: %+v", got)
	}
	if got.PersonaName != "Default" || got.EmojiLevel != 1 || got.Language != "th" {
		t.Errorf("defaults lost: %+v", got)
	}
}

func TestPresets_StyleInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "style.json"), []byte(`{not json`), 0o644)
	if got := (Presets{Dir: dir}).Style(); got != Default() {
		t.Errorf("invalid file should yield defaults, got %+v", got)
	}
}

func TestPresets_SaveStyleRoundTrip(t *testing.T) {
	p := Presets{Dir: filepath.Join(t.TempDir(), "ai-presets")}
	cfg := Default()
	cfg.SignatureText = "ทีมงาน {name}"
	if err := p.SaveStyle(cfg); err != nil {
		t.Fatal(err)
	}
	if got := p.Style(); got != cfg {
		t.Errorf("round trip = %+v, want %+v", got, cfg)
	}
}

func TestPresets_BrandAndTemplates(t *testing.T) {
	dir := t.TempDir()
	p := Presets{Dir: dir}
	if p.Brand() != "" || len(p.Templates()) != 0 || p.FlexGuidelines() != "" {
		t.Fatal("missing files should be empty")
	}
	os.WriteFile(filepath.Join(dir, "brand.md"), []byte("\n  # Cafe voice \n\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "templates.json"), []byte(`{"hours":{"altText":"เวลาทำการ"}}`), 0o644)
	if got := p.Brand(); got != "# Cafe voice" {
		t.Errorf("Brand() = %q", got)
	}
	if _, ok := p.Templates()["hours"]; !ok {
		t.Errorf("Templates() = %v", p.Templates())
	}
}

func TestFormatGuidelines(t *testing.T) {
	c := Default()
	c.ExtraGuidelines = "  keep it short  "
	c.GreetWithName = true
	c.IncludeSignature = true
	c.SignatureText = " Cafe Team "

	got := FormatGuidelines(c)
	wantPrefix := "# Brand/Style Rules\nPersona: Default\nTone: friendly\nLanguage preference: th\nEmoji: 1\nReply length: medium\nSignature: Yes\n\nExtra Guidelines:\nkeep it short\n\nEmoji Usage:\n"
	if !strings.HasPrefix(got, wantPrefix) {
		t.Errorf("prefix mismatch:\n%s", got)
	}
	for _, want := range []string{"\nGreeting Rule:\n", "\nSignature Text:\nCafe Team"} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatGuidelines_OmitsEmptyFields(t *testing.T) {
	got := FormatGuidelines(Config{})
	if strings.Contains(got, "Persona:") || strings.Contains(got, "Greeting Rule") || strings.Contains(got, "Signature Text") {
		t.Errorf("unexpected sections:\n%s", got)
	}
	if !strings.Contains(got, "Emoji: 0\nSignature: No") {
		t.Errorf("missing fixed lines:\n%s", got)
	}
}

func TestGreetingOverride(t *testing.T) {
	on := GreetingOverride(Config{GreetWithName: true})
	off := GreetingOverride(Config{})
	if !strings.Contains(on, "Only greet") || strings.Contains(off, "Only greet") {
		t.Errorf("override variants wrong:\n%s\n---\n%s", on, off)
	}
	if !strings.HasPrefix(off, "\nGreeting Behavior Override (Overrides Style):\n") {
		t.Errorf("off header = %q", off)
	}
}

func TestNormalizeGreeting(t *testing.T) {
	greet := Default()
	greet.GreetWithName = true
	greet.PoliteParticle = "ค่ะ"

	tests := []struct {
		name     string
		text     string
		cfg      Config
		display  string
		want     string
		wantNorm bool
	}{
		{"rewrites bare greeting", "สวัสดีครับ วันนี้อากาศดี", greet, "Ann", "สวัสดีค่ะ คุณ Ann วันนี้อากาศดี", true},
		{"name swallows rest of line", "สวัสดี คุณ Bob ยินดีต้อนรับ\nบรรทัดสอง", greet, "Ann", "สวัสดีค่ะ คุณ Ann\nบรรทัดสอง", true},
		{"no display name", "  สวัสดีค่ะ", greet, "", "สวัสดีค่ะ", true},
		{"no greeting present", "เปิด 9 โมง", greet, "Ann", "เปิด 9 โมง", false},
		{"greeting disabled", "สวัสดีครับ", Default(), "Ann", "สวัสดีครับ", false},
		{"non thai language", "สวัสดีครับ", Config{GreetWithName: true, Language: "en"}, "Ann", "สวัสดีครับ", false},
		{"signature appended", "hello", Config{IncludeSignature: true, SignatureText: "by {name}"}, "Ann", "hello\nby Ann", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, norm := NormalizeGreeting(tt.text, tt.cfg, tt.display, MaxMessageLen)
			if got != tt.want || norm != tt.wantNorm {
				t.Errorf("got (%q, %v), want (%q, %v)", got, norm, tt.want, tt.wantNorm)
			}
		})
	}
}

func TestNormalizeGreeting_Idempotent(t *testing.T) {
	c := Default()
	c.GreetWithName = true
	c.PoliteParticle = "ครับ"
	tests := []struct {
		text string
		want string
	}{
		{"สวัสดี คุณ X\nเมนูวันนี้", "สวัสดีครับ คุณ Ann\nเมนูวันนี้"},
		{"สวัสดีครับ คุณ Ann", "สวัสดีครับ คุณ Ann"},
	}
	for _, tt := range tests {
		once, _ := NormalizeGreeting(tt.text, c, "Ann", MaxMessageLen)
		twice, _ := NormalizeGreeting(once, c, "Ann", MaxMessageLen)
		if once != tt.want || twice != once {
			t.Errorf("NormalizeGreeting(%q): once %q, twice %q, want %q", tt.text, once, twice, tt.want)
		}
	}
}

func TestNormalizeGreeting_Clamps(t *testing.T) {
	long := strings.Repeat("ก", 2500)
	got, _ := NormalizeGreeting(long, Default(), "", MaxMessageLen)
	if n := len([]rune(got)); n != MaxMessageLen {
		t.Errorf("rune length = %d, want %d", n, MaxMessageLen)
	}
}

func TestClamp(t *testing.T) {
	if Clamp("abc", 5) != "abc" || Clamp("abcdef", 3) != "abc" || Clamp("กขค", 2) != "กข" || Clamp("x", -1) != "" {
		t.Error("Clamp mismatch")
	}
}

func TestHasSticker(t *testing.T) {
	c := Config{IncludeSticker: true, StickerPackageID: " 446 ", StickerID: "  "}
	if c.HasSticker() {
		t.Error("blank sticker id should disable sticker")
	}
	c.StickerID = "1988"
	if !c.HasSticker() {
		t.Error("sticker should be enabled")
	}
}
