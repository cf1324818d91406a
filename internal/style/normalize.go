package style

import (
	"regexp"
	"strings"
)

// MaxMessageLen is the longest text linebot will send in one message.
const MaxMessageLen = 2000

// greetingPattern matches a leading Thai greeting, an optional polite
// particle, and an optional "คุณ <name>" which runs to the end of the line.
var greetingPattern = regexp.MustCompile(`^\s*สวัสดี(?:ครับ|ค่ะ)?(?:\s*คุณ\s+[^\n\r]+)?`)

// Clamp truncates s to at most n runes.
func Clamp(s string, n int) string {
	if n < 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// NormalizeGreeting rewrites a leading Thai greeting to the configured
// form, appends the signature, and clamps to maxLen. normalized reports
// whether the greeting was rewritten.
func NormalizeGreeting(text string, c Config, displayName string, maxLen int) (out string, normalized bool) {
	defer func() {
		if r := recover(); r != nil {
			out, normalized = Clamp(text, maxLen), false
		}
	}()

	out = text
	if c.GreetWithName && strings.Contains(c.Language, "th") {
		expected := "สวัสดี" + c.PoliteParticle
		if displayName != "" {
			expected += " คุณ " + displayName
		}
		expected = strings.TrimSpace(expected)
		if loc := greetingPattern.FindStringIndex(out); loc != nil {
			out = expected + out[loc[1]:]
			normalized = true
		}
	}
	if c.IncludeSignature && strings.TrimSpace(c.SignatureText) != "" {
		out += "\n" + strings.ReplaceAll(c.SignatureText, "{name}", displayName)
	}
	return Clamp(out, maxLen), normalized
}
