package prompts

import (
	"strings"

	"github.com/nugget/linebot-mcp/internal/style"
)

// MaxBrandChars bounds the brand voice excerpt included in prompts.
const MaxBrandChars = 2000

const truncatedMarker = "\n... (truncated)"

// Voice is the style context shared by the planner and QA prompts.
type Voice struct {
	Brand       string
	Style       style.Config
	DisplayName string
}

func brandExcerpt(brand string) string {
	if brand == "" {
		return ""
	}
	r := []rune(brand)
	if len(r) <= MaxBrandChars {
		return brand
	}
	return string(r[:MaxBrandChars]) + truncatedMarker
}

// styleBlock renders style guidelines, greeting override and precedence
// note, in that order, followed by the optional user context.
func (v Voice) styleBlock(b *strings.Builder) {
	if text := style.FormatGuidelines(v.Style); text != "" {
		b.WriteString(text)
		b.WriteString("\n")
	}
	b.WriteString(style.GreetingOverride(v.Style))
	b.WriteString("\n")
	b.WriteString(style.PrecedenceNote)
	b.WriteString("\n\n")
	if v.DisplayName != "" {
		b.WriteString("User Context:\nDisplayName: ")
		b.WriteString(v.DisplayName)
		b.WriteString("\n\n")
	}
}
