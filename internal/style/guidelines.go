package style

import (
	"fmt"
	"strings"
)

// PrecedenceNote tells the model which source wins on conflict.
const PrecedenceNote = "If any rule conflicts, obey Style Rules (JSON) over Brand Voice."

const emojiUsage = "\nEmoji Usage:\n" +
	"- emojiLevel 0: no emoji.\n" +
	"- emojiLevel 1: include 1–2 relevant emoji.\n" +
	"- emojiLevel 2: include 2–4 relevant emoji.\n" +
	"- emojiLevel 3: include 3–6 relevant emoji.\n" +
	"- Place emoji at ends of sentences or bullets; keep tone appropriate."

// FormatGuidelines renders c as the "Brand/Style Rules" prompt block.
func FormatGuidelines(c Config) string {
	lines := []string{"# Brand/Style Rules"}
	if c.PersonaName != "" {
		lines = append(lines, "Persona: "+c.PersonaName)
	}
	if c.Tone != "" {
		lines = append(lines, "Tone: "+c.Tone)
	}
	if c.Language != "" {
		lines = append(lines, "Language preference: "+c.Language)
	}
	lines = append(lines, fmt.Sprintf("Emoji: %d", c.EmojiLevel))
	if c.ReplyLength != "" {
		lines = append(lines, "Reply length: "+c.ReplyLength)
	}
	sig := "No"
	if c.IncludeSignature {
		sig = "Yes"
	}
	lines = append(lines, "Signature: "+sig)

	if extra := strings.TrimSpace(c.ExtraGuidelines); extra != "" {
		lines = append(lines, "\nExtra Guidelines:\n"+extra)
	}
	lines = append(lines, emojiUsage)
	if c.GreetWithName {
		lines = append(lines, "\nGreeting Rule:\n- Include a Thai greeting with the user's display name when appropriate.")
	}
	if s, ok := c.Signature(); ok {
		lines = append(lines, "\nSignature Text:\n"+s)
	}
	return strings.Join(lines, "\n")
}

// GreetingOverride returns the block that stops the model from greeting
// on every reply.
func GreetingOverride(c Config) string {
	if c.GreetWithName {
		return "\nGreeting Behavior Override (Overrides Style):\n" +
			"- Only greet (with display name if available) when the user's intent is a greeting or casual small talk.\n" +
			"- Do NOT prepend a greeting for direct questions or requests.\n" +
			"- This override supersedes any prior style/brand rule that implies greeting every message.\n"
	}
	return "\nGreeting Behavior Override (Overrides Style):\n" +
		"- Do NOT prepend a greeting unless the instruction explicitly asks for it.\n" +
		"- This override supersedes any prior style/brand rule that implies greeting every message.\n"
}
