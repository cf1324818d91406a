package prompts

import "strings"

const plannerHeader = "You are a planner for LINE MCP tools. Choose exactly ONE action and output STRICT JSON only.\n"

const plannerActions = "Actions:\n" +
	"- get_profile(userId?)\n" +
	"- get_rich_menu_list()\n" +
	"- get_message_quota()\n" +
	"- push_text(userId?, text)\n" +
	"- push_flex(userId?, altText, contents)\n" +
	"- broadcast_text(text)\n" +
	"- broadcast_flex(altText, contents)\n" +
	"- make_pdf_and_push(userId?, title, content)\n" +
	"- make_image_and_push(userId?, title, content)\n" +
	"- make_qr_and_push(userId?, content)\n"

const plannerRules = "Rules:\n" +
	`- Respond ONLY with JSON {"action":"...","args":{...}}. No markdown, no explanation.` + "\n" +
	"- If the instruction is a QUESTION or asks for information, ANSWER it and send the answer. Prefer action: push_text.\n" +
	"  - args.text MUST be the composed answer (Thai if appropriate), NOT an echo of the instruction.\n" +
	"  - If the provided Knowledge is insufficient, say briefly that you don't know.\n" +
	`- Prefer push_* over broadcast_* unless user explicitly asks to announce to everyone (e.g., "broadcast", "ประกาศ", "ทุกคน").` + "\n" +
	"- For push_flex/broadcast_flex you MUST provide both altText and a valid contents (bubble or carousel).\n" +
	`- If the instruction mentions making a Flex (e.g., "flex", "เฟล็กซ์", "การ์ด", or structure like working hours/เวลาทำการ), choose push_flex (or broadcast_flex if explicitly asked).` + "\n" +
	`  - Compose altText as a short Thai summary (e.g., "เวลาทำการร้าน").` + "\n" +
	"  - Compose contents ONLY from the Knowledge when provided; do NOT invent hours/branches that are not in Knowledge.\n" +
	`  - Use a minimal valid bubble: {"type":"bubble","body":{"type":"box","layout":"vertical","contents":[...]}} with labels and values.` + "\n" +
	"- Choose make_pdf_and_push, make_image_and_push or make_qr_and_push only when the instruction asks for a PDF, an image/banner or a QR code.\n"

// PlannerInput carries the dynamic parts of the action planner prompt.
type PlannerInput struct {
	Voice
	Instruction string
	Knowledge   string
}

// Planner returns the prompt asking the model to choose exactly one
// LINE action and answer with strict JSON.
func Planner(in PlannerInput) string {
	var b strings.Builder
	b.WriteString(plannerHeader)
	if brand := brandExcerpt(in.Brand); brand != "" {
		b.WriteString("\nBrand Voice (Markdown):\n")
		b.WriteString(brand)
		b.WriteString("\n\n")
	}
	in.styleBlock(&b)
	b.WriteString(plannerActions)
	b.WriteString(plannerRules)
	if in.Knowledge != "" {
		b.WriteString("Use ONLY the following Knowledge as factual source if relevant. If knowledge is unrelated, rely on general knowledge.\n\nKnowledge (Markdown):\n")
		b.WriteString(in.Knowledge)
		b.WriteString("\n\n")
	} else {
		b.WriteString("\n")
	}
	b.WriteString("Instruction: ")
	b.WriteString(in.Instruction)
	return b.String()
}
