package prompts

import "strings"

// QAInput carries the dynamic parts of the question-answering prompt.
type QAInput struct {
	Voice
	Question  string
	Knowledge string
}

// QA returns a free-text answering prompt. With knowledge the model is
// told to answer only from it.
func QA(in QAInput) string {
	var b strings.Builder
	if brand := brandExcerpt(in.Brand); brand != "" {
		b.WriteString("Brand Voice (Markdown):\n")
		b.WriteString(brand)
		b.WriteString("\n\n")
	}
	in.styleBlock(&b)
	if in.Knowledge != "" {
		b.WriteString("Answer the question concisely using ONLY the provided Knowledge. If missing, say you don't know. Use Thai if the question is Thai.\n\n")
		b.WriteString("Knowledge (Markdown):\n")
		b.WriteString(in.Knowledge)
		b.WriteString("\n\n")
	} else {
		b.WriteString("Answer the question concisely. Use Thai if the question is Thai. If information is missing, say you don't know.\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(in.Question)
	return b.String()
}
